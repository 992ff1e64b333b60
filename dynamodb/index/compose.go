package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Keys composes every key field of the index. All composite attributes must
// be present in values, and string values may not be empty.
func (ix *Index) Keys(values map[string]any) (map[string]types.AttributeValue, error) {
	if missing := ix.Missing(values); len(missing) > 0 {
		return nil, &IncompleteCompositeAttributesError{Missing: missing, Indexes: []string{ix.name}}
	}
	out := make(map[string]types.AttributeValue, 2)
	for _, l := range ix.layouts() {
		av, err := l.render(values, ix.attrs)
		if err != nil {
			return nil, err
		}
		out[l.field] = av
	}
	return out, nil
}

// Missing returns the composite attributes absent from values, in key order.
func (ix *Index) Missing(values map[string]any) []string {
	var missing []string
	for _, c := range ix.Composite() {
		if v, ok := values[c]; !ok || v == nil {
			missing = append(missing, c)
		}
	}
	return missing
}

// Present returns the composite attributes found in values, in key order.
func (ix *Index) Present(values map[string]any) []string {
	var present []string
	for _, c := range ix.Composite() {
		if v, ok := values[c]; ok && v != nil {
			present = append(present, c)
		}
	}
	return present
}

// PartitionKey composes the partition key value.
func (ix *Index) PartitionKey(values map[string]any) (types.AttributeValue, error) {
	if missing := ix.pk.missing(values); len(missing) > 0 {
		return nil, &IncompleteCompositeAttributesError{Missing: missing, Indexes: []string{ix.name}}
	}
	return ix.pk.render(values, ix.attrs)
}

// SortKey composes the full sort key value.
func (ix *Index) SortKey(values map[string]any) (types.AttributeValue, error) {
	if ix.sk == nil {
		return nil, fmt.Errorf("access pattern %q has no sort key", ix.name)
	}
	if missing := ix.sk.missing(values); len(missing) > 0 {
		return nil, &IncompleteCompositeAttributesError{Missing: missing, Indexes: []string{ix.name}}
	}
	return ix.sk.render(values, ix.attrs)
}

// Field composes the key stored in field. Only the composites of that key
// must be present in values.
func (ix *Index) Field(field string, values map[string]any) (types.AttributeValue, error) {
	for _, l := range ix.layouts() {
		if l.field != field {
			continue
		}
		if missing := l.missing(values); len(missing) > 0 {
			return nil, &IncompleteCompositeAttributesError{Missing: missing, Indexes: []string{ix.name}}
		}
		return l.render(values, ix.attrs)
	}
	return nil, fmt.Errorf("access pattern %q has no key field %q", ix.name, field)
}

// SortKeyPrefix composes as much of the sort key as values allow. Composites
// are consumed in order up to the first missing one; the literal text that
// precedes it is kept so the prefix only matches this layout. complete is true
// when every sort key composite was supplied. Supplying a composite after a
// missing one is an error since no prefix can express it.
//
// Number-cast keys cannot be prefixed: they are either complete or nil.
func (ix *Index) SortKeyPrefix(values map[string]any) (prefix types.AttributeValue, complete bool, err error) {
	if ix.sk == nil {
		return nil, false, fmt.Errorf("access pattern %q has no sort key", ix.name)
	}
	l := ix.sk
	missing := l.missing(values)
	if len(missing) == 0 {
		av, err := l.render(values, ix.attrs)
		return av, true, err
	}
	for _, c := range l.composite[len(l.composite)-len(missing):] {
		if !contains(missing, c) {
			return nil, false, &IncompleteCompositeAttributesError{
				Missing: missing[:1],
				Indexes: []string{ix.name},
			}
		}
	}
	if l.numeric {
		return nil, false, nil
	}
	var b strings.Builder
	for _, p := range l.parts {
		if p.literal {
			b.WriteString(p.value)
			continue
		}
		v, ok := values[p.value]
		if !ok || v == nil {
			break
		}
		s, err := segment(ix.attrs[p.value], v)
		if err != nil {
			return nil, false, err
		}
		b.WriteString(s)
	}
	return &types.AttributeValueMemberS{Value: l.applyCasing(b.String())}, false, nil
}

// CollectionPrefix returns the sort key prefix shared by every member of
// the named collection.
func (ix *Index) CollectionPrefix(collection string) (string, error) {
	if ix.sk == nil {
		return "", fmt.Errorf("access pattern %q has no sort key", ix.name)
	}
	pos := -1
	for i, c := range ix.collections {
		if c == collection {
			pos = i
			break
		}
	}
	if pos < 0 {
		return "", fmt.Errorf("access pattern %q is not part of collection %q", ix.name, collection)
	}
	if len(ix.sk.parts) == 0 || !ix.sk.parts[0].literal {
		return "", nil
	}
	lead := ix.sk.parts[0].value
	label := "$" + strings.Join(ix.collections[:pos+1], "#") + "#"
	if strings.HasPrefix(strings.ToLower(lead), strings.ToLower(label)) {
		lead = lead[:len(label)]
	}
	return ix.sk.applyCasing(lead), nil
}

// Decode recovers composite attribute values from physical key fields. Keys
// of the index that are absent from keys are skipped.
func (ix *Index) Decode(keys map[string]types.AttributeValue) (map[string]any, error) {
	out := make(map[string]any)
	for _, l := range ix.layouts() {
		av, ok := keys[l.field]
		if !ok {
			continue
		}
		if err := l.decode(av, ix.attrs, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l layout) missing(values map[string]any) []string {
	var missing []string
	for _, c := range l.composite {
		if v, ok := values[c]; !ok || v == nil {
			missing = append(missing, c)
		}
	}
	return missing
}

func (l layout) render(values map[string]any, attrs map[string]attr.Attribute) (types.AttributeValue, error) {
	if l.numeric {
		name := l.parts[0].value
		v := values[name]
		if !attr.IsNumber(v) {
			return nil, &attr.ValidationError{Path: name, Reason: fmt.Sprintf("expected number, got %T", v)}
		}
		return &types.AttributeValueMemberN{Value: attr.FormatNumber(v)}, nil
	}
	var b strings.Builder
	for _, p := range l.parts {
		if p.literal {
			b.WriteString(p.value)
			continue
		}
		s, err := segment(attrs[p.value], values[p.value])
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
	}
	return &types.AttributeValueMemberS{Value: l.applyCasing(b.String())}, nil
}

// segment renders one composite value. Empty values are rejected: a key
// ending in an empty value reads back as a prefix.
func segment(a attr.Attribute, v any) (string, error) {
	s, err := attr.KeyString(a, v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &attr.ValidationError{Path: a.Name, Reason: "key composite attributes cannot be empty"}
	}
	return s, nil
}

func (l layout) applyCasing(s string) string {
	switch l.casing {
	case CasingUpper:
		return strings.ToUpper(s)
	case CasingLower:
		return strings.ToLower(s)
	}
	return s
}

func (l layout) decode(av types.AttributeValue, attrs map[string]attr.Attribute, out map[string]any) error {
	if l.numeric {
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return &KeyMismatchError{Field: l.field, Reason: fmt.Sprintf("expected a number, got %T", av)}
		}
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return &KeyMismatchError{Field: l.field, Value: n.Value, Reason: "malformed number"}
		}
		out[l.parts[0].value] = f
		return nil
	}
	sv, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return &KeyMismatchError{Field: l.field, Reason: fmt.Sprintf("expected a string, got %T", av)}
	}
	s := sv.Value
	pos := 0
	for i, p := range l.parts {
		if p.literal {
			lit := l.applyCasing(p.value)
			if !strings.HasPrefix(s[pos:], lit) {
				return &KeyMismatchError{Field: l.field, Value: s, Reason: fmt.Sprintf("expected %q at offset %d", lit, pos)}
			}
			pos += len(lit)
			continue
		}
		if pos == len(s) && i > 0 {
			// A prefix ends after the literal preceding its first missing
			// composite.
			return nil
		}
		end := len(s)
		if i+1 < len(l.parts) {
			next := l.applyCasing(l.parts[i+1].value)
			idx := strings.Index(s[pos:], next)
			if idx < 0 {
				return &KeyMismatchError{Field: l.field, Value: s, Reason: fmt.Sprintf("missing %q after attribute %q", next, p.value)}
			}
			end = pos + idx
		}
		v, err := attr.FromKeyString(attrs[p.value], s[pos:end])
		if err != nil {
			return err
		}
		out[p.value] = v
		pos = end
	}
	if pos != len(s) {
		return &KeyMismatchError{Field: l.field, Value: s, Reason: "unexpected trailing text"}
	}
	return nil
}
