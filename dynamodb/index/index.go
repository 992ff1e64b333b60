// Package index composes physical key values from composite attributes and
// decodes them back.
//
// Keys either follow an explicit template:
//
//	index.Key{Field: "gsi1pk", Template: "ACCOUNT#${accountId}"}
//
// or the generated layout, built from the entity identity:
//
//	pk: $<service>[_<scope>]#<attr>_<value>...
//	sk: $[<collection>#]<entity>_<version>#<attr>_<value>...
package index

import (
	"fmt"
	"strings"

	"github.com/acksell/ddbentity/dynamodb/attr"
)

// Casing controls how a composed key is cased.
type Casing string

const (
	// CasingDefault lower-cases the literal segments of generated keys and
	// leaves attribute values, and explicit templates, as supplied.
	CasingDefault Casing = "default"
	CasingUpper   Casing = "upper"
	CasingLower   Casing = "lower"
	CasingNone    Casing = "none"
)

// Cast controls the attribute type of a composed key.
type Cast string

const (
	CastString Cast = "string"
	// CastNumber stores the sole numeric composite as is, as a number.
	CastNumber Cast = "number"
)

// Key defines one physical key attribute of an index.
type Key struct {
	Field     string
	Composite []string
	Template  string
	Casing    Casing
	Cast      Cast
}

// Definition describes one access pattern.
type Definition struct {
	// IndexName is the physical secondary index name; empty for the table itself.
	IndexName  string
	PK         Key
	SK         *Key
	Collection []string
	// Condition decides whether a secondary index's keys are written for an
	// item. Not allowed on the table index.
	Condition func(item map[string]any) bool
	// ConditionAttributes lists the attributes Condition reads. Required with
	// a condition: updates re-evaluate it only when one of them changes.
	ConditionAttributes []string
}

// Identity is the namespacing used by generated keys.
type Identity struct {
	Service string
	Entity  string
	Version string
	Scope   string
}

// Index is a compiled, immutable access pattern.
type Index struct {
	name        string
	indexName   string
	pk          layout
	sk          *layout
	collections []string
	condition   func(item map[string]any) bool
	condAttrs   []string
	attrs       map[string]attr.Attribute
}

type layout struct {
	field     string
	parts     []part
	composite []string
	casing    Casing
	numeric   bool
}

// Compile validates def against the entity attributes and builds its layouts.
func Compile(name string, def Definition, id Identity, model *attr.Model) (*Index, error) {
	if def.PK.Field == "" {
		return nil, fmt.Errorf("pk field is required")
	}
	if def.SK != nil && def.SK.Field == "" {
		return nil, fmt.Errorf("sk field is required when sk is declared")
	}
	if def.SK != nil && def.SK.Field == def.PK.Field {
		return nil, fmt.Errorf("pk and sk cannot share the field %q", def.PK.Field)
	}
	if len(def.Collection) > 0 && def.SK == nil {
		return nil, fmt.Errorf("collections require a sort key")
	}
	if def.Condition != nil && len(def.ConditionAttributes) == 0 {
		return nil, fmt.Errorf("a condition must list the attributes it reads")
	}
	if def.Condition == nil && len(def.ConditionAttributes) > 0 {
		return nil, fmt.Errorf("condition attributes require a condition")
	}
	for _, c := range def.ConditionAttributes {
		if _, ok := model.Attribute(c); !ok {
			return nil, fmt.Errorf("condition attribute %q is not a declared attribute", c)
		}
	}

	ix := &Index{
		name:        name,
		indexName:   def.IndexName,
		collections: append([]string(nil), def.Collection...),
		condition:   def.Condition,
		condAttrs:   append([]string(nil), def.ConditionAttributes...),
		attrs:       make(map[string]attr.Attribute),
	}

	pk, err := compileKey(def.PK, true, def.SK == nil, id, ix.collections, model, ix.attrs)
	if err != nil {
		return nil, fmt.Errorf("pk: %w", err)
	}
	ix.pk = pk
	if def.SK != nil {
		sk, err := compileKey(*def.SK, false, false, id, ix.collections, model, ix.attrs)
		if err != nil {
			return nil, fmt.Errorf("sk: %w", err)
		}
		ix.sk = &sk
	}
	for _, c := range ix.pk.composite {
		if ix.sk != nil && contains(ix.sk.composite, c) {
			return nil, fmt.Errorf("attribute %q is used by both pk and sk", c)
		}
	}
	return ix, nil
}

func compileKey(k Key, isPK, pkOnly bool, id Identity, collections []string, model *attr.Model, attrs map[string]attr.Attribute) (layout, error) {
	l := layout{field: k.Field, casing: k.Casing}
	if l.casing == "" {
		l.casing = CasingDefault
	}
	switch l.casing {
	case CasingDefault, CasingUpper, CasingLower, CasingNone:
	default:
		return layout{}, fmt.Errorf("unknown casing %q", k.Casing)
	}
	switch k.Cast {
	case "", CastString, CastNumber:
	default:
		return layout{}, fmt.Errorf("unknown cast %q", k.Cast)
	}

	var tmpl *Template
	if k.Template != "" {
		t, err := ParseTemplate(k.Template)
		if err != nil {
			return layout{}, err
		}
		tmpl = &t
		l.composite = t.Refs()
		if len(k.Composite) > 0 && !sameSet(k.Composite, l.composite) {
			return layout{}, fmt.Errorf("template %q references %v but composite lists %v", k.Template, l.composite, k.Composite)
		}
	} else {
		l.composite = append([]string(nil), k.Composite...)
	}

	seen := make(map[string]bool, len(l.composite))
	for _, c := range l.composite {
		if seen[c] {
			return layout{}, fmt.Errorf("composite attribute %q is listed twice", c)
		}
		seen[c] = true
		a, ok := model.Attribute(c)
		if !ok {
			return layout{}, fmt.Errorf("composite attribute %q is not a declared attribute", c)
		}
		if !a.Kind.Scalar() {
			return layout{}, fmt.Errorf("composite attribute %q has kind %s which cannot be used in keys", c, a.Kind)
		}
		attrs[c] = a
	}

	if k.Cast == CastNumber {
		if len(l.composite) != 1 || attrs[l.composite[0]].Kind != attr.KindNumber {
			return layout{}, fmt.Errorf("cast number requires exactly one number composite attribute, got %v", l.composite)
		}
		if tmpl != nil && tmpl.HasLiterals() {
			return layout{}, fmt.Errorf("cast number key %q cannot contain literal text", k.Template)
		}
		l.numeric = true
		l.parts = []part{{value: l.composite[0]}}
		return l, nil
	}

	if tmpl != nil {
		if tmpl.HasLiterals() {
			for _, c := range l.composite {
				if !attrs[c].Kind.Textual() {
					return layout{}, fmt.Errorf("template %q wraps %s attribute %q in literal text", k.Template, attrs[c].Kind, c)
				}
			}
		}
		l.parts = tmpl.parts
		if l.casing == CasingDefault {
			l.casing = CasingNone
		}
		return l, nil
	}

	l.parts = generatedParts(isPK, pkOnly, id, collections, l.composite)
	if l.casing == CasingDefault {
		for i, p := range l.parts {
			if p.literal {
				l.parts[i].value = strings.ToLower(p.value)
			}
		}
		l.casing = CasingNone
	}
	return l, nil
}

func generatedParts(isPK, pkOnly bool, id Identity, collections, composite []string) []part {
	var prefix strings.Builder
	prefix.WriteString("$")
	if isPK {
		prefix.WriteString(id.Service)
		if id.Scope != "" {
			prefix.WriteString("_" + id.Scope)
		}
		if pkOnly {
			prefix.WriteString("$" + id.Entity + "_" + id.Version)
		}
	} else {
		if len(collections) > 0 {
			prefix.WriteString(strings.Join(collections, "#") + "#")
		}
		prefix.WriteString(id.Entity + "_" + id.Version)
	}

	parts := []part{{literal: true, value: prefix.String()}}
	for _, c := range composite {
		parts = append(parts,
			part{literal: true, value: "#" + c + "_"},
			part{value: c},
		)
	}
	return mergeLiterals(parts)
}

func mergeLiterals(parts []part) []part {
	var out []part
	for _, p := range parts {
		if p.literal && len(out) > 0 && out[len(out)-1].literal {
			out[len(out)-1].value += p.value
			continue
		}
		out = append(out, p)
	}
	return out
}

// Name returns the access pattern name.
func (ix *Index) Name() string { return ix.name }

// IndexName returns the physical index name, empty for the table index.
func (ix *Index) IndexName() string { return ix.indexName }

// IsPrimary reports whether this is the table's own index.
func (ix *Index) IsPrimary() bool { return ix.indexName == "" }

func (ix *Index) PKField() string { return ix.pk.field }

// SKField returns the sort key field, or "" when the index has no sort key.
func (ix *Index) SKField() string {
	if ix.sk == nil {
		return ""
	}
	return ix.sk.field
}

func (ix *Index) HasSK() bool { return ix.sk != nil }

// Fields returns the physical key fields of the index.
func (ix *Index) Fields() []string {
	if ix.sk == nil {
		return []string{ix.pk.field}
	}
	return []string{ix.pk.field, ix.sk.field}
}

func (ix *Index) PKComposite() []string { return append([]string(nil), ix.pk.composite...) }

func (ix *Index) SKComposite() []string {
	if ix.sk == nil {
		return nil
	}
	return append([]string(nil), ix.sk.composite...)
}

// Composite returns all composite attributes, pk first.
func (ix *Index) Composite() []string {
	return append(ix.PKComposite(), ix.SKComposite()...)
}

func (ix *Index) Collections() []string { return append([]string(nil), ix.collections...) }

func (ix *Index) HasCondition() bool { return ix.condition != nil }

// ConditionAttributes returns the attributes read by the condition.
func (ix *Index) ConditionAttributes() []string { return append([]string(nil), ix.condAttrs...) }

// Condition reports whether the index's keys should be written for item.
// Indexes without a condition always apply.
func (ix *Index) Condition(item map[string]any) bool {
	if ix.condition == nil {
		return true
	}
	return ix.condition(item)
}

// IsDirectField reports whether field is a key of this index whose value is a
// single attribute reference, stored under the attribute's own field.
func (ix *Index) IsDirectField(field string) (string, bool) {
	for _, l := range ix.layouts() {
		if l.field != field || len(l.parts) != 1 || l.parts[0].literal {
			continue
		}
		name := l.parts[0].value
		if ix.attrs[name].FieldName() == field {
			return name, true
		}
	}
	return "", false
}

// FieldComposite returns the composite attributes of the key stored in field.
func (ix *Index) FieldComposite(field string) []string {
	for _, l := range ix.layouts() {
		if l.field == field {
			return append([]string(nil), l.composite...)
		}
	}
	return nil
}

// IsNumberKey reports whether field is a number-cast key of this index.
func (ix *Index) IsNumberKey(field string) bool {
	for _, l := range ix.layouts() {
		if l.field == field {
			return l.numeric
		}
	}
	return false
}

func (ix *Index) layouts() []layout {
	if ix.sk == nil {
		return []layout{ix.pk}
	}
	return []layout{ix.pk, *ix.sk}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, s := range a {
		if !contains(b, s) {
			return false
		}
	}
	return true
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
