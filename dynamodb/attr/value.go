package attr

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/constraints"
)

// ToAttributeValue converts a resolved value into its wire representation.
// A nil result with a nil error means the value should be omitted (e.g. an
// empty set, which the store cannot hold).
func ToAttributeValue(a Attribute, v any) (types.AttributeValue, error) {
	return toAV(a, v, a.Name)
}

func toAV(a Attribute, v any, path string) (types.AttributeValue, error) {
	if v == nil {
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	switch a.Kind {
	case KindString, KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(path, "expected string, got %T", v)
		}
		return &types.AttributeValueMemberS{Value: s}, nil
	case KindNumber:
		if !IsNumber(v) {
			return nil, invalid(path, "expected number, got %T", v)
		}
		return attributevalue.Marshal(v)
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, invalid(path, "expected boolean, got %T", v)
		}
		return &types.AttributeValueMemberBOOL{Value: b}, nil
	case KindSet:
		return setToAV(a, v, path)
	case KindList:
		return listToAV(a, v, path)
	case KindMap:
		return mapToAV(a, v, path)
	case KindCustom, "":
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, &ValidationError{Path: path, Reason: "cannot marshal value", Err: err}
		}
		return av, nil
	}
	return nil, invalid(path, "unsupported kind %q", a.Kind)
}

func setToAV(a Attribute, v any, path string) (types.AttributeValue, error) {
	members, err := sliceOf(v, path)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	if a.SetOf == KindNumber {
		ns := make([]string, 0, len(members))
		for _, m := range members {
			if !IsNumber(m) {
				return nil, invalid(path, "expected number set member, got %T", m)
			}
			ns = append(ns, FormatNumber(m))
		}
		return &types.AttributeValueMemberNS{Value: dedupe(ns)}, nil
	}
	ss := make([]string, 0, len(members))
	for _, m := range members {
		s, ok := m.(string)
		if !ok {
			return nil, invalid(path, "expected string set member, got %T", m)
		}
		ss = append(ss, s)
	}
	return &types.AttributeValueMemberSS{Value: dedupe(ss)}, nil
}

func listToAV(a Attribute, v any, path string) (types.AttributeValue, error) {
	elems, err := sliceOf(v, path)
	if err != nil {
		return nil, err
	}
	el, typed := a.Element()
	out := make([]types.AttributeValue, 0, len(elems))
	for _, e := range elems {
		if !typed {
			av, err := attributevalue.Marshal(e)
			if err != nil {
				return nil, &ValidationError{Path: path + "[*]", Reason: "cannot marshal value", Err: err}
			}
			out = append(out, av)
			continue
		}
		av, err := toAV(el, e, path+"[*]")
		if err != nil {
			return nil, err
		}
		if av == nil {
			av = &types.AttributeValueMemberNULL{Value: true}
		}
		out = append(out, av)
	}
	return &types.AttributeValueMemberL{Value: out}, nil
}

func mapToAV(a Attribute, v any, path string) (types.AttributeValue, error) {
	m, err := mapOf(v, path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.AttributeValue, len(m))
	for name, val := range m {
		p, ok := a.Property(name)
		if !ok {
			continue
		}
		if val == nil {
			continue
		}
		av, err := toAV(p, val, joinPath(path, name))
		if err != nil {
			return nil, err
		}
		if av != nil {
			out[p.FieldName()] = av
		}
	}
	return &types.AttributeValueMemberM{Value: out}, nil
}

// FromAttributeValue converts a stored value back into a Go value. Numbers
// decode to float64, string sets to []string, number sets to []float64,
// lists to []any and maps to map[string]any keyed by property name.
func FromAttributeValue(a Attribute, av types.AttributeValue) (any, error) {
	return fromAV(a, av, a.Name)
}

func fromAV(a Attribute, av types.AttributeValue, path string) (any, error) {
	if a.Kind == KindCustom || a.Kind == "" {
		var out any
		if err := attributevalue.Unmarshal(av, &out); err != nil {
			return nil, &ValidationError{Path: path, Reason: "cannot unmarshal value", Err: err}
		}
		return out, nil
	}
	switch v := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil, &ValidationError{Path: path, Reason: "malformed number", Err: err}
		}
		return f, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	case *types.AttributeValueMemberSS:
		return append([]string(nil), v.Value...), nil
	case *types.AttributeValueMemberNS:
		out := make([]float64, 0, len(v.Value))
		for _, n := range v.Value {
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, &ValidationError{Path: path, Reason: "malformed number set member", Err: err}
			}
			out = append(out, f)
		}
		return out, nil
	case *types.AttributeValueMemberL:
		el, typed := a.Element()
		out := make([]any, 0, len(v.Value))
		for _, e := range v.Value {
			if !typed {
				el = Attribute{Kind: KindCustom}
			}
			dv, err := fromAV(el, e, path+"[*]")
			if err != nil {
				return nil, err
			}
			out = append(out, dv)
		}
		return out, nil
	case *types.AttributeValueMemberM:
		out := make(map[string]any, len(v.Value))
		for field, e := range v.Value {
			p, ok := a.PropertyByField(field)
			if !ok {
				continue
			}
			dv, err := fromAV(p, e, joinPath(path, p.Name))
			if err != nil {
				return nil, err
			}
			out[p.Name] = dv
		}
		return out, nil
	}
	return nil, invalid(path, "unsupported attribute value %T", av)
}

// KeyString renders a scalar value the way it appears inside a key, padded
// when the attribute declares padding.
func KeyString(a Attribute, v any) (string, error) {
	var s string
	switch a.Kind {
	case KindString, KindEnum:
		str, ok := v.(string)
		if !ok {
			return "", invalid(a.Name, "expected string, got %T", v)
		}
		s = str
	case KindNumber:
		if !IsNumber(v) {
			return "", invalid(a.Name, "expected number, got %T", v)
		}
		s = FormatNumber(v)
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return "", invalid(a.Name, "expected boolean, got %T", v)
		}
		s = strconv.FormatBool(b)
	default:
		return "", invalid(a.Name, "%s attributes cannot be used in keys", a.Kind)
	}
	if a.Padding != nil {
		padded := a.Padding.Pad(s)
		if !sameSegment(a.Kind, a.Padding.Unpad(padded), s) {
			return "", invalid(a.Name, "value %q cannot be read back from a key padded with %q", s, a.Padding.Char)
		}
		s = padded
	}
	return s, nil
}

// sameSegment reports whether a decoded key segment stands for the value
// rendered as want.
func sameSegment(kind Kind, got, want string) bool {
	if kind != KindNumber {
		return got == want
	}
	g, err1 := strconv.ParseFloat(got, 64)
	w, err2 := strconv.ParseFloat(want, 64)
	return err1 == nil && err2 == nil && g == w
}

// FromKeyString reverses KeyString.
func FromKeyString(a Attribute, s string) (any, error) {
	if a.Padding != nil {
		s = a.Padding.Unpad(s)
	}
	switch a.Kind {
	case KindNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &ValidationError{Path: a.Name, Reason: fmt.Sprintf("key segment %q is not a number", s), Err: err}
		}
		return f, nil
	case KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, &ValidationError{Path: a.Name, Reason: fmt.Sprintf("key segment %q is not a boolean", s), Err: err}
		}
		return b, nil
	}
	return s, nil
}

// Pad left-pads s to the declared length, counted in runes. Longer values
// pass through.
func (p Padding) Pad(s string) string {
	n := p.Length - utf8.RuneCountInString(s)
	if p.Char == "" || n <= 0 {
		return s
	}
	return strings.Repeat(p.Char, n) + s
}

// Unpad strips leading pad characters from a value of the declared length,
// keeping at least one character. Values of any other length were never
// padded and pass through. KeyString rejects the values of the declared
// length that start with the pad character, since they read back shorter.
func (p Padding) Unpad(s string) string {
	if p.Char == "" || utf8.RuneCountInString(s) != p.Length {
		return s
	}
	for utf8.RuneCountInString(s) > 1 && strings.HasPrefix(s, p.Char) {
		s = s[len(p.Char):]
	}
	return s
}

// IsNumber reports whether v holds a Go numeric type.
func IsNumber(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// FormatNumber renders a numeric value without exponent or trailing zeros.
// Integers keep every digit.
func FormatNumber(v any) string {
	switch n := v.(type) {
	case int:
		return formatInt(n)
	case int8:
		return formatInt(n)
	case int16:
		return formatInt(n)
	case int32:
		return formatInt(n)
	case int64:
		return formatInt(n)
	case uint:
		return formatUint(n)
	case uint8:
		return formatUint(n)
	case uint16:
		return formatUint(n)
	case uint32:
		return formatUint(n)
	case uint64:
		return formatUint(n)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return strconv.FormatInt(rv.Int(), 10)
	case rv.CanUint():
		return strconv.FormatUint(rv.Uint(), 10)
	case rv.CanFloat():
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func formatInt[T constraints.Signed](n T) string { return strconv.FormatInt(int64(n), 10) }

func formatUint[T constraints.Unsigned](n T) string { return strconv.FormatUint(uint64(n), 10) }

// ToFloat converts any Go numeric type to float64.
func ToFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}

func sliceOf(v any, path string) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, invalid(path, "expected a list of values, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func mapOf(v any, path string) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, invalid(path, "expected a map with string keys, got %T", v)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
