package attr

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Model is the validated, immutable set of root attributes of an entity.
type Model struct {
	attrs   map[string]Attribute
	names   []string
	order   []string
	byField map[string]string
}

// NewModel validates the attribute definitions and fixes their resolution
// order: plain attributes first, then watchers, each group sorted by name.
func NewModel(attrs map[string]Attribute) (*Model, error) {
	if len(attrs) == 0 {
		return nil, errors.New("at least one attribute is required")
	}
	m := &Model{
		attrs:   make(map[string]Attribute, len(attrs)),
		byField: make(map[string]string, len(attrs)),
	}
	for name, a := range attrs {
		if name == "" {
			return nil, errors.New("attribute name cannot be empty")
		}
		a.Name = name
		if err := checkDefinition(a, name); err != nil {
			return nil, err
		}
		field := a.FieldName()
		if other, ok := m.byField[field]; ok {
			return nil, fmt.Errorf("attributes %q and %q share the field name %q", min(name, other), max(name, other), field)
		}
		m.byField[field] = name
		m.attrs[name] = a
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)

	var watchers []string
	for _, name := range m.names {
		a := m.attrs[name]
		if len(a.Watch) == 0 {
			m.order = append(m.order, name)
			continue
		}
		for _, w := range a.Watch {
			if w == WatchAll {
				continue
			}
			if w == name {
				return nil, fmt.Errorf("attribute %q cannot watch itself", name)
			}
			target, ok := m.attrs[w]
			if !ok {
				return nil, fmt.Errorf("attribute %q watches unknown attribute %q", name, w)
			}
			if len(target.Watch) > 0 {
				return nil, fmt.Errorf("attribute %q watches %q which is itself a watcher", name, w)
			}
		}
		watchers = append(watchers, name)
	}
	m.order = append(m.order, watchers...)
	return m, nil
}

func checkDefinition(a Attribute, path string) error {
	switch a.Kind {
	case KindString, KindNumber, KindBoolean, KindCustom:
	case KindEnum:
		if len(a.EnumValues) == 0 {
			return fmt.Errorf("enum attribute %q has no values", path)
		}
	case KindSet:
		if a.SetOf != "" && a.SetOf != KindString && a.SetOf != KindNumber {
			return fmt.Errorf("set attribute %q must hold strings or numbers, got %q", path, a.SetOf)
		}
	case KindList:
		if a.Items != nil {
			el := *a.Items
			if len(el.Watch) > 0 {
				return fmt.Errorf("list items of %q cannot watch attributes", path)
			}
			if err := checkDefinition(el, path+"[*]"); err != nil {
				return err
			}
		}
	case KindMap:
		fields := make(map[string]string, len(a.Properties))
		for name, p := range a.Properties {
			p.Name = name
			child := joinPath(path, name)
			if len(p.Watch) > 0 {
				return fmt.Errorf("nested attribute %q cannot watch attributes", child)
			}
			if other, ok := fields[p.FieldName()]; ok {
				return fmt.Errorf("properties %q and %q of %q share a field name", other, name, path)
			}
			fields[p.FieldName()] = name
			if err := checkDefinition(p, child); err != nil {
				return err
			}
		}
	case "":
		return fmt.Errorf("attribute %q has no kind", path)
	default:
		return fmt.Errorf("attribute %q has unsupported kind %q", path, a.Kind)
	}
	if a.Padding != nil {
		if a.Kind != KindString && a.Kind != KindNumber {
			return fmt.Errorf("padding on %q is only allowed for string and number attributes", path)
		}
		if a.Padding.Length <= 0 || utf8.RuneCountInString(a.Padding.Char) != 1 {
			return fmt.Errorf("padding on %q needs a positive length and a single pad character", path)
		}
	}
	if a.Pattern != nil && a.Kind != KindString {
		return fmt.Errorf("pattern on %q is only allowed for string attributes", path)
	}
	return nil
}

// Attribute returns the root attribute called name.
func (m *Model) Attribute(name string) (Attribute, bool) {
	a, ok := m.attrs[name]
	return a, ok
}

// ByField returns the root attribute stored under the physical name field.
func (m *Model) ByField(field string) (Attribute, bool) {
	name, ok := m.byField[field]
	if !ok {
		return Attribute{}, false
	}
	return m.attrs[name], true
}

// Names returns all root attribute names, sorted.
func (m *Model) Names() []string {
	return append([]string(nil), m.names...)
}

// Resolve applies the attribute hooks for mode to item, which is keyed by
// logical attribute name. Unknown names are dropped.
func (m *Model) Resolve(item map[string]any, mode Mode) (map[string]any, error) {
	switch mode {
	case ModePut:
		return m.resolvePut(item)
	case ModeUpdate:
		return m.resolveUpdate(item)
	case ModeRead:
		return m.resolveRead(item), nil
	}
	return nil, fmt.Errorf("unknown resolution mode %d", mode)
}

func (m *Model) resolvePut(item map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(item))
	for _, name := range m.order {
		a := m.attrs[name]
		v, present, err := prepare(a, item[name], item, name)
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		rv, err := resolveValue(a, v, name, ModePut)
		if err != nil {
			return nil, err
		}
		out[name] = rv
	}
	return out, nil
}

// prepare applies default, setter and required checks to one attribute of a
// put, shared by root attributes and map properties.
func prepare(a Attribute, v any, siblings map[string]any, path string) (any, bool, error) {
	present := v != nil
	if !present && a.hasDefault() {
		v, present = a.defaultValue(), true
	}
	if a.Set != nil && (present || len(a.Watch) > 0) {
		v = a.Set(v, siblings)
		present = v != nil
	}
	if !present && a.Kind == KindMap {
		mv, ok, err := materialize(a, path)
		if err != nil {
			return nil, false, err
		}
		v, present = mv, ok
	}
	if !present && a.Required {
		return nil, false, invalid(path, "required attribute is missing")
	}
	return v, present, nil
}

// materialize builds an absent map from the defaults of its properties. It
// only does so when the branch holds a required leaf; a required leaf that has
// no default fails with the path of the deepest such leaf.
func materialize(a Attribute, path string) (map[string]any, bool, error) {
	out := make(map[string]any)
	required := false
	for _, name := range sortedKeys(a.Properties) {
		p, _ := a.Property(name)
		child := joinPath(path, name)
		if p.Required {
			required = true
		}
		if p.hasDefault() {
			out[name] = p.defaultValue()
			continue
		}
		if p.Kind == KindMap {
			sub, ok, err := materialize(p, child)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out[name] = sub
				required = true
				continue
			}
		}
		if p.Required {
			return nil, false, invalid(child, "required attribute is missing")
		}
	}
	if !required {
		return nil, false, nil
	}
	return out, true, nil
}

func (m *Model) resolveUpdate(item map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(item))
	for _, name := range m.order {
		a := m.attrs[name]
		v, present := item[name]
		triggered := false
		if a.Set != nil && len(a.Watch) > 0 {
			for sibling := range item {
				if a.Watches(sibling) {
					triggered = true
					break
				}
			}
		}
		if !present && !triggered {
			continue
		}
		if a.Set != nil {
			v = a.Set(v, item)
		}
		if v == nil {
			continue
		}
		rv, err := resolveValue(a, v, name, ModeUpdate)
		if err != nil {
			return nil, err
		}
		out[name] = rv
	}
	return out, nil
}

// ResolveValue validates a single value supplied for a (possibly nested)
// attribute, for example a nested update target.
func ResolveValue(a Attribute, v any, path string) (any, error) {
	return resolveValue(a, v, path, ModeUpdate)
}

func resolveValue(a Attribute, v any, path string, mode Mode) (any, error) {
	switch a.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(path, "expected string, got %T", v)
		}
		if a.Pattern != nil && !a.Pattern.MatchString(s) {
			return nil, invalid(path, "value %q does not match pattern %s", s, a.Pattern)
		}
	case KindNumber:
		if !IsNumber(v) {
			return nil, invalid(path, "expected number, got %T", v)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return nil, invalid(path, "expected boolean, got %T", v)
		}
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(path, "expected one of %v, got %T", a.EnumValues, v)
		}
		if !contains(a.EnumValues, s) {
			return nil, invalid(path, "value %q is not one of %v", s, a.EnumValues)
		}
	case KindSet:
		if _, err := setToAV(a, v, path); err != nil {
			return nil, err
		}
	case KindList:
		elems, err := sliceOf(v, path)
		if err != nil {
			return nil, err
		}
		if el, ok := a.Element(); ok {
			resolved := make([]any, 0, len(elems))
			for _, e := range elems {
				elPath := path + "[*]"
				ev, present, err := prepare(el, e, nil, elPath)
				if err != nil {
					return nil, err
				}
				if !present {
					resolved = append(resolved, nil)
					continue
				}
				rv, err := resolveValue(el, ev, elPath, mode)
				if err != nil {
					return nil, err
				}
				resolved = append(resolved, rv)
			}
			v = resolved
		}
	case KindMap:
		mv, err := mapOf(v, path)
		if err != nil {
			return nil, err
		}
		resolved := make(map[string]any, len(mv))
		for _, name := range sortedKeys(a.Properties) {
			p, _ := a.Property(name)
			child := joinPath(path, name)
			pv, present, err := prepare(p, mv[name], mv, child)
			if err != nil {
				return nil, err
			}
			if !present {
				continue
			}
			rv, err := resolveValue(p, pv, child, mode)
			if err != nil {
				return nil, err
			}
			resolved[name] = rv
		}
		v = resolved
	}
	if a.Validate != nil {
		if err := a.Validate(v); err != nil {
			return nil, &ValidationError{Path: path, Reason: err.Error(), Err: err}
		}
	}
	return v, nil
}

func (m *Model) resolveRead(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	for _, name := range m.names {
		v, ok := item[name]
		if !ok {
			continue
		}
		a := m.attrs[name]
		if a.Hidden {
			continue
		}
		out[name] = readValue(a, v, item)
	}
	return out
}

func readValue(a Attribute, v any, siblings map[string]any) any {
	switch a.Kind {
	case KindMap:
		if mv, ok := v.(map[string]any); ok {
			out := make(map[string]any, len(mv))
			for name, pv := range mv {
				p, ok := a.Property(name)
				if !ok || p.Hidden {
					continue
				}
				out[name] = readValue(p, pv, mv)
			}
			v = out
		}
	case KindList:
		if el, ok := a.Element(); ok {
			if lv, ok := v.([]any); ok {
				out := make([]any, len(lv))
				for i, e := range lv {
					out[i] = readValue(el, e, nil)
				}
				v = out
			}
		}
	}
	if a.Get != nil {
		v = a.Get(v, siblings)
	}
	return v
}

// ToItem converts resolved logical values into a physical item. Nil values
// and empty sets are omitted.
func (m *Model) ToItem(values map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(values))
	for name, v := range values {
		a, ok := m.attrs[name]
		if !ok || v == nil {
			continue
		}
		av, err := ToAttributeValue(a, v)
		if err != nil {
			return nil, err
		}
		if av == nil {
			continue
		}
		out[a.FieldName()] = av
	}
	return out, nil
}

// FromItem converts a physical item into logical values. Fields that are not
// declared attributes are ignored.
func (m *Model) FromItem(item map[string]types.AttributeValue) (map[string]any, error) {
	out := make(map[string]any, len(item))
	for field, av := range item {
		a, ok := m.ByField(field)
		if !ok {
			continue
		}
		v, err := FromAttributeValue(a, av)
		if err != nil {
			return nil, err
		}
		out[a.Name] = v
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
