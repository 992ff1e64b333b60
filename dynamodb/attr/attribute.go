// Package attr describes entity attributes and resolves raw values against them.
//
// An Attribute is a recursive node. Maps declare Properties, lists declare
// Items, sets declare the scalar kind of their members. Everything else is a
// leaf. Resolution runs in one of three modes:
//
//	ModePut     apply defaults, setters and validation; enforce required
//	ModeUpdate  resolve only supplied values (and their watchers)
//	ModeRead    apply getters and drop hidden attributes
package attr

import "regexp"

// Mode selects which hooks run during resolution.
type Mode int

const (
	ModePut Mode = iota
	ModeUpdate
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModePut:
		return "put"
	case ModeUpdate:
		return "update"
	case ModeRead:
		return "read"
	}
	return "unknown"
}

// WatchAll makes an attribute re-run its setter whenever any sibling is written.
const WatchAll = "*"

// Padding left-pads key renderings of string and number attributes.
type Padding struct {
	Length int
	Char   string
}

// Attribute is the definition of one attribute. Name is filled in by the
// enclosing Model (root attributes) or Properties map (nested ones) and does
// not need to be set by callers.
type Attribute struct {
	Name string
	// Field is the physical attribute name. Defaults to Name.
	Field string
	Kind  Kind

	Required bool
	Hidden   bool
	ReadOnly bool

	// Default is used when the value is absent on put. DefaultFunc takes
	// precedence when both are set.
	Default     any
	DefaultFunc func() any

	Padding *Padding

	// Get transforms a stored value on read. Set transforms a supplied value
	// on write. Both receive the sibling values of the enclosing item.
	Get func(value any, item map[string]any) any
	Set func(value any, item map[string]any) any

	Validate func(value any) error
	Pattern  *regexp.Regexp

	// EnumValues lists the members of an enum attribute.
	EnumValues []string
	// SetOf is the member kind of a set attribute: KindString or KindNumber.
	SetOf Kind
	// Items describes the elements of a list attribute.
	Items *Attribute
	// Properties describes the members of a map attribute.
	Properties map[string]Attribute

	// Watch names sibling attributes whose writes re-run this attribute's Set.
	// Use WatchAll to watch every sibling.
	Watch []string
}

// FieldName returns the physical name of the attribute.
func (a Attribute) FieldName() string {
	if a.Field != "" {
		return a.Field
	}
	return a.Name
}

func (a Attribute) hasDefault() bool {
	return a.DefaultFunc != nil || a.Default != nil
}

func (a Attribute) defaultValue() any {
	if a.DefaultFunc != nil {
		return a.DefaultFunc()
	}
	return a.Default
}

// Implied reports whether a value for the attribute is guaranteed to exist on
// any stored item, i.e. it is required or always defaulted.
func (a Attribute) Implied() bool {
	return a.Required || a.hasDefault()
}

// Watches reports whether the attribute re-runs its setter when name is written.
func (a Attribute) Watches(name string) bool {
	for _, w := range a.Watch {
		if w == WatchAll && name != a.Name {
			return true
		}
		if w == name {
			return true
		}
	}
	return false
}

// Property returns the nested map attribute called name.
func (a Attribute) Property(name string) (Attribute, bool) {
	p, ok := a.Properties[name]
	if !ok {
		return Attribute{}, false
	}
	p.Name = name
	return p, true
}

// PropertyByField returns the nested map attribute with physical name field.
func (a Attribute) PropertyByField(field string) (Attribute, bool) {
	for name, p := range a.Properties {
		p.Name = name
		if p.FieldName() == field {
			return p, true
		}
	}
	return Attribute{}, false
}

// Element returns the schema of list elements.
func (a Attribute) Element() (Attribute, bool) {
	if a.Items == nil {
		return Attribute{}, false
	}
	el := *a.Items
	el.Name = a.Name + "[*]"
	return el, true
}
