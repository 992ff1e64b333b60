package attr

import "fmt"

// Kind is the closed set of attribute shapes an entity can declare.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindSet     Kind = "set"
	KindList    Kind = "list"
	KindMap     Kind = "map"
	// KindCustom attributes have no structural shape. They are checked only by
	// their Validate func and are treated as "any" by update operations.
	KindCustom Kind = "custom"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindString, KindNumber, KindBoolean, KindEnum, KindSet, KindList, KindMap, KindCustom:
		return k, nil
	case "any":
		return KindCustom, nil
	default:
		return "", fmt.Errorf("unknown attribute kind %q", s)
	}
}

// Scalar reports whether values of this kind can be rendered into a key.
func (k Kind) Scalar() bool {
	switch k {
	case KindString, KindNumber, KindBoolean, KindEnum:
		return true
	}
	return false
}

// Textual reports whether the kind renders as free text in a key.
// Only textual attributes may be surrounded by template literals.
func (k Kind) Textual() bool {
	return k == KindString || k == KindEnum
}
