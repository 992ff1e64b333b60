package expr

import (
	"fmt"
	"strings"
)

// InvalidUpdateOperationError is returned when an update operation cannot be
// applied to an attribute.
type InvalidUpdateOperationError struct {
	Operation UpdateOp
	Attribute string
	// Allowed lists the attribute kinds the operation accepts. Empty when the
	// operation is rejected for another Reason.
	Allowed []string
	Reason  string
}

func (e *InvalidUpdateOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid update operation %q on attribute %q: %s", e.Operation, e.Attribute, e.Reason)
	}
	return fmt.Sprintf("invalid update operation %q on attribute %q: only allowed on attributes of kind [%s]",
		e.Operation, e.Attribute, strings.Join(e.Allowed, ", "))
}

// InvalidPathError is returned when a path does not resolve against the
// attribute model, or when a nested update target's ancestor is not known
// to exist.
type InvalidPathError struct {
	Path     string
	Ancestor string
	Reason   string
}

func (e *InvalidPathError) Error() string {
	if e.Ancestor != "" {
		return fmt.Sprintf("invalid path %q: ancestor %q %s", e.Path, e.Ancestor, e.Reason)
	}
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}
