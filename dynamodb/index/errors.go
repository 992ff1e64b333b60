package index

import (
	"fmt"
	"strings"
)

// IncompleteCompositeAttributesError is returned when a key cannot be built
// because composite attributes are missing.
type IncompleteCompositeAttributesError struct {
	Missing []string
	// Indexes are the access patterns that could not be composed.
	Indexes []string
}

func (e *IncompleteCompositeAttributesError) Error() string {
	return fmt.Sprintf("incomplete composite attributes: missing [%s] for access pattern(s) [%s]",
		strings.Join(e.Missing, ", "), strings.Join(e.Indexes, ", "))
}

// Merge folds other into e, keeping first-seen order and dropping duplicates.
func (e *IncompleteCompositeAttributesError) Merge(other *IncompleteCompositeAttributesError) {
	e.Missing = union(e.Missing, other.Missing)
	e.Indexes = union(e.Indexes, other.Indexes)
}

// InvalidIndexCompositeAttributesError is returned when a write to an index
// that has a condition changes it without supplying every attribute needed to
// decide and compose it: the condition inputs and the composites of its
// written key fields.
type InvalidIndexCompositeAttributesError struct {
	Index   string
	Missing []string
}

func (e *InvalidIndexCompositeAttributesError) Error() string {
	return fmt.Sprintf("access pattern %q has a condition and must be written with all of its inputs: missing [%s]",
		e.Index, strings.Join(e.Missing, ", "))
}

// KeyMismatchError is returned when a physical key value does not follow the
// layout of its index and cannot be decoded.
type KeyMismatchError struct {
	Field  string
	Value  string
	Reason string
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("key field %q value %q does not match its layout: %s", e.Field, e.Value, e.Reason)
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
