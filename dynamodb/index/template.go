package index

import (
	"fmt"
	"regexp"
	"strings"
)

// Template is a parsed key template. Templates reference attributes with
// ${attr} placeholders and keep everything else as literal text:
//   - "PROFILE"                  → constant
//   - "${count}"                 → single attribute
//   - "USER#${id}"               → literal prefix and attribute
//   - "ORDER#${tenant}#${id}"    → several attributes
type Template struct {
	raw   string
	parts []part
}

type part struct {
	literal bool   // true for literal text, false for an attribute reference
	value   string // the literal text or the attribute name
}

// attrRefRegex matches ${name} (including empty references, for validation).
var attrRefRegex = regexp.MustCompile(`\$\{([^}]*)\}`)

// ParseTemplate parses a key template.
func ParseTemplate(raw string) (Template, error) {
	if raw == "" {
		return Template{}, fmt.Errorf("template cannot be empty")
	}
	t := Template{raw: raw}

	matches := attrRefRegex.FindAllStringSubmatchIndex(raw, -1)
	lastEnd := 0
	for _, match := range matches {
		start, end := match[0], match[1]
		refStart, refEnd := match[2], match[3]

		if start > lastEnd {
			t.parts = append(t.parts, part{literal: true, value: raw[lastEnd:start]})
		}

		ref := strings.TrimSpace(raw[refStart:refEnd])
		if ref == "" {
			return Template{}, fmt.Errorf("empty attribute reference at position %d", start)
		}
		if len(t.parts) > 0 && !t.parts[len(t.parts)-1].literal {
			return Template{}, fmt.Errorf("attribute references ${%s} and ${%s} must be separated by literal text", t.parts[len(t.parts)-1].value, ref)
		}
		t.parts = append(t.parts, part{value: ref})
		lastEnd = end
	}
	if lastEnd < len(raw) {
		t.parts = append(t.parts, part{literal: true, value: raw[lastEnd:]})
	}
	return t, nil
}

// String returns the raw template.
func (t Template) String() string {
	return t.raw
}

// Refs returns the referenced attribute names in order.
// For "ORDER#${tenant}#${id}", returns ["tenant", "id"].
func (t Template) Refs() []string {
	var refs []string
	for _, p := range t.parts {
		if !p.literal {
			refs = append(refs, p.value)
		}
	}
	return refs
}

// HasLiterals reports whether the template contains any literal text.
func (t Template) HasLiterals() bool {
	for _, p := range t.parts {
		if p.literal {
			return true
		}
	}
	return false
}

// IsConstant reports whether the template references no attributes.
func (t Template) IsConstant() bool {
	return len(t.Refs()) == 0
}
