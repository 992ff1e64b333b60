package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acksell/ddbentity/dynamodb/attr"
)

// Attrs hands out path handles for the attributes of a model.
type Attrs struct {
	model *attr.Model
}

// NewAttrs returns path handles over model.
func NewAttrs(model *attr.Model) Attrs { return Attrs{model: model} }

// Path is a reference to a (possibly nested) attribute. The zero value is
// invalid. Errors are carried until the path is used.
type Path struct {
	segs []segment
	err  error
}

type segment struct {
	logical string
	field   string
	index   int
	isIndex bool
	attr    attr.Attribute
}

// Get returns the root attribute called name.
func (a Attrs) Get(name string) Path {
	at, ok := a.model.Attribute(name)
	if !ok {
		return Path{err: &InvalidPathError{Path: name, Reason: "unknown attribute"}}
	}
	return Path{segs: []segment{{logical: name, field: at.FieldName(), attr: at}}}
}

// Parse resolves a dotted path such as "map.list[2].leaf".
func (a Attrs) Parse(path string) Path {
	var p Path
	rest := path
	first := true
	for rest != "" {
		var name string
		switch {
		case strings.HasPrefix(rest, "["):
			end := strings.IndexByte(rest, ']')
			if end < 0 || first {
				return Path{err: &InvalidPathError{Path: path, Reason: "malformed list index"}}
			}
			i, err := strconv.Atoi(rest[1:end])
			if err != nil || i < 0 {
				return Path{err: &InvalidPathError{Path: path, Reason: "malformed list index"}}
			}
			p = p.Index(i)
			rest = rest[end+1:]
			continue
		case strings.HasPrefix(rest, "."):
			if first {
				return Path{err: &InvalidPathError{Path: path, Reason: "empty segment"}}
			}
			rest = rest[1:]
		}
		end := strings.IndexAny(rest, ".[")
		if end < 0 {
			end = len(rest)
		}
		name, rest = rest[:end], rest[end:]
		if name == "" {
			return Path{err: &InvalidPathError{Path: path, Reason: "empty segment"}}
		}
		if first {
			p = a.Get(name)
			first = false
		} else {
			p = p.Field(name)
		}
	}
	if first {
		return Path{err: &InvalidPathError{Path: path, Reason: "empty path"}}
	}
	return p
}

// Field descends into a map property. Custom attributes accept any name.
func (p Path) Field(name string) Path {
	if p.err != nil {
		return p
	}
	parent := p.Attribute()
	var child attr.Attribute
	switch parent.Kind {
	case attr.KindMap:
		c, ok := parent.Property(name)
		if !ok {
			return p.fail(p.String()+"."+name, "unknown property")
		}
		child = c
	case attr.KindCustom:
		child = attr.Attribute{Name: name, Kind: attr.KindCustom}
	default:
		return p.fail(p.String()+"."+name, fmt.Sprintf("%s attribute has no properties", parent.Kind))
	}
	return p.with(segment{logical: name, field: child.FieldName(), attr: child})
}

// Index descends into a list element.
func (p Path) Index(i int) Path {
	if p.err != nil {
		return p
	}
	parent := p.Attribute()
	var el attr.Attribute
	switch parent.Kind {
	case attr.KindList:
		e, ok := parent.Element()
		if !ok {
			e = attr.Attribute{Name: parent.Name + "[*]", Kind: attr.KindCustom}
		}
		el = e
	case attr.KindCustom:
		el = attr.Attribute{Name: parent.Name + "[*]", Kind: attr.KindCustom}
	default:
		return p.fail(fmt.Sprintf("%s[%d]", p.String(), i), fmt.Sprintf("%s attribute cannot be indexed", parent.Kind))
	}
	return p.with(segment{index: i, isIndex: true, attr: el})
}

func (p Path) with(s segment) Path {
	segs := make([]segment, len(p.segs), len(p.segs)+1)
	copy(segs, p.segs)
	return Path{segs: append(segs, s)}
}

func (p Path) fail(path, reason string) Path {
	return Path{err: &InvalidPathError{Path: path, Reason: reason}}
}

// Err reports why the path could not be resolved.
func (p Path) Err() error {
	if p.err == nil && len(p.segs) == 0 {
		return &InvalidPathError{Reason: "empty path"}
	}
	return p.err
}

// Attribute returns the attribute the path points at.
func (p Path) Attribute() attr.Attribute {
	if len(p.segs) == 0 {
		return attr.Attribute{}
	}
	return p.segs[len(p.segs)-1].attr
}

// Root returns the root attribute of the path.
func (p Path) Root() attr.Attribute {
	if len(p.segs) == 0 {
		return attr.Attribute{}
	}
	return p.segs[0].attr
}

// Nested reports whether the path goes below a root attribute.
func (p Path) Nested() bool { return len(p.segs) > 1 }

// String renders the logical path, for example "map.list[2].leaf".
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p.segs {
		switch {
		case s.isIndex:
			fmt.Fprintf(&b, "[%d]", s.index)
		case i > 0:
			b.WriteString("." + s.logical)
		default:
			b.WriteString(s.logical)
		}
	}
	return b.String()
}

// ancestors returns the proper prefixes of the path, shortest first.
func (p Path) ancestors() []Path {
	out := make([]Path, 0, len(p.segs))
	for i := 1; i < len(p.segs); i++ {
		out = append(out, Path{segs: p.segs[:i]})
	}
	return out
}

// leafToken names value placeholders after the last named segment.
func (p Path) leafToken() string {
	for i := len(p.segs) - 1; i >= 0; i-- {
		if !p.segs[i].isIndex {
			return p.segs[i].field
		}
	}
	return "attr"
}

// render writes the physical path using placeholders from r.
func (p Path) render(r *Registry) string {
	var b strings.Builder
	for i, s := range p.segs {
		switch {
		case s.isIndex:
			fmt.Fprintf(&b, "[%d]", s.index)
		case i > 0:
			b.WriteString("." + r.Name(s.field))
		default:
			b.WriteString(r.Name(s.field))
		}
	}
	return b.String()
}

func (p Path) endsWithIndex() bool {
	return len(p.segs) > 0 && p.segs[len(p.segs)-1].isIndex
}
