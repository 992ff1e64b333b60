package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Builder compiles the expressions of a single request. Every expression
// compiled by one Builder shares its Registry. A Builder is not safe for
// concurrent use.
type Builder struct {
	reg      *Registry
	attrs    Attrs
	stated   map[string]bool
	readOnly map[string]bool
	errs     []error
}

func NewBuilder(model *attr.Model) *Builder {
	return &Builder{
		reg:      NewRegistry(),
		attrs:    NewAttrs(model),
		stated:   make(map[string]bool),
		readOnly: make(map[string]bool),
	}
}

func (b *Builder) Registry() *Registry { return b.reg }

func (b *Builder) Attrs() Attrs { return b.attrs }

// ReadOnly marks root attributes that updates may not touch, in addition to
// attributes declared read-only.
func (b *Builder) ReadOnly(names ...string) {
	for _, n := range names {
		b.readOnly[n] = true
	}
}

func (b *Builder) record(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

func (b *Builder) err() error {
	return errors.Join(b.errs...)
}

// FilterFunc builds a boolean expression from path handles and operators.
type FilterFunc func(a Attrs, op Ops) string

// Where compiles fns into one expression. Each non-empty clause is wrapped in
// parentheses and the clauses are joined with AND.
func (b *Builder) Where(fns ...FilterFunc) (string, error) {
	var clauses []string
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		s := strings.TrimSpace(fn(b.attrs, Ops{b: b}))
		if s != "" {
			clauses = append(clauses, "("+s+")")
		}
	}
	if err := b.err(); err != nil {
		return "", err
	}
	return strings.Join(clauses, " AND "), nil
}

// Projection compiles a projection expression over logical attribute paths
// plus any extra physical fields.
func (b *Builder) Projection(paths []string, fields ...string) (string, error) {
	seen := make(map[string]bool)
	var names []expression.NameBuilder
	add := func(physical string) {
		if seen[physical] {
			return
		}
		seen[physical] = true
		names = append(names, expression.Name(physical))
	}
	for _, s := range paths {
		p := b.attrs.Parse(s)
		if err := p.Err(); err != nil {
			return "", err
		}
		add(p.physical())
	}
	for _, f := range fields {
		add(f)
	}
	if len(names) == 0 {
		return "", nil
	}
	proj := expression.NamesList(names[0], names[1:]...)
	built, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return "", fmt.Errorf("failed to build projection: %w", err)
	}
	// The expression package numbers its own placeholders; translate them
	// onto this registry so they share one name map with other expressions.
	generated := built.Names()
	items := strings.Split(*built.Projection(), ", ")
	for n, item := range items {
		parts := strings.Split(item, ".")
		for i, part := range parts {
			name, idx := part, ""
			if j := strings.IndexByte(part, '['); j >= 0 {
				name, idx = part[:j], part[j:]
			}
			parts[i] = b.reg.Name(generated[name]) + idx
		}
		items[n] = strings.Join(parts, ".")
	}
	return strings.Join(items, ", "), nil
}

// physical renders the path with raw field names, for the expression package.
func (p Path) physical() string {
	var s strings.Builder
	for i, seg := range p.segs {
		switch {
		case seg.isIndex:
			fmt.Fprintf(&s, "[%d]", seg.index)
		case i > 0:
			s.WriteString("." + seg.field)
		default:
			s.WriteString(seg.field)
		}
	}
	return s.String()
}

// toAV converts v for comparison against the attribute at p. Values that do
// not fit the attribute kind are reported as validation errors.
func toAV(a attr.Attribute, v any, path string) (types.AttributeValue, error) {
	if a.Kind == attr.KindCustom || a.Kind == "" {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, &attr.ValidationError{Path: path, Reason: err.Error(), Err: err}
		}
		return av, nil
	}
	av, err := attr.ToAttributeValue(a, v)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	return av, nil
}
