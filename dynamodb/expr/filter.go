package expr

import (
	"fmt"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Ops exposes the filter and condition operators. Each operator returns an
// expression fragment that can be embedded in larger AND/OR expressions.
// Invalid paths or values are recorded and reported by Where.
type Ops struct {
	b *Builder
}

func (o Ops) name(p Path) (string, bool) {
	if err := p.Err(); err != nil {
		o.b.record(err)
		return "", false
	}
	return p.render(o.b.reg), true
}

func (o Ops) value(p Path, a attr.Attribute, v any) string {
	av, err := toAV(a, v, p.String())
	if err != nil {
		o.b.record(err)
		return ""
	}
	return o.b.reg.Value(p.leafToken(), av)
}

func (o Ops) compare(p Path, op string, v any) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s %s %s", n, op, o.value(p, p.Attribute(), v))
}

func (o Ops) Eq(p Path, v any) string  { return o.compare(p, "=", v) }
func (o Ops) Ne(p Path, v any) string  { return o.compare(p, "<>", v) }
func (o Ops) Gt(p Path, v any) string  { return o.compare(p, ">", v) }
func (o Ops) Gte(p Path, v any) string { return o.compare(p, ">=", v) }
func (o Ops) Lt(p Path, v any) string  { return o.compare(p, "<", v) }
func (o Ops) Lte(p Path, v any) string { return o.compare(p, "<=", v) }

func (o Ops) Between(p Path, lo, hi any) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("(%s between %s and %s)", n, o.value(p, p.Attribute(), lo), o.value(p, p.Attribute(), hi))
}

func (o Ops) Begins(p Path, v any) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("begins_with(%s, %s)", n, o.value(p, p.Attribute(), v))
}

// Exists also marks the path and its ancestors as known to exist, which
// allows updates below them.
func (o Ops) Exists(p Path) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	o.b.stated[p.String()] = true
	for _, a := range p.ancestors() {
		o.b.stated[a.String()] = true
	}
	return fmt.Sprintf("attribute_exists(%s)", n)
}

func (o Ops) NotExists(p Path) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("attribute_not_exists(%s)", n)
}

// Contains checks string containment, set membership or list membership.
func (o Ops) Contains(p Path, v any) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("contains(%s, %s)", n, o.value(p, memberOf(p.Attribute()), v))
}

func (o Ops) NotContains(p Path, v any) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("not contains(%s, %s)", n, o.value(p, memberOf(p.Attribute()), v))
}

// Name renders the placeholder path of p for hand-written fragments.
func (o Ops) Name(p Path) string {
	n, _ := o.name(p)
	return n
}

// Value allocates a placeholder for v typed as the attribute at p.
func (o Ops) Value(p Path, v any) string {
	if err := p.Err(); err != nil {
		o.b.record(err)
		return ""
	}
	return o.value(p, p.Attribute(), v)
}

func (o Ops) Size(p Path) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("size(%s)", n)
}

var dynamoTypes = map[string]bool{
	"S": true, "SS": true, "N": true, "NS": true, "B": true, "BS": true,
	"BOOL": true, "NULL": true, "L": true, "M": true,
}

// Type checks the stored type of p, for example "S" or "NS".
func (o Ops) Type(p Path, typ string) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	if !dynamoTypes[typ] {
		o.b.record(&attr.ValidationError{Path: p.String(), Reason: fmt.Sprintf("unknown attribute type %q", typ)})
		return ""
	}
	v := o.b.reg.Value(p.leafToken(), &types.AttributeValueMemberS{Value: typ})
	return fmt.Sprintf("attribute_type(%s, %s)", n, v)
}

// Field references a physical field that is not a modeled attribute, such
// as a key field.
func (o Ops) Field(field string) string {
	return o.b.reg.Name(field)
}

// Escape allocates a placeholder for an untyped value, for comparisons the
// attribute kind does not describe, such as sizes.
func (o Ops) Escape(v any) string {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		o.b.record(fmt.Errorf("failed to marshal escaped value: %w", err))
		return ""
	}
	return o.b.reg.Value("escape", av)
}

// EqOrNotExists matches items where p equals v or is absent.
func (o Ops) EqOrNotExists(p Path, v any) string {
	n, ok := o.name(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("(%s = %s OR attribute_not_exists(%s))", n, o.value(p, p.Attribute(), v), n)
}

func memberOf(a attr.Attribute) attr.Attribute {
	switch a.Kind {
	case attr.KindSet:
		kind := a.SetOf
		if kind == "" {
			kind = attr.KindCustom
		}
		return attr.Attribute{Name: a.Name, Kind: kind}
	case attr.KindList:
		if el, ok := a.Element(); ok {
			return el
		}
		return attr.Attribute{Name: a.Name + "[*]", Kind: attr.KindCustom}
	}
	return a
}
