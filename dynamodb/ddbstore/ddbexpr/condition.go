package ddbexpr

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition is a parsed condition or filter expression.
type Condition struct {
	root node
}

type node interface {
	eval(item Item) bool
}

// operand is a path, a value or size(path).
type operand struct {
	path  Path
	value types.AttributeValue
	size  bool
}

func (o operand) resolve(item Item) (types.AttributeValue, bool) {
	if o.value != nil {
		return o.value, true
	}
	v, ok := Get(item, o.path)
	if !ok {
		return nil, false
	}
	if !o.size {
		return v, true
	}
	n, ok := sizeOf(v)
	if !ok {
		return nil, false
	}
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}, true
}

func sizeOf(v types.AttributeValue) (int, bool) {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		return utf8.RuneCountInString(v.Value), true
	case *types.AttributeValueMemberB:
		return len(v.Value), true
	case *types.AttributeValueMemberSS:
		return len(v.Value), true
	case *types.AttributeValueMemberNS:
		return len(v.Value), true
	case *types.AttributeValueMemberBS:
		return len(v.Value), true
	case *types.AttributeValueMemberL:
		return len(v.Value), true
	case *types.AttributeValueMemberM:
		return len(v.Value), true
	}
	return 0, false
}

type andNode struct{ left, right node }

func (n andNode) eval(item Item) bool { return n.left.eval(item) && n.right.eval(item) }

type orNode struct{ left, right node }

func (n orNode) eval(item Item) bool { return n.left.eval(item) || n.right.eval(item) }

type notNode struct{ inner node }

func (n notNode) eval(item Item) bool { return !n.inner.eval(item) }

type compareNode struct {
	op          tokenKind
	left, right operand
}

func (n compareNode) eval(item Item) bool {
	l, lok := n.left.resolve(item)
	r, rok := n.right.resolve(item)
	if !lok || !rok {
		return n.op == tokNe && lok != rok
	}
	switch n.op {
	case tokEq:
		return Equal(l, r)
	case tokNe:
		return !Equal(l, r)
	}
	c, ok := Compare(l, r)
	if !ok {
		return false
	}
	switch n.op {
	case tokLt:
		return c < 0
	case tokLe:
		return c <= 0
	case tokGt:
		return c > 0
	case tokGe:
		return c >= 0
	}
	return false
}

type betweenNode struct{ subject, lo, hi operand }

func (n betweenNode) eval(item Item) bool {
	v, ok1 := n.subject.resolve(item)
	lo, ok2 := n.lo.resolve(item)
	hi, ok3 := n.hi.resolve(item)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	c1, ok1 := Compare(v, lo)
	c2, ok2 := Compare(v, hi)
	return ok1 && ok2 && c1 >= 0 && c2 <= 0
}

type inNode struct {
	subject operand
	list    []operand
}

func (n inNode) eval(item Item) bool {
	v, ok := n.subject.resolve(item)
	if !ok {
		return false
	}
	for _, o := range n.list {
		if w, ok := o.resolve(item); ok && Equal(v, w) {
			return true
		}
	}
	return false
}

type funcNode struct {
	name string
	path Path
	arg  operand
}

func (n funcNode) eval(item Item) bool {
	v, exists := Get(item, n.path)
	switch n.name {
	case "attribute_exists":
		return exists
	case "attribute_not_exists":
		return !exists
	}
	if !exists {
		return false
	}
	arg, ok := n.arg.resolve(item)
	if !ok {
		return false
	}
	switch n.name {
	case "attribute_type":
		s, ok := arg.(*types.AttributeValueMemberS)
		return ok && TypeOf(v) == s.Value
	case "begins_with":
		switch x := v.(type) {
		case *types.AttributeValueMemberS:
			p, ok := arg.(*types.AttributeValueMemberS)
			return ok && strings.HasPrefix(x.Value, p.Value)
		case *types.AttributeValueMemberB:
			p, ok := arg.(*types.AttributeValueMemberB)
			return ok && bytes.HasPrefix(x.Value, p.Value)
		}
	case "contains":
		return contains(v, arg)
	}
	return false
}

func contains(v, arg types.AttributeValue) bool {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		s, ok := arg.(*types.AttributeValueMemberS)
		return ok && strings.Contains(x.Value, s.Value)
	case *types.AttributeValueMemberB:
		b, ok := arg.(*types.AttributeValueMemberB)
		return ok && bytes.Contains(x.Value, b.Value)
	case *types.AttributeValueMemberSS:
		for _, m := range x.Value {
			if Equal(&types.AttributeValueMemberS{Value: m}, arg) {
				return true
			}
		}
	case *types.AttributeValueMemberNS:
		for _, m := range x.Value {
			if Equal(&types.AttributeValueMemberN{Value: m}, arg) {
				return true
			}
		}
	case *types.AttributeValueMemberBS:
		for _, m := range x.Value {
			if Equal(&types.AttributeValueMemberB{Value: m}, arg) {
				return true
			}
		}
	case *types.AttributeValueMemberL:
		for _, m := range x.Value {
			if Equal(m, arg) {
				return true
			}
		}
	}
	return false
}

// ParseCondition parses a condition or filter expression.
func ParseCondition(expr string, in Input) (Condition, error) {
	p, err := newParser(expr, in)
	if err != nil {
		return Condition{}, err
	}
	root, err := p.parseOr()
	if err != nil {
		return Condition{}, err
	}
	if err := p.done(); err != nil {
		return Condition{}, err
	}
	return Condition{root: root}, nil
}

// Eval reports whether item satisfies the condition. A nil item is an item
// that does not exist.
func (c Condition) Eval(item Item) bool {
	if c.root == nil {
		return true
	}
	return c.root.eval(item)
}

// Matches parses expr and evaluates it against item. A nil or empty
// expression always matches.
func Matches(expr *string, in Input, item Item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	c, err := ParseCondition(*expr, in)
	if err != nil {
		return false, err
	}
	return c.Eval(item), nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.keyword("NOT") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parsePrimary()
}

var conditionFuncs = map[string]bool{
	"attribute_exists":     true,
	"attribute_not_exists": true,
	"attribute_type":       true,
	"begins_with":          true,
	"contains":             true,
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	if t.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	if t.kind == tokIdent && p.peekAt(1).kind == tokLParen && conditionFuncs[t.text] {
		return p.parseFunc()
	}

	subject, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareNode{op: op, left: subject, right: right}, nil
	}
	switch {
	case p.keyword("BETWEEN"):
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return nil, p.errorf("expected AND in BETWEEN")
		}
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenNode{subject: subject, lo: lo, hi: hi}, nil
	case p.keyword("IN"):
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		n := inNode{subject: subject}
		for {
			o, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, o)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, p.errorf("expected a comparison")
}

func (p *parser) parseFunc() (node, error) {
	name := p.next().text
	p.next() // (
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	n := funcNode{name: name, path: path}
	switch name {
	case "attribute_type", "begins_with", "contains":
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		if n.arg, err = p.parseOperand(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	switch {
	case t.kind == tokValue:
		p.next()
		v, err := p.value(t)
		return operand{value: v}, err
	case t.kind == tokIdent && t.text == "size" && p.peekAt(1).kind == tokLParen:
		p.next()
		p.next()
		path, err := p.parsePath()
		if err != nil {
			return operand{}, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return operand{}, err
		}
		return operand{path: path, size: true}, nil
	}
	path, err := p.parsePath()
	return operand{path: path}, err
}
