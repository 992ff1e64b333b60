package ddbexpr

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Update is a parsed update expression.
type Update struct {
	sets    []setAction
	removes []Path
	adds    []pathValue
	deletes []pathValue
}

type setAction struct {
	path  Path
	value setValue
}

type pathValue struct {
	path  Path
	value types.AttributeValue
}

// setValue is the right hand side of a SET action.
type setValue struct {
	kind  string // "operand", "+", "-", "if_not_exists", "list_append"
	arg   operand
	left  *setValue
	right *setValue
	// fallback path of if_not_exists
	path Path
}

// UpdateError reports an update that cannot be applied to the item.
type UpdateError struct {
	Reason string
}

func (e *UpdateError) Error() string { return "invalid update: " + e.Reason }

// ParseUpdate parses an update expression.
func ParseUpdate(expr string, in Input) (Update, error) {
	p, err := newParser(expr, in)
	if err != nil {
		return Update{}, err
	}
	var u Update
	seen := make(map[string]bool)
	for p.peek().kind != tokEOF {
		t := p.next()
		section := strings.ToUpper(t.text)
		if t.kind != tokIdent || seen[section] {
			return Update{}, &SyntaxError{Expr: expr, Pos: t.pos, Reason: fmt.Sprintf("unexpected %q", t.text)}
		}
		seen[section] = true
		for {
			if err := p.parseAction(section, &u); err != nil {
				return Update{}, err
			}
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if len(seen) == 0 {
		return Update{}, &SyntaxError{Expr: expr, Reason: "empty update expression"}
	}
	return u, nil
}

func (p *parser) parseAction(section string, u *Update) error {
	path, err := p.parsePath()
	if err != nil {
		return err
	}
	switch section {
	case "SET":
		if _, err := p.expect(tokEq, "="); err != nil {
			return err
		}
		v, err := p.parseSetValue()
		if err != nil {
			return err
		}
		u.sets = append(u.sets, setAction{path: path, value: v})
	case "REMOVE":
		u.removes = append(u.removes, path)
	case "ADD", "DELETE":
		t, err := p.expect(tokValue, "a value placeholder")
		if err != nil {
			return err
		}
		v, err := p.value(t)
		if err != nil {
			return err
		}
		if section == "ADD" {
			u.adds = append(u.adds, pathValue{path, v})
		} else {
			u.deletes = append(u.deletes, pathValue{path, v})
		}
	default:
		return p.errorf("unknown update section %q", section)
	}
	return nil
}

func (p *parser) parseSetValue() (setValue, error) {
	left, err := p.parseSetOperand()
	if err != nil {
		return setValue{}, err
	}
	switch p.peek().kind {
	case tokPlus, tokMinus:
		op := p.next().text
		right, err := p.parseSetOperand()
		if err != nil {
			return setValue{}, err
		}
		return setValue{kind: op, left: &left, right: &right}, nil
	}
	return left, nil
}

func (p *parser) parseSetOperand() (setValue, error) {
	t := p.peek()
	if t.kind == tokIdent && p.peekAt(1).kind == tokLParen {
		switch t.text {
		case "if_not_exists":
			p.next()
			p.next()
			path, err := p.parsePath()
			if err != nil {
				return setValue{}, err
			}
			if _, err := p.expect(tokComma, ","); err != nil {
				return setValue{}, err
			}
			fallback, err := p.parseSetOperand()
			if err != nil {
				return setValue{}, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return setValue{}, err
			}
			return setValue{kind: "if_not_exists", path: path, right: &fallback}, nil
		case "list_append":
			p.next()
			p.next()
			left, err := p.parseSetOperand()
			if err != nil {
				return setValue{}, err
			}
			if _, err := p.expect(tokComma, ","); err != nil {
				return setValue{}, err
			}
			right, err := p.parseSetOperand()
			if err != nil {
				return setValue{}, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return setValue{}, err
			}
			return setValue{kind: "list_append", left: &left, right: &right}, nil
		}
		return setValue{}, p.errorf("unknown function %q", t.text)
	}
	o, err := p.parseOperand()
	if err != nil {
		return setValue{}, err
	}
	if o.size {
		return setValue{}, p.errorf("size is not allowed in SET")
	}
	return setValue{kind: "operand", arg: o}, nil
}

func (v setValue) eval(item Item) (types.AttributeValue, error) {
	switch v.kind {
	case "operand":
		av, ok := v.arg.resolve(item)
		if !ok {
			return nil, &UpdateError{Reason: fmt.Sprintf("attribute %q used in SET does not exist", v.arg.path)}
		}
		return av, nil
	case "if_not_exists":
		if av, ok := Get(item, v.path); ok {
			return av, nil
		}
		return v.right.eval(item)
	case "list_append":
		l, err := v.left.eval(item)
		if err != nil {
			return nil, err
		}
		r, err := v.right.eval(item)
		if err != nil {
			return nil, err
		}
		ll, ok1 := l.(*types.AttributeValueMemberL)
		rl, ok2 := r.(*types.AttributeValueMemberL)
		if !ok1 || !ok2 {
			return nil, &UpdateError{Reason: "list_append requires two lists"}
		}
		out := append(slices.Clone(ll.Value), rl.Value...)
		return &types.AttributeValueMemberL{Value: out}, nil
	case "+", "-":
		l, err := v.left.eval(item)
		if err != nil {
			return nil, err
		}
		r, err := v.right.eval(item)
		if err != nil {
			return nil, err
		}
		return arithmetic(l, r, v.kind == "-")
	}
	return nil, &UpdateError{Reason: "unknown SET value"}
}

func arithmetic(l, r types.AttributeValue, subtract bool) (types.AttributeValue, error) {
	ln, ok1 := l.(*types.AttributeValueMemberN)
	rn, ok2 := r.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, &UpdateError{Reason: "arithmetic requires two numbers"}
	}
	x, ok1 := ParseNumber(ln.Value)
	y, ok2 := ParseNumber(rn.Value)
	if !ok1 || !ok2 {
		return nil, &UpdateError{Reason: "malformed number"}
	}
	if subtract {
		x.Sub(x, y)
	} else {
		x.Add(x, y)
	}
	return &types.AttributeValueMemberN{Value: FormatNumber(x)}, nil
}

// Apply runs the update on a copy of item. Every SET value is computed from
// the original item. It returns the new item and the top-level attributes
// the update touched.
func (u Update) Apply(item Item) (Item, []string, error) {
	out := Clone(item)
	if out == nil {
		out = make(Item)
	}
	var touched []string
	touch := func(p Path) {
		if !slices.Contains(touched, p.Root()) {
			touched = append(touched, p.Root())
		}
	}

	values := make([]types.AttributeValue, len(u.sets))
	for i, s := range u.sets {
		v, err := s.value.eval(item)
		if err != nil {
			return nil, nil, err
		}
		values[i] = cloneValue(v)
	}
	for i, s := range u.sets {
		if err := Set(out, s.path, values[i]); err != nil {
			return nil, nil, err
		}
		touch(s.path)
	}

	// Later list indexes go first so earlier removals do not shift them.
	removes := slices.Clone(u.removes)
	slices.SortStableFunc(removes, func(a, b Path) int {
		ai, bi := a[len(a)-1], b[len(b)-1]
		if ai.IsIndex && bi.IsIndex {
			return bi.Index - ai.Index
		}
		return 0
	})
	for _, p := range removes {
		Remove(out, p)
		touch(p)
	}

	for _, a := range u.adds {
		cur, exists := Get(out, a.path)
		var next types.AttributeValue
		switch {
		case !exists:
			switch a.value.(type) {
			case *types.AttributeValueMemberN, *types.AttributeValueMemberSS, *types.AttributeValueMemberNS, *types.AttributeValueMemberBS:
				next = cloneValue(a.value)
			default:
				return nil, nil, &UpdateError{Reason: "ADD requires a number or a set"}
			}
		case TypeOf(cur) == "N":
			v, err := arithmetic(cur, a.value, false)
			if err != nil {
				return nil, nil, err
			}
			next = v
		default:
			v, err := setUnion(cur, a.value)
			if err != nil {
				return nil, nil, err
			}
			next = v
		}
		if err := Set(out, a.path, next); err != nil {
			return nil, nil, err
		}
		touch(a.path)
	}

	for _, d := range u.deletes {
		cur, exists := Get(out, d.path)
		if !exists {
			continue
		}
		next, err := setDifference(cur, d.value)
		if err != nil {
			return nil, nil, err
		}
		if next == nil {
			Remove(out, d.path)
		} else if err := Set(out, d.path, next); err != nil {
			return nil, nil, err
		}
		touch(d.path)
	}
	return out, touched, nil
}

func setUnion(cur, add types.AttributeValue) (types.AttributeValue, error) {
	switch c := cur.(type) {
	case *types.AttributeValueMemberSS:
		if a, ok := add.(*types.AttributeValueMemberSS); ok {
			return &types.AttributeValueMemberSS{Value: union(c.Value, a.Value, func(x, y string) bool { return x == y })}, nil
		}
	case *types.AttributeValueMemberNS:
		if a, ok := add.(*types.AttributeValueMemberNS); ok {
			return &types.AttributeValueMemberNS{Value: union(c.Value, a.Value, numbersEqual)}, nil
		}
	case *types.AttributeValueMemberBS:
		if a, ok := add.(*types.AttributeValueMemberBS); ok {
			return &types.AttributeValueMemberBS{Value: union(c.Value, a.Value, bytes.Equal)}, nil
		}
	}
	return nil, &UpdateError{Reason: fmt.Sprintf("cannot ADD %s to %s", TypeOf(add), TypeOf(cur))}
}

// setDifference returns nil when every member was removed.
func setDifference(cur, del types.AttributeValue) (types.AttributeValue, error) {
	switch c := cur.(type) {
	case *types.AttributeValueMemberSS:
		if d, ok := del.(*types.AttributeValueMemberSS); ok {
			if out := difference(c.Value, d.Value, func(x, y string) bool { return x == y }); len(out) > 0 {
				return &types.AttributeValueMemberSS{Value: out}, nil
			}
			return nil, nil
		}
	case *types.AttributeValueMemberNS:
		if d, ok := del.(*types.AttributeValueMemberNS); ok {
			if out := difference(c.Value, d.Value, numbersEqual); len(out) > 0 {
				return &types.AttributeValueMemberNS{Value: out}, nil
			}
			return nil, nil
		}
	case *types.AttributeValueMemberBS:
		if d, ok := del.(*types.AttributeValueMemberBS); ok {
			if out := difference(c.Value, d.Value, bytes.Equal); len(out) > 0 {
				return &types.AttributeValueMemberBS{Value: out}, nil
			}
			return nil, nil
		}
	}
	return nil, &UpdateError{Reason: fmt.Sprintf("cannot DELETE %s from %s", TypeOf(del), TypeOf(cur))}
}

func union[T any](a, b []T, eq func(T, T) bool) []T {
	out := slices.Clone(a)
	for _, x := range b {
		if !slices.ContainsFunc(out, func(y T) bool { return eq(x, y) }) {
			out = append(out, x)
		}
	}
	return out
}

func difference[T any](a, b []T, eq func(T, T) bool) []T {
	var out []T
	for _, x := range a {
		if !slices.ContainsFunc(b, func(y T) bool { return eq(x, y) }) {
			out = append(out, x)
		}
	}
	return out
}
