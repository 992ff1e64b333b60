package ddbexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a stored item.
type Item = map[string]types.AttributeValue

// Input holds the placeholders of a request.
type Input struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// Element is one step of a document path: a map key or a list index.
type Element struct {
	Name    string
	Index   int
	IsIndex bool
}

// Path addresses an attribute, possibly nested, such as a.b[2].c.
type Path []Element

// Root returns the top-level attribute name.
func (p Path) Root() string { return p[0].Name }

func (p Path) String() string {
	var b strings.Builder
	for i, e := range p {
		switch {
		case e.IsIndex:
			fmt.Fprintf(&b, "[%d]", e.Index)
		case i > 0:
			b.WriteString(".")
			b.WriteString(e.Name)
		default:
			b.WriteString(e.Name)
		}
	}
	return b.String()
}

func (p *parser) name(t token) (string, error) {
	switch t.kind {
	case tokName:
		n, ok := p.in.Names[t.text]
		if !ok {
			return "", &SyntaxError{Expr: p.expr, Pos: t.pos, Reason: fmt.Sprintf("attribute name placeholder %s is not defined", t.text)}
		}
		return n, nil
	case tokIdent:
		if reserved[strings.ToUpper(t.text)] {
			return "", &SyntaxError{Expr: p.expr, Pos: t.pos, Reason: fmt.Sprintf("%q is a reserved word", t.text)}
		}
		return t.text, nil
	}
	return "", &SyntaxError{Expr: p.expr, Pos: t.pos, Reason: "expected an attribute name"}
}

func (p *parser) value(t token) (types.AttributeValue, error) {
	v, ok := p.in.Values[t.text]
	if !ok {
		return nil, &SyntaxError{Expr: p.expr, Pos: t.pos, Reason: fmt.Sprintf("attribute value placeholder %s is not defined", t.text)}
	}
	return v, nil
}

func (p *parser) parsePath() (Path, error) {
	first, err := p.name(p.next())
	if err != nil {
		return nil, err
	}
	path := Path{{Name: first}}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			n, err := p.name(p.next())
			if err != nil {
				return nil, err
			}
			path = append(path, Element{Name: n})
		case tokLBracket:
			p.next()
			t, err := p.expect(tokNumber, "a list index")
			if err != nil {
				return nil, err
			}
			i, err := strconv.Atoi(t.text)
			if err != nil {
				return nil, p.errorf("invalid list index %q", t.text)
			}
			if _, err := p.expect(tokRBracket, "]"); err != nil {
				return nil, err
			}
			path = append(path, Element{Index: i, IsIndex: true})
		default:
			return path, nil
		}
	}
}

// Get returns the value at path, or false if it does not exist.
func Get(item Item, path Path) (types.AttributeValue, bool) {
	if len(path) == 0 || path[0].IsIndex {
		return nil, false
	}
	cur, ok := item[path[0].Name]
	if !ok {
		return nil, false
	}
	for _, e := range path[1:] {
		switch v := cur.(type) {
		case *types.AttributeValueMemberM:
			if e.IsIndex {
				return nil, false
			}
			if cur, ok = v.Value[e.Name]; !ok {
				return nil, false
			}
		case *types.AttributeValueMemberL:
			if !e.IsIndex || e.Index >= len(v.Value) {
				return nil, false
			}
			cur = v.Value[e.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// PathError reports a document path that cannot be written.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("the document path %q is invalid for update: %s", e.Path, e.Reason)
}

// parent returns the container holding the last element of path.
func parent(item Item, path Path) (types.AttributeValue, error) {
	if len(path) == 1 {
		return &types.AttributeValueMemberM{Value: item}, nil
	}
	v, ok := Get(item, path[:len(path)-1])
	if !ok {
		return nil, &PathError{Path: path.String(), Reason: "parent does not exist"}
	}
	return v, nil
}

// Set writes v at path. Parents must exist; an index past the end of a list
// appends.
func Set(item Item, path Path, v types.AttributeValue) error {
	container, err := parent(item, path)
	if err != nil {
		return err
	}
	last := path[len(path)-1]
	switch c := container.(type) {
	case *types.AttributeValueMemberM:
		if last.IsIndex {
			return &PathError{Path: path.String(), Reason: "parent is not a list"}
		}
		c.Value[last.Name] = v
	case *types.AttributeValueMemberL:
		if !last.IsIndex {
			return &PathError{Path: path.String(), Reason: "parent is not a map"}
		}
		if last.Index >= len(c.Value) {
			c.Value = append(c.Value, v)
		} else {
			c.Value[last.Index] = v
		}
	default:
		return &PathError{Path: path.String(), Reason: "parent is not a map or list"}
	}
	return nil
}

// Remove deletes the value at path. Missing paths are ignored.
func Remove(item Item, path Path) {
	container, err := parent(item, path)
	if err != nil {
		return
	}
	last := path[len(path)-1]
	switch c := container.(type) {
	case *types.AttributeValueMemberM:
		delete(c.Value, last.Name)
	case *types.AttributeValueMemberL:
		if last.IsIndex && last.Index < len(c.Value) {
			c.Value = append(c.Value[:last.Index], c.Value[last.Index+1:]...)
		}
	}
}

// Clone deep copies an item.
func Clone(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v types.AttributeValue) types.AttributeValue {
	switch v := v.(type) {
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: Clone(v.Value)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(v.Value))
		for i, e := range v.Value {
			l[i] = cloneValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberBS:
		bs := make([][]byte, len(v.Value))
		for i, b := range v.Value {
			bs[i] = append([]byte(nil), b...)
		}
		return &types.AttributeValueMemberBS{Value: bs}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), v.Value...)}
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	}
	return v
}
