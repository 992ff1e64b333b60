package ddbexpr

import (
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ParseProjection parses a comma separated list of document paths.
func ParseProjection(expr string, names map[string]string) ([]Path, error) {
	p, err := newParser(expr, Input{Names: names})
	if err != nil {
		return nil, err
	}
	var paths []Path
	for {
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	if err := p.done(); err != nil {
		return nil, err
	}
	return paths, nil
}

// Project copies the values at paths out of item. Projected list elements
// keep their relative order; missing paths are skipped.
func Project(item Item, paths []Path) Item {
	if item == nil {
		return nil
	}
	pr := projector{out: make(Item), indexes: make(map[*types.AttributeValueMemberL][]int)}
	for _, path := range paths {
		v, ok := Get(item, path)
		if !ok {
			continue
		}
		pr.put(item, path, cloneValue(v))
	}
	return pr.out
}

type projector struct {
	out Item
	// source index of each element placed into a projected list
	indexes map[*types.AttributeValueMemberL][]int
}

// put writes v into the output at path, creating the containers on the way
// with the shape they have in src.
func (pr *projector) put(src Item, path Path, v types.AttributeValue) {
	root := path[0].Name
	if len(path) == 1 {
		pr.out[root] = v
		return
	}
	cur, ok := pr.out[root]
	if !ok {
		cur = emptyLike(src[root])
		pr.out[root] = cur
	}
	srcCur := src[root]
	for i, e := range path[1:] {
		last := i == len(path)-2
		srcNext, _ := step(srcCur, e)
		switch c := cur.(type) {
		case *types.AttributeValueMemberM:
			if last {
				c.Value[e.Name] = v
				return
			}
			next, ok := c.Value[e.Name]
			if !ok {
				next = emptyLike(srcNext)
				c.Value[e.Name] = next
			}
			cur = next
		case *types.AttributeValueMemberL:
			idx := pr.indexes[c]
			pos := 0
			for pos < len(idx) && idx[pos] < e.Index {
				pos++
			}
			found := pos < len(idx) && idx[pos] == e.Index
			switch {
			case last && found:
				c.Value[pos] = v
				return
			case last:
				pr.insert(c, pos, e.Index, v)
				return
			case found:
				cur = c.Value[pos]
			default:
				next := emptyLike(srcNext)
				pr.insert(c, pos, e.Index, next)
				cur = next
			}
		default:
			return
		}
		srcCur = srcNext
	}
}

func (pr *projector) insert(l *types.AttributeValueMemberL, pos, index int, v types.AttributeValue) {
	l.Value = slices.Insert(l.Value, pos, v)
	pr.indexes[l] = slices.Insert(pr.indexes[l], pos, index)
}

func step(v types.AttributeValue, e Element) (types.AttributeValue, bool) {
	switch v := v.(type) {
	case *types.AttributeValueMemberM:
		n, ok := v.Value[e.Name]
		return n, ok
	case *types.AttributeValueMemberL:
		if e.IsIndex && e.Index < len(v.Value) {
			return v.Value[e.Index], true
		}
	}
	return nil, false
}

func emptyLike(v types.AttributeValue) types.AttributeValue {
	if _, ok := v.(*types.AttributeValueMemberL); ok {
		return &types.AttributeValueMemberL{}
	}
	return &types.AttributeValueMemberM{Value: make(Item)}
}
