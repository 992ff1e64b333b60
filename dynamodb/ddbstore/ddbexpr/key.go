package ddbexpr

import (
	"fmt"

	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SortOp is the comparison a key condition applies to the sort key.
type SortOp string

const (
	SortEq         SortOp = "="
	SortLt         SortOp = "<"
	SortLe         SortOp = "<="
	SortGt         SortOp = ">"
	SortGe         SortOp = ">="
	SortBetween    SortOp = "BETWEEN"
	SortBeginsWith SortOp = "begins_with"
)

// SortCondition restricts the sort key of a query.
type SortCondition struct {
	Op     SortOp
	Values []types.AttributeValue
}

// Match reports whether sk satisfies the condition.
func (c SortCondition) Match(sk types.AttributeValue) bool {
	if c.Op == SortBeginsWith {
		return funcNode{name: "begins_with", path: Path{{Name: "sk"}}, arg: operand{value: c.Values[0]}}.eval(Item{"sk": sk})
	}
	cmp, ok := Compare(sk, c.Values[0])
	if !ok {
		return false
	}
	switch c.Op {
	case SortEq:
		return cmp == 0
	case SortLt:
		return cmp < 0
	case SortLe:
		return cmp <= 0
	case SortGt:
		return cmp > 0
	case SortGe:
		return cmp >= 0
	case SortBetween:
		hi, ok := Compare(sk, c.Values[1])
		return ok && cmp >= 0 && hi <= 0
	}
	return false
}

// KeyCondition is a parsed key condition expression.
type KeyCondition struct {
	PartitionKey types.AttributeValue
	Sort         *SortCondition
}

// ParseKeyCondition parses expr against the key schema of the queried index.
// The partition key must be compared for equality; the sort key may be
// compared once.
func ParseKeyCondition(expr string, in Input, keys table.PrimaryKeyDefinition) (KeyCondition, error) {
	c, err := ParseCondition(expr, in)
	if err != nil {
		return KeyCondition{}, err
	}
	var parts []node
	var flatten func(n node) error
	flatten = func(n node) error {
		switch n := n.(type) {
		case andNode:
			if err := flatten(n.left); err != nil {
				return err
			}
			return flatten(n.right)
		case compareNode, betweenNode, funcNode:
			parts = append(parts, n)
			return nil
		}
		return fmt.Errorf("key condition %q may only combine key comparisons with AND", expr)
	}
	if err := flatten(c.root); err != nil {
		return KeyCondition{}, err
	}

	var kc KeyCondition
	for _, part := range parts {
		field, sc, err := keyComparison(part)
		if err != nil {
			return KeyCondition{}, fmt.Errorf("key condition %q: %w", expr, err)
		}
		switch {
		case field == keys.PartitionKey.Name:
			if sc.Op != SortEq || kc.PartitionKey != nil {
				return KeyCondition{}, fmt.Errorf("key condition %q: partition key %q must be compared once with =", expr, field)
			}
			kc.PartitionKey = sc.Values[0]
		case keys.HasSortKey() && field == keys.SortKey.Name:
			if kc.Sort != nil {
				return KeyCondition{}, fmt.Errorf("key condition %q: sort key %q is compared more than once", expr, field)
			}
			kc.Sort = &sc
		default:
			return KeyCondition{}, fmt.Errorf("key condition %q: %q is not a key of the index", expr, field)
		}
	}
	if kc.PartitionKey == nil {
		return KeyCondition{}, fmt.Errorf("key condition %q: missing partition key %q", expr, keys.PartitionKey.Name)
	}
	return kc, nil
}

func keyField(o operand) (string, bool) {
	if o.value != nil || o.size || len(o.path) != 1 {
		return "", false
	}
	return o.path.Root(), true
}

var sortOps = map[tokenKind]SortOp{
	tokEq: SortEq, tokLt: SortLt, tokLe: SortLe, tokGt: SortGt, tokGe: SortGe,
}

func keyComparison(n node) (string, SortCondition, error) {
	switch n := n.(type) {
	case compareNode:
		op, ok := sortOps[n.op]
		field, isKey := keyField(n.left)
		if !ok || !isKey || n.right.value == nil {
			return "", SortCondition{}, fmt.Errorf("unsupported key comparison")
		}
		return field, SortCondition{Op: op, Values: []types.AttributeValue{n.right.value}}, nil
	case betweenNode:
		field, isKey := keyField(n.subject)
		if !isKey || n.lo.value == nil || n.hi.value == nil {
			return "", SortCondition{}, fmt.Errorf("unsupported BETWEEN on keys")
		}
		return field, SortCondition{Op: SortBetween, Values: []types.AttributeValue{n.lo.value, n.hi.value}}, nil
	case funcNode:
		if n.name != "begins_with" || len(n.path) != 1 || n.arg.value == nil {
			return "", SortCondition{}, fmt.Errorf("function %s is not allowed in key conditions", n.name)
		}
		return n.path.Root(), SortCondition{Op: SortBeginsWith, Values: []types.AttributeValue{n.arg.value}}, nil
	}
	return "", SortCondition{}, fmt.Errorf("unsupported key condition")
}
