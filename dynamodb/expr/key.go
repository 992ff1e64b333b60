package expr

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SortOp is the comparison applied to the sort key of a query.
type SortOp string

const (
	SortNone    SortOp = ""
	SortEq      SortOp = "="
	SortBegins  SortOp = "begins_with"
	SortBetween SortOp = "between"
	SortGt      SortOp = ">"
	SortGte     SortOp = ">="
	SortLt      SortOp = "<"
	SortLte     SortOp = "<="
)

// KeyCondition describes a query's key condition on physical key fields.
type KeyCondition struct {
	PKField string
	PK      types.AttributeValue
	SKField string
	Op      SortOp
	SK      types.AttributeValue
	// SK2 is the upper bound of SortBetween.
	SK2 types.AttributeValue
}

// KeyCondition renders kc using the fixed placeholders #pk, :pk, #sk1, :sk1
// and :sk2. It must be compiled before any other expression on b.
func (b *Builder) KeyCondition(kc KeyCondition) (string, error) {
	if kc.PKField == "" || kc.PK == nil {
		return "", fmt.Errorf("key condition requires a partition key")
	}
	out := fmt.Sprintf("%s = %s", b.reg.FixedName("#pk", kc.PKField), b.reg.FixedValue(":pk", kc.PK))
	if kc.Op == SortNone {
		return out, nil
	}
	if kc.SKField == "" || kc.SK == nil {
		return "", fmt.Errorf("sort key condition %q requires a sort key value", kc.Op)
	}
	sk := b.reg.FixedName("#sk1", kc.SKField)
	v1 := b.reg.FixedValue(":sk1", kc.SK)
	switch kc.Op {
	case SortEq, SortGt, SortGte, SortLt, SortLte:
		return fmt.Sprintf("%s and %s %s %s", out, sk, kc.Op, v1), nil
	case SortBegins:
		return fmt.Sprintf("%s and begins_with(%s, %s)", out, sk, v1), nil
	case SortBetween:
		if kc.SK2 == nil {
			return "", fmt.Errorf("between requires two sort key values")
		}
		return fmt.Sprintf("%s and %s BETWEEN %s AND %s", out, sk, v1, b.reg.FixedValue(":sk2", kc.SK2)), nil
	}
	return "", fmt.Errorf("unknown sort key operator %q", kc.Op)
}
