package ddbexpr

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func testItem() Item {
	return Item{
		"pk":     s("order#1"),
		"status": s("open"),
		"amount": n("25"),
		"tags":   &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"lines": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberM{Value: Item{"sku": s("x1"), "qty": n("2")}},
		}},
	}
}

func TestCondition(t *testing.T) {
	in := Input{
		Names: map[string]string{"#s": "status", "#a": "amount", "#l": "lines", "#q": "qty"},
		Values: map[string]types.AttributeValue{
			":open":   s("open"),
			":closed": s("closed"),
			":lo":     n("10"),
			":hi":     n("25.0"),
			":tag":    s("b"),
			":pre":    s("ord"),
			":type":   s("SS"),
			":two":    n("2"),
		},
	}
	tests := []struct {
		expr string
		want bool
	}{
		{"#s = :open", true},
		{"#s <> :open", false},
		{"#s = :open AND #a > :lo", true},
		{"#s = :closed OR #a >= :hi", true},
		{"NOT #s = :open", false},
		{"#a BETWEEN :lo AND :hi", true},
		{"#s IN (:closed, :open)", true},
		{"attribute_exists(pk) AND attribute_not_exists(missing)", true},
		{"attribute_type(tags, :type)", true},
		{"contains(tags, :tag)", true},
		{"begins_with(pk, :pre)", true},
		{"size(tags) = :two", true},
		{"#l[0].#q = :two", true},
		{"missing <> :open", true},
		{"missing = :open", false},
		{"(#s = :closed OR #s = :open) and #a < :lo", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCondition(tt.expr, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Eval(testItem()))
		})
	}
}

func TestCondition_Errors(t *testing.T) {
	for _, expr := range []string{
		"#undefined = :v",
		"a = :undefined",
		"a = ",
		"a = :v extra",
		"and = :v",
	} {
		_, err := ParseCondition(expr, Input{Values: map[string]types.AttributeValue{":v": s("x")}})
		var syntaxErr *SyntaxError
		if !assert.ErrorAs(t, err, &syntaxErr, expr) {
			continue
		}
		assert.Equal(t, expr, syntaxErr.Expr)
	}
}

func TestMatches_EmptyExpression(t *testing.T) {
	ok, err := Matches(nil, Input{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	empty := "  "
	ok, err = Matches(&empty, Input{}, testItem())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCondition_MissingItem(t *testing.T) {
	c, err := ParseCondition("attribute_not_exists(pk)", Input{})
	require.NoError(t, err)
	if !c.Eval(nil) {
		t.Errorf("attribute_not_exists should hold for a missing item")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct{ a, b, sum string }{
		{"1", "2", "3"},
		{"0.1", "0.2", "0.3"},
		{"1.50", "1", "2.5"},
		{"-3", "1.25", "-1.75"},
	}
	for _, tt := range tests {
		x, _ := ParseNumber(tt.a)
		y, _ := ParseNumber(tt.b)
		if got := FormatNumber(x.Add(x, y)); got != tt.sum {
			t.Errorf("%s + %s = %s, want %s", tt.a, tt.b, got, tt.sum)
		}
	}
}
