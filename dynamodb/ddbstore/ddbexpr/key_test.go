package ddbexpr

import (
	"testing"

	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = table.PrimaryKeyDefinition{
	PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
}

func TestParseKeyCondition(t *testing.T) {
	in := Input{
		Names: map[string]string{"#pk": "pk", "#sk1": "sk"},
		Values: map[string]types.AttributeValue{
			":pk":  s("$shop#id_1"),
			":sk1": s("$order_1#a"),
			":sk2": s("$order_1#c"),
		},
	}

	t.Run("partition only", func(t *testing.T) {
		kc, err := ParseKeyCondition("#pk = :pk", in, keys)
		require.NoError(t, err)
		assert.Equal(t, s("$shop#id_1"), kc.PartitionKey)
		assert.Nil(t, kc.Sort)
	})

	t.Run("begins_with", func(t *testing.T) {
		kc, err := ParseKeyCondition("(#pk = :pk) AND begins_with(#sk1, :sk1)", in, keys)
		require.NoError(t, err)
		require.NotNil(t, kc.Sort)
		assert.Equal(t, SortBeginsWith, kc.Sort.Op)
		assert.True(t, kc.Sort.Match(s("$order_1#a_x")))
		assert.False(t, kc.Sort.Match(s("$order_1#b")))
	})

	t.Run("between", func(t *testing.T) {
		kc, err := ParseKeyCondition("#pk = :pk AND #sk1 BETWEEN :sk1 AND :sk2", in, keys)
		require.NoError(t, err)
		assert.True(t, kc.Sort.Match(s("$order_1#b")))
		assert.False(t, kc.Sort.Match(s("$order_1#d")))
	})

	t.Run("errors", func(t *testing.T) {
		for _, expr := range []string{
			"#sk1 = :sk1",
			"#pk < :pk",
			"#pk = :pk OR #sk1 = :sk1",
			"#pk = :pk AND #sk1 > :sk1 AND #sk1 < :sk2",
			"#pk = :pk AND other = :sk1",
			"#pk = :pk AND contains(#sk1, :sk1)",
		} {
			_, err := ParseKeyCondition(expr, Input{Names: map[string]string{"#pk": "pk", "#sk1": "sk"}, Values: in.Values}, keys)
			assert.Error(t, err, expr)
		}
	})
}

func TestSortCondition_Numeric(t *testing.T) {
	c := SortCondition{Op: SortGt, Values: []types.AttributeValue{n("9")}}
	if !c.Match(n("10")) {
		t.Errorf("10 should be greater than 9 numerically")
	}
	if c.Match(s("10")) {
		t.Errorf("a string sort key should not match a number bound")
	}
}
