package ddbexpr

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, expr string, in Input, item Item) (Item, []string) {
	t.Helper()
	u, err := ParseUpdate(expr, in)
	require.NoError(t, err)
	out, touched, err := u.Apply(item)
	require.NoError(t, err)
	return out, touched
}

func TestUpdate_Apply(t *testing.T) {
	values := map[string]types.AttributeValue{
		":name":  s("widget"),
		":five":  n("5"),
		":zero":  n("0"),
		":tags":  &types.AttributeValueMemberSS{Value: []string{"b", "c"}},
		":more":  &types.AttributeValueMemberL{Value: []types.AttributeValue{s("z")}},
		":minus": &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
	}
	in := Input{Names: map[string]string{"#n": "name", "#a": "amount"}, Values: values}

	t.Run("set and remove", func(t *testing.T) {
		out, touched := apply(t, "SET #n = :name REMOVE status", in, testItem())
		assert.Equal(t, s("widget"), out["name"])
		assert.NotContains(t, out, "status")
		assert.ElementsMatch(t, []string{"name", "status"}, touched)
	})

	t.Run("arithmetic reads the original item", func(t *testing.T) {
		out, _ := apply(t, "SET #a = #a + :five, copy = #a", in, testItem())
		assert.Equal(t, n("30"), out["amount"])
		assert.Equal(t, n("25"), out["copy"])
	})

	t.Run("subtract", func(t *testing.T) {
		out, _ := apply(t, "SET #a = #a - :five", in, testItem())
		assert.Equal(t, n("20"), out["amount"])
	})

	t.Run("if_not_exists", func(t *testing.T) {
		out, _ := apply(t, "SET #a = if_not_exists(#a, :zero), count = if_not_exists(count, :zero) + :five", in, testItem())
		assert.Equal(t, n("25"), out["amount"])
		assert.Equal(t, n("5"), out["count"])
	})

	t.Run("list_append", func(t *testing.T) {
		item := Item{"l": &types.AttributeValueMemberL{Value: []types.AttributeValue{s("y")}}}
		out, _ := apply(t, "SET l = list_append(l, :more)", in, item)
		assert.Equal(t, &types.AttributeValueMemberL{Value: []types.AttributeValue{s("y"), s("z")}}, out["l"])
		assert.Len(t, item["l"].(*types.AttributeValueMemberL).Value, 1, "the input item is not modified")
	})

	t.Run("add to number and set", func(t *testing.T) {
		out, _ := apply(t, "ADD #a :five, tags :tags, fresh :five", in, testItem())
		assert.Equal(t, n("30"), out["amount"])
		assert.Equal(t, n("5"), out["fresh"])
		assert.ElementsMatch(t, []string{"a", "b", "c"}, out["tags"].(*types.AttributeValueMemberSS).Value)
	})

	t.Run("delete from set", func(t *testing.T) {
		out, _ := apply(t, "DELETE tags :tags", in, testItem())
		assert.Equal(t, []string{"a"}, out["tags"].(*types.AttributeValueMemberSS).Value)

		out, _ = apply(t, "DELETE tags :minus", in, testItem())
		assert.NotContains(t, out, "tags", "an emptied set is removed")
	})

	t.Run("nested set", func(t *testing.T) {
		out, touched := apply(t, "SET lines[0].qty = :five", in, testItem())
		line := out["lines"].(*types.AttributeValueMemberL).Value[0].(*types.AttributeValueMemberM)
		assert.Equal(t, n("5"), line.Value["qty"])
		assert.Equal(t, []string{"lines"}, touched)
	})

	t.Run("remove list elements", func(t *testing.T) {
		item := Item{"l": &types.AttributeValueMemberL{Value: []types.AttributeValue{s("a"), s("b"), s("c")}}}
		out, _ := apply(t, "REMOVE l[0], l[2]", in, item)
		assert.Equal(t, []types.AttributeValue{s("b")}, out["l"].(*types.AttributeValueMemberL).Value)
	})

	t.Run("upsert on missing item", func(t *testing.T) {
		out, _ := apply(t, "SET #n = :name", in, nil)
		assert.Equal(t, Item{"name": s("widget")}, out)
	})
}

func TestUpdate_Errors(t *testing.T) {
	in := Input{Values: map[string]types.AttributeValue{":v": s("x"), ":n": n("1")}}

	for _, expr := range []string{"", "SET", "SET a :v", "SET a = :v SET b = :v", "PUT a = :v", "SET a = size(b)"} {
		_, err := ParseUpdate(expr, in)
		assert.Error(t, err, expr)
	}

	for _, expr := range []string{"SET a = missing", "SET a = a + :n", "ADD a :v", "SET x.y = :v"} {
		u, err := ParseUpdate(expr, in)
		require.NoError(t, err, expr)
		_, _, err = u.Apply(Item{"a": s("str")})
		assert.Error(t, err, expr)
	}
}
