package ddbstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BatchGetItem(t *testing.T) {
	ctx := context.Background()
	skipOdd := func(table string, key map[string]types.AttributeValue) bool {
		var n int
		fmt.Sscanf(key["pk"].(*types.AttributeValueMemberS).Value, "p%d", &n)
		return n%2 == 1
	}
	store := newTestStoreWith(t, StoreOptions{InMemory: true, UnprocessedFunc: skipOdd}, singleTableDesign)
	for i := range 6 {
		putAll(t, store, singleTableDesign.Name, map[string]types.AttributeValue{"pk": sv(fmt.Sprintf("p%d", i)), "sk": sv("x"), "v": nv("1")})
	}

	keys := []map[string]types.AttributeValue{
		{"pk": sv("p4"), "sk": sv("x")},
		{"pk": sv("p1"), "sk": sv("x")},
		{"pk": sv("p0"), "sk": sv("x")},
		{"pk": sv("p9"), "sk": sv("x")},
		{"pk": sv("p2"), "sk": sv("x")},
	}
	out, err := store.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			singleTableDesign.Name: {Keys: keys, ProjectionExpression: ptrStr("pk")},
		},
	})
	require.NoError(t, err)

	var got []string
	for _, it := range out.Responses[singleTableDesign.Name] {
		assert.NotContains(t, it, "v")
		got = append(got, it["pk"].(*types.AttributeValueMemberS).Value)
	}
	assert.Equal(t, []string{"p0", "p2", "p4"}, got, "responses are in key order")

	left := out.UnprocessedKeys[singleTableDesign.Name]
	assert.Equal(t, []map[string]types.AttributeValue{keys[1], keys[3]}, left.Keys)
	assert.Equal(t, ptrStr("pk"), left.ProjectionExpression)

	t.Run("duplicate keys", func(t *testing.T) {
		_, err := store.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				singleTableDesign.Name: {Keys: []map[string]types.AttributeValue{keys[0], keys[0]}},
			},
		})
		requireAPIError(t, err, "ValidationException")
	})

	t.Run("too many keys", func(t *testing.T) {
		many := make([]map[string]types.AttributeValue, 101)
		for i := range many {
			many[i] = map[string]types.AttributeValue{"pk": sv(fmt.Sprintf("k%d", i)), "sk": sv("x")}
		}
		_, err := store.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{singleTableDesign.Name: {Keys: many}},
		})
		requireAPIError(t, err, "ValidationException")
	})
}
