package ddbstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_TransactGetItems(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, singleTableDesign, noSortKeyTable)
	putAll(t, store, singleTableDesign.Name, map[string]types.AttributeValue{"pk": sv("a"), "sk": sv("x"), "v": nv("1")})
	putAll(t, store, noSortKeyTable.Name, map[string]types.AttributeValue{"pk": sv("b"), "w": nv("2")})

	out, err := store.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{
		TransactItems: []types.TransactGetItem{
			{Get: &types.Get{TableName: &noSortKeyTable.Name, Key: map[string]types.AttributeValue{"pk": sv("b")}}},
			{Get: &types.Get{TableName: &singleTableDesign.Name, Key: map[string]types.AttributeValue{"pk": sv("missing"), "sk": sv("x")}}},
			{Get: &types.Get{
				TableName:            &singleTableDesign.Name,
				Key:                  map[string]types.AttributeValue{"pk": sv("a"), "sk": sv("x")},
				ProjectionExpression: ptrStr("v"),
			}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Responses, 3)
	assert.Equal(t, nv("2"), out.Responses[0].Item["w"])
	assert.Nil(t, out.Responses[1].Item)
	assert.Equal(t, map[string]types.AttributeValue{"v": nv("1")}, out.Responses[2].Item)

	_, err = store.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{
		TransactItems: []types.TransactGetItem{{}},
	})
	requireAPIError(t, err, "ValidationException")
}
