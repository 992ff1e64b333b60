package ddbstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, singleTableDesign)
	putAll(t, store, singleTableDesign.Name, map[string]types.AttributeValue{
		"pk":      sv("user#1"),
		"sk":      sv("profile"),
		"name":    sv("John"),
		"address": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"city": sv("Oslo"), "zip": sv("0150")}},
		"tags":    &types.AttributeValueMemberL{Value: []types.AttributeValue{sv("a"), sv("b")}},
	})
	key := map[string]types.AttributeValue{"pk": sv("user#1"), "sk": sv("profile")}

	t.Run("not found", func(t *testing.T) {
		out, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       map[string]types.AttributeValue{"pk": sv("nope"), "sk": sv("nope")},
		})
		require.NoError(t, err)
		assert.Nil(t, out.Item)
	})

	t.Run("key with extra attributes", func(t *testing.T) {
		_, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       map[string]types.AttributeValue{"pk": sv("user#1"), "sk": sv("profile"), "name": sv("John")},
		})
		requireAPIError(t, err, "ValidationException")
	})

	tests := []struct {
		name       string
		projection string
		names      map[string]string
		want       map[string]types.AttributeValue
	}{
		{
			name:       "single attribute",
			projection: "#n",
			names:      map[string]string{"#n": "name"},
			want:       map[string]types.AttributeValue{"name": sv("John")},
		},
		{
			name:       "nested attribute",
			projection: "address.city",
			want: map[string]types.AttributeValue{
				"address": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"city": sv("Oslo")}},
			},
		},
		{
			name:       "list element",
			projection: "tags[1]",
			want: map[string]types.AttributeValue{
				"tags": &types.AttributeValueMemberL{Value: []types.AttributeValue{sv("b")}},
			},
		},
		{
			name:       "missing attribute is ignored",
			projection: "pk, missing",
			want:       map[string]types.AttributeValue{"pk": sv("user#1")},
		},
	}
	for _, tt := range tests {
		t.Run("projection "+tt.name, func(t *testing.T) {
			out, err := store.GetItem(ctx, &dynamodb.GetItemInput{
				TableName:                &singleTableDesign.Name,
				Key:                      key,
				ProjectionExpression:     &tt.projection,
				ExpressionAttributeNames: tt.names,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Item)
		})
	}
}
