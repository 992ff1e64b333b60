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

func TestStore_Scan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, singleTableDesign, noSortKeyTable)
	for i := range 7 {
		putAll(t, store, singleTableDesign.Name, map[string]types.AttributeValue{
			"pk": sv(fmt.Sprintf("p%d", i)), "sk": sv("x"), "n": nv(fmt.Sprint(i)),
		})
	}
	putAll(t, store, noSortKeyTable.Name, map[string]types.AttributeValue{"pk": sv("other")})

	t.Run("scan all items of one table", func(t *testing.T) {
		out, err := store.Scan(ctx, &dynamodb.ScanInput{TableName: &singleTableDesign.Name})
		require.NoError(t, err)
		assert.Len(t, out.Items, 7)
		assert.Nil(t, out.LastEvaluatedKey)
	})

	t.Run("filter and projection", func(t *testing.T) {
		out, err := store.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 &singleTableDesign.Name,
			FilterExpression:          ptrStr("n >= :min"),
			ProjectionExpression:      ptrStr("pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":min": nv("5")},
		})
		require.NoError(t, err)
		assert.Equal(t, []map[string]types.AttributeValue{{"pk": sv("p5")}, {"pk": sv("p6")}}, out.Items)
		assert.Equal(t, int32(7), out.ScannedCount)
	})

	t.Run("pagination", func(t *testing.T) {
		var total int
		var start map[string]types.AttributeValue
		pages := 0
		for {
			out, err := store.Scan(ctx, &dynamodb.ScanInput{
				TableName:         &singleTableDesign.Name,
				Limit:             ptrInt32(3),
				ExclusiveStartKey: start,
			})
			require.NoError(t, err)
			total += len(out.Items)
			pages++
			if out.LastEvaluatedKey == nil {
				break
			}
			start = out.LastEvaluatedKey
		}
		assert.Equal(t, 7, total)
		assert.Equal(t, 3, pages)
	})

	t.Run("parallel scan is rejected", func(t *testing.T) {
		_, err := store.Scan(ctx, &dynamodb.ScanInput{
			TableName:     &singleTableDesign.Name,
			Segment:       ptrInt32(0),
			TotalSegments: ptrInt32(2),
		})
		requireAPIError(t, err, "ValidationException")
	})
}
