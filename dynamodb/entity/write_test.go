package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/acksell/ddbentity/dynamodb/expr"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusIs(s string) expr.FilterFunc {
	return func(a expr.Attrs, op expr.Ops) string {
		return op.Eq(a.Get("status"), s)
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := order("A1", "X1", 10, "open")

	_, err := f.orders.Create(o).Go(ctx)
	require.NoError(t, err)

	_, err = f.orders.Create(o).Go(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConditionalCheckFailed))
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "create", storeErr.Operation)
	assert.Equal(t, "ConditionalCheckFailedException", storeErr.Code)
}

func TestPut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("return old", func(t *testing.T) {
		f.seed(t, order("A1", "X1", 10, "open"))
		old, err := f.orders.Put(order("A1", "X1", 20, "open")).ReturnValues(types.ReturnValueAllOld).Go(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(10), old["amount"])
	})

	t.Run("unsupported return values", func(t *testing.T) {
		_, err := f.orders.Put(order("A1", "X1", 20, "open")).ReturnValues(types.ReturnValueAllNew).Params()
		require.Error(t, err)
	})

	t.Run("condition", func(t *testing.T) {
		f.seed(t, order("A1", "X3", 10, "closed"))
		_, err := f.orders.Put(order("A1", "X3", 11, "open")).Where(statusIs("open")).Go(ctx)
		assert.ErrorIs(t, err, ErrConditionalCheckFailed)
	})

	t.Run("conditional index needs all composites or none", func(t *testing.T) {
		_, err := f.orders.Put(Item{"sector": "A1", "id": "X4", "status": "open"}).Go(ctx)
		var invalid *index.InvalidIndexCompositeAttributesError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "byAmount", invalid.Index)
		assert.Equal(t, []string{"amount"}, invalid.Missing)
	})

	t.Run("table key composites do not count towards a conditional index", func(t *testing.T) {
		_, err := f.orders.Put(Item{"sector": "A1", "id": "X6"}).Go(ctx)
		require.NoError(t, err)
	})

	t.Run("sparse index needs all composites or none", func(t *testing.T) {
		_, err := f.orders.Put(Item{"sector": "A1", "id": "X5", "accountId": "acc1", "amount": 1}).Go(ctx)
		var incomplete *index.IncompleteCompositeAttributesError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, []string{"status"}, incomplete.Missing)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, order("A1", "X1", 10, "open"))
	key := Item{"sector": "A1", "id": "X1"}

	old, err := f.orders.Delete(key).ReturnValues(types.ReturnValueAllOld).Go(ctx)
	require.NoError(t, err)
	assert.Equal(t, "open", old["status"])

	_, err = f.orders.Delete(key).Go(ctx)
	require.NoError(t, err, "delete of a missing item succeeds")

	_, err = f.orders.Remove(key).Go(ctx)
	assert.ErrorIs(t, err, ErrConditionalCheckFailed)
}

func TestBatchWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, order("A1", "X1", 1, "open"))

	var puts []Item
	for i := range 30 {
		it := batchKey(i)
		it["amount"] = i
		puts = append(puts, it)
	}
	op := f.orders.BatchPut(puts...).Delete(Item{"sector": "A1", "id": "X1"})

	params, err := op.Params()
	require.NoError(t, err)
	require.Len(t, params, 2)

	f.skip.Store(true)
	res, err := op.Go(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Item{batchKey(7), batchKey(17), batchKey(27)}, res.Unprocessed)

	got, err := f.orders.Get(batchKey(8)).Go(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
	got, err = f.orders.Get(Item{"sector": "A1", "id": "X1"}).Go(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	dup := batchKey(1)
	dup["amount"] = 1
	_, err = f.orders.BatchPut(dup).Delete(batchKey(1)).Params()
	require.Error(t, err, "one request per key")
}

func TestBatchWrite_FailedChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var puts, want []Item
	for i := range 60 {
		puts = append(puts, batchKey(i))
		if i >= 25 {
			want = append(want, batchKey(i))
		}
	}

	res, err := f.flakyOrders(t, 1).BatchPut(puts...).Go(ctx)
	require.ErrorIs(t, err, errThrottled)
	assert.Equal(t, want, res.Unprocessed)

	got, err := f.orders.Get(batchKey(24)).Go(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got, "the first chunk was written")
	got, err = f.orders.Get(batchKey(25)).Go(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
