package entity

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/acksell/ddbentity/dynamodb/ddbstore"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/acksell/ddbentity/dynamodb/schema"
	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Client = (*ddbstore.Store)(nil)

var appTable = table.TableDefinition{
	Name: "app",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
	GSIs: []table.GSIDefinition{
		{Name: "gsi1", KeyDefinitions: table.PrimaryKeyDefinition{
			PartitionKey: table.KeyDef{Name: "gsi1pk", Kind: table.KeyKindS},
			SortKey:      table.KeyDef{Name: "gsi1sk", Kind: table.KeyKindS},
		}},
		{Name: "gsi2", KeyDefinitions: table.PrimaryKeyDefinition{
			PartitionKey: table.KeyDef{Name: "gsi2pk", Kind: table.KeyKindS},
			SortKey:      table.KeyDef{Name: "amount", Kind: table.KeyKindN},
		}},
	},
}

func orderDefinition() schema.Definition {
	return schema.Definition{
		Service: "store",
		Entity:  "order",
		Version: "1",
		Attributes: map[string]attr.Attribute{
			"sector":    {Kind: attr.KindString, Required: true},
			"id":        {Kind: attr.KindString, Required: true},
			"accountId": {Kind: attr.KindString},
			"amount":    {Kind: attr.KindNumber},
			"status":    {Kind: attr.KindEnum, EnumValues: []string{"open", "closed"}},
			"tags":      {Kind: attr.KindSet, SetOf: attr.KindString},
		},
		Indexes: map[string]index.Definition{
			"byId": {
				PK: index.Key{Field: "pk", Composite: []string{"sector"}},
				SK: &index.Key{Field: "sk", Composite: []string{"id"}},
			},
			"byAccount": {
				IndexName:  "gsi1",
				PK:         index.Key{Field: "gsi1pk", Composite: []string{"accountId"}},
				SK:         &index.Key{Field: "gsi1sk", Composite: []string{"status"}},
				Collection: []string{"ledger"},
			},
			"byAmount": {
				IndexName:           "gsi2",
				PK:                  index.Key{Field: "gsi2pk", Composite: []string{"sector"}},
				SK:                  &index.Key{Field: "amount", Composite: []string{"amount"}, Cast: index.CastNumber},
				Condition:           func(item map[string]any) bool { return item["status"] == "open" },
				ConditionAttributes: []string{"status"},
			},
		},
	}
}

func paymentDefinition() schema.Definition {
	return schema.Definition{
		Service: "store",
		Entity:  "payment",
		Version: "1",
		Attributes: map[string]attr.Attribute{
			"accountId": {Kind: attr.KindString, Required: true},
			"id":        {Kind: attr.KindString, Required: true},
			"total":     {Kind: attr.KindNumber},
		},
		Indexes: map[string]index.Definition{
			"byId": {
				PK: index.Key{Field: "pk", Composite: []string{"accountId"}},
				SK: &index.Key{Field: "sk", Composite: []string{"id"}},
			},
			"byAccount": {
				IndexName:  "gsi1",
				PK:         index.Key{Field: "gsi1pk", Composite: []string{"accountId"}},
				SK:         &index.Key{Field: "gsi1sk", Composite: []string{"id"}},
				Collection: []string{"ledger"},
			},
		},
	}
}

type fixture struct {
	store    *ddbstore.Store
	orders   *Entity
	payments *Entity
	// skip makes the store hand back batch keys whose sort key ends in 7.
	skip atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	store, err := ddbstore.New(ddbstore.StoreOptions{
		InMemory: true,
		UnprocessedFunc: func(_ string, key map[string]types.AttributeValue) bool {
			sk, ok := key["sk"].(*types.AttributeValueMemberS)
			return f.skip.Load() && ok && sk.Value[len(sk.Value)-1] == '7'
		},
	}, appTable)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f.store = store

	f.orders, err = New(orderDefinition(), WithTable(appTable), WithClient(store))
	require.NoError(t, err)
	f.payments, err = New(paymentDefinition(), WithTable(appTable), WithClient(store))
	require.NoError(t, err)
	return f
}

// flakyClient lets the first ok batch requests through and fails the rest.
type flakyClient struct {
	Client
	ok atomic.Int32
}

var errThrottled = errors.New("throttled")

func (c *flakyClient) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if c.ok.Add(-1) < 0 {
		return nil, errThrottled
	}
	return c.Client.BatchGetItem(ctx, in, opts...)
}

func (c *flakyClient) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if c.ok.Add(-1) < 0 {
		return nil, errThrottled
	}
	return c.Client.BatchWriteItem(ctx, in, opts...)
}

// flakyOrders returns orders over f's store whose first ok batch requests
// succeed, running one chunk at a time.
func (f *fixture) flakyOrders(t *testing.T, ok int32) *Entity {
	t.Helper()
	c := &flakyClient{Client: f.store}
	c.ok.Store(ok)
	e, err := New(orderDefinition(), WithTable(appTable), WithClient(c), WithBatchConcurrency(1))
	require.NoError(t, err)
	return e
}

func order(sector, id string, amount int, status string) Item {
	return Item{"sector": sector, "id": id, "accountId": "acc1", "amount": amount, "status": status}
}

func (f *fixture) seed(t *testing.T, items ...Item) {
	t.Helper()
	for _, it := range items {
		_, err := f.orders.Put(it).Go(context.Background())
		require.NoError(t, err)
	}
}

func TestNew(t *testing.T) {
	t.Run("table must match the indexes", func(t *testing.T) {
		tbl := appTable
		tbl.GSIs = tbl.GSIs[:1]
		_, err := New(orderDefinition(), WithTable(tbl))
		var defErr *schema.DefinitionError
		require.ErrorAs(t, err, &defErr)
	})

	t.Run("identity fields may not collide", func(t *testing.T) {
		_, err := New(orderDefinition(), WithTable(appTable), WithIdentityFields("status", "v"))
		require.Error(t, err)
		_, err = New(orderDefinition(), WithTable(appTable), WithIdentityFields("e", "e"))
		require.Error(t, err)
	})

	t.Run("go without client", func(t *testing.T) {
		e, err := New(orderDefinition(), WithTable(appTable))
		require.NoError(t, err)
		_, err = e.Get(Item{"sector": "A1", "id": "X1"}).Params()
		require.NoError(t, err)
		_, err = e.Get(Item{"sector": "A1", "id": "X1"}).Go(context.Background())
		require.Error(t, err)
	})
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orders.Put(Item{"sector": "A1", "id": "X1", "amount": 25}).Go(ctx)
	require.NoError(t, err)

	got, err := f.orders.Get(Item{"sector": "A1", "id": "X1"}).Go(ctx)
	require.NoError(t, err)
	assert.Equal(t, Item{"sector": "A1", "id": "X1", "amount": float64(25)}, got, "no key or identity fields leak into items")

	t.Run("attributes", func(t *testing.T) {
		got, err := f.orders.Get(Item{"sector": "A1", "id": "X1"}).Attributes("amount").Go(ctx)
		require.NoError(t, err)
		assert.Equal(t, Item{"amount": float64(25)}, got)
	})

	t.Run("missing item", func(t *testing.T) {
		got, err := f.orders.Get(Item{"sector": "A1", "id": "nope"}).Go(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("items of other entities are not returned", func(t *testing.T) {
		in, err := f.orders.Put(Item{"sector": "A1", "id": "X2"}).Params()
		require.NoError(t, err)
		in.Item[DefaultEntityField] = &types.AttributeValueMemberS{Value: "intruder"}
		_, err = f.store.PutItem(ctx, in)
		require.NoError(t, err)

		got, err := f.orders.Get(Item{"sector": "A1", "id": "X2"}).Go(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("missing key composite", func(t *testing.T) {
		_, err := f.orders.Get(Item{"sector": "A1"}).Go(ctx)
		var incomplete *index.IncompleteCompositeAttributesError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, []string{"id"}, incomplete.Missing)
	})
}

func batchKey(i int) Item {
	return Item{"sector": "S1", "id": fmt.Sprintf("%03d", i)}
}
