package ddbstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var singleTableDesign = table.TableDefinition{
	Name: "test-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
	GSIs: []table.GSIDefinition{
		{
			Name: "gsi1",
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "gsi1pk", Kind: table.KeyKindS},
				SortKey:      table.KeyDef{Name: "gsi1sk", Kind: table.KeyKindS},
			},
		},
	},
}

var numericSortKeyTable = table.TableDefinition{
	Name: "numeric-sk-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindN},
	},
}

var noSortKeyTable = table.TableDefinition{
	Name: "no-sk-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	},
}

func newTestStore(t *testing.T, defs ...table.TableDefinition) *Store {
	return newTestStoreWith(t, StoreOptions{InMemory: true}, defs...)
}

func newTestStoreWith(t *testing.T, opts StoreOptions, defs ...table.TableDefinition) *Store {
	t.Helper()
	store, err := New(opts, defs...)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func sv(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func nv(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func putAll(t *testing.T, store *Store, tableName string, items ...map[string]types.AttributeValue) {
	t.Helper()
	for _, it := range items {
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{TableName: &tableName, Item: it})
		require.NoError(t, err)
	}
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, code, apiErr.ErrorCode())
}

func TestNew(t *testing.T) {
	t.Run("rejects invalid definitions", func(t *testing.T) {
		_, err := New(StoreOptions{InMemory: true}, table.TableDefinition{Name: "x"})
		require.Error(t, err)
	})

	t.Run("rejects duplicate tables", func(t *testing.T) {
		_, err := New(StoreOptions{InMemory: true}, noSortKeyTable, noSortKeyTable)
		require.Error(t, err)
	})

	t.Run("unknown table", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
			TableName: ptrStr("missing"),
			Key:       map[string]types.AttributeValue{"pk": sv("a"), "sk": sv("b")},
		})
		requireAPIError(t, err, "ResourceNotFoundException")
	})

	t.Run("logs through zerolog", func(t *testing.T) {
		var buf bytes.Buffer
		log := zerolog.New(&buf).Level(zerolog.DebugLevel)
		newTestStoreWith(t, StoreOptions{InMemory: true, Logger: &log}, noSortKeyTable)
		assert.Contains(t, buf.String(), `"component":"ddbstore"`)
		assert.Contains(t, buf.String(), "store opened")
	})

	t.Run("canceled context", func(t *testing.T) {
		store := newTestStore(t, noSortKeyTable)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &noSortKeyTable.Name,
			Key:       map[string]types.AttributeValue{"pk": sv("a")},
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestKeyEncoding_GSIKeysDoNotCollide(t *testing.T) {
	tbl := tableKeyspace(singleTableDesign)
	gsi := gsiKeyspace(tbl, singleTableDesign.Name, singleTableDesign.GSIs[0])

	a, err := gsi.encode(map[string]types.AttributeValue{"pk": sv("1"), "sk": sv("x"), "gsi1pk": sv("g"), "gsi1sk": sv("s")})
	require.NoError(t, err)
	b, err := gsi.encode(map[string]types.AttributeValue{"pk": sv("2"), "sk": sv("x"), "gsi1pk": sv("g"), "gsi1sk": sv("s")})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	prefix, err := gsi.partitionPrefix(sv("g"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(a, prefix))
	assert.False(t, bytes.HasPrefix(a, tbl.prefix), "index keys live outside the table keyspace")

	_, err = gsi.encode(map[string]types.AttributeValue{"pk": sv("1"), "sk": sv("x"), "gsi1pk": sv("g")})
	assert.ErrorIs(t, err, errMissingKey)
}

func TestSerializeItem(t *testing.T) {
	in := map[string]types.AttributeValue{
		"s":    sv("str"),
		"n":    nv("1.5"),
		"b":    &types.AttributeValueMemberB{Value: []byte{0, 1, 2}},
		"bool": &types.AttributeValueMemberBOOL{Value: true},
		"null": &types.AttributeValueMemberNULL{Value: true},
		"ss":   &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"ns":   &types.AttributeValueMemberNS{Value: []string{"1", "2"}},
		"bs":   &types.AttributeValueMemberBS{Value: [][]byte{{1}, {2}}},
		"m":    &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"x": sv("y")}},
		"l":    &types.AttributeValueMemberL{Value: []types.AttributeValue{nv("1"), sv("a")}},
	}
	data, err := serializeItem(in)
	require.NoError(t, err)
	out, err := deserializeItem(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
