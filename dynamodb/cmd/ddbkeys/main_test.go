package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/acksell/ddbentity/dynamodb/cursor"
	"github.com/acksell/ddbentity/dynamodb/ddbstore"
	"github.com/acksell/ddbentity/dynamodb/entity"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/acksell/ddbentity/dynamodb/schema"
	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersYAML = `
table:
  name: app
  partitionKey: {name: pk, kind: S}
  sortKey: {name: sk, kind: S}
  gsis:
    - name: gsi1
      partitionKey: {name: gsi1pk, kind: S}
      sortKey: {name: gsi1sk, kind: S}
entities:
  - service: store
    entity: order
    version: "1"
    attributes:
      sector: {type: string, required: true}
      id: {type: string, required: true}
      accountId: {type: string}
      amount: {type: number}
      status: {type: enum, values: [open, closed]}
    indexes:
      byId:
        pk: {field: pk, composite: [sector]}
        sk: {field: sk, composite: [id]}
      byAccount:
        index: gsi1
        pk: {field: gsi1pk, composite: [accountId]}
        sk: {field: gsi1sk, composite: [status]}
`

func writeSchema(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, schemaFilename)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	path := writeSchema(t, dir, ordersYAML)

	out, err := run(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "table app, entities order@1")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("entities: []"), 0o644))
	out, err = run(t, "validate", path, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, "FAIL")
}

func TestKeys(t *testing.T) {
	path := writeSchema(t, t.TempDir(), ordersYAML)

	out, err := run(t, "keys", path, "-p", "byId", "-s", "sector=A1", "-s", "id=X1")
	require.NoError(t, err)
	assert.Contains(t, out, "$store#sector_A1")
	assert.Contains(t, out, "$order_1#id_X1")
	assert.NotContains(t, out, "gsi1pk")

	out, err = run(t, "keys", path, "-s", "sector=A1", "-s", "id=X1", "-s", "accountId=acc1", "-s", "status=open", "--cursor")
	require.NoError(t, err)
	assert.Contains(t, out, "$store#accountid_acc1")
	assert.Contains(t, out, "cursor")

	t.Run("strict pk", func(t *testing.T) {
		_, err := run(t, "keys", path, "-p", "byAccount", "-s", "sector=A1", "-s", "id=X1", "--strict", "pk")
		var incomplete *index.IncompleteCompositeAttributesError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, []string{"byAccount"}, incomplete.Indexes)
		assert.Contains(t, incomplete.Missing, "accountId")
	})

	t.Run("bad values", func(t *testing.T) {
		_, err := run(t, "keys", path, "-s", "sector")
		require.Error(t, err)
		_, err = run(t, "keys", path, "-s", "colour=red")
		require.Error(t, err)
		_, err = run(t, "keys", path, "-s", "amount=lots")
		require.Error(t, err)
	})
}

func TestCursor(t *testing.T) {
	path := writeSchema(t, t.TempDir(), ordersYAML)

	out, err := run(t, "cursor", "encode", path, "-p", "byId", "-s", "sector=A1", "-s", "id=X1")
	require.NoError(t, err)
	token := string(bytes.TrimSpace([]byte(out)))
	keys, err := cursor.Decode(token)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	out, err = run(t, "cursor", "decode", token, "--schema", path, "-p", "byId")
	require.NoError(t, err)
	var composite map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &composite))
	assert.Equal(t, map[string]any{"sector": "A1", "id": "X1"}, composite)

	out, err = run(t, "cursor", "decode", token)
	require.NoError(t, err)
	assert.Contains(t, out, "$order_1#id_X1")

	_, err = run(t, "cursor", "decode", "not a cursor")
	var decodeErr *cursor.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestGet_Local(t *testing.T) {
	dir := t.TempDir()
	path := writeSchema(t, dir, ordersYAML)
	dataDir := filepath.Join(dir, "data")

	b, err := schema.Load(path)
	require.NoError(t, err)
	store, err := ddbstore.New(ddbstore.StoreOptions{Path: dataDir}, *b.Table)
	require.NoError(t, err)
	orders, err := entity.FromSchema(b.Entities[0], entity.WithTable(*b.Table), entity.WithClient(store))
	require.NoError(t, err)
	_, err = orders.Put(entity.Item{"sector": "A1", "id": "X1", "amount": 25}).Go(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := run(t, "get", path, "--local", dataDir, "-s", "sector=A1", "-s", "id=X1")
	require.NoError(t, err)
	var item map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &item))
	assert.Equal(t, map[string]any{"sector": "A1", "id": "X1", "amount": float64(25)}, item)

	_, err = run(t, "get", path, "--local", dataDir, "-s", "sector=A1", "-s", "id=nope")
	require.EqualError(t, err, "item not found")

	out, err = run(t, "query", path, "--local", dataDir, "-p", "byId", "-s", "sector=A1")
	require.NoError(t, err)
	assert.Contains(t, out, `"X1"`)

	_, err = run(t, "create-table", path, "--local", dataDir)
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, configFilename)
	require.NoError(t, os.WriteFile(cfgPath, []byte("table: ledger\nregion: eu-west-1\nlog:\n  level: debug\n"), 0o644))
	t.Setenv("DDBKEYS_REGION", "us-east-1")

	v := viper.New()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	bindConfig(cmd, v)
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgPath, "--endpoint", "http://localhost:8000"}))

	cfg, err := loadConfig(cmd, v)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Table:    "ledger",
		Region:   "us-east-1",
		Endpoint: "http://localhost:8000",
		LogLevel: "debug",
	}, cfg)

	_, err = newLogger(&bytes.Buffer{}, "loud")
	require.Error(t, err)
}

func TestDiscoverSchemas(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b/c", "vendor/x"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		writeSchema(t, filepath.Join(dir, sub), ordersYAML)
	}

	files, err := discoverWithWalk(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a", schemaFilename),
		filepath.Join(dir, "b", "c", schemaFilename),
	}, files)
}

func TestInferTable(t *testing.T) {
	b, err := schema.Parse([]byte(ordersYAML))
	require.NoError(t, err)

	got := inferTable(b.Entities[0])
	assert.Equal(t, table.TableDefinition{
		Name: "store",
		KeyDefinitions: table.PrimaryKeyDefinition{
			PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
			SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
		},
		GSIs: []table.GSIDefinition{{
			Name: "gsi1",
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "gsi1pk", Kind: table.KeyKindS},
				SortKey:      table.KeyDef{Name: "gsi1sk", Kind: table.KeyKindS},
			},
		}},
	}, got)
}
