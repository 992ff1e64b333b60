package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountsYAML = `
table:
  name: app
  partitionKey: {name: pk, kind: S}
  sortKey: {name: sk, kind: S}
  gsis:
    - name: gsi1
      partitionKey: {name: gsi1pk, kind: S}
      sortKey: {name: gsi1sk, kind: S}
entities:
  - service: bank
    entity: account
    version: "2"
    attributes:
      accountId:
        type: string
        generate: uuid
      owner:
        type: string
        required: true
      status:
        type: enum
        values: [active, closed]
        default: active
      balance:
        type: number
        padding: {length: 8, char: "0"}
      tags:
        type: set
        setOf: string
      profile:
        type: map
        properties:
          name: {type: string, required: true, default: anon}
    indexes:
      byId:
        pk: {field: pk, composite: [accountId]}
        sk: {field: sk, template: "ACCOUNT", casing: upper}
      byOwner:
        index: gsi1
        pk: {field: gsi1pk, composite: [owner]}
        sk: {field: gsi1sk, composite: [balance]}
        condition: item.status == "active" && item.balance > 10
`

func TestParse(t *testing.T) {
	b, err := Parse([]byte(accountsYAML))
	require.NoError(t, err)
	require.NotNil(t, b.Table)
	assert.Equal(t, "app", b.Table.Name)
	require.Len(t, b.Entities, 1)

	s, ok := b.Entity("account")
	require.True(t, ok)
	assert.Equal(t, "2", s.Version())

	resolved, err := s.Model().Resolve(map[string]any{"owner": "ann"}, attr.ModePut)
	require.NoError(t, err)
	_, err = uuid.Parse(resolved["accountId"].(string))
	require.NoError(t, err, "accountId should default to a uuid")
	assert.Equal(t, "active", resolved["status"])
	assert.Equal(t, map[string]any{"name": "anon"}, resolved["profile"])

	byOwner, ok := s.Access("byOwner")
	require.True(t, ok)
	assert.True(t, byOwner.Condition(map[string]any{"status": "active", "balance": 25}))
	assert.True(t, byOwner.Condition(map[string]any{"status": "active", "balance": 25.5}))
	assert.False(t, byOwner.Condition(map[string]any{"status": "closed", "balance": 25}))
	assert.False(t, byOwner.Condition(map[string]any{"status": "active"}), "missing keys evaluate to false")
	assert.Equal(t, []string{"status", "balance"}, byOwner.ConditionAttributes())
}

func TestConditionAttributes(t *testing.T) {
	tests := []struct {
		name  string
		index string
		want  []string
		err   string
	}{
		{
			name:  "selects",
			index: `{index: gsi1, pk: {field: g, composite: [id]}, condition: 'item.status == "open" && has(item.rank)'}`,
			want:  []string{"status", "rank"},
		},
		{
			name:  "literal index",
			index: `{index: gsi1, pk: {field: g, composite: [id]}, condition: 'item["status"] != "closed"'}`,
			want:  []string{"status"},
		},
		{
			name:  "listed",
			index: `{index: gsi1, pk: {field: g, composite: [id]}, condition: 'size(item) > 2', conditionAttributes: [status, rank]}`,
			want:  []string{"status", "rank"},
		},
		{
			name:  "item used as a whole",
			index: `{index: gsi1, pk: {field: g, composite: [id]}, condition: 'size(item) > 2'}`,
			err:   "conditionAttributes",
		},
		{
			name:  "listed without a condition",
			index: `{index: gsi1, pk: {field: g, composite: [id]}, conditionAttributes: [status]}`,
			err:   "require a condition",
		},
		{
			name:  "reads an undeclared attribute",
			index: `{index: gsi1, pk: {field: g, composite: [id]}, condition: 'item.colour == "red"'}`,
			err:   "not a declared attribute",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Parse([]byte(`
entities:
  - service: s
    entity: e
    version: "1"
    attributes:
      id: {type: string}
      status: {type: string}
      rank: {type: number}
    indexes:
      byId: {pk: {field: pk, composite: [id]}}
      other: ` + tt.index + `
`))
			if tt.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.err)
				return
			}
			require.NoError(t, err)
			ix, ok := b.Entities[0].Access("other")
			require.True(t, ok)
			assert.Equal(t, tt.want, ix.ConditionAttributes())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no entities", "entities: []"},
		{"unknown field", `
entities:
  - service: s
    entity: e
    version: "1"
    colour: red
    attributes: {id: {type: string}}
    indexes: {byId: {pk: {field: pk, composite: [id]}}}
`},
		{"unknown attribute type", `
entities:
  - service: s
    entity: e
    version: "1"
    attributes: {id: {type: uuid}}
    indexes: {byId: {pk: {field: pk, composite: [id]}}}
`},
		{"bad casing", `
entities:
  - service: s
    entity: e
    version: "1"
    attributes: {id: {type: string}}
    indexes: {byId: {pk: {field: pk, composite: [id], casing: title}}}
`},
		{"condition does not compile", `
entities:
  - service: s
    entity: e
    version: "1"
    attributes: {id: {type: string}}
    indexes:
      byId: {pk: {field: pk, composite: [id]}}
      other: {index: gsi1, pk: {field: g, composite: [id]}, condition: "item.id =="}
`},
		{"condition is not a bool", `
entities:
  - service: s
    entity: e
    version: "1"
    attributes: {id: {type: string}}
    indexes:
      byId: {pk: {field: pk, composite: [id]}}
      other: {index: gsi1, pk: {field: g, composite: [id]}, condition: "1 + 2"}
`},
		{"entity does not fit the table", `
table:
  name: app
  partitionKey: {name: id, kind: S}
entities:
  - service: s
    entity: e
    version: "1"
    attributes: {id: {type: string}}
    indexes: {byId: {pk: {field: pk, composite: [id]}}}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(accountsYAML), 0o600))

	b, err := Load(path)
	require.NoError(t, err)
	require.Len(t, b.Entities, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
