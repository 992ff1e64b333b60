// Package table describes the physical layout of a DynamoDB table: its key
// schema and global secondary indexes.
package table

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type TableDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	TimeToLiveKey  string
	GSIs           []GSIDefinition
}

// GSIDefinition represents a Global Secondary Index definition.
type GSIDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
}

// Validate checks that the definition is usable.
func (t TableDefinition) Validate() error {
	if t.Name == "" {
		return errors.New("table name is required")
	}
	if err := validateKeys(t.KeyDefinitions); err != nil {
		return fmt.Errorf("table %q: %w", t.Name, err)
	}
	seen := make(map[string]bool, len(t.GSIs))
	for _, g := range t.GSIs {
		if g.Name == "" {
			return fmt.Errorf("table %q: gsi name is required", t.Name)
		}
		if seen[g.Name] {
			return fmt.Errorf("table %q: gsi %q is defined twice", t.Name, g.Name)
		}
		seen[g.Name] = true
		if err := validateKeys(g.KeyDefinitions); err != nil {
			return fmt.Errorf("table %q gsi %q: %w", t.Name, g.Name, err)
		}
	}
	return nil
}

func validateKeys(k PrimaryKeyDefinition) error {
	if k.PartitionKey.Name == "" {
		return errors.New("partition key name is required")
	}
	if !k.PartitionKey.Kind.valid() {
		return fmt.Errorf("partition key %q has invalid kind %q", k.PartitionKey.Name, k.PartitionKey.Kind)
	}
	if !k.HasSortKey() {
		return nil
	}
	if k.SortKey.Name == k.PartitionKey.Name {
		return fmt.Errorf("sort key %q cannot reuse the partition key name", k.SortKey.Name)
	}
	if !k.SortKey.Kind.valid() {
		return fmt.Errorf("sort key %q has invalid kind %q", k.SortKey.Name, k.SortKey.Kind)
	}
	return nil
}

// GSI returns the secondary index called name.
func (t TableDefinition) GSI(name string) (GSIDefinition, bool) {
	for _, g := range t.GSIs {
		if g.Name == name {
			return g, true
		}
	}
	return GSIDefinition{}, false
}

// Keys returns the key schema of the named index, with "" meaning the table itself.
func (t TableDefinition) Keys(indexName string) (PrimaryKeyDefinition, error) {
	if indexName == "" {
		return t.KeyDefinitions, nil
	}
	g, ok := t.GSI(indexName)
	if !ok {
		return PrimaryKeyDefinition{}, fmt.Errorf("table %q has no index %q", t.Name, indexName)
	}
	return g.KeyDefinitions, nil
}

// ExtractPrimaryKey extracts the primary key values from a document.
func (g GSIDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return g.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (t TableDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return t.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found", k.PartitionKey.Name)
	}
	if err := attributeMatchesDefinition(k.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, fmt.Errorf("document key %q kind does not match definition: %w", k.PartitionKey.Name, err)
	}
	pk := PrimaryKey{
		Definition: k,
		Values: PrimaryKeyValues{
			PartitionKey: keyValueFromAV(part),
		},
	}
	if !k.HasSortKey() {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found on document", k.SortKey.Name)
	}
	if err := attributeMatchesDefinition(k.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, fmt.Errorf("sort key %q kind does not match definition: %w", k.SortKey.Name, err)
	}
	pk.Values.SortKey = keyValueFromAV(sort)
	return pk, nil
}

// keyValueFromAV is only called on values already checked by attributeMatchesDefinition.
func keyValueFromAV(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	}
	return nil
}

// CreateTableInput builds the request that creates the table with on-demand billing.
func (t TableDefinition) CreateTableInput() *dynamodb.CreateTableInput {
	attrs := map[string]types.ScalarAttributeType{}
	addAttrs := func(k PrimaryKeyDefinition) []types.KeySchemaElement {
		schema := []types.KeySchemaElement{{
			AttributeName: ptr(k.PartitionKey.Name),
			KeyType:       types.KeyTypeHash,
		}}
		attrs[k.PartitionKey.Name] = types.ScalarAttributeType(k.PartitionKey.Kind)
		if k.HasSortKey() {
			schema = append(schema, types.KeySchemaElement{
				AttributeName: ptr(k.SortKey.Name),
				KeyType:       types.KeyTypeRange,
			})
			attrs[k.SortKey.Name] = types.ScalarAttributeType(k.SortKey.Kind)
		}
		return schema
	}

	in := &dynamodb.CreateTableInput{
		TableName:   ptr(t.Name),
		KeySchema:   addAttrs(t.KeyDefinitions),
		BillingMode: types.BillingModePayPerRequest,
	}
	for _, g := range t.GSIs {
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  ptr(g.Name),
			KeySchema:  addAttrs(g.KeyDefinitions),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: ptr(name),
			AttributeType: attrs[name],
		})
	}
	return in
}

func ptr[T any](v T) *T {
	return &v
}
