package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type PrimaryKeyDefinition struct {
	PartitionKey KeyDef
	// SortKey is optional; a zero KeyDef means the key has no sort key.
	SortKey KeyDef
}

type KeyDef struct {
	Name string
	Kind KeyKind
}

type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

func (k KeyKind) valid() bool {
	switch k {
	case KeyKindS, KeyKindN, KeyKindB:
		return true
	}
	return false
}

// HasSortKey reports whether the key schema has a sort key.
func (k PrimaryKeyDefinition) HasSortKey() bool { return k.SortKey.Name != "" }

// Fields returns the key attribute names, partition key first.
func (k PrimaryKeyDefinition) Fields() []string {
	if !k.HasSortKey() {
		return []string{k.PartitionKey.Name}
	}
	return []string{k.PartitionKey.Name, k.SortKey.Name}
}

// KeyOf copies the key attributes out of doc. Missing attributes are
// reported as an error.
func (k PrimaryKeyDefinition) KeyOf(doc map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, 2)
	for _, def := range []KeyDef{k.PartitionKey, k.SortKey} {
		if def.Name == "" {
			continue
		}
		v, ok := doc[def.Name]
		if !ok {
			return nil, fmt.Errorf("key attribute %q not found", def.Name)
		}
		if err := attributeMatchesDefinition(def.Kind, v); err != nil {
			return nil, fmt.Errorf("key attribute %q: %w", def.Name, err)
		}
		out[def.Name] = v
	}
	return out, nil
}

// PrimaryKeyValues holds raw Go values for a key. Strings, numbers and
// byte slices are accepted.
type PrimaryKeyValues struct {
	PartitionKey any
	SortKey      any
}

type PrimaryKey struct {
	Definition PrimaryKeyDefinition
	Values     PrimaryKeyValues
}

// DDB marshals the key into its attribute value form.
func (k PrimaryKey) DDB() (map[string]types.AttributeValue, error) {
	pk, err := attributevalue.Marshal(k.Values.PartitionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal partition key of type %T with value %v: %w", k.Values.PartitionKey, k.Values.PartitionKey, err)
	}
	if err := attributeMatchesDefinition(k.Definition.PartitionKey.Kind, pk); err != nil {
		return nil, fmt.Errorf("partition key kind does not match dynamo value: %w", err)
	}
	if !k.Definition.HasSortKey() {
		return map[string]types.AttributeValue{
			k.Definition.PartitionKey.Name: pk,
		}, nil
	}
	if k.Values.SortKey == nil {
		return nil, fmt.Errorf("sort key %q is required but got nil", k.Definition.SortKey.Name)
	}
	sk, err := attributevalue.Marshal(k.Values.SortKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sort key of type %T with value %v: %w", k.Values.SortKey, k.Values.SortKey, err)
	}
	if err := attributeMatchesDefinition(k.Definition.SortKey.Kind, sk); err != nil {
		return nil, fmt.Errorf("sort key %q kind does not match dynamo value: %w", k.Definition.SortKey.Name, err)
	}

	return map[string]types.AttributeValue{
		k.Definition.PartitionKey.Name: pk,
		k.Definition.SortKey.Name:      sk,
	}, nil
}

// KindOf returns the key kind of an attribute value.
func KindOf(v types.AttributeValue) (KeyKind, error) {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return KeyKindS, nil
	case *types.AttributeValueMemberN:
		return KeyKindN, nil
	case *types.AttributeValueMemberB:
		return KeyKindB, nil
	}
	return "", fmt.Errorf("unexpected key attribute type %T", v)
}

func attributeMatchesDefinition(want KeyKind, v types.AttributeValue) error {
	got, err := KindOf(v)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("got KeyKind %q want %q", got, want)
	}
	return nil
}
