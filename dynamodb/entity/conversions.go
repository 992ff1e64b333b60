package entity

import (
	"fmt"
	"maps"
	"slices"

	"github.com/acksell/ddbentity/dynamodb/cursor"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Strict controls how composite values are turned into keys when some
// composites are missing.
type Strict string

const (
	// StrictNone composes whatever keys the values allow.
	StrictNone Strict = "none"
	// StrictPK requires every partition key composite. Partial sort keys
	// become prefixes.
	StrictPK Strict = "pk"
	// StrictAll requires every composite of every index involved.
	StrictAll Strict = "all"
)

// Conversions maps between composite attribute values, physical key fields
// and cursors, for every index of an entity or for one access pattern.
type Conversions struct {
	e       *Entity
	indexes []*index.Index
	strict  Strict
}

// Conversions covers every index of the entity.
func (e *Entity) Conversions() Conversions {
	return Conversions{e: e, indexes: e.schema.Indexes(), strict: StrictNone}
}

// ForAccessPattern covers one access pattern. Secondary access patterns also
// include the table key, which their cursors carry.
func (e *Entity) ForAccessPattern(pattern string) (Conversions, error) {
	ix, ok := e.schema.Access(pattern)
	if !ok {
		return Conversions{}, fmt.Errorf("entity %q has no access pattern %q", e.Name(), pattern)
	}
	indexes := []*index.Index{ix}
	if !ix.IsPrimary() {
		indexes = []*index.Index{e.schema.Primary(), ix}
	}
	return Conversions{e: e, indexes: indexes, strict: StrictNone}, nil
}

func (c Conversions) Strict(s Strict) Conversions {
	c.strict = s
	return c
}

// fields returns the key fields the conversions cover.
func (c Conversions) fields() []string {
	fields := c.e.table.KeyDefinitions.Fields()
	for _, ix := range c.indexes {
		for _, f := range ix.Fields() {
			if !slices.Contains(fields, f) {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// CompositeToKeys composes key fields from composite values.
func (c Conversions) CompositeToKeys(composite Item) (map[string]types.AttributeValue, error) {
	var names []string
	for _, ix := range c.indexes {
		names = append(names, ix.Composite()...)
	}
	values, err := c.e.compositeValues(composite, names)
	if err != nil {
		return nil, err
	}

	out := make(map[string]types.AttributeValue)
	var incomplete *index.IncompleteCompositeAttributesError
	fail := func(ix *index.Index, missing []string) {
		err := &index.IncompleteCompositeAttributesError{Missing: missing, Indexes: []string{ix.Name()}}
		if incomplete == nil {
			incomplete = err
		} else {
			incomplete.Merge(err)
		}
	}
	for _, ix := range c.indexes {
		if c.strict == StrictAll {
			if missing := ix.Missing(values); len(missing) > 0 {
				fail(ix, missing)
				continue
			}
		}
		pk, err := ix.PartitionKey(values)
		if err != nil {
			if c.strict == StrictNone {
				continue
			}
			fail(ix, ix.Missing(values))
			continue
		}
		out[ix.PKField()] = pk
		if !ix.HasSK() {
			continue
		}
		sk, _, err := ix.SortKeyPrefix(values)
		switch {
		case err != nil && c.strict == StrictNone:
		case err != nil:
			return nil, err
		case sk != nil:
			out[ix.SKField()] = sk
		}
	}
	if incomplete != nil {
		return nil, incomplete
	}
	return out, nil
}

// KeysToComposite recovers composite values from key fields. keys may be a
// whole item; fields that are not keys of the covered indexes are ignored.
func (c Conversions) KeysToComposite(keys map[string]types.AttributeValue) (Item, error) {
	out := make(Item)
	for _, ix := range c.indexes {
		values, err := ix.Decode(keys)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, values)
	}
	return out, nil
}

// KeysToCursor encodes the covered key fields of keys.
func (c Conversions) KeysToCursor(keys map[string]types.AttributeValue) (string, error) {
	subset := make(map[string]types.AttributeValue)
	for _, f := range c.fields() {
		if av, ok := keys[f]; ok {
			subset[f] = av
		}
	}
	return cursor.Encode(subset)
}

// CursorToKeys decodes a cursor. Fields outside the covered indexes make the
// cursor invalid.
func (c Conversions) CursorToKeys(token string) (map[string]types.AttributeValue, error) {
	keys, err := cursor.Decode(token)
	if err != nil {
		return nil, err
	}
	fields := c.fields()
	for f := range keys {
		if !slices.Contains(fields, f) {
			return nil, &cursor.DecodeError{Reason: fmt.Sprintf("unexpected key field %q", f)}
		}
	}
	return keys, nil
}

func (c Conversions) CompositeToCursor(composite Item) (string, error) {
	keys, err := c.CompositeToKeys(composite)
	if err != nil {
		return "", err
	}
	return c.KeysToCursor(keys)
}

func (c Conversions) CursorToComposite(token string) (Item, error) {
	keys, err := c.CursorToKeys(token)
	if err != nil {
		return nil, err
	}
	return c.KeysToComposite(keys)
}
