// Package entity compiles entity operations into DynamoDB request parameters
// and executes them through a Client.
//
// Every operation is a value built by chaining calls on it. Nothing is
// validated or composed until Params or Go is called:
//
//	task, err := tasks.Get(entity.Item{"project": "p1", "id": "t1"}).
//		Attributes("title", "status").
//		Go(ctx)
package entity

import (
	"fmt"
	"slices"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/acksell/ddbentity/dynamodb/schema"
	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// Item holds attribute values keyed by logical attribute name.
type Item = map[string]any

// Default names of the attributes that record which entity wrote an item.
const (
	DefaultEntityField  = "__edb_e__"
	DefaultVersionField = "__edb_v__"
)

const defaultBatchConcurrency = 2

// Entity executes operations for one schema against one table.
type Entity struct {
	schema *schema.Schema
	table  table.TableDefinition
	client Client
	log    zerolog.Logger

	entityField  string
	versionField string
	concurrency  int
}

type Option func(*Entity)

// WithTable sets the table the entity lives in. Required.
func WithTable(t table.TableDefinition) Option {
	return func(e *Entity) { e.table = t }
}

// WithClient sets the client used by Go. Params works without one.
func WithClient(c Client) Option {
	return func(e *Entity) { e.client = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Entity) { e.log = l }
}

// WithIdentityFields renames the attributes that record the entity name and
// version on every item.
func WithIdentityFields(entityField, versionField string) Option {
	return func(e *Entity) {
		e.entityField = entityField
		e.versionField = versionField
	}
}

// WithBatchConcurrency limits how many batch chunks are in flight at once.
func WithBatchConcurrency(n int) Option {
	return func(e *Entity) { e.concurrency = n }
}

// New validates def and returns an entity for it.
func New(def schema.Definition, opts ...Option) (*Entity, error) {
	s, err := schema.New(def)
	if err != nil {
		return nil, err
	}
	return FromSchema(s, opts...)
}

// FromSchema returns an entity for an already validated schema.
func FromSchema(s *schema.Schema, opts ...Option) (*Entity, error) {
	e := &Entity{
		schema:       s,
		log:          zerolog.Nop(),
		entityField:  DefaultEntityField,
		versionField: DefaultVersionField,
		concurrency:  defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.table.Validate(); err != nil {
		return nil, &schema.DefinitionError{Entity: s.Entity(), Reason: "invalid table", Err: err}
	}
	if err := s.CheckTable(e.table); err != nil {
		return nil, err
	}
	if e.entityField == "" || e.versionField == "" || e.entityField == e.versionField {
		return nil, &schema.DefinitionError{Entity: s.Entity(), Reason: "identity fields must be distinct and non-empty"}
	}
	for _, f := range []string{e.entityField, e.versionField} {
		if _, clash := s.Model().ByField(f); clash || slices.Contains(s.KeyFields(), f) {
			return nil, &schema.DefinitionError{Entity: s.Entity(), Reason: fmt.Sprintf("identity field %q collides with an attribute or key field", f)}
		}
	}
	return e, nil
}

func (e *Entity) Name() string { return e.schema.Entity() }

func (e *Entity) Schema() *schema.Schema { return e.schema }

func (e *Entity) Table() table.TableDefinition { return e.table }

func (e *Entity) model() *attr.Model { return e.schema.Model() }

func (e *Entity) tableName() *string {
	name := e.table.Name
	return &name
}

func (e *Entity) requireClient() error {
	if e.client == nil {
		return fmt.Errorf("entity %q has no client configured", e.Name())
	}
	return nil
}

// identity returns the attributes written on every item of the entity.
func (e *Entity) identity() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		e.entityField:  &types.AttributeValueMemberS{Value: e.schema.Entity()},
		e.versionField: &types.AttributeValueMemberS{Value: e.schema.Version()},
	}
}

// owns reports whether raw was written by this entity.
func (e *Entity) owns(raw map[string]types.AttributeValue) bool {
	name, ok := raw[e.entityField].(*types.AttributeValueMemberS)
	if !ok || name.Value != e.schema.Entity() {
		return false
	}
	version, ok := raw[e.versionField].(*types.AttributeValueMemberS)
	return ok && version.Value == e.schema.Version()
}

// parse converts a stored item into read values. Key fields and identity
// attributes are never part of the result.
func (e *Entity) parse(raw map[string]types.AttributeValue) (Item, error) {
	values, err := e.model().FromItem(raw)
	if err != nil {
		return nil, err
	}
	return e.model().Resolve(values, attr.ModeRead)
}

// parseOwned parses raw when the entity owns it and returns nil otherwise.
func (e *Entity) parseOwned(raw map[string]types.AttributeValue) (Item, error) {
	if raw == nil || !e.owns(raw) {
		return nil, nil
	}
	return e.parse(raw)
}

// compositeValues validates the values supplied for composite attributes of
// ix, dropping anything else.
func (e *Entity) compositeValues(values Item, composites []string) (Item, error) {
	out := make(Item, len(composites))
	for _, name := range composites {
		v, ok := values[name]
		if !ok || v == nil {
			continue
		}
		a, _ := e.model().Attribute(name)
		rv, err := attr.ResolveValue(a, v, name)
		if err != nil {
			return nil, err
		}
		out[name] = rv
	}
	return out, nil
}

// primaryKey composes the table key from values.
func (e *Entity) primaryKey(values Item) (map[string]types.AttributeValue, error) {
	ix := e.schema.Primary()
	composite, err := e.compositeValues(values, ix.Composite())
	if err != nil {
		return nil, err
	}
	return ix.Keys(composite)
}

// physicalItem resolves values for a put and composes the item with every
// applicable index key and the identity attributes.
func (e *Entity) physicalItem(values Item) (map[string]types.AttributeValue, Item, error) {
	resolved, err := e.model().Resolve(values, attr.ModePut)
	if err != nil {
		return nil, nil, err
	}
	item, err := e.model().ToItem(resolved)
	if err != nil {
		return nil, nil, err
	}
	keys, err := e.indexKeys(resolved)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range keys {
		item[k] = v
	}
	for k, v := range e.identity() {
		item[k] = v
	}
	return item, resolved, nil
}

// indexKeys composes the keys of every index that applies to a full item.
//
// The table index must be complete. An index with a condition must be
// complete whenever its condition holds, and may never be written from a
// partial set of its own composites; those shared with the table key do not
// count. Other secondary indexes are sparse: they are skipped when none of
// their composites are present.
func (e *Entity) indexKeys(values Item) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue)
	var incomplete *index.IncompleteCompositeAttributesError
	primary := e.schema.Primary().Composite()
	for _, ix := range e.schema.Indexes() {
		missing := ix.Missing(values)
		switch {
		case ix.HasCondition():
			own := 0
			for _, c := range ix.Composite() {
				if !slices.Contains(primary, c) {
					own++
				}
			}
			if len(missing) > 0 && len(missing) < own {
				return nil, &index.InvalidIndexCompositeAttributesError{Index: ix.Name(), Missing: missing}
			}
			if !ix.Condition(values) {
				continue
			}
			if len(missing) > 0 {
				return nil, &index.InvalidIndexCompositeAttributesError{Index: ix.Name(), Missing: missing}
			}
		case ix.IsPrimary():
		case len(missing) > 0 && len(missing) == len(ix.Composite()):
			continue
		}
		if len(missing) > 0 {
			err := &index.IncompleteCompositeAttributesError{Missing: missing, Indexes: []string{ix.Name()}}
			if incomplete == nil {
				incomplete = err
			} else {
				incomplete.Merge(err)
			}
			continue
		}
		keys, err := ix.Keys(values)
		if err != nil {
			return nil, fmt.Errorf("access pattern %q: %w", ix.Name(), err)
		}
		for k, v := range keys {
			out[k] = v
		}
	}
	if incomplete != nil {
		return nil, incomplete
	}
	return out, nil
}

// keyFieldsOf returns the fields of the table key plus, for a secondary index,
// its own fields.
func (e *Entity) keyFieldsOf(ix *index.Index) []string {
	fields := e.table.KeyDefinitions.Fields()
	if ix != nil && !ix.IsPrimary() {
		for _, f := range ix.Fields() {
			if !slices.Contains(fields, f) {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func (e *Entity) logger(op string) zerolog.Logger {
	return e.log.With().
		Str("operation", op).
		Str("entity", e.schema.Entity()).
		Str("table", e.table.Name).
		Logger()
}
