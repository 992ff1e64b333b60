// Package schema validates an entity definition and exposes the compiled
// attribute model and access patterns shared by every operation on the
// entity. A Schema is immutable once built.
package schema

import (
	"fmt"
	"sort"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/acksell/ddbentity/dynamodb/table"
)

// Definition is the declarative input for an entity.
type Definition struct {
	Service string
	Entity  string
	Version string
	// Scope is an optional literal injected into every generated partition key.
	Scope      string
	Attributes map[string]attr.Attribute
	// Indexes maps access pattern names to index definitions. Exactly one of
	// them must target the table itself (empty IndexName).
	Indexes map[string]index.Definition
}

// DefinitionError is returned when a Definition cannot be compiled.
type DefinitionError struct {
	Entity string
	Reason string
	Err    error
}

func (e *DefinitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid schema for entity %q: %s: %v", e.Entity, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid schema for entity %q: %s", e.Entity, e.Reason)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

type Schema struct {
	id          index.Identity
	model       *attr.Model
	primary     *index.Index
	access      map[string]*index.Index
	byIndexName map[string]*index.Index
	collections map[string]*index.Index
	keyFields   map[string]*index.Index
	patterns    []string
}

// New validates def and compiles its access patterns.
func New(def Definition) (*Schema, error) {
	fail := func(err error, format string, args ...any) error {
		return &DefinitionError{Entity: def.Entity, Reason: fmt.Sprintf(format, args...), Err: err}
	}
	for name, v := range map[string]string{"service": def.Service, "entity": def.Entity, "version": def.Version} {
		if v == "" {
			return nil, fail(nil, "%s is required", name)
		}
	}
	model, err := attr.NewModel(def.Attributes)
	if err != nil {
		return nil, fail(err, "attributes")
	}
	if len(def.Indexes) == 0 {
		return nil, fail(nil, "at least one index is required")
	}

	s := &Schema{
		id: index.Identity{
			Service: def.Service,
			Entity:  def.Entity,
			Version: def.Version,
			Scope:   def.Scope,
		},
		model:       model,
		access:      make(map[string]*index.Index, len(def.Indexes)),
		byIndexName: make(map[string]*index.Index, len(def.Indexes)),
		collections: make(map[string]*index.Index),
		keyFields:   make(map[string]*index.Index),
	}

	for _, name := range sortedKeys(def.Indexes) {
		d := def.Indexes[name]
		if _, dup := s.byIndexName[d.IndexName]; dup {
			if d.IndexName == "" {
				return nil, fail(nil, "access patterns %q and %q both target the table index", s.byIndexName[""].Name(), name)
			}
			return nil, fail(nil, "access patterns %q and %q both target index %q", s.byIndexName[d.IndexName].Name(), name, d.IndexName)
		}
		if d.IndexName == "" && d.Condition != nil {
			return nil, fail(nil, "access pattern %q: conditions are only allowed on secondary indexes", name)
		}
		ix, err := index.Compile(name, d, s.id, model)
		if err != nil {
			return nil, fail(err, "access pattern %q", name)
		}
		if err := s.checkFields(ix); err != nil {
			return nil, fail(nil, "access pattern %q: %s", name, err)
		}
		for _, c := range ix.Collections() {
			if other, ok := s.collections[c]; ok {
				return nil, fail(nil, "collection %q is declared on both %q and %q", c, other.Name(), name)
			}
			s.collections[c] = ix
		}
		s.access[name] = ix
		s.byIndexName[d.IndexName] = ix
		s.patterns = append(s.patterns, name)
		if ix.IsPrimary() {
			s.primary = ix
		}
	}
	if s.primary == nil {
		return nil, fail(nil, "no access pattern targets the table index")
	}
	return s, nil
}

// checkFields rejects key fields that clash with attributes or other indexes.
func (s *Schema) checkFields(ix *index.Index) error {
	for _, f := range ix.Fields() {
		if other, ok := s.keyFields[f]; ok {
			return fmt.Errorf("key field %q is already used by access pattern %q", f, other.Name())
		}
		a, clash := s.model.ByField(f)
		if !clash {
			s.keyFields[f] = ix
			continue
		}
		if len(ix.Collections()) > 0 {
			return fmt.Errorf("key field %q collides with attribute %q and cannot be part of a collection", f, a.Name)
		}
		name, direct := ix.IsDirectField(f)
		if !direct || name != a.Name {
			return fmt.Errorf("key field %q collides with attribute %q", f, a.Name)
		}
		if a.Kind == attr.KindNumber && !ix.IsNumberKey(f) {
			return fmt.Errorf("key field %q stores number attribute %q and must use cast number", f, a.Name)
		}
		s.keyFields[f] = ix
	}
	return nil
}

// Identity returns the namespacing applied to generated keys and stored items.
func (s *Schema) Identity() index.Identity { return s.id }

func (s *Schema) Entity() string  { return s.id.Entity }
func (s *Schema) Version() string { return s.id.Version }
func (s *Schema) Service() string { return s.id.Service }

func (s *Schema) Model() *attr.Model { return s.model }

// Primary returns the access pattern backed by the table's own keys.
func (s *Schema) Primary() *index.Index { return s.primary }

// Access returns the access pattern called name.
func (s *Schema) Access(name string) (*index.Index, bool) {
	ix, ok := s.access[name]
	return ix, ok
}

// AccessPatterns returns every access pattern name, sorted.
func (s *Schema) AccessPatterns() []string { return append([]string(nil), s.patterns...) }

// Indexes returns the compiled indexes, the table index first.
func (s *Schema) Indexes() []*index.Index {
	out := []*index.Index{s.primary}
	for _, name := range s.patterns {
		if ix := s.access[name]; ix != s.primary {
			out = append(out, ix)
		}
	}
	return out
}

// ByIndexName returns the access pattern backed by the physical index; "" is the table.
func (s *Schema) ByIndexName(indexName string) (*index.Index, bool) {
	ix, ok := s.byIndexName[indexName]
	return ix, ok
}

// Collection returns the access pattern that declares the collection.
func (s *Schema) Collection(name string) (*index.Index, bool) {
	ix, ok := s.collections[name]
	return ix, ok
}

// Collections returns every collection name declared by the entity, sorted.
func (s *Schema) Collections() []string { return sortedKeys(s.collections) }

// KeyFields returns every physical key field the entity writes, sorted.
func (s *Schema) KeyFields() []string { return sortedKeys(s.keyFields) }

// IsKeyOnlyField reports whether field holds a composed key rather than an attribute value.
func (s *Schema) IsKeyOnlyField(field string) bool {
	if _, ok := s.keyFields[field]; !ok {
		return false
	}
	_, isAttr := s.model.ByField(field)
	return !isAttr
}

// CheckTable verifies that every index the entity uses exists on t with
// matching key names and kinds.
func (s *Schema) CheckTable(t table.TableDefinition) error {
	for _, ix := range s.Indexes() {
		keys, err := t.Keys(ix.IndexName())
		if err != nil {
			return &DefinitionError{Entity: s.id.Entity, Reason: fmt.Sprintf("access pattern %q", ix.Name()), Err: err}
		}
		if err := checkKey(ix, ix.PKField(), keys.PartitionKey); err != nil {
			return &DefinitionError{Entity: s.id.Entity, Reason: fmt.Sprintf("access pattern %q partition key", ix.Name()), Err: err}
		}
		if ix.HasSK() != keys.HasSortKey() {
			return &DefinitionError{Entity: s.id.Entity, Reason: fmt.Sprintf("access pattern %q sort key presence does not match table %q", ix.Name(), t.Name)}
		}
		if ix.HasSK() {
			if err := checkKey(ix, ix.SKField(), keys.SortKey); err != nil {
				return &DefinitionError{Entity: s.id.Entity, Reason: fmt.Sprintf("access pattern %q sort key", ix.Name()), Err: err}
			}
		}
	}
	return nil
}

func checkKey(ix *index.Index, field string, def table.KeyDef) error {
	if field != def.Name {
		return fmt.Errorf("field %q does not match table key %q", field, def.Name)
	}
	want := table.KeyKindS
	if ix.IsNumberKey(field) {
		want = table.KeyKindN
	}
	if def.Kind != want {
		return fmt.Errorf("field %q is written as %s but the table declares %s", field, want, def.Kind)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
