package schema

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/go-playground/validator/v10"
	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Document is the root of a YAML schema file:
//
//	table:
//	  name: app
//	  partitionKey: {name: pk, kind: S}
//	  sortKey: {name: sk, kind: S}
//	entities:
//	  - service: store
//	    entity: order
//	    version: "1"
//	    attributes:
//	      sector: {type: string, required: true}
//	    indexes:
//	      byId:
//	        pk: {field: pk, composite: [sector]}
//	        sk: {field: sk, composite: [id]}
type Document struct {
	Table    *TableDoc   `yaml:"table,omitempty" validate:"omitempty"`
	Entities []EntityDoc `yaml:"entities" validate:"required,min=1,dive"`
}

// TableDoc describes a DynamoDB table structure.
type TableDoc struct {
	Name         string   `yaml:"name" validate:"required"`
	PartitionKey KeyDef   `yaml:"partitionKey"`
	SortKey      *KeyDef  `yaml:"sortKey,omitempty" validate:"omitempty"`
	TimeToLive   string   `yaml:"timeToLive,omitempty"`
	GSIs         []GSIDoc `yaml:"gsis,omitempty" validate:"omitempty,dive"`
}

// KeyDef describes a key attribute definition.
type KeyDef struct {
	Name string `yaml:"name" validate:"required"`
	Kind string `yaml:"kind" validate:"required,oneof=S N B"`
}

// GSIDoc describes a Global Secondary Index.
type GSIDoc struct {
	Name         string  `yaml:"name" validate:"required"`
	PartitionKey KeyDef  `yaml:"partitionKey"`
	SortKey      *KeyDef `yaml:"sortKey,omitempty" validate:"omitempty"`
}

// EntityDoc describes an entity stored in the table.
type EntityDoc struct {
	Service    string                  `yaml:"service" validate:"required"`
	Entity     string                  `yaml:"entity" validate:"required"`
	Version    string                  `yaml:"version" validate:"required"`
	Scope      string                  `yaml:"scope,omitempty"`
	Attributes map[string]AttributeDoc `yaml:"attributes" validate:"required,min=1,dive"`
	Indexes    map[string]IndexDoc     `yaml:"indexes" validate:"required,min=1,dive"`
}

type AttributeDoc struct {
	Type     string `yaml:"type" validate:"required,oneof=string number boolean enum set list map custom any"`
	Field    string `yaml:"field,omitempty"`
	Required bool   `yaml:"required,omitempty"`
	Hidden   bool   `yaml:"hidden,omitempty"`
	ReadOnly bool   `yaml:"readOnly,omitempty"`
	Default  any    `yaml:"default,omitempty"`
	// Generate names a default factory: uuid or now (RFC 3339 timestamp).
	Generate   string                  `yaml:"generate,omitempty" validate:"omitempty,oneof=uuid now"`
	Padding    *PaddingDoc             `yaml:"padding,omitempty" validate:"omitempty"`
	Pattern    string                  `yaml:"pattern,omitempty"`
	Values     []string                `yaml:"values,omitempty"`
	SetOf      string                  `yaml:"setOf,omitempty" validate:"omitempty,oneof=string number"`
	Items      *AttributeDoc           `yaml:"items,omitempty" validate:"omitempty"`
	Properties map[string]AttributeDoc `yaml:"properties,omitempty" validate:"omitempty,dive"`
	Watch      []string                `yaml:"watch,omitempty"`
}

type PaddingDoc struct {
	Length int    `yaml:"length" validate:"required,gt=0"`
	Char   string `yaml:"char" validate:"required,len=1"`
}

type IndexDoc struct {
	Index      string   `yaml:"index,omitempty"`
	PK         KeyDoc   `yaml:"pk"`
	SK         *KeyDoc  `yaml:"sk,omitempty" validate:"omitempty"`
	Collection []string `yaml:"collection,omitempty"`
	// Condition is a CEL expression over the variable item.
	Condition string `yaml:"condition,omitempty"`
	// ConditionAttributes lists the attributes Condition reads. Derived from
	// the expression when omitted.
	ConditionAttributes []string `yaml:"conditionAttributes,omitempty"`
}

type KeyDoc struct {
	Field     string   `yaml:"field" validate:"required"`
	Composite []string `yaml:"composite,omitempty"`
	Template  string   `yaml:"template,omitempty"`
	Casing    string   `yaml:"casing,omitempty" validate:"omitempty,oneof=default upper lower none"`
	Cast      string   `yaml:"cast,omitempty" validate:"omitempty,oneof=string number"`
}

// Bundle is a loaded schema file.
type Bundle struct {
	// Table is nil when the file does not declare one.
	Table    *table.TableDefinition
	Entities []*Schema
}

// Entity returns the schema of the named entity.
func (b *Bundle) Entity(name string) (*Schema, bool) {
	for _, s := range b.Entities {
		if s.Entity() == name {
			return s, true
		}
	}
	return nil, false
}

// Load reads and compiles a YAML schema file.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

var validate = validator.New()

// Parse decodes, validates and compiles a YAML schema document.
func Parse(data []byte) (*Bundle, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var msgs []string
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed rule %q", e.Namespace(), e.Tag()))
			}
			return nil, fmt.Errorf("invalid schema document: %s", strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}

	b := &Bundle{}
	if doc.Table != nil {
		t := doc.Table.definition()
		if err := t.Validate(); err != nil {
			return nil, err
		}
		b.Table = &t
	}
	for _, e := range doc.Entities {
		def, err := e.definition()
		if err != nil {
			return nil, &DefinitionError{Entity: e.Entity, Reason: "document", Err: err}
		}
		s, err := New(def)
		if err != nil {
			return nil, err
		}
		if b.Table != nil {
			if err := s.CheckTable(*b.Table); err != nil {
				return nil, err
			}
		}
		b.Entities = append(b.Entities, s)
	}
	return b, nil
}

func (t TableDoc) definition() table.TableDefinition {
	def := table.TableDefinition{
		Name:           t.Name,
		KeyDefinitions: keyDefinitions(t.PartitionKey, t.SortKey),
		TimeToLiveKey:  t.TimeToLive,
	}
	for _, g := range t.GSIs {
		def.GSIs = append(def.GSIs, table.GSIDefinition{
			Name:           g.Name,
			KeyDefinitions: keyDefinitions(g.PartitionKey, g.SortKey),
		})
	}
	return def
}

func keyDefinitions(pk KeyDef, sk *KeyDef) table.PrimaryKeyDefinition {
	k := table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: pk.Name, Kind: table.KeyKind(pk.Kind)},
	}
	if sk != nil {
		k.SortKey = table.KeyDef{Name: sk.Name, Kind: table.KeyKind(sk.Kind)}
	}
	return k
}

func (e EntityDoc) definition() (Definition, error) {
	def := Definition{
		Service:    e.Service,
		Entity:     e.Entity,
		Version:    e.Version,
		Scope:      e.Scope,
		Attributes: make(map[string]attr.Attribute, len(e.Attributes)),
		Indexes:    make(map[string]index.Definition, len(e.Indexes)),
	}
	for name, a := range e.Attributes {
		out, err := a.attribute(name)
		if err != nil {
			return Definition{}, err
		}
		def.Attributes[name] = out
	}
	for name, ix := range e.Indexes {
		out, err := ix.definition()
		if err != nil {
			return Definition{}, fmt.Errorf("index %q: %w", name, err)
		}
		def.Indexes[name] = out
	}
	return def, nil
}

func (a AttributeDoc) attribute(path string) (attr.Attribute, error) {
	kind, err := attr.ParseKind(a.Type)
	if err != nil {
		return attr.Attribute{}, fmt.Errorf("attribute %q: %w", path, err)
	}
	out := attr.Attribute{
		Field:      a.Field,
		Kind:       kind,
		Required:   a.Required,
		Hidden:     a.Hidden,
		ReadOnly:   a.ReadOnly,
		Default:    a.Default,
		EnumValues: a.Values,
		Watch:      a.Watch,
	}
	if a.SetOf != "" {
		out.SetOf = attr.Kind(a.SetOf)
	}
	switch a.Generate {
	case "uuid":
		out.DefaultFunc = func() any { return uuid.NewString() }
	case "now":
		out.DefaultFunc = func() any { return time.Now().UTC().Format(time.RFC3339) }
	}
	if a.Padding != nil {
		out.Padding = &attr.Padding{Length: a.Padding.Length, Char: a.Padding.Char}
	}
	if a.Pattern != "" {
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return attr.Attribute{}, fmt.Errorf("attribute %q pattern: %w", path, err)
		}
		out.Pattern = re
	}
	if a.Items != nil {
		items, err := a.Items.attribute(path + "[*]")
		if err != nil {
			return attr.Attribute{}, err
		}
		out.Items = &items
	}
	if len(a.Properties) > 0 {
		out.Properties = make(map[string]attr.Attribute, len(a.Properties))
		for name, p := range a.Properties {
			prop, err := p.attribute(path + "." + name)
			if err != nil {
				return attr.Attribute{}, err
			}
			out.Properties[name] = prop
		}
	}
	return out, nil
}

func (ix IndexDoc) definition() (index.Definition, error) {
	def := index.Definition{
		IndexName:  ix.Index,
		PK:         ix.PK.key(),
		Collection: ix.Collection,
	}
	if ix.SK != nil {
		sk := ix.SK.key()
		def.SK = &sk
	}
	def.ConditionAttributes = ix.ConditionAttributes
	if ix.Condition != "" {
		cond, reads, err := compileCondition(ix.Condition)
		if err != nil {
			return index.Definition{}, err
		}
		def.Condition = cond
		if len(def.ConditionAttributes) == 0 {
			if reads == nil {
				return index.Definition{}, fmt.Errorf("condition %q does not name the attributes it reads, list them in conditionAttributes", ix.Condition)
			}
			def.ConditionAttributes = reads
		}
	}
	return def, nil
}

func (k KeyDoc) key() index.Key {
	return index.Key{
		Field:     k.Field,
		Composite: k.Composite,
		Template:  k.Template,
		Casing:    index.Casing(k.Casing),
		Cast:      index.Cast(k.Cast),
	}
}

var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create condition environment: %w", err))
	}
	celEnv = env
}

// compileCondition turns a CEL expression into an index condition and the
// attributes it reads. An expression that fails to evaluate, or yields a
// non-boolean, counts as false.
func compileCondition(expr string) (func(map[string]any) bool, []string, error) {
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, nil, fmt.Errorf("condition %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, nil, fmt.Errorf("condition %q must evaluate to a bool, got %s", expr, t)
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, nil, fmt.Errorf("condition %q: %w", expr, err)
	}
	return func(item map[string]any) bool {
		out, _, err := prg.Eval(map[string]any{"item": item})
		if err != nil {
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}, conditionReads(ast), nil
}

// conditionReads returns the attributes an expression reads as item.name or
// item["name"], or nil when item is used any other way.
func conditionReads(ast *cel.Ast) []string {
	isItem := func(e celast.Expr) bool {
		return e.Kind() == celast.IdentKind && e.AsIdent() == "item"
	}
	var reads []string
	uses, named := 0, 0
	for _, e := range celast.MatchDescendants(celast.NavigateAST(ast.NativeRep()), celast.AllMatcher()) {
		name := ""
		switch e.Kind() {
		case celast.IdentKind:
			if isItem(e) {
				uses++
			}
			continue
		case celast.SelectKind:
			if sel := e.AsSelect(); isItem(sel.Operand()) {
				name = sel.FieldName()
			}
		case celast.CallKind:
			call := e.AsCall()
			if call.FunctionName() != operators.Index || len(call.Args()) != 2 || !isItem(call.Args()[0]) {
				continue
			}
			if key := call.Args()[1]; key.Kind() == celast.LiteralKind {
				if s, ok := key.AsLiteral().(celtypes.String); ok {
					name = string(s)
				}
			}
		}
		if name == "" {
			continue
		}
		named++
		if !slices.Contains(reads, name) {
			reads = append(reads, name)
		}
	}
	if uses != named || len(reads) == 0 {
		return nil
	}
	return reads
}
