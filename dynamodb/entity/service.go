package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/acksell/ddbentity/dynamodb/expr"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/acksell/ddbentity/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// MaxTransactItems is the most operations one transaction may hold.
const MaxTransactItems = 100

// Service groups entities that share a table, so collections spanning
// several entities can be queried together.
type Service struct {
	name     string
	entities []*Entity
	table    string
	client   Client
	log      zerolog.Logger
}

// NewService joins entities of the named service. The entities must live in
// the same table, and entities sharing a collection must agree on the
// collection's index, partition key and scope.
func NewService(name string, entities ...*Entity) (*Service, error) {
	if len(entities) == 0 {
		return nil, &schema.DefinitionError{Entity: name, Reason: "service has no entities"}
	}
	s := &Service{name: name, table: entities[0].table.Name, client: entities[0].client, log: entities[0].log}
	seen := make(map[string]bool)
	for _, e := range entities {
		switch {
		case e.schema.Service() != name:
			return nil, &schema.DefinitionError{Entity: e.Name(), Reason: fmt.Sprintf("belongs to service %q, not %q", e.schema.Service(), name)}
		case e.table.Name != s.table:
			return nil, &schema.DefinitionError{Entity: e.Name(), Reason: fmt.Sprintf("lives in table %q, not %q", e.table.Name, s.table)}
		case seen[e.Name()]:
			return nil, &schema.DefinitionError{Entity: e.Name(), Reason: "entity added to the service twice"}
		}
		seen[e.Name()] = true
		s.entities = append(s.entities, e)
	}
	if err := s.checkCollections(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) checkCollections() error {
	first := make(map[string]*Entity)
	for _, e := range s.entities {
		for _, c := range e.schema.Collections() {
			ix, _ := e.schema.Collection(c)
			other, ok := first[c]
			if !ok {
				first[c] = e
				continue
			}
			base, _ := other.schema.Collection(c)
			scope, baseScope := e.schema.Identity().Scope, other.schema.Identity().Scope
			var reason string
			switch {
			case scope != baseScope:
				reason = fmt.Sprintf("has scope %q, other members have %q", scope, baseScope)
			case base.IndexName() != ix.IndexName():
				reason = fmt.Sprintf("uses index %q, other members use %q", ix.IndexName(), base.IndexName())
			case base.PKField() != ix.PKField() || base.SKField() != ix.SKField():
				reason = "uses different key fields than other members"
			case !slices.Equal(base.PKComposite(), ix.PKComposite()):
				reason = fmt.Sprintf("has partition key composites %v, other members have %v", ix.PKComposite(), base.PKComposite())
			}
			if reason != "" {
				return &schema.DefinitionError{Entity: e.Name(), Reason: fmt.Sprintf("collection %q %s", c, reason)}
			}
		}
	}
	return nil
}

func (s *Service) Name() string { return s.name }

// Entity returns the member with the given entity name.
func (s *Service) Entity(name string) (*Entity, bool) {
	for _, e := range s.entities {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

func (s *Service) requireClient() error {
	if s.client == nil {
		return fmt.Errorf("service %q has no client configured", s.name)
	}
	return nil
}

// CollectionOp queries every entity of a collection in one partition.
type CollectionOp struct {
	s       *Service
	name    string
	values  Item
	members []*Entity
	ix      *index.Index
	err     error
	paging
}

// CollectionResult holds collection items grouped by entity name.
type CollectionResult struct {
	Items  map[string][]Item
	Cursor string
}

// Collection reads the items of the named collection whose partition key
// composites are in composite.
func (s *Service) Collection(name string, composite Item) CollectionOp {
	op := CollectionOp{s: s, name: name, values: composite}
	for _, e := range s.entities {
		if ix, ok := e.schema.Collection(name); ok {
			op.members = append(op.members, e)
			if op.ix == nil {
				op.ix = ix
			}
		}
	}
	if len(op.members) == 0 {
		op.err = fmt.Errorf("service %q has no collection %q", s.name, name)
	}
	return op
}

func (op CollectionOp) Limit(n int32) CollectionOp {
	op.limit = n
	return op
}

func (op CollectionOp) Cursor(token string) CollectionOp {
	op.cursor = token
	return op
}

func (op CollectionOp) Consistent() CollectionOp {
	op.consistent = true
	return op
}

func (op CollectionOp) Pages(n int) CollectionOp {
	op.pages = n
	return op
}

func (op CollectionOp) All() CollectionOp {
	op.pages = allPages
	return op
}

func (op CollectionOp) Params() (*dynamodb.QueryInput, error) {
	if op.err != nil {
		return nil, op.err
	}
	e := op.members[0]
	values, err := e.compositeValues(op.values, op.ix.PKComposite())
	if err != nil {
		return nil, err
	}
	pk, err := op.ix.PartitionKey(values)
	if err != nil {
		return nil, err
	}
	kc := expr.KeyCondition{PKField: op.ix.PKField(), PK: pk}
	prefix, err := op.ix.CollectionPrefix(op.name)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		kc.SKField, kc.Op, kc.SK = op.ix.SKField(), expr.SortBegins, &types.AttributeValueMemberS{Value: prefix}
	}
	b := expr.NewBuilder(e.model())
	keyCond, err := b.KeyCondition(kc)
	if err != nil {
		return nil, err
	}
	start, err := op.start(e.keyFieldsOf(op.ix))
	if err != nil {
		return nil, err
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(op.s.table),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  b.Registry().Names(),
		ExpressionAttributeValues: b.Registry().Values(),
		ExclusiveStartKey:         start,
	}
	if name := op.ix.IndexName(); name != "" {
		in.IndexName = aws.String(name)
	}
	if op.limit > 0 {
		in.Limit = aws.Int32(op.limit)
	}
	if op.consistent {
		in.ConsistentRead = aws.Bool(true)
	}
	return in, nil
}

func (op CollectionOp) Go(ctx context.Context) (CollectionResult, error) {
	in, err := op.Params()
	if err != nil {
		return CollectionResult{}, err
	}
	if err := op.s.requireClient(); err != nil {
		return CollectionResult{}, err
	}
	log := op.s.log.With().Str("operation", "collection").Str("collection", op.name).Str("table", op.s.table).Logger()

	res := CollectionResult{Items: make(map[string][]Item)}
	pages := op.pages
	if pages == 0 {
		pages = 1
	}
	start := in.ExclusiveStartKey
	for n := 0; pages == allPages || n < pages; n++ {
		req := *in
		req.ExclusiveStartKey = start
		log.Debug().Interface("params", &req).Msg("executing")
		out, err := op.s.client.Query(ctx, &req)
		if err != nil {
			log.Warn().Err(err).Msg("store request failed")
			return CollectionResult{}, storeError("collection", err)
		}
		for _, raw := range out.Items {
			for _, e := range op.members {
				if !e.owns(raw) {
					continue
				}
				item, err := e.parse(raw)
				if err != nil {
					return CollectionResult{}, err
				}
				res.Items[e.Name()] = append(res.Items[e.Name()], item)
				break
			}
		}
		start = out.LastEvaluatedKey
		if len(start) == 0 {
			break
		}
	}
	token, err := op.members[0].Conversions().KeysToCursor(start)
	if err != nil {
		return CollectionResult{}, err
	}
	res.Cursor = token
	return res, nil
}

// TransactWriteItem is an operation that can take part in a write
// transaction: a put, create, update, patch, delete, remove or check.
type TransactWriteItem interface {
	transactWrite() (types.TransactWriteItem, error)
}

var (
	_ TransactWriteItem = PutOp{}
	_ TransactWriteItem = UpdateOp{}
	_ TransactWriteItem = DeleteOp{}
	_ TransactWriteItem = CheckOp{}
)

// TransactWriteOp applies writes to entities of the service atomically.
type TransactWriteOp struct {
	s     *Service
	items []TransactWriteItem
	token string
}

func (s *Service) TransactWrite(items ...TransactWriteItem) TransactWriteOp {
	return TransactWriteOp{s: s, items: items}
}

// Token sets the idempotency token of the transaction.
func (op TransactWriteOp) Token(token string) TransactWriteOp {
	op.token = token
	return op
}

func (op TransactWriteOp) Params() (*dynamodb.TransactWriteItemsInput, error) {
	if len(op.items) == 0 || len(op.items) > MaxTransactItems {
		return nil, fmt.Errorf("a transaction holds 1 to %d operations, got %d", MaxTransactItems, len(op.items))
	}
	in := &dynamodb.TransactWriteItemsInput{}
	for i, item := range op.items {
		ti, err := item.transactWrite()
		if err != nil {
			return nil, fmt.Errorf("transaction operation %d: %w", i, err)
		}
		in.TransactItems = append(in.TransactItems, ti)
	}
	if op.token != "" {
		in.ClientRequestToken = aws.String(op.token)
	}
	return in, nil
}

func (op TransactWriteOp) Go(ctx context.Context) error {
	in, err := op.Params()
	if err != nil {
		return err
	}
	if err := op.s.requireClient(); err != nil {
		return err
	}
	log := op.s.log.With().Str("operation", "transactWrite").Str("table", op.s.table).Logger()
	log.Debug().Int("items", len(in.TransactItems)).Msg("executing")
	if _, err := op.s.client.TransactWriteItems(ctx, in); err != nil {
		log.Warn().Err(err).Msg("store request failed")
		return storeError("transactWrite", err)
	}
	return nil
}

// TransactGetOp reads items of entities of the service in one consistent
// snapshot.
type TransactGetOp struct {
	s    *Service
	gets []GetOp
}

func (s *Service) TransactGet(gets ...GetOp) TransactGetOp {
	return TransactGetOp{s: s, gets: gets}
}

func (op TransactGetOp) Params() (*dynamodb.TransactGetItemsInput, error) {
	if len(op.gets) == 0 || len(op.gets) > MaxTransactItems {
		return nil, fmt.Errorf("a transaction holds 1 to %d operations, got %d", MaxTransactItems, len(op.gets))
	}
	in := &dynamodb.TransactGetItemsInput{}
	for i, g := range op.gets {
		ti, err := g.transactGet()
		if err != nil {
			return nil, fmt.Errorf("transaction operation %d: %w", i, err)
		}
		in.TransactItems = append(in.TransactItems, ti)
	}
	return in, nil
}

// Go returns one entry per get, in order. Items that do not exist are nil.
func (op TransactGetOp) Go(ctx context.Context) ([]Item, error) {
	in, err := op.Params()
	if err != nil {
		return nil, err
	}
	if err := op.s.requireClient(); err != nil {
		return nil, err
	}
	log := op.s.log.With().Str("operation", "transactGet").Str("table", op.s.table).Logger()
	log.Debug().Int("items", len(in.TransactItems)).Msg("executing")
	out, err := op.s.client.TransactGetItems(ctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("store request failed")
		return nil, storeError("transactGet", err)
	}
	items := make([]Item, len(op.gets))
	for i, resp := range out.Responses {
		if i >= len(items) {
			break
		}
		item, err := op.gets[i].e.parseOwned(resp.Item)
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return items, nil
}
