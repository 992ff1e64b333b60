package entity

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/acksell/ddbentity/dynamodb/cursor"
	"github.com/acksell/ddbentity/dynamodb/expr"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Order of query results by sort key.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// allPages is the page count used by All.
const allPages = -1

// QueryResult is one or more pages of a query or scan. Cursor resumes after
// the last page read and is empty when there is nothing left.
type QueryResult struct {
	Items  []Item
	Cursor string
}

// paging holds the options shared by queries and scans.
type paging struct {
	conds      []expr.FilterFunc
	limit      int32
	cursor     string
	attributes []string
	consistent bool
	pages      int
}

func (p paging) where(fns []expr.FilterFunc) paging {
	p.conds = append(slices.Clip(p.conds), fns...)
	return p
}

func (p paging) attrs(names []string) paging {
	p.attributes = append(slices.Clip(p.attributes), names...)
	return p
}

// start decodes the cursor, which must carry every field in fields.
func (p paging) start(fields []string) (map[string]types.AttributeValue, error) {
	if p.cursor == "" {
		return nil, nil
	}
	keys, err := cursor.Decode(p.cursor)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if _, ok := keys[f]; !ok {
			return nil, &cursor.DecodeError{Reason: fmt.Sprintf("missing key field %q", f)}
		}
	}
	return keys, nil
}

func (p paging) projection(e *Entity, b *expr.Builder, ix *index.Index) (*string, error) {
	if len(p.attributes) == 0 {
		return nil, nil
	}
	fields := append(e.keyFieldsOf(ix), e.entityField, e.versionField)
	proj, err := b.Projection(p.attributes, fields...)
	if err != nil {
		return nil, err
	}
	return aws.String(proj), nil
}

// page runs one request starting at start and returns its raw items and the
// key to continue from.
type page func(ctx context.Context, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error)

// collect reads pages until the page count is reached or the store has no
// more results, keeping only items the entity owns.
func (p paging) collect(ctx context.Context, e *Entity, start map[string]types.AttributeValue, next page) (QueryResult, error) {
	pages := p.pages
	if pages == 0 {
		pages = 1
	}
	var res QueryResult
	for n := 0; pages == allPages || n < pages; n++ {
		raw, last, err := next(ctx, start)
		if err != nil {
			return QueryResult{}, err
		}
		for _, r := range raw {
			item, err := e.parseOwned(r)
			if err != nil {
				return QueryResult{}, err
			}
			if item != nil {
				res.Items = append(res.Items, item)
			}
		}
		start = last
		if len(last) == 0 {
			break
		}
	}
	token, err := cursor.Encode(start)
	if err != nil {
		return QueryResult{}, err
	}
	res.Cursor = token
	return res, nil
}

// QueryOp reads the items of one partition of an access pattern.
type QueryOp struct {
	e      *Entity
	ix     *index.Index
	values Item
	err    error

	sortOp   expr.SortOp
	sortArgs []Item
	order    Order
	paging
}

// Query reads items of the access pattern whose partition key composites are
// in composite. Sort key composites in composite narrow the result to keys
// beginning with them, unless a sort key condition is given.
func (e *Entity) Query(pattern string, composite Item) QueryOp {
	op := QueryOp{e: e, values: composite}
	ix, ok := e.schema.Access(pattern)
	if !ok {
		op.err = fmt.Errorf("entity %q has no access pattern %q", e.Name(), pattern)
	}
	op.ix = ix
	return op
}

func (op QueryOp) sort(o expr.SortOp, args ...Item) QueryOp {
	op.sortOp = o
	op.sortArgs = args
	return op
}

// Between matches sort keys between the keys composed from lo and hi,
// inclusive.
func (op QueryOp) Between(lo, hi Item) QueryOp { return op.sort(expr.SortBetween, lo, hi) }
func (op QueryOp) Gt(v Item) QueryOp           { return op.sort(expr.SortGt, v) }
func (op QueryOp) Gte(v Item) QueryOp          { return op.sort(expr.SortGte, v) }
func (op QueryOp) Lt(v Item) QueryOp           { return op.sort(expr.SortLt, v) }
func (op QueryOp) Lte(v Item) QueryOp          { return op.sort(expr.SortLte, v) }
func (op QueryOp) Begins(v Item) QueryOp       { return op.sort(expr.SortBegins, v) }

func (op QueryOp) Where(fns ...expr.FilterFunc) QueryOp {
	op.paging = op.where(fns)
	return op
}

func (op QueryOp) Order(o Order) QueryOp {
	op.order = o
	return op
}

// Limit sets the maximum number of items the store evaluates per request.
func (op QueryOp) Limit(n int32) QueryOp {
	op.limit = n
	return op
}

// Cursor resumes a previous query.
func (op QueryOp) Cursor(token string) QueryOp {
	op.cursor = token
	return op
}

func (op QueryOp) Attributes(names ...string) QueryOp {
	op.paging = op.attrs(names)
	return op
}

func (op QueryOp) Consistent() QueryOp {
	op.consistent = true
	return op
}

// Pages sets how many requests Go makes at most. The default is one.
func (op QueryOp) Pages(n int) QueryOp {
	op.pages = n
	return op
}

// All reads every page.
func (op QueryOp) All() QueryOp {
	op.pages = allPages
	return op
}

// keyCondition composes the partition key and the sort key condition.
func (op QueryOp) keyCondition() (expr.KeyCondition, error) {
	ix := op.ix
	values, err := op.e.compositeValues(op.values, ix.Composite())
	if err != nil {
		return expr.KeyCondition{}, err
	}
	pk, err := ix.PartitionKey(values)
	if err != nil {
		return expr.KeyCondition{}, err
	}
	kc := expr.KeyCondition{PKField: ix.PKField(), PK: pk}
	if !ix.HasSK() {
		if op.sortOp != expr.SortNone {
			return expr.KeyCondition{}, fmt.Errorf("access pattern %q has no sort key", ix.Name())
		}
		return kc, nil
	}
	kc.SKField = ix.SKField()

	if op.sortOp == expr.SortNone {
		prefix, complete, err := ix.SortKeyPrefix(values)
		switch {
		case err != nil:
			return expr.KeyCondition{}, err
		case complete:
			kc.Op, kc.SK = expr.SortEq, prefix
		case prefix != nil && !isEmptyString(prefix):
			kc.Op, kc.SK = expr.SortBegins, prefix
		}
		return kc, nil
	}

	bounds := make([]types.AttributeValue, len(op.sortArgs))
	for i, arg := range op.sortArgs {
		sortValues, err := op.e.compositeValues(arg, ix.SKComposite())
		if err != nil {
			return expr.KeyCondition{}, err
		}
		merged := maps.Clone(values)
		maps.Copy(merged, sortValues)
		prefix, _, err := ix.SortKeyPrefix(merged)
		if err != nil {
			return expr.KeyCondition{}, err
		}
		if prefix == nil {
			return expr.KeyCondition{}, &index.IncompleteCompositeAttributesError{Missing: ix.Missing(merged), Indexes: []string{ix.Name()}}
		}
		bounds[i] = prefix
	}
	kc.Op, kc.SK = op.sortOp, bounds[0]
	if len(bounds) > 1 {
		kc.SK2 = bounds[1]
	}
	return kc, nil
}

func isEmptyString(av types.AttributeValue) bool {
	s, ok := av.(*types.AttributeValueMemberS)
	return ok && s.Value == ""
}

func (op QueryOp) Params() (*dynamodb.QueryInput, error) {
	if op.err != nil {
		return nil, op.err
	}
	e := op.e
	kc, err := op.keyCondition()
	if err != nil {
		return nil, err
	}
	b := expr.NewBuilder(e.model())
	keyCond, err := b.KeyCondition(kc)
	if err != nil {
		return nil, err
	}
	filter, err := b.Where(op.conds...)
	if err != nil {
		return nil, err
	}
	proj, err := op.projection(e, b, op.ix)
	if err != nil {
		return nil, err
	}
	start, err := op.start(e.keyFieldsOf(op.ix))
	if err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:                 e.tableName(),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          optional(filter),
		ProjectionExpression:      proj,
		ExpressionAttributeNames:  b.Registry().Names(),
		ExpressionAttributeValues: b.Registry().Values(),
		ExclusiveStartKey:         start,
	}
	if name := op.ix.IndexName(); name != "" {
		in.IndexName = aws.String(name)
	}
	switch op.order {
	case Asc:
		in.ScanIndexForward = aws.Bool(true)
	case Desc:
		in.ScanIndexForward = aws.Bool(false)
	}
	if op.limit > 0 {
		in.Limit = aws.Int32(op.limit)
	}
	if op.consistent {
		in.ConsistentRead = aws.Bool(true)
	}
	return in, nil
}

func (op QueryOp) Go(ctx context.Context) (QueryResult, error) {
	in, err := op.Params()
	if err != nil {
		return QueryResult{}, err
	}
	if err := op.e.requireClient(); err != nil {
		return QueryResult{}, err
	}
	log := op.e.logger("query")
	log = log.With().Str("index", op.ix.Name()).Logger()
	return op.collect(ctx, op.e, in.ExclusiveStartKey, func(ctx context.Context, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
		req := *in
		req.ExclusiveStartKey = start
		log.Debug().Interface("params", &req).Msg("executing")
		out, err := op.e.client.Query(ctx, &req)
		if err != nil {
			log.Warn().Err(err).Msg("store request failed")
			return nil, nil, storeError("query", err)
		}
		return out.Items, out.LastEvaluatedKey, nil
	})
}

// ScanOp reads every item of the entity in the table.
type ScanOp struct {
	e *Entity
	paging
}

func (e *Entity) Scan() ScanOp {
	return ScanOp{e: e}
}

func (op ScanOp) Where(fns ...expr.FilterFunc) ScanOp {
	op.paging = op.where(fns)
	return op
}

func (op ScanOp) Limit(n int32) ScanOp {
	op.limit = n
	return op
}

func (op ScanOp) Cursor(token string) ScanOp {
	op.cursor = token
	return op
}

func (op ScanOp) Attributes(names ...string) ScanOp {
	op.paging = op.attrs(names)
	return op
}

func (op ScanOp) Consistent() ScanOp {
	op.consistent = true
	return op
}

func (op ScanOp) Pages(n int) ScanOp {
	op.pages = n
	return op
}

func (op ScanOp) All() ScanOp {
	op.pages = allPages
	return op
}

// identityFilter matches items written by the entity.
func (e *Entity) identityFilter() expr.FilterFunc {
	return func(_ expr.Attrs, op expr.Ops) string {
		return fmt.Sprintf("%s = %s AND %s = %s",
			op.Field(e.entityField), op.Escape(e.schema.Entity()),
			op.Field(e.versionField), op.Escape(e.schema.Version()))
	}
}

func (op ScanOp) Params() (*dynamodb.ScanInput, error) {
	e := op.e
	b := expr.NewBuilder(e.model())
	filter, err := b.Where(append([]expr.FilterFunc{e.identityFilter()}, op.conds...)...)
	if err != nil {
		return nil, err
	}
	proj, err := op.projection(e, b, nil)
	if err != nil {
		return nil, err
	}
	start, err := op.start(e.table.KeyDefinitions.Fields())
	if err != nil {
		return nil, err
	}
	in := &dynamodb.ScanInput{
		TableName:                 e.tableName(),
		FilterExpression:          optional(filter),
		ProjectionExpression:      proj,
		ExpressionAttributeNames:  b.Registry().Names(),
		ExpressionAttributeValues: b.Registry().Values(),
		ExclusiveStartKey:         start,
	}
	if op.limit > 0 {
		in.Limit = aws.Int32(op.limit)
	}
	if op.consistent {
		in.ConsistentRead = aws.Bool(true)
	}
	return in, nil
}

func (op ScanOp) Go(ctx context.Context) (QueryResult, error) {
	in, err := op.Params()
	if err != nil {
		return QueryResult{}, err
	}
	if err := op.e.requireClient(); err != nil {
		return QueryResult{}, err
	}
	log := op.e.logger("scan")
	return op.collect(ctx, op.e, in.ExclusiveStartKey, func(ctx context.Context, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
		req := *in
		req.ExclusiveStartKey = start
		log.Debug().Interface("params", &req).Msg("executing")
		out, err := op.e.client.Scan(ctx, &req)
		if err != nil {
			log.Warn().Err(err).Msg("store request failed")
			return nil, nil, storeError("scan", err)
		}
		return out.Items, out.LastEvaluatedKey, nil
	})
}
