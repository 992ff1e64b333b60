package entity

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/acksell/ddbentity/dynamodb/batch"
	"github.com/acksell/ddbentity/dynamodb/expr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyExistence checks that the table key fields do or do not exist.
func (e *Entity) keyExistence(exists bool) expr.FilterFunc {
	return func(_ expr.Attrs, op expr.Ops) string {
		fn := "attribute_not_exists"
		if exists {
			fn = "attribute_exists"
		}
		var parts []string
		for _, f := range e.table.KeyDefinitions.Fields() {
			parts = append(parts, fmt.Sprintf("%s(%s)", fn, op.Field(f)))
		}
		return strings.Join(parts, " AND ")
	}
}

// optional returns nil for an empty expression.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func checkReturnValues(rv types.ReturnValue, allowed ...types.ReturnValue) error {
	if rv == "" || slices.Contains(allowed, rv) {
		return nil
	}
	return fmt.Errorf("return values %q are not supported here, use one of %v", rv, allowed)
}

// PutOp writes a whole item, replacing any item with the same key.
type PutOp struct {
	e            *Entity
	values       Item
	conds        []expr.FilterFunc
	mustNotExist bool
	returnValues types.ReturnValue
}

func (e *Entity) Put(values Item) PutOp {
	return PutOp{e: e, values: values}
}

// Create is a put that fails if an item with the same key exists.
func (e *Entity) Create(values Item) PutOp {
	return PutOp{e: e, values: values, mustNotExist: true}
}

// Where adds conditions that must hold on the stored item.
func (op PutOp) Where(fns ...expr.FilterFunc) PutOp {
	op.conds = append(slices.Clip(op.conds), fns...)
	return op
}

// ReturnValues requests the previous item; only NONE and ALL_OLD apply.
func (op PutOp) ReturnValues(rv types.ReturnValue) PutOp {
	op.returnValues = rv
	return op
}

func (op PutOp) compile() (*dynamodb.PutItemInput, Item, error) {
	if err := checkReturnValues(op.returnValues, types.ReturnValueNone, types.ReturnValueAllOld); err != nil {
		return nil, nil, err
	}
	item, resolved, err := op.e.physicalItem(op.values)
	if err != nil {
		return nil, nil, err
	}
	b := expr.NewBuilder(op.e.model())
	conds := op.conds
	if op.mustNotExist {
		conds = append([]expr.FilterFunc{op.e.keyExistence(false)}, conds...)
	}
	cond, err := b.Where(conds...)
	if err != nil {
		return nil, nil, err
	}
	return &dynamodb.PutItemInput{
		TableName:                 op.e.tableName(),
		Item:                      item,
		ConditionExpression:       optional(cond),
		ExpressionAttributeNames:  b.Registry().Names(),
		ExpressionAttributeValues: b.Registry().Values(),
		ReturnValues:              op.returnValues,
	}, resolved, nil
}

func (op PutOp) Params() (*dynamodb.PutItemInput, error) {
	in, _, err := op.compile()
	return in, err
}

// Go writes the item. It returns the previous item when ALL_OLD was
// requested and the written item otherwise.
func (op PutOp) Go(ctx context.Context) (Item, error) {
	in, resolved, err := op.compile()
	if err != nil {
		return nil, err
	}
	if err := op.e.requireClient(); err != nil {
		return nil, err
	}
	name := "put"
	if op.mustNotExist {
		name = "create"
	}
	log := op.e.logger(name)
	log.Debug().Interface("params", in).Msg("executing")
	out, err := op.e.client.PutItem(ctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("store request failed")
		return nil, storeError(name, err)
	}
	if op.returnValues == types.ReturnValueAllOld {
		return op.e.parseOwned(out.Attributes)
	}
	return op.e.model().Resolve(resolved, attr.ModeRead)
}

func (op PutOp) transactWrite() (types.TransactWriteItem, error) {
	in, err := op.Params()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:                 in.TableName,
		Item:                      in.Item,
		ConditionExpression:       in.ConditionExpression,
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
	}}, nil
}

// DeleteOp deletes one item by table key.
type DeleteOp struct {
	e            *Entity
	key          Item
	conds        []expr.FilterFunc
	mustExist    bool
	returnValues types.ReturnValue
}

func (e *Entity) Delete(key Item) DeleteOp {
	return DeleteOp{e: e, key: key}
}

// Remove is a delete that fails if the item does not exist.
func (e *Entity) Remove(key Item) DeleteOp {
	return DeleteOp{e: e, key: key, mustExist: true}
}

func (op DeleteOp) Where(fns ...expr.FilterFunc) DeleteOp {
	op.conds = append(slices.Clip(op.conds), fns...)
	return op
}

// ReturnValues requests the deleted item; only NONE and ALL_OLD apply.
func (op DeleteOp) ReturnValues(rv types.ReturnValue) DeleteOp {
	op.returnValues = rv
	return op
}

func (op DeleteOp) Params() (*dynamodb.DeleteItemInput, error) {
	if err := checkReturnValues(op.returnValues, types.ReturnValueNone, types.ReturnValueAllOld); err != nil {
		return nil, err
	}
	key, err := op.e.primaryKey(op.key)
	if err != nil {
		return nil, err
	}
	b := expr.NewBuilder(op.e.model())
	conds := op.conds
	if op.mustExist {
		conds = append([]expr.FilterFunc{op.e.keyExistence(true)}, conds...)
	}
	cond, err := b.Where(conds...)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DeleteItemInput{
		TableName:                 op.e.tableName(),
		Key:                       key,
		ConditionExpression:       optional(cond),
		ExpressionAttributeNames:  b.Registry().Names(),
		ExpressionAttributeValues: b.Registry().Values(),
		ReturnValues:              op.returnValues,
	}, nil
}

// Go deletes the item and returns it when ALL_OLD was requested.
func (op DeleteOp) Go(ctx context.Context) (Item, error) {
	in, err := op.Params()
	if err != nil {
		return nil, err
	}
	if err := op.e.requireClient(); err != nil {
		return nil, err
	}
	name := "delete"
	if op.mustExist {
		name = "remove"
	}
	log := op.e.logger(name)
	log.Debug().Interface("params", in).Msg("executing")
	out, err := op.e.client.DeleteItem(ctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("store request failed")
		return nil, storeError(name, err)
	}
	return op.e.parseOwned(out.Attributes)
}

func (op DeleteOp) transactWrite() (types.TransactWriteItem, error) {
	in, err := op.Params()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 in.TableName,
		Key:                       in.Key,
		ConditionExpression:       in.ConditionExpression,
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
	}}, nil
}

// CheckOp asserts conditions on an item inside a transaction without
// writing it.
type CheckOp struct {
	e     *Entity
	key   Item
	conds []expr.FilterFunc
}

func (e *Entity) Check(key Item) CheckOp {
	return CheckOp{e: e, key: key}
}

func (op CheckOp) Where(fns ...expr.FilterFunc) CheckOp {
	op.conds = append(slices.Clip(op.conds), fns...)
	return op
}

func (op CheckOp) transactWrite() (types.TransactWriteItem, error) {
	key, err := op.e.primaryKey(op.key)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	b := expr.NewBuilder(op.e.model())
	cond, err := b.Where(op.conds...)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	if cond == "" {
		return types.TransactWriteItem{}, fmt.Errorf("condition check on %q requires a condition", op.e.Name())
	}
	return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
		TableName:                 op.e.tableName(),
		Key:                       key,
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  b.Registry().Names(),
		ExpressionAttributeValues: b.Registry().Values(),
	}}, nil
}

// BatchWriteOp puts and deletes many items, in chunks of at most
// batch.MaxWriteItems requests.
type BatchWriteOp struct {
	e       *Entity
	puts    []Item
	deletes []Item
}

// BatchWriteResult holds the table key composites of requests the store did
// not process.
type BatchWriteResult struct {
	Unprocessed []Item
}

func (e *Entity) BatchPut(items ...Item) BatchWriteOp {
	return BatchWriteOp{e: e, puts: items}
}

func (e *Entity) BatchDelete(keys ...Item) BatchWriteOp {
	return BatchWriteOp{e: e, deletes: keys}
}

func (op BatchWriteOp) Put(items ...Item) BatchWriteOp {
	op.puts = append(slices.Clip(op.puts), items...)
	return op
}

func (op BatchWriteOp) Delete(keys ...Item) BatchWriteOp {
	op.deletes = append(slices.Clip(op.deletes), keys...)
	return op
}

func (op BatchWriteOp) requests() ([]types.WriteRequest, error) {
	fields := op.e.table.KeyDefinitions.Fields()
	seen := make(map[string]bool)
	var reqs []types.WriteRequest
	add := func(key batch.Item, req types.WriteRequest) error {
		fp, _ := batch.Fingerprint(key, fields)
		if seen[fp] {
			return fmt.Errorf("batch write contains more than one request for key %v", key)
		}
		seen[fp] = true
		reqs = append(reqs, req)
		return nil
	}
	for _, values := range op.puts {
		item, _, err := op.e.physicalItem(values)
		if err != nil {
			return nil, err
		}
		if err := add(item, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}); err != nil {
			return nil, err
		}
	}
	for _, values := range op.deletes {
		key, err := op.e.primaryKey(values)
		if err != nil {
			return nil, err
		}
		if err := add(key, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}}); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

func (op BatchWriteOp) input(reqs []types.WriteRequest) *dynamodb.BatchWriteItemInput {
	return &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{op.e.table.Name: reqs},
	}
}

// Params returns one request per chunk.
func (op BatchWriteOp) Params() ([]*dynamodb.BatchWriteItemInput, error) {
	reqs, err := op.requests()
	if err != nil {
		return nil, err
	}
	var out []*dynamodb.BatchWriteItemInput
	for _, chunk := range batch.Chunk(reqs, batch.MaxWriteItems) {
		out = append(out, op.input(chunk))
	}
	return out, nil
}

// Go writes the requests in chunks. The requests of a chunk that fails, or is
// skipped after another failed, are reported as unprocessed alongside the
// error; the chunks that completed stay written.
func (op BatchWriteOp) Go(ctx context.Context) (BatchWriteResult, error) {
	reqs, err := op.requests()
	if err != nil {
		return BatchWriteResult{}, err
	}
	if err := op.e.requireClient(); err != nil {
		return BatchWriteResult{}, err
	}
	log := op.e.logger("batchWrite")

	var (
		mu   sync.Mutex
		left []types.WriteRequest
	)
	chunks := batch.Chunk(reqs, batch.MaxWriteItems)
	failed, runErr := batch.Run(ctx, chunks, op.e.concurrency, func(ctx context.Context, i int, chunk []types.WriteRequest) error {
		out, err := op.e.client.BatchWriteItem(ctx, op.input(chunk))
		if err != nil {
			log.Warn().Err(err).Int("chunk", i).Msg("store request failed")
			return storeError("batchWrite", err)
		}
		unprocessed := out.UnprocessedItems[op.e.table.Name]
		log.Debug().Int("chunk", i).Int("requests", len(chunk)).Int("unprocessed", len(unprocessed)).Msg("chunk done")
		mu.Lock()
		defer mu.Unlock()
		left = append(left, unprocessed...)
		return nil
	})
	for _, i := range failed {
		left = append(left, chunks[i]...)
	}

	var res BatchWriteResult
	for _, req := range left {
		var key batch.Item
		switch {
		case req.PutRequest != nil:
			key = req.PutRequest.Item
		case req.DeleteRequest != nil:
			key = req.DeleteRequest.Key
		}
		composite, err := op.e.schema.Primary().Decode(key)
		if err != nil {
			return BatchWriteResult{}, err
		}
		res.Unprocessed = append(res.Unprocessed, composite)
	}
	return res, runErr
}
