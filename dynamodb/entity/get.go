package entity

import (
	"context"
	"slices"
	"sync"

	"github.com/acksell/ddbentity/dynamodb/batch"
	"github.com/acksell/ddbentity/dynamodb/expr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// GetOp reads one item by its table key.
type GetOp struct {
	e          *Entity
	key        Item
	attributes []string
	consistent bool
}

// Get reads the item identified by the table index composites in key.
func (e *Entity) Get(key Item) GetOp {
	return GetOp{e: e, key: key}
}

// Attributes limits the returned attributes.
func (op GetOp) Attributes(names ...string) GetOp {
	op.attributes = append(slices.Clip(op.attributes), names...)
	return op
}

func (op GetOp) Consistent() GetOp {
	op.consistent = true
	return op
}

func (op GetOp) Params() (*dynamodb.GetItemInput, error) {
	key, err := op.e.primaryKey(op.key)
	if err != nil {
		return nil, err
	}
	in := &dynamodb.GetItemInput{
		TableName: op.e.tableName(),
		Key:       key,
	}
	if op.consistent {
		in.ConsistentRead = aws.Bool(true)
	}
	if len(op.attributes) > 0 {
		b := expr.NewBuilder(op.e.model())
		proj, err := b.Projection(op.attributes, op.e.entityField, op.e.versionField)
		if err != nil {
			return nil, err
		}
		in.ProjectionExpression = aws.String(proj)
		in.ExpressionAttributeNames = b.Registry().Names()
	}
	return in, nil
}

// Go returns the item, or nil if no item of this entity exists for the key.
func (op GetOp) Go(ctx context.Context) (Item, error) {
	in, err := op.Params()
	if err != nil {
		return nil, err
	}
	if err := op.e.requireClient(); err != nil {
		return nil, err
	}
	log := op.e.logger("get")
	log.Debug().Interface("params", in).Msg("executing")
	out, err := op.e.client.GetItem(ctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("store request failed")
		return nil, storeError("get", err)
	}
	return op.e.parseOwned(out.Item)
}

func (op GetOp) transactGet() (types.TransactGetItem, error) {
	in, err := op.Params()
	if err != nil {
		return types.TransactGetItem{}, err
	}
	return types.TransactGetItem{Get: &types.Get{
		TableName:                in.TableName,
		Key:                      in.Key,
		ProjectionExpression:     in.ProjectionExpression,
		ExpressionAttributeNames: in.ExpressionAttributeNames,
	}}, nil
}

// BatchGetOp reads many items by table key, in chunks of at most
// batch.MaxGetItems keys.
type BatchGetOp struct {
	e             *Entity
	keys          []Item
	attributes    []string
	consistent    bool
	preserveOrder bool
}

// BatchGetResult holds the items of a batch get. With preserved order Items
// has one entry per requested key and a nil entry marks an item that was not
// found or not processed. Unprocessed holds the composite values of keys the
// store did not process.
type BatchGetResult struct {
	Items       []Item
	Unprocessed []Item
}

func (e *Entity) BatchGet(keys ...Item) BatchGetOp {
	return BatchGetOp{e: e, keys: keys}
}

func (op BatchGetOp) Attributes(names ...string) BatchGetOp {
	op.attributes = append(slices.Clip(op.attributes), names...)
	return op
}

func (op BatchGetOp) Consistent() BatchGetOp {
	op.consistent = true
	return op
}

// PreserveBatchOrder returns items in request order.
func (op BatchGetOp) PreserveBatchOrder() BatchGetOp {
	op.preserveOrder = true
	return op
}

// requested composes the key of every requested item, and the distinct keys
// to send.
func (op BatchGetOp) requested() (all, unique []batch.Item, err error) {
	fields := op.e.table.KeyDefinitions.Fields()
	seen := make(map[string]bool, len(op.keys))
	for _, k := range op.keys {
		key, err := op.e.primaryKey(k)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, key)
		if fp, _ := batch.Fingerprint(key, fields); !seen[fp] {
			seen[fp] = true
			unique = append(unique, key)
		}
	}
	return all, unique, nil
}

func (op BatchGetOp) input(keys []batch.Item) (*dynamodb.BatchGetItemInput, error) {
	ka := types.KeysAndAttributes{Keys: keys}
	if op.consistent {
		ka.ConsistentRead = aws.Bool(true)
	}
	if len(op.attributes) > 0 {
		b := expr.NewBuilder(op.e.model())
		fields := append(op.e.table.KeyDefinitions.Fields(), op.e.entityField, op.e.versionField)
		proj, err := b.Projection(op.attributes, fields...)
		if err != nil {
			return nil, err
		}
		ka.ProjectionExpression = aws.String(proj)
		ka.ExpressionAttributeNames = b.Registry().Names()
	}
	return &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{op.e.table.Name: ka},
	}, nil
}

// Params returns one request per chunk of distinct keys.
func (op BatchGetOp) Params() ([]*dynamodb.BatchGetItemInput, error) {
	_, unique, err := op.requested()
	if err != nil {
		return nil, err
	}
	var out []*dynamodb.BatchGetItemInput
	for _, chunk := range batch.Chunk(unique, batch.MaxGetItems) {
		in, err := op.input(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// Go reads the keys in chunks. When a chunk fails the result still holds
// what the other chunks returned, the keys of the chunks that did not
// complete are reported as unprocessed, and the error is returned with it.
func (op BatchGetOp) Go(ctx context.Context) (BatchGetResult, error) {
	all, unique, err := op.requested()
	if err != nil {
		return BatchGetResult{}, err
	}
	if err := op.e.requireClient(); err != nil {
		return BatchGetResult{}, err
	}
	log := op.e.logger("batchGet")

	var (
		mu          sync.Mutex
		responses   []batch.Item
		unprocessed []batch.Item
	)
	chunks := batch.Chunk(unique, batch.MaxGetItems)
	failed, runErr := batch.Run(ctx, chunks, op.e.concurrency, func(ctx context.Context, i int, keys []batch.Item) error {
		in, err := op.input(keys)
		if err != nil {
			return err
		}
		out, err := op.e.client.BatchGetItem(ctx, in)
		if err != nil {
			log.Warn().Err(err).Int("chunk", i).Msg("store request failed")
			return storeError("batchGet", err)
		}
		left := out.UnprocessedKeys[op.e.table.Name].Keys
		log.Debug().Int("chunk", i).Int("keys", len(keys)).Int("unprocessed", len(left)).Msg("chunk done")
		mu.Lock()
		defer mu.Unlock()
		responses = append(responses, out.Responses[op.e.table.Name]...)
		unprocessed = append(unprocessed, left...)
		return nil
	})
	for _, i := range failed {
		unprocessed = append(unprocessed, chunks[i]...)
	}
	res, err := op.result(all, responses, unprocessed)
	if err != nil {
		return BatchGetResult{}, err
	}
	return res, runErr
}

func (op BatchGetOp) result(all, responses, unprocessed []batch.Item) (BatchGetResult, error) {
	outcome := batch.Reconcile(all, op.e.table.KeyDefinitions.Fields(), responses, unprocessed, op.preserveOrder)
	var res BatchGetResult
	if op.preserveOrder {
		res.Items = make([]Item, len(outcome.Items))
	}
	for i, raw := range outcome.Items {
		item, err := op.e.parseOwned(raw)
		if err != nil {
			return BatchGetResult{}, err
		}
		switch {
		case op.preserveOrder:
			res.Items[i] = item
		case item != nil:
			res.Items = append(res.Items, item)
		}
	}
	primary := op.e.schema.Primary()
	for _, i := range outcome.Unprocessed {
		composite, err := op.e.compositeValues(op.keys[i], primary.Composite())
		if err != nil {
			return BatchGetResult{}, err
		}
		res.Unprocessed = append(res.Unprocessed, composite)
	}
	for _, key := range outcome.Unmatched {
		composite, err := primary.Decode(key)
		if err != nil {
			return BatchGetResult{}, err
		}
		res.Unprocessed = append(res.Unprocessed, composite)
	}
	return res, nil
}
