package ddbstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/acksell/ddbentity/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// Query retrieves the items of one partition of the table or a GSI, in sort
// key order.
func (s *Store) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || params.KeyConditionExpression == nil {
		return nil, validationError("key condition expression is required")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	ks, err := t.keyspace(params.IndexName)
	if err != nil {
		return nil, err
	}

	in := ddbexpr.Input{Names: params.ExpressionAttributeNames, Values: params.ExpressionAttributeValues}
	kc, err := ddbexpr.ParseKeyCondition(*params.KeyConditionExpression, in, ks.keys)
	if err != nil {
		return nil, validationError(err.Error())
	}
	prefix, err := ks.partitionPrefix(kc.PartitionKey)
	if err != nil {
		return nil, validationError(err.Error())
	}
	r := rangeScan{
		ks:      ks,
		prefix:  prefix,
		forward: params.ScanIndexForward == nil || *params.ScanIndexForward,
		start:   params.ExclusiveStartKey,
		sort:    kc.Sort,
	}
	if err := r.configure(params.Limit, params.FilterExpression, in); err != nil {
		return nil, err
	}

	res, err := s.run(r)
	if err != nil {
		return nil, err
	}
	items, err := project(params.ProjectionExpression, params.ExpressionAttributeNames, res.items...)
	if err != nil {
		return nil, err
	}
	if params.Select == types.SelectCount {
		items = nil
	}
	return &dynamodb.QueryOutput{
		Items:            items,
		Count:            int32(len(res.items)),
		ScannedCount:     int32(res.scanned),
		LastEvaluatedKey: res.lastKey,
	}, nil
}

// rangeScan walks the keys under prefix.
type rangeScan struct {
	ks      *keyspace
	prefix  []byte
	forward bool
	start   item
	sort    *ddbexpr.SortCondition
	filter  *ddbexpr.Condition
	limit   int
}

type rangeResult struct {
	items   []item
	scanned int
	lastKey item
}

func (r *rangeScan) configure(limit *int32, filter *string, in ddbexpr.Input) error {
	if limit != nil {
		if *limit <= 0 {
			return validationError("limit must be greater than 0")
		}
		r.limit = int(*limit)
	}
	if filter != nil && *filter != "" {
		c, err := ddbexpr.ParseCondition(*filter, in)
		if err != nil {
			return validationError(err.Error())
		}
		r.filter = &c
	}
	return nil
}

func (s *Store) run(r rangeScan) (rangeResult, error) {
	var startKey []byte
	if r.start != nil {
		k, err := r.ks.encode(r.start)
		if err != nil {
			return rangeResult{}, validationError(fmt.Sprintf("the provided starting key is invalid: %v", err))
		}
		if !bytes.HasPrefix(k, r.prefix) {
			return rangeResult{}, validationError("the provided starting key is outside the query range")
		}
		startKey = k
	}

	var res rangeResult
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = !r.forward
		opts.Prefix = r.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		switch {
		case startKey != nil:
			it.Seek(startKey)
			if it.Valid() && bytes.Equal(it.Item().Key(), startKey) {
				it.Next()
			}
		case r.forward:
			it.Seek(r.prefix)
		default:
			it.Seek(incrementBytes(r.prefix))
		}

		for ; it.Valid(); it.Next() {
			var doc item
			if err := it.Item().Value(func(val []byte) error {
				var err error
				doc, err = deserializeItem(val)
				return err
			}); err != nil {
				return err
			}
			if r.sort != nil {
				sk := doc[r.ks.keys.SortKey.Name]
				if !r.sort.Match(sk) {
					if r.pastRange(sk) {
						break
					}
					continue
				}
			}
			res.scanned++
			if r.filter == nil || r.filter.Eval(doc) {
				res.items = append(res.items, doc)
			}
			if r.limit > 0 && res.scanned >= r.limit {
				res.lastKey = keyAttributes(doc, r.ks.fields())
				break
			}
		}
		return nil
	})
	return res, err
}

// pastRange reports whether no later key in the iteration order can match
// the sort condition.
func (r *rangeScan) pastRange(sk types.AttributeValue) bool {
	vals := r.sort.Values
	if r.forward {
		var upper types.AttributeValue
		switch r.sort.Op {
		case ddbexpr.SortEq, ddbexpr.SortLt, ddbexpr.SortLe, ddbexpr.SortBeginsWith:
			upper = vals[0]
		case ddbexpr.SortBetween:
			upper = vals[1]
		default:
			return false
		}
		c, ok := ddbexpr.Compare(sk, upper)
		return ok && c > 0
	}
	switch r.sort.Op {
	case ddbexpr.SortEq, ddbexpr.SortGt, ddbexpr.SortGe, ddbexpr.SortBetween, ddbexpr.SortBeginsWith:
		c, ok := ddbexpr.Compare(sk, vals[0])
		return ok && c < 0
	}
	return false
}
