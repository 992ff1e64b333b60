package ddbstore

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const maxBatchGetKeys = 100

// BatchGetItem retrieves multiple items by their primary keys. Responses come
// back in key order, not request order. Keys rejected by
// StoreOptions.UnprocessedFunc are returned in UnprocessedKeys.
func (s *Store) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationError("request items are required")
	}
	total := 0
	for _, ka := range params.RequestItems {
		total += len(ka.Keys)
	}
	if total > maxBatchGetKeys {
		return nil, validationError(fmt.Sprintf("too many items requested for the BatchGetItem call: %d", total))
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, name := range slices.Sorted(maps.Keys(params.RequestItems)) {
			ka := params.RequestItems[name]
			t, err := s.getTable(&name)
			if err != nil {
				return err
			}
			type found struct {
				key []byte
				doc item
			}
			var hits []found
			seen := make(map[string]bool, len(ka.Keys))
			for _, k := range ka.Keys {
				key, err := t.tableKey(k)
				if err != nil {
					return err
				}
				if seen[string(key)] {
					return validationError("provided list of item keys contains duplicates")
				}
				seen[string(key)] = true
				if s.skip(name, k) {
					left := out.UnprocessedKeys[name]
					left.Keys = append(left.Keys, k)
					left.ProjectionExpression = ka.ProjectionExpression
					left.ExpressionAttributeNames = ka.ExpressionAttributeNames
					left.ConsistentRead = ka.ConsistentRead
					out.UnprocessedKeys[name] = left
					continue
				}
				doc, err := load(txn, key)
				if err != nil {
					return err
				}
				if doc != nil {
					hits = append(hits, found{key, doc})
				}
			}
			slices.SortFunc(hits, func(a, b found) int { return bytes.Compare(a.key, b.key) })
			for _, h := range hits {
				projected, err := project(ka.ProjectionExpression, ka.ExpressionAttributeNames, h.doc)
				if err != nil {
					return err
				}
				out.Responses[name] = append(out.Responses[name], projected[0])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Trace().Int("keys", total).Int("unprocessed_tables", len(out.UnprocessedKeys)).Msg("batch get")
	return out, nil
}
