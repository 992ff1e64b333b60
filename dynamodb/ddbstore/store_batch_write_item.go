package ddbstore

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const maxBatchWriteItems = 25

// BatchWriteItem performs multiple put and delete requests in one badger
// transaction. Requests rejected by StoreOptions.UnprocessedFunc are returned
// in UnprocessedItems.
func (s *Store) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationError("request items are required")
	}
	total := 0
	for _, reqs := range params.RequestItems {
		total += len(reqs)
	}
	if total > maxBatchWriteItems {
		return nil, validationError(fmt.Sprintf("too many items in the BatchWriteItem call: %d", total))
	}

	unprocessed := make(map[string][]types.WriteRequest)
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, name := range slices.Sorted(maps.Keys(params.RequestItems)) {
			t, err := s.getTable(&name)
			if err != nil {
				return err
			}
			seen := make(map[string]bool)
			for _, req := range params.RequestItems[name] {
				var key item
				switch {
				case req.PutRequest != nil && req.DeleteRequest == nil:
					key = keyAttributes(req.PutRequest.Item, t.definition.KeyDefinitions.Fields())
				case req.DeleteRequest != nil && req.PutRequest == nil:
					key = req.DeleteRequest.Key
				default:
					return validationError("a write request must hold exactly one of put or delete")
				}
				bk, err := t.tableKey(key)
				if err != nil {
					return err
				}
				if seen[string(bk)] {
					return validationError("provided list of item keys contains duplicates")
				}
				seen[string(bk)] = true

				if s.skip(name, key) {
					unprocessed[name] = append(unprocessed[name], req)
					continue
				}
				if req.PutRequest != nil {
					_, err = t.put(txn, putRequest{item: req.PutRequest.Item})
				} else {
					_, err = t.delete(txn, deleteRequest{key: key})
				}
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Trace().Int("requests", total).Int("unprocessed_tables", len(unprocessed)).Msg("batch write")
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}
