package ddbstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const maxTransactItems = 100

// TransactGetItems reads multiple items from one snapshot. Responses align
// with the requests; a missing item has an empty response.
func (s *Store) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || len(params.TransactItems) == 0 {
		return nil, validationError("transact items are required")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validationError(fmt.Sprintf("too many transact items: %d", len(params.TransactItems)))
	}

	out := &dynamodb.TransactGetItemsOutput{
		Responses: make([]types.ItemResponse, 0, len(params.TransactItems)),
	}
	err := s.db.View(func(txn *badger.Txn) error {
		for i, ti := range params.TransactItems {
			if ti.Get == nil {
				return validationError(fmt.Sprintf("transact item %d has no get", i))
			}
			t, err := s.getTable(ti.Get.TableName)
			if err != nil {
				return err
			}
			key, err := t.tableKey(ti.Get.Key)
			if err != nil {
				return err
			}
			doc, err := load(txn, key)
			if err != nil {
				return err
			}
			if doc == nil {
				out.Responses = append(out.Responses, types.ItemResponse{})
				continue
			}
			projected, err := project(ti.Get.ProjectionExpression, ti.Get.ExpressionAttributeNames, doc)
			if err != nil {
				return err
			}
			out.Responses = append(out.Responses, types.ItemResponse{Item: projected[0]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
