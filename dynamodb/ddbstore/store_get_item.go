package ddbstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/dgraph-io/badger/v4"
)

// GetItem retrieves a single item by its primary key. A missing item yields
// an output without Item.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || params.Key == nil {
		return nil, validationError("key is required")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.tableKey(params.Key)
	if err != nil {
		return nil, err
	}

	var found item
	if err := s.db.View(func(txn *badger.Txn) error {
		found, err = load(txn, key)
		return err
	}); err != nil {
		return nil, err
	}
	if found == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	projected, err := project(params.ProjectionExpression, params.ExpressionAttributeNames, found)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: projected[0]}, nil
}
