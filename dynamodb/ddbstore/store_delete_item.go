package ddbstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// DeleteItem removes an item by its primary key. Deleting a missing item
// succeeds unless a condition says otherwise.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || params.Key == nil {
		return nil, validationError("key is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, validationError(fmt.Sprintf("return values %s is not valid for DeleteItem", params.ReturnValues))
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}

	del := deleteRequest{
		key:        params.Key,
		condition:  params.ConditionExpression,
		names:      params.ExpressionAttributeNames,
		values:     params.ExpressionAttributeValues,
		failReturn: params.ReturnValuesOnConditionCheckFailure,
	}
	var old item
	if err := s.db.Update(func(txn *badger.Txn) error {
		old, err = t.delete(txn, del)
		return err
	}); err != nil {
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = old
	}
	return out, nil
}

type deleteRequest struct {
	key        item
	condition  *string
	names      map[string]string
	values     map[string]types.AttributeValue
	failReturn types.ReturnValuesOnConditionCheckFailure
}

func (t *tableSchema) delete(txn *badger.Txn, r deleteRequest) (item, error) {
	key, err := t.tableKey(r.key)
	if err != nil {
		return nil, err
	}
	old, err := load(txn, key)
	if err != nil {
		return nil, err
	}
	ok, err := checkCondition(r.condition, r.names, r.values, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, r.failReturn)
	}
	if old == nil {
		return nil, nil
	}
	return old, t.remove(txn, key, old)
}
