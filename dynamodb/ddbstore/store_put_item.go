package ddbstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// PutItem creates or replaces an item.
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || params.Item == nil {
		return nil, validationError("item is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, validationError(fmt.Sprintf("return values %s is not valid for PutItem", params.ReturnValues))
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}

	put := putRequest{
		item:       params.Item,
		condition:  params.ConditionExpression,
		names:      params.ExpressionAttributeNames,
		values:     params.ExpressionAttributeValues,
		failReturn: params.ReturnValuesOnConditionCheckFailure,
	}
	var old item
	if err := s.db.Update(func(txn *badger.Txn) error {
		old, err = t.put(txn, put)
		return err
	}); err != nil {
		return nil, err
	}
	s.log.Trace().Str("table", t.definition.Name).Bool("replaced", old != nil).Msg("put item")

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = old
	}
	return out, nil
}

type putRequest struct {
	item       item
	condition  *string
	names      map[string]string
	values     map[string]types.AttributeValue
	failReturn types.ReturnValuesOnConditionCheckFailure
}

// put writes the item inside txn and returns the item it replaced.
func (t *tableSchema) put(txn *badger.Txn, r putRequest) (item, error) {
	key, err := t.space.encode(r.item)
	if err != nil {
		return nil, validationError(fmt.Sprintf("one or more parameter values were invalid: %v", err))
	}
	if err := t.validateGSIKeys(r.item); err != nil {
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
	return old, t.write(txn, key, old, r.item)
}
