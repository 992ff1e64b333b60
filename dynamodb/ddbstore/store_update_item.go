package ddbstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/acksell/ddbentity/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// UpdateItem updates an existing item or creates a new one.
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
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

	upd := updateRequest{
		key:        params.Key,
		update:     params.UpdateExpression,
		condition:  params.ConditionExpression,
		names:      params.ExpressionAttributeNames,
		values:     params.ExpressionAttributeValues,
		failReturn: params.ReturnValuesOnConditionCheckFailure,
	}
	var res updateResult
	if err := s.db.Update(func(txn *badger.Txn) error {
		res, err = t.update(txn, upd)
		return err
	}); err != nil {
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case "", types.ReturnValueNone:
	case types.ReturnValueAllOld:
		out.Attributes = res.old
	case types.ReturnValueAllNew:
		out.Attributes = res.new
	case types.ReturnValueUpdatedOld:
		out.Attributes = keyAttributes(res.old, res.touched)
	case types.ReturnValueUpdatedNew:
		out.Attributes = keyAttributes(res.new, res.touched)
	default:
		return nil, validationError(fmt.Sprintf("unknown return values %s", params.ReturnValues))
	}
	if len(out.Attributes) == 0 {
		out.Attributes = nil
	}
	return out, nil
}

type updateRequest struct {
	key        item
	update     *string
	condition  *string
	names      map[string]string
	values     map[string]types.AttributeValue
	failReturn types.ReturnValuesOnConditionCheckFailure
}

type updateResult struct {
	old, new item
	touched  []string
}

// update applies the update expression inside txn, creating the item when
// it does not exist.
func (t *tableSchema) update(txn *badger.Txn, r updateRequest) (updateResult, error) {
	key, err := t.tableKey(r.key)
	if err != nil {
		return updateResult{}, err
	}
	var u ddbexpr.Update
	if r.update != nil {
		u, err = ddbexpr.ParseUpdate(*r.update, ddbexpr.Input{Names: r.names, Values: r.values})
		if err != nil {
			return updateResult{}, validationError(err.Error())
		}
	}

	old, err := load(txn, key)
	if err != nil {
		return updateResult{}, err
	}
	ok, err := checkCondition(r.condition, r.names, r.values, old)
	if err != nil {
		return updateResult{}, err
	}
	if !ok {
		return updateResult{}, conditionFailed(old, r.failReturn)
	}

	base := ddbexpr.Clone(old)
	if base == nil {
		base = make(item, len(r.key))
	}
	for k, v := range r.key {
		base[k] = v
	}
	var next item
	var touched []string
	if r.update == nil {
		next = base
	} else {
		next, touched, err = u.Apply(base)
		if err != nil {
			return updateResult{}, validationError(err.Error())
		}
	}
	for _, f := range t.definition.KeyDefinitions.Fields() {
		if slices.Contains(touched, f) {
			return updateResult{}, validationError(fmt.Sprintf("cannot update attribute %s: this attribute is part of the key", f))
		}
	}
	if err := t.validateGSIKeys(next); err != nil {
		return updateResult{}, err
	}
	if err := t.write(txn, key, old, next); err != nil {
		return updateResult{}, err
	}
	return updateResult{old: old, new: next, touched: touched}, nil
}
