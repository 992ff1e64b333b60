package ddbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// TransactWriteItems applies puts, updates, deletes and condition checks
// atomically. When any condition fails nothing is written and the
// TransactionCanceledException carries one reason per request, in order.
func (s *Store) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if params == nil || len(params.TransactItems) == 0 {
		return nil, validationError("transact items are required")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validationError(fmt.Sprintf("too many transact items: %d", len(params.TransactItems)))
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false
	err := s.db.Update(func(txn *badger.Txn) error {
		targets := make(map[string]bool, len(params.TransactItems))
		for i, ti := range params.TransactItems {
			t, key, err := s.transactTarget(ti)
			if err != nil {
				return fmt.Errorf("transact item %d: %w", i, err)
			}
			bk, err := t.tableKey(key)
			if err != nil {
				return fmt.Errorf("transact item %d: %w", i, err)
			}
			id := t.definition.Name + "\x00" + string(bk)
			if targets[id] {
				return validationError("transaction request cannot include multiple operations on one item")
			}
			targets[id] = true

			err = s.transactApply(txn, t, ti)
			var failed *types.ConditionalCheckFailedException
			switch {
			case errors.As(err, &failed):
				canceled = true
				reasons[i] = types.CancellationReason{
					Code:    ptrStr("ConditionalCheckFailed"),
					Message: ptrStr("The conditional request failed"),
					Item:    failed.Item,
				}
			case err != nil:
				return fmt.Errorf("transact item %d: %w", i, err)
			default:
				reasons[i] = types.CancellationReason{Code: ptrStr("None")}
			}
		}
		if canceled {
			return errTransactionCanceled
		}
		return nil
	})
	if errors.Is(err, errTransactionCanceled) {
		s.log.Debug().Int("items", len(reasons)).Msg("transaction canceled")
		return nil, &types.TransactionCanceledException{
			Message:             ptrStr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	if err != nil {
		return nil, err
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

var errTransactionCanceled = errors.New("transaction canceled")

// transactTarget returns the table and key a transact item writes.
func (s *Store) transactTarget(ti types.TransactWriteItem) (*tableSchema, item, error) {
	var (
		name *string
		key  item
		n    int
	)
	if ti.Put != nil {
		name, n = ti.Put.TableName, n+1
		if t, err := s.getTable(name); err == nil {
			key = keyAttributes(ti.Put.Item, t.definition.KeyDefinitions.Fields())
		}
	}
	if ti.Update != nil {
		name, key, n = ti.Update.TableName, ti.Update.Key, n+1
	}
	if ti.Delete != nil {
		name, key, n = ti.Delete.TableName, ti.Delete.Key, n+1
	}
	if ti.ConditionCheck != nil {
		name, key, n = ti.ConditionCheck.TableName, ti.ConditionCheck.Key, n+1
	}
	if n != 1 {
		return nil, nil, validationError("a transact item must hold exactly one operation")
	}
	t, err := s.getTable(name)
	if err != nil {
		return nil, nil, err
	}
	return t, key, nil
}

func (s *Store) transactApply(txn *badger.Txn, t *tableSchema, ti types.TransactWriteItem) error {
	switch {
	case ti.Put != nil:
		_, err := t.put(txn, putRequest{
			item:       ti.Put.Item,
			condition:  ti.Put.ConditionExpression,
			names:      ti.Put.ExpressionAttributeNames,
			values:     ti.Put.ExpressionAttributeValues,
			failReturn: ti.Put.ReturnValuesOnConditionCheckFailure,
		})
		return err
	case ti.Update != nil:
		if ti.Update.UpdateExpression == nil {
			return validationError("update expression is required")
		}
		_, err := t.update(txn, updateRequest{
			key:        ti.Update.Key,
			update:     ti.Update.UpdateExpression,
			condition:  ti.Update.ConditionExpression,
			names:      ti.Update.ExpressionAttributeNames,
			values:     ti.Update.ExpressionAttributeValues,
			failReturn: ti.Update.ReturnValuesOnConditionCheckFailure,
		})
		return err
	case ti.Delete != nil:
		_, err := t.delete(txn, deleteRequest{
			key:        ti.Delete.Key,
			condition:  ti.Delete.ConditionExpression,
			names:      ti.Delete.ExpressionAttributeNames,
			values:     ti.Delete.ExpressionAttributeValues,
			failReturn: ti.Delete.ReturnValuesOnConditionCheckFailure,
		})
		return err
	default:
		c := ti.ConditionCheck
		if c.ConditionExpression == nil {
			return validationError("condition expression is required")
		}
		key, err := t.tableKey(c.Key)
		if err != nil {
			return err
		}
		current, err := load(txn, key)
		if err != nil {
			return err
		}
		ok, err := checkCondition(c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues, current)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed(current, c.ReturnValuesOnConditionCheckFailure)
		}
		return nil
	}
}
