package ddbstore

import (
	"errors"
	"fmt"

	"github.com/acksell/ddbentity/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

type item = map[string]types.AttributeValue

func ptrStr(s string) *string {
	return &s
}

func conditionFailed(old item, returnOld types.ReturnValuesOnConditionCheckFailure) error {
	err := &types.ConditionalCheckFailedException{Message: ptrStr("The conditional request failed")}
	if returnOld == types.ReturnValuesOnConditionCheckFailureAllOld {
		err.Item = old
	}
	return err
}

// tableKey validates the key of a request and returns its badger key.
func (t *tableSchema) tableKey(key item) ([]byte, error) {
	if len(key) != len(t.definition.KeyDefinitions.Fields()) {
		return nil, validationError("the provided key element does not match the schema")
	}
	k, err := t.space.encode(key)
	if err != nil {
		return nil, validationError(fmt.Sprintf("the provided key element does not match the schema: %v", err))
	}
	return k, nil
}

// load reads the item stored at key; nil means it does not exist.
func load(txn *badger.Txn, key []byte) (item, error) {
	bi, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out item
	err = bi.Value(func(val []byte) error {
		out, err = deserializeItem(val)
		return err
	})
	return out, err
}

// checkCondition evaluates a condition expression against the current item.
func checkCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, current item) (bool, error) {
	ok, err := ddbexpr.Matches(expr, ddbexpr.Input{Names: names, Values: values}, current)
	if err != nil {
		return false, validationError(err.Error())
	}
	return ok, nil
}

// validateGSIKeys rejects items carrying a GSI key attribute of the wrong type.
func (t *tableSchema) validateGSIKeys(it item) error {
	for _, ks := range t.gsis {
		if !hasKeys(ks.keys, it) {
			continue
		}
		if _, err := ks.encode(it); err != nil {
			return validationError(fmt.Sprintf("one or more parameter values were invalid: %v", err))
		}
	}
	return nil
}

// write stores next in place of prev, keeping every GSI entry in step. prev
// may be nil.
func (t *tableSchema) write(txn *badger.Txn, key []byte, prev, next item) error {
	data, err := serializeItem(next)
	if err != nil {
		return err
	}
	if err := t.unindex(txn, prev); err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}
	for name, ks := range t.gsis {
		gk, err := ks.encode(next)
		if err != nil {
			// A partial or mistyped index key leaves the item out of the index.
			continue
		}
		if err := txn.Set(gk, data); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	return nil
}

// remove deletes prev and its GSI entries.
func (t *tableSchema) remove(txn *badger.Txn, key []byte, prev item) error {
	if err := t.unindex(txn, prev); err != nil {
		return err
	}
	return txn.Delete(key)
}

func (t *tableSchema) unindex(txn *badger.Txn, prev item) error {
	if prev == nil {
		return nil
	}
	for _, ks := range t.gsis {
		gk, err := ks.encode(prev)
		if err != nil {
			continue
		}
		if err := txn.Delete(gk); err != nil {
			return err
		}
	}
	return nil
}

// project applies a projection expression to each item.
func project(expr *string, names map[string]string, items ...item) ([]item, error) {
	if expr == nil || *expr == "" {
		return items, nil
	}
	paths, err := ddbexpr.ParseProjection(*expr, names)
	if err != nil {
		return nil, validationError(err.Error())
	}
	out := make([]item, len(items))
	for i, it := range items {
		out[i] = ddbexpr.Project(it, paths)
	}
	return out, nil
}

// keyAttributes copies the named attributes out of it.
func keyAttributes(it item, fields []string) item {
	out := make(item, len(fields))
	for _, f := range fields {
		if v, ok := it[f]; ok {
			out[f] = v
		}
	}
	return out
}

func incrementBytes(b []byte) []byte {
	result := make([]byte, len(b))
	copy(result, b)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xFF {
			result[i]++
			return result
		}
		result[i] = 0
	}
	return append(result, 0x00)
}
