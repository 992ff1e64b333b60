package entity

import (
	"context"
	"maps"
	"slices"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/acksell/ddbentity/dynamodb/expr"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type updateStep struct {
	op     expr.UpdateOp
	values Item
	names  []string
	data   func(a expr.Attrs, u *expr.Updater)
}

// UpdateOp modifies attributes of one item. An update creates the item if
// it does not exist; a patch fails instead.
type UpdateOp struct {
	e            *Entity
	key          Item
	steps        []updateStep
	conds        []expr.FilterFunc
	mustExist    bool
	returnValues types.ReturnValue
}

func (e *Entity) Update(key Item) UpdateOp {
	return UpdateOp{e: e, key: key}
}

// Patch is an update that fails if the item does not exist.
func (e *Entity) Patch(key Item) UpdateOp {
	return UpdateOp{e: e, key: key, mustExist: true}
}

func (op UpdateOp) with(s updateStep) UpdateOp {
	op.steps = append(slices.Clip(op.steps), s)
	return op
}

// Set assigns root attributes. Setters and watchers run as on a put.
func (op UpdateOp) Set(values Item) UpdateOp { return op.with(updateStep{op: expr.OpSet, values: values}) }

// Add adds to numbers and sets.
func (op UpdateOp) Add(values Item) UpdateOp { return op.with(updateStep{op: expr.OpAdd, values: values}) }

func (op UpdateOp) Subtract(values Item) UpdateOp {
	return op.with(updateStep{op: expr.OpSubtract, values: values})
}

// Append appends to lists.
func (op UpdateOp) Append(values Item) UpdateOp {
	return op.with(updateStep{op: expr.OpAppend, values: values})
}

// Delete removes members from sets.
func (op UpdateOp) Delete(values Item) UpdateOp {
	return op.with(updateStep{op: expr.OpDelete, values: values})
}

func (op UpdateOp) Remove(names ...string) UpdateOp {
	return op.with(updateStep{op: expr.OpRemove, names: names})
}

// SetIfNotExists assigns attributes that are not stored yet.
func (op UpdateOp) SetIfNotExists(values Item) UpdateOp {
	return op.with(updateStep{op: expr.OpSetIfNotExists, values: values})
}

// Data adds operations on nested paths:
//
//	op.Data(func(a expr.Attrs, u *expr.Updater) {
//		u.Set(a.Get("address").Field("city"), "Oslo")
//		u.Append(a.Get("events"), event)
//	})
func (op UpdateOp) Data(fn func(a expr.Attrs, u *expr.Updater)) UpdateOp {
	return op.with(updateStep{data: fn})
}

func (op UpdateOp) Where(fns ...expr.FilterFunc) UpdateOp {
	op.conds = append(slices.Clip(op.conds), fns...)
	return op
}

func (op UpdateOp) ReturnValues(rv types.ReturnValue) UpdateOp {
	op.returnValues = rv
	return op
}

func (op UpdateOp) Params() (*dynamodb.UpdateItemInput, error) {
	e := op.e
	primary := e.schema.Primary()
	key, err := e.primaryKey(op.key)
	if err != nil {
		return nil, err
	}
	keyComposites, err := e.compositeValues(op.key, primary.Composite())
	if err != nil {
		return nil, err
	}

	b := expr.NewBuilder(e.model())
	b.ReadOnly(primary.Composite()...)
	conds := op.conds
	if op.mustExist {
		conds = append([]expr.FilterFunc{e.keyExistence(true)}, conds...)
	}
	cond, err := b.Where(conds...)
	if err != nil {
		return nil, err
	}

	composites := e.compositeIndexes()
	known := maps.Clone(keyComposites)
	set := make(map[string]bool)
	removed := make(map[string]bool)
	var steps []expr.UpdateStep
	for _, s := range op.steps {
		switch {
		case s.data != nil:
			var up expr.Updater
			s.data(b.Attrs(), &up)
			for _, st := range up.Steps() {
				p := b.Attrs().Parse(st.Path)
				if p.Err() == nil && len(composites[p.Root().Name]) > 0 {
					return nil, &expr.InvalidUpdateOperationError{Operation: st.Op, Attribute: st.Path, Reason: "key composite attributes can only be changed with Set or Remove"}
				}
				steps = append(steps, st)
			}
		case s.op == expr.OpRemove:
			for _, name := range s.names {
				steps = append(steps, expr.UpdateStep{Op: expr.OpRemove, Path: name})
				removed[name] = true
			}
		case s.op == expr.OpSet:
			if err := e.checkNames(s.values); err != nil {
				return nil, err
			}
			resolved, err := e.model().Resolve(s.values, attr.ModeUpdate)
			if err != nil {
				return nil, err
			}
			for _, name := range sortedNames(resolved) {
				steps = append(steps, expr.UpdateStep{Op: expr.OpSet, Path: name, Value: resolved[name], Resolved: true})
				known[name] = resolved[name]
				set[name] = true
			}
		default:
			if err := e.checkNames(s.values); err != nil {
				return nil, err
			}
			for _, name := range sortedNames(s.values) {
				if len(composites[name]) > 0 {
					return nil, &expr.InvalidUpdateOperationError{Operation: s.op, Attribute: name, Reason: "key composite attributes can only be changed with Set or Remove"}
				}
				steps = append(steps, expr.UpdateStep{Op: s.op, Path: name, Value: s.values[name]})
			}
		}
	}

	u, err := b.Update(steps)
	if err != nil {
		return nil, err
	}
	var incomplete *index.IncompleteCompositeAttributesError
	for _, ix := range e.schema.Indexes() {
		if ix.IsPrimary() {
			continue
		}
		err := e.updateIndexKeys(u, ix, known, set, removed)
		if ie, ok := err.(*index.IncompleteCompositeAttributesError); ok {
			if incomplete == nil {
				incomplete = ie
			} else {
				incomplete.Merge(ie)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	if incomplete != nil {
		return nil, incomplete
	}

	// Updates may create the item, so it must carry its identity and the
	// attributes behind its table key.
	for _, f := range sortedNames(e.identity()) {
		if !u.Touches(f) {
			u.SetField(f, e.identity()[f])
		}
	}
	for _, name := range sortedNames(keyComposites) {
		a, _ := e.model().Attribute(name)
		if _, isKey := key[a.FieldName()]; isKey || u.Touches(a.FieldName()) {
			continue
		}
		av, err := attr.ToAttributeValue(a, keyComposites[name])
		if err != nil {
			return nil, err
		}
		u.SetField(a.FieldName(), av)
	}

	return &dynamodb.UpdateItemInput{
		TableName:                 e.tableName(),
		Key:                       key,
		UpdateExpression:          optional(u.String()),
		ConditionExpression:       optional(cond),
		ExpressionAttributeNames:  b.Registry().Names(),
		ExpressionAttributeValues: b.Registry().Values(),
		ReturnValues:              op.returnValues,
	}, nil
}

// updateIndexKeys keeps the written key fields of a secondary index in line
// with an update. Direct key fields are left alone: they are the attributes
// themselves. A written field is recomputed when one of its composites is set
// and removed when one is removed; composites of the table key never change.
// Conditional indexes are also re-evaluated when an attribute read by the
// condition changes. Setting some of their composites without the rest fails
// whatever the condition says, and every input of the condition must be
// supplied to decide it.
func (e *Entity) updateIndexKeys(u *expr.Update, ix *index.Index, known Item, set, removed map[string]bool) error {
	primary := e.schema.Primary().Composite()
	var fields, composite []string
	for _, f := range ix.Fields() {
		if _, direct := ix.IsDirectField(f); direct {
			continue
		}
		fields = append(fields, f)
		for _, c := range ix.FieldComposite(f) {
			if !slices.Contains(primary, c) && !slices.Contains(composite, c) {
				composite = append(composite, c)
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	touched, cleared := false, false
	for _, c := range composite {
		touched = touched || set[c]
		cleared = cleared || removed[c]
	}
	removeKeys := func() {
		for _, f := range fields {
			u.RemoveField(f)
		}
	}
	var missing []string
	for _, f := range fields {
		for _, c := range ix.FieldComposite(f) {
			if v, ok := known[c]; (!ok || v == nil) && !slices.Contains(missing, c) {
				missing = append(missing, c)
			}
		}
	}
	writeKeys := func() error {
		for _, f := range fields {
			av, err := ix.Field(f, known)
			if err != nil {
				return err
			}
			u.SetField(f, av)
		}
		return nil
	}

	if !ix.HasCondition() {
		switch {
		case cleared:
			removeKeys()
			return nil
		case !touched:
			return nil
		case len(missing) > 0:
			return &index.IncompleteCompositeAttributesError{Missing: missing, Indexes: []string{ix.Name()}}
		}
		return writeKeys()
	}

	inputs := ix.ConditionAttributes()
	changed := touched || cleared
	var absent []string
	for _, c := range inputs {
		changed = changed || set[c] || removed[c]
		if _, ok := known[c]; !ok && !removed[c] {
			absent = append(absent, c)
		}
	}
	switch {
	case !changed:
		return nil
	case cleared:
		removeKeys()
		return nil
	case touched && len(missing) > 0:
		return &index.InvalidIndexCompositeAttributesError{Index: ix.Name(), Missing: missing}
	case len(absent) > 0:
		return &index.InvalidIndexCompositeAttributesError{Index: ix.Name(), Missing: absent}
	case !ix.Condition(known):
		removeKeys()
		return nil
	case len(missing) > 0:
		return &index.InvalidIndexCompositeAttributesError{Index: ix.Name(), Missing: missing}
	}
	return writeKeys()
}

// compositeIndexes maps every composite attribute to the indexes using it.
func (e *Entity) compositeIndexes() map[string][]string {
	out := make(map[string][]string)
	for _, ix := range e.schema.Indexes() {
		for _, c := range ix.Composite() {
			out[c] = append(out[c], ix.Name())
		}
	}
	return out
}

func (e *Entity) checkNames(values Item) error {
	for name := range values {
		if _, ok := e.model().Attribute(name); !ok {
			return &expr.InvalidPathError{Path: name, Reason: "unknown attribute"}
		}
	}
	return nil
}

// Go runs the update and returns the attributes selected by ReturnValues,
// or nil when none were requested.
func (op UpdateOp) Go(ctx context.Context) (Item, error) {
	in, err := op.Params()
	if err != nil {
		return nil, err
	}
	if err := op.e.requireClient(); err != nil {
		return nil, err
	}
	name := "update"
	if op.mustExist {
		name = "patch"
	}
	log := op.e.logger(name)
	log.Debug().Interface("params", in).Msg("executing")
	out, err := op.e.client.UpdateItem(ctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("store request failed")
		return nil, storeError(name, err)
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	return op.e.parse(out.Attributes)
}

func (op UpdateOp) transactWrite() (types.TransactWriteItem, error) {
	in, err := op.Params()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 in.TableName,
		Key:                       in.Key,
		UpdateExpression:          in.UpdateExpression,
		ConditionExpression:       in.ConditionExpression,
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
	}}, nil
}

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
