package expr

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type UpdateOp string

const (
	OpSet            UpdateOp = "set"
	OpAdd            UpdateOp = "add"
	OpSubtract       UpdateOp = "subtract"
	OpAppend         UpdateOp = "append"
	OpRemove         UpdateOp = "remove"
	OpDelete         UpdateOp = "delete"
	OpSetIfNotExists UpdateOp = "setIfNotExists"
)

// IsIdempotent reports whether applying the operation twice has the same
// effect as applying it once.
func (op UpdateOp) IsIdempotent() bool {
	switch op {
	case OpAdd, OpSubtract, OpAppend:
		return false
	}
	return true
}

// allowed lists the attribute kinds each operation accepts; nil means any.
var allowed = map[UpdateOp][]attr.Kind{
	OpAdd:      {attr.KindNumber, attr.KindSet, attr.KindCustom},
	OpSubtract: {attr.KindNumber, attr.KindCustom},
	OpAppend:   {attr.KindList, attr.KindCustom},
	OpDelete:   {attr.KindSet, attr.KindCustom},
}

// UpdateStep is one operation of an update, targeting a logical path such as
// "map.list[0].leaf".
type UpdateStep struct {
	Op    UpdateOp
	Path  string
	Value any
	// Resolved marks values that were already resolved against the model,
	// so attribute setters are not applied twice.
	Resolved bool
}

// Updater collects update steps from path handles, for nested targets.
type Updater struct {
	steps []UpdateStep
}

func (u *Updater) add(op UpdateOp, p Path, v any) {
	step := UpdateStep{Op: op, Path: p.String(), Value: v}
	if p.Err() != nil {
		step.Path = ""
		step.Value = p.Err()
	}
	u.steps = append(u.steps, step)
}

func (u *Updater) Set(p Path, v any)            { u.add(OpSet, p, v) }
func (u *Updater) Add(p Path, v any)            { u.add(OpAdd, p, v) }
func (u *Updater) Subtract(p Path, v any)       { u.add(OpSubtract, p, v) }
func (u *Updater) Append(p Path, v any)         { u.add(OpAppend, p, v) }
func (u *Updater) Remove(p Path)                { u.add(OpRemove, p, nil) }
func (u *Updater) Delete(p Path, v any)         { u.add(OpDelete, p, v) }
func (u *Updater) SetIfNotExists(p Path, v any) { u.add(OpSetIfNotExists, p, v) }

// Steps returns the collected steps.
func (u *Updater) Steps() []UpdateStep { return append([]UpdateStep(nil), u.steps...) }

// Update is a compiled update expression. Callers may add raw key field
// clauses before rendering it.
type Update struct {
	reg     *Registry
	set     []string
	remove  []string
	add     []string
	del     []string
	touched map[string]bool
}

// Update compiles steps. Conditions compiled earlier on the same Builder
// count when checking that nested targets have existing ancestors.
func (b *Builder) Update(steps []UpdateStep) (*Update, error) {
	u := &Update{reg: b.reg, touched: make(map[string]bool)}
	for _, s := range steps {
		if err := b.compileStep(u, s); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (b *Builder) compileStep(u *Update, s UpdateStep) error {
	if err, ok := s.Value.(error); ok && s.Path == "" {
		return err
	}
	p := b.attrs.Parse(s.Path)
	if err := p.Err(); err != nil {
		return err
	}
	root, target := p.Root(), p.Attribute()

	if root.ReadOnly || target.ReadOnly || b.readOnly[root.Name] {
		return &InvalidUpdateOperationError{Operation: s.Op, Attribute: p.String(), Reason: "attribute is read-only"}
	}
	if kinds, ok := allowed[s.Op]; ok && !kindIn(target.Kind, kinds) {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		return &InvalidUpdateOperationError{Operation: s.Op, Attribute: p.String(), Allowed: names}
	}
	if s.Op == OpRemove && target.Required {
		return &InvalidUpdateOperationError{Operation: s.Op, Attribute: p.String(), Reason: "attribute is required"}
	}
	if err := b.checkAncestors(p); err != nil {
		return err
	}

	name := p.render(b.reg)
	u.touched[p.segs[0].field] = true
	switch s.Op {
	case OpRemove:
		u.remove = append(u.remove, name)
		return nil
	case OpSet, OpSetIfNotExists:
		if s.Value == nil {
			return nil
		}
		v := s.Value
		if !s.Resolved {
			rv, err := attr.ResolveValue(target, v, p.String())
			if err != nil {
				return err
			}
			v = rv
		}
		av, err := toAV(target, v, p.String())
		if err != nil {
			return err
		}
		if isEmptySet(target, v) {
			u.remove = append(u.remove, name)
			return nil
		}
		ph := b.reg.UpdateValue(p.leafToken(), av)
		if s.Op == OpSetIfNotExists {
			u.set = append(u.set, fmt.Sprintf("%s = if_not_exists(%s, %s)", name, name, ph))
		} else {
			u.set = append(u.set, fmt.Sprintf("%s = %s", name, ph))
		}
	case OpAdd:
		av, err := b.operand(target, s.Value, p)
		if err != nil {
			return err
		}
		u.add = append(u.add, fmt.Sprintf("%s %s", name, b.reg.UpdateValue(p.leafToken(), av)))
	case OpSubtract:
		av, err := b.operand(target, s.Value, p)
		if err != nil {
			return err
		}
		u.set = append(u.set, fmt.Sprintf("%s = %s - %s", name, name, b.reg.UpdateValue(p.leafToken(), av)))
	case OpAppend:
		av, err := b.operand(target, s.Value, p)
		if err != nil {
			return err
		}
		u.set = append(u.set, fmt.Sprintf("%s = list_append(%s, %s)", name, name, b.reg.UpdateValue(p.leafToken(), av)))
	case OpDelete:
		av, err := b.operand(target, s.Value, p)
		if err != nil {
			return err
		}
		u.del = append(u.del, fmt.Sprintf("%s %s", name, b.reg.UpdateValue(p.leafToken(), av)))
	default:
		return fmt.Errorf("unknown update operation %q", s.Op)
	}
	return nil
}

// operand converts the argument of add, subtract, append and delete. Single
// members are accepted where a set or list is expected.
func (b *Builder) operand(target attr.Attribute, v any, p Path) (types.AttributeValue, error) {
	if v == nil {
		return nil, &attr.ValidationError{Path: p.String(), Reason: "a value is required"}
	}
	switch target.Kind {
	case attr.KindSet, attr.KindList:
		if rv := reflect.ValueOf(v); rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			v = []any{v}
		}
		rv, err := attr.ResolveValue(target, v, p.String())
		if err != nil {
			return nil, err
		}
		if isEmptySet(target, rv) {
			return nil, &attr.ValidationError{Path: p.String(), Reason: "set operand cannot be empty"}
		}
		return toAV(target, rv, p.String())
	case attr.KindNumber:
		if !attr.IsNumber(v) {
			return nil, &attr.ValidationError{Path: p.String(), Reason: fmt.Sprintf("expected number, got %T", v)}
		}
	}
	return toAV(target, v, p.String())
}

// checkAncestors requires every map ancestor of a nested target to be implied
// by the model or stated by an exists condition, and every list element
// ancestor to be stated.
func (b *Builder) checkAncestors(p Path) error {
	for _, a := range p.ancestors() {
		if b.stated[a.String()] {
			continue
		}
		if a.endsWithIndex() {
			return &InvalidPathError{Path: p.String(), Ancestor: a.String(), Reason: "is a list element that is not known to exist; add an exists condition for it"}
		}
		if !a.Attribute().Implied() {
			return &InvalidPathError{Path: p.String(), Ancestor: a.String(), Reason: "is not required and has no default; add an exists condition for it"}
		}
	}
	return nil
}

func isEmptySet(a attr.Attribute, v any) bool {
	if a.Kind != attr.KindSet || v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() == 0
}

func kindIn(k attr.Kind, kinds []attr.Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// SetField adds a raw SET clause for a physical field, such as a key.
func (u *Update) SetField(field string, av types.AttributeValue) {
	name := u.reg.Name(field)
	u.set = append(u.set, fmt.Sprintf("%s = %s", name, u.reg.UpdateValue(field, av)))
	u.touched[field] = true
}

// RemoveField adds a raw REMOVE clause for a physical field.
func (u *Update) RemoveField(field string) {
	u.remove = append(u.remove, u.reg.Name(field))
	u.touched[field] = true
}

// Touches reports whether any clause writes the root field.
func (u *Update) Touches(field string) bool { return u.touched[field] }

func (u *Update) Empty() bool {
	return len(u.set)+len(u.remove)+len(u.add)+len(u.del) == 0
}

// String renders the expression as SET, REMOVE, ADD and DELETE sections.
func (u *Update) String() string {
	var sections []string
	for _, s := range []struct {
		verb    string
		clauses []string
	}{{"SET", u.set}, {"REMOVE", u.remove}, {"ADD", u.add}, {"DELETE", u.del}} {
		if len(s.clauses) > 0 {
			sections = append(sections, s.verb+" "+strings.Join(s.clauses, ", "))
		}
	}
	return strings.Join(sections, " ")
}
