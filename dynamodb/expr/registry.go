// Package expr compiles filters, conditions, updates and key conditions into
// DynamoDB expression strings with collision-free name and value placeholders.
package expr

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Registry allocates ExpressionAttributeNames and ExpressionAttributeValues
// for one request.
type Registry struct {
	names   map[string]string // placeholder -> field
	byField map[string]string // field -> placeholder
	values  map[string]types.AttributeValue
	counts  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		names:   make(map[string]string),
		byField: make(map[string]string),
		values:  make(map[string]types.AttributeValue),
		counts:  make(map[string]int),
	}
}

// Name returns the placeholder for a physical field, allocating it on first
// use. Fields that sanitize to the same token get a numeric suffix.
func (r *Registry) Name(field string) string {
	if p, ok := r.byField[field]; ok {
		return p
	}
	base := "#" + sanitize(field)
	p := base
	for i := 1; ; i++ {
		if _, taken := r.names[p]; !taken {
			break
		}
		p = fmt.Sprintf("%s_%d", base, i)
	}
	r.names[p] = field
	r.byField[field] = p
	return p
}

// FixedName binds an exact placeholder to field. It panics if the placeholder
// already names a different field, which only happens on programmer error.
func (r *Registry) FixedName(placeholder, field string) string {
	if existing, ok := r.names[placeholder]; ok {
		if existing != field {
			panic(fmt.Sprintf("expr: placeholder %s already names %q", placeholder, existing))
		}
		return placeholder
	}
	r.names[placeholder] = field
	if _, ok := r.byField[field]; !ok {
		r.byField[field] = placeholder
	}
	return placeholder
}

// Value allocates a filter value placeholder such as :amount0.
func (r *Registry) Value(token string, av types.AttributeValue) string {
	return r.allocValue(":"+sanitize(token), "", av)
}

// UpdateValue allocates an update value placeholder such as :amount_u0.
func (r *Registry) UpdateValue(token string, av types.AttributeValue) string {
	return r.allocValue(":"+sanitize(token), "_u", av)
}

// FixedValue binds an exact placeholder, such as :pk, to av.
func (r *Registry) FixedValue(placeholder string, av types.AttributeValue) string {
	r.values[placeholder] = av
	return placeholder
}

func (r *Registry) allocValue(base, sep string, av types.AttributeValue) string {
	key := base + sep
	for {
		n := r.counts[key]
		r.counts[key] = n + 1
		p := fmt.Sprintf("%s%d", key, n)
		if _, taken := r.values[p]; !taken {
			r.values[p] = av
			return p
		}
	}
}

// Names returns the allocated names, or nil when none were allocated.
func (r *Registry) Names() map[string]string {
	if len(r.names) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.names))
	for k, v := range r.names {
		out[k] = v
	}
	return out
}

// Values returns the allocated values, or nil when none were allocated.
func (r *Registry) Values() map[string]types.AttributeValue {
	if len(r.values) == 0 {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "attr"
	}
	return b.String()
}
