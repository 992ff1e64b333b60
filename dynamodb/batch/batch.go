// Package batch splits batch requests into store-sized chunks and reconciles
// the unordered, possibly partial responses with the requested keys.
package batch

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"
)

// Store limits per request.
const (
	MaxGetItems   = 100
	MaxWriteItems = 25
)

// Item is a raw item or key as sent to or returned by the store.
type Item = map[string]types.AttributeValue

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Run calls fn for every chunk, with at most limit calls in flight. The first
// error cancels the context passed to the remaining calls, and chunks not
// started by then are skipped. Run returns the positions of the chunks that
// did not complete, in order, along with the first error. The work of the
// completed chunks stands.
func Run[T any](ctx context.Context, chunks [][]T, limit int, fn func(ctx context.Context, i int, chunk []T) error) ([]int, error) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	done := make([]bool, len(chunks))
	for i, c := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i, c); err != nil {
				return err
			}
			done[i] = true
			return nil
		})
	}
	err := g.Wait()
	var failed []int
	for i, ok := range done {
		if !ok {
			failed = append(failed, i)
		}
	}
	return failed, err
}

// Fingerprint renders the values of fields in key as a comparable string.
// It reports false if key lacks one of the fields or holds a non-key type.
func Fingerprint(key Item, fields []string) (string, bool) {
	var b strings.Builder
	for _, f := range fields {
		var typ, val string
		switch v := key[f].(type) {
		case *types.AttributeValueMemberS:
			typ, val = "S", v.Value
		case *types.AttributeValueMemberN:
			typ, val = "N", v.Value
		case *types.AttributeValueMemberB:
			typ, val = "B", base64.StdEncoding.EncodeToString(v.Value)
		default:
			return "", false
		}
		// Length prefixes keep values containing separators unambiguous.
		fmt.Fprintf(&b, "%d:%s=%s:%d:%s;", len(f), f, typ, len(val), val)
	}
	return b.String(), true
}

// Outcome is the reconciled result of a batch get.
type Outcome struct {
	// Items holds the returned items. With preserved order there is one slot
	// per requested key and a nil slot marks an item that was not returned.
	Items []Item
	// Unprocessed holds the positions in the request of keys the store left
	// unprocessed, in request order.
	Unprocessed []int
	// Unmatched holds unprocessed keys that match no requested key.
	Unmatched []Item
}

// Reconcile matches responses and unprocessed keys to requested by comparing
// every key field in fields. Responses that match no requested key are
// dropped.
func Reconcile(requested []Item, fields []string, responses, unprocessed []Item, preserveOrder bool) Outcome {
	fields = slices.Sorted(slices.Values(fields))
	positions := make(map[string][]int, len(requested))
	for i, k := range requested {
		if fp, ok := Fingerprint(k, fields); ok {
			positions[fp] = append(positions[fp], i)
		}
	}

	var out Outcome
	if preserveOrder {
		out.Items = make([]Item, len(requested))
	}
	for _, item := range responses {
		fp, ok := Fingerprint(item, fields)
		if !ok {
			continue
		}
		pos, ok := positions[fp]
		if !ok {
			continue
		}
		if !preserveOrder {
			out.Items = append(out.Items, item)
			continue
		}
		for _, i := range pos {
			out.Items[i] = item
		}
	}

	seen := make(map[int]bool)
	for _, k := range unprocessed {
		fp, ok := Fingerprint(k, fields)
		pos, matched := positions[fp]
		if !ok || !matched {
			out.Unmatched = append(out.Unmatched, k)
			continue
		}
		for _, i := range pos {
			if !seen[i] {
				seen[i] = true
				out.Unprocessed = append(out.Unprocessed, i)
			}
		}
	}
	slices.Sort(out.Unprocessed)
	return out
}
