// Package batch runs independent outbound calls in bounded concurrent groups.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const DefaultSize = 10

// Result is the outcome of one item. Results keep input order.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run processes items in consecutive batches of size, with every item of a
// batch running concurrently. A failing item does not cancel its siblings or
// later batches; only ctx cancellation stops the run early.
func Run[In, Out any](ctx context.Context, items []In, size int, fn func(ctx context.Context, item In) (Out, error)) []Result[Out] {
	if size <= 0 {
		size = DefaultSize
	}

	results := make([]Result[Out], len(items))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))

		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				results[i] = Result[Out]{Index: i, Err: err}
			}
			break
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				v, err := fn(ctx, items[i])
				results[i] = Result[Out]{Index: i, Value: v, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

// Failed returns the failing results only.
func Failed[T any](results []Result[T]) []Result[T] {
	var out []Result[T]
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
