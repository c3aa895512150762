// Package pipeline: standard stages for common pipeline patterns.

package pipeline

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"
)

// Identity returns a stage that passes the input through unchanged.
// Useful as a no-op or as a placeholder.
func Identity() Stage {
	return Transform("identity", func(ctx context.Context, input any) (any, error) {
		return input, nil
	})
}

// Tap returns a stage that calls fn(ctx, input) then passes input through unchanged.
// Use for logging, metrics, or side effects without changing the value.
func Tap(fn func(context.Context, any)) Stage {
	return Transform("tap", func(ctx context.Context, input any) (any, error) {
		fn(ctx, input)
		return input, nil
	})
}

// Validate returns a stage that passes input through only if predicate(v) is true.
// Otherwise it returns an error with errMsg. Input must be of type T.
func Validate[T any](predicate func(T) bool, errMsg string) Stage {
	if errMsg == "" {
		errMsg = "validation failed"
	}
	return Transform("validate", func(ctx context.Context, input any) (any, error) {
		v, ok := input.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("validate: expected %T, got %T", zero, input)
		}
		if !predicate(v) {
			return nil, fmt.Errorf("%s", errMsg)
		}
		return input, nil
	})
}

// Constant returns a stage that ignores input and always outputs value.
func Constant(value any) Stage {
	return Transform("constant", func(ctx context.Context, _ any) (any, error) {
		return value, nil
	})
}

// DropNil returns a filter that discards nil values. Steps that have nothing
// to say about an input return nil, and DropNil keeps those out of the stream.
func DropNil() Stage {
	return Filter("drop_nil", func(ctx context.Context, input any) (bool, error) {
		if input == nil {
			return false, nil
		}
		if rec, ok := input.(*Record); ok && rec == nil {
			return false, nil
		}
		return true, nil
	})
}

// Limit returns a stage that passes the first n values and then stops the run
// with ErrStop. The returned stage counts across calls; build a new one for
// every run.
func Limit(n int) Stage {
	seen := 0
	return FlatMap("limit", func(ctx context.Context, input any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			if seen >= n {
				yield(nil, ErrStop)
				return
			}
			seen++
			if !yield(input, nil) {
				return
			}
			if seen >= n {
				yield(nil, ErrStop)
			}
		}
	})
}

// WithTimeout wraps a Transform, FlatMap, Filter or Scoped stage so each call
// of its function runs with a deadline of now+timeout. Source and Flatten
// stages are returned unchanged. For FlatMap the deadline covers the whole
// expansion of one input.
func WithTimeout(inner Stage, timeout time.Duration) Stage {
	if timeout <= 0 {
		return inner
	}
	out := inner
	switch inner.kind {
	case KindTransform:
		out.step = func(ctx context.Context, in any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return inner.step(ctx, in)
		}
	case KindFlatMap:
		out.expand = func(ctx context.Context, in any) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				for v, err := range inner.expand(ctx, in) {
					if !yield(v, err) || err != nil {
						return
					}
				}
			}
		}
	case KindFilter:
		out.keep = func(ctx context.Context, in any) (bool, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return inner.keep(ctx, in)
		}
	case KindScoped:
		out.acquire = func(ctx context.Context, in any) (io.Closer, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return inner.acquire(ctx, in)
		}
	}
	return out
}
