// Package collab bounds calls to external collaborators.
package collab

import (
	"context"
	"fmt"
	"time"
)

// Call runs fn under its own timeout. A collaborator that ignores its
// context is abandoned once the timeout fires, and a panic is returned as
// an error. The abandoned goroutine exits whenever fn does.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("collaborator panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Do is Call for collaborators that return only an error.
func Do(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := Call(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
