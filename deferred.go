package messagehub

import (
	"context"
	"sync"
)

// Deferred is a computation that runs at most once, in the background, and
// whose result can be awaited by any number of callers.
//
// Cabinet storage hands out one Deferred per drawer so that a reader can start
// fetching the next drawer's items while it still consumes the current one.
type Deferred[T any] struct {
	fn    func(context.Context) (T, error)
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewDeferred wraps fn. Nothing runs until Start or Await is called.
func NewDeferred[T any](fn func(context.Context) (T, error)) *Deferred[T] {
	return &Deferred[T]{fn: fn, done: make(chan struct{})}
}

// Resolved returns a Deferred that already holds value.
func Resolved[T any](value T) *Deferred[T] {
	d := &Deferred[T]{done: make(chan struct{}), value: value}
	d.once.Do(func() { close(d.done) })
	return d
}

// Start launches the computation with ctx if it has not been launched yet.
// Cancelling ctx surfaces as the Deferred's error.
func (d *Deferred[T]) Start(ctx context.Context) {
	d.once.Do(func() {
		go func() {
			defer close(d.done)
			d.value, d.err = d.fn(ctx)
		}()
	})
}

// Await starts the computation if needed and blocks until it completes or
// ctx is done.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	d.Start(ctx)
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
