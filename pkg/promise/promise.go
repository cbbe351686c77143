// Package promise provides a one-shot result cell that turns a callback-driven
// protocol into a blocking call with a deadline.
//
// The receive side fulfills the cell exactly once; later fulfillments are
// ignored. The caller waits with a context or timeout:
//
//	cell := promise.New[string]()
//	pending.Store(txID, cell)
//	send(request)
//	id, err := cell.WaitTimeout(ctx, 10*time.Second)
package promise

import (
	"context"
	"sync"
	"time"
)

// Cell holds a value or an error that becomes available once.
type Cell[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New creates an empty cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Resolve stores value. It reports whether this call completed the cell.
func (c *Cell[T]) Resolve(value T) bool {
	return c.complete(value, nil)
}

// Reject stores err. It reports whether this call completed the cell.
func (c *Cell[T]) Reject(err error) bool {
	var zero T
	return c.complete(zero, err)
}

func (c *Cell[T]) complete(value T, err error) bool {
	completed := false
	c.once.Do(func() {
		c.value = value
		c.err = err
		completed = true
		close(c.done)
	})
	return completed
}

// Done is closed once the cell is completed.
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the cell completes or ctx ends.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitTimeout is Wait bounded by timeout. On expiry it returns
// context.DeadlineExceeded.
func (c *Cell[T]) WaitTimeout(ctx context.Context, timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Wait(ctx)
}
