// Package correlate bridges the stack's callback deliveries to the goroutines
// serving RPC calls. Pending is the unary bridge (one terminal event), Stream
// the long-lived one (ordered event sequence). Both hand off through channel
// signalling so delivery goroutines never touch waiter state directly.
package correlate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Errors surfaced by Await and Next.
var (
	// ErrTimeout indicates the bounded wait elapsed with no matching event.
	ErrTimeout = errors.New("timed out waiting for event")

	// ErrClosed indicates the stream was closed and fully drained.
	ErrClosed = errors.New("stream closed")
)

// Pending is a single-resolution handle: it waits for exactly one terminal
// event. The first Resolve wins; later calls are no-ops. A non-success result
// still resolves normally - interpreting it is the caller's job.
type Pending[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

// NewPending creates an unresolved handle.
func NewPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

// Resolve sets the result. Returns true if this call won the resolution,
// false if the handle was already resolved. Safe to call from any goroutine;
// the close of the done channel is the cross-goroutine handoff.
func (p *Pending[T]) Resolve(v T) bool {
	won := false
	p.once.Do(func() {
		p.val = v
		won = true
		close(p.done)
	})
	return won
}

// Resolved reports whether a result has been set.
func (p *Pending[T]) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Await blocks until the handle resolves, the context is done, or the timeout
// elapses. A timeout of zero means no bound beyond the context. Await does
// not cancel the device action that was supposed to produce the event; the
// caller still owns observer cleanup.
func (p *Pending[T]) Await(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-p.done:
		return p.val, nil
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
