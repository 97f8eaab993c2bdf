package correlate

import (
	"context"
	"sync"
)

// Stream is an ordered, lossless queue of events feeding a streaming RPC.
// Producers run on the stack's delivery goroutine and enqueue via Push; the
// single consumer blocks in Next. Close stops production and wakes the
// consumer; items queued before Close still drain in order.
type Stream[T any] struct {
	mu     sync.Mutex
	items  []T
	ready  chan struct{} // buffered(1), pulsed on Push
	closed chan struct{}
	once   sync.Once
}

// NewStream creates an open, empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Push enqueues an item if the stream is still open. Returns false when the
// item was dropped because the stream is closed. Never blocks.
func (s *Stream[T]) Push(v T) bool {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return false
	default:
	}
	s.items = append(s.items, v)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until an item is available, the stream is closed and drained
// (ErrClosed), or the context is done. Items come out strictly in arrival
// order.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if len(s.items) > 0 {
			v := s.items[0]
			s.items = s.items[1:]
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-s.closed:
			// Re-check the queue: a Push may have raced the close.
			s.mu.Lock()
			if len(s.items) > 0 {
				v := s.items[0]
				s.items = s.items[1:]
				s.mu.Unlock()
				return v, nil
			}
			s.mu.Unlock()
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close marks the stream closed. Idempotent; safe to call concurrently with
// Push and Next.
func (s *Stream[T]) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Len returns the number of queued, unconsumed items.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
