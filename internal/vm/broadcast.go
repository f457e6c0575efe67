package vm

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrLagged is returned by Recv when messages were dropped because the
	// subscriber's buffer was full. The next Recv resumes with newer values.
	ErrLagged = errors.New("vm: subscriber lagged")

	// ErrClosed is returned by Recv once the broadcaster is closed and the
	// buffer is drained.
	ErrClosed = errors.New("vm: broadcast closed")
)

// Broadcaster delivers every sent value to every current subscriber.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	subs     map[*Subscription[T]]struct{}
	capacity int
	closed   bool
}

// NewBroadcaster returns a broadcaster whose subscribers buffer up to
// capacity values.
func NewBroadcaster[T any](capacity int) *Broadcaster[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcaster[T]{
		subs:     make(map[*Subscription[T]]struct{}),
		capacity: capacity,
	}
}

// Subscribe returns a subscription that sees values sent from now on.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{ch: make(chan T, b.capacity), b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Send delivers v without blocking and returns the number of subscribers
// that received it.
func (b *Broadcaster[T]) Send(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	n := 0
	for s := range b.subs {
		select {
		case s.ch <- v:
			n++
		default:
			s.mu.Lock()
			s.lagged++
			s.mu.Unlock()
		}
	}
	return n
}

// Close ends every subscription. Values already buffered are still
// delivered.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Subscription is one receiver of a Broadcaster.
type Subscription[T any] struct {
	ch chan T
	b  *Broadcaster[T]

	mu     sync.Mutex
	lagged uint64
}

// Recv waits for the next value.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	if s.lagged > 0 {
		s.lagged = 0
		s.mu.Unlock()
		return zero, ErrLagged
	}
	s.mu.Unlock()

	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Unsubscribe stops delivery to s.
func (s *Subscription[T]) Unsubscribe() {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}
