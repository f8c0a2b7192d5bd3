// Package collections provides the low-level building blocks shared by the
// higher layers: a bounded blocking queue and a fixed-size latency histogram.
package collections

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by push operations on a closed queue, and by pop
	// operations once a closed queue has drained.
	ErrClosed = errors.New("bounded queue is closed")

	// ErrFull is returned by TryPush when the queue is at capacity.
	ErrFull = errors.New("bounded queue is full")

	// ErrEmpty is returned by TryPop when no item is buffered.
	ErrEmpty = errors.New("bounded queue is empty")

	// ErrTimeout is returned by the deadline-bounded variants.
	ErrTimeout = errors.New("bounded queue operation timed out")
)

// BoundedQueue is a bounded blocking MPMC FIFO with close semantics.
//
// Push blocks while the queue is at capacity; Pop blocks while it is empty.
// Close wakes all waiters: subsequent pushes fail with ErrClosed, pops keep
// draining buffered items and return ErrClosed only once the queue is empty.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	buf      []T
	capacity int
	closed   bool

	// Broadcast channels: closed and replaced on every relevant state change.
	notFull  chan struct{}
	notEmpty chan struct{}
}

// NewBoundedQueue creates a queue with the given capacity. Capacity must be
// positive.
func NewBoundedQueue[T any](capacity int) (*BoundedQueue[T], error) {
	if capacity <= 0 {
		return nil, errors.New("bounded queue capacity must be positive")
	}
	return &BoundedQueue[T]{
		capacity: capacity,
		notFull:  make(chan struct{}),
		notEmpty: make(chan struct{}),
	}, nil
}

func (q *BoundedQueue[T]) signalNotFull() {
	close(q.notFull)
	q.notFull = make(chan struct{})
}

func (q *BoundedQueue[T]) signalNotEmpty() {
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

// Push blocks until capacity is available or the queue is closed.
func (q *BoundedQueue[T]) Push(item T) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.buf) < q.capacity {
			q.buf = append(q.buf, item)
			q.signalNotEmpty()
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull
		q.mu.Unlock()
		<-wait
		q.mu.Lock()
	}
}

// TryPush attempts a non-blocking push.
func (q *BoundedQueue[T]) TryPush(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(q.buf) >= q.capacity {
		return ErrFull
	}
	q.buf = append(q.buf, item)
	q.signalNotEmpty()
	return nil
}

// PushTimeout is Push bounded by a deadline relative to now.
func (q *BoundedQueue[T]) PushTimeout(item T, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.buf) < q.capacity {
			q.buf = append(q.buf, item)
			q.signalNotEmpty()
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull
		q.mu.Unlock()
		select {
		case <-wait:
		case <-timer.C:
			return ErrTimeout
		}
		q.mu.Lock()
	}
}

// Pop blocks until an item is available, or the queue is closed and empty.
// Ordering is strict FIFO.
func (q *BoundedQueue[T]) Pop() (T, error) {
	q.mu.Lock()
	for {
		if len(q.buf) > 0 {
			item := q.popFront()
			q.signalNotFull()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		wait := q.notEmpty
		q.mu.Unlock()
		<-wait
		q.mu.Lock()
	}
}

// TryPop attempts a non-blocking pop.
func (q *BoundedQueue[T]) TryPop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.buf) > 0 {
		item := q.popFront()
		q.signalNotFull()
		return item, nil
	}
	if q.closed {
		return zero, ErrClosed
	}
	return zero, ErrEmpty
}

// PopTimeout is Pop bounded by a deadline relative to now.
func (q *BoundedQueue[T]) PopTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	q.mu.Lock()
	for {
		if len(q.buf) > 0 {
			item := q.popFront()
			q.signalNotFull()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		wait := q.notEmpty
		q.mu.Unlock()
		select {
		case <-wait:
		case <-timer.C:
			var zero T
			return zero, ErrTimeout
		}
		q.mu.Lock()
	}
}

func (q *BoundedQueue[T]) popFront() T {
	item := q.buf[0]
	var zero T
	q.buf[0] = zero
	q.buf = q.buf[1:]
	if len(q.buf) == 0 {
		q.buf = nil
	}
	return item
}

// Close marks the queue closed and wakes all waiters. Idempotent.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalNotFull()
	q.signalNotEmpty()
}

// Clear removes all buffered items and wakes producers blocked on capacity.
func (q *BoundedQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = nil
	q.signalNotFull()
}

// Len returns the number of buffered items.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Cap returns the immutable capacity.
func (q *BoundedQueue[T]) Cap() int {
	return q.capacity
}

// IsClosed reports whether Close has been called.
func (q *BoundedQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
