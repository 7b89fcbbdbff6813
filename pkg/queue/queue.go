package queue

import (
	"sync"

	"github.com/c360/visionstream/errors"
)

// Queue is an unbounded blocking FIFO for hand-off between one or more
// producers and one or more consumers. The zero value is not usable; create
// instances with New.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	items []T
	head  int // index of the next item to pop

	closed bool

	// Statistics, guarded by mu
	pushed int64
	popped int64
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Depth  int
	Pushed int64
	Popped int64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends an item at the tail and wakes one blocked consumer if any is
// waiting. Push never blocks. Pushing to a closed queue fails with
// errors.ErrAlreadyStopped.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push", "queue closed")
	}

	q.items = append(q.items, item)
	q.pushed++
	q.notEmpty.Signal()
	return nil
}

// Pop removes and returns the head item, blocking while the queue is empty.
// Concurrent Pop calls each receive a distinct item. After Close, remaining
// items are drained in order and subsequent calls return ok=false.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && !q.closed {
		q.notEmpty.Wait()
	}

	if q.head == len(q.items) {
		// Closed and drained
		var zero T
		return zero, false
	}

	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero // release the reference for GC
	q.head++
	q.popped++

	// Reclaim the consumed prefix once it dominates the backing slice.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}

	return item, true
}

// Close marks the queue closed and wakes every blocked consumer. Items
// already queued remain poppable; once drained, Pop returns ok=false.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Stats returns a snapshot of queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:  len(q.items) - q.head,
		Pushed: q.pushed,
		Popped: q.popped,
	}
}
