package queue

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueLocked = errors.New("queue locked")
)

// Queue is a FIFO of pending work with an optional capacity and an
// administrative lock that rejects pushes while held.
type Queue[T any] struct {
	items    *queue.Queue
	mu       sync.Mutex
	capacity int
	locked   bool
}

// New returns a queue holding at most capacity items. A capacity <= 0 is unbounded.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{items: queue.New(), capacity: capacity}
}

func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return ErrQueueLocked
	}
	if q.capacity > 0 && q.items.Length() >= q.capacity {
		return ErrQueueFull
	}

	q.items.Add(item)
	return nil
}

// Requeue returns an already admitted item to the tail. Only the lock
// applies; capacity was checked when the item was first pushed.
func (q *Queue[T]) Requeue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return ErrQueueLocked
	}
	q.items.Add(item)
	return nil
}

// Pop removes the head item. It never blocks.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}

	item, _ := q.items.Remove().(T)
	return item, true
}

// Drain empties the queue, returning the items in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		item, _ := q.items.Remove().(T)
		out = append(out, item)
	}
	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *Queue[T]) Cap() int { return q.capacity }

func (q *Queue[T]) Lock() {
	q.mu.Lock()
	q.locked = true
	q.mu.Unlock()
}

func (q *Queue[T]) Unlock() {
	q.mu.Lock()
	q.locked = false
	q.mu.Unlock()
}

func (q *Queue[T]) Locked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.locked
}
