package queue

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Stats holds delivery counters of a queue
type Stats struct {
	Enqueued uint64 // Items accepted by TryPut or Put
	Dropped  uint64 // Items rejected by TryPut because the queue was full
}

// Bounded is a fixed-capacity, goroutine-safe FIFO. TryPut drops the incoming
// item when the queue is full (drop-newest); items already queued are never
// displaced.
type Bounded[T any] struct {
	name string
	ch   chan T

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a queue holding at most capacity items.
func New[T any](name string, capacity int) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid queue capacity: %d", capacity)
	}
	return &Bounded[T]{name: name, ch: make(chan T, capacity)}, nil
}

// TryPut enqueues v without waiting. It returns false when the queue is full.
func (q *Bounded[T]) TryPut(v T) bool {
	select {
	case q.ch <- v:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Put enqueues v, waiting for room until ctx is done.
func (q *Bounded[T]) Put(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take blocks until an item is available or ctx is done.
func (q *Bounded[T]) Take(ctx context.Context) (v T, err error) {
	select {
	case v = <-q.ch:
		return v, nil
	case <-ctx.Done():
		return v, ctx.Err()
	}
}

// TryTake dequeues one item without waiting.
func (q *Bounded[T]) TryTake() (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return v, false
	}
}

// Drain dequeues up to max items without waiting, in FIFO order.
func (q *Bounded[T]) Drain(max int) []T {
	var items []T
	for len(items) < max {
		v, ok := q.TryTake()
		if !ok {
			break
		}
		items = append(items, v)
	}
	return items
}

func (q *Bounded[T]) Name() string {
	return q.name
}

func (q *Bounded[T]) Len() int {
	return len(q.ch)
}

func (q *Bounded[T]) Cap() int {
	return cap(q.ch)
}

func (q *Bounded[T]) Stats() Stats {
	return Stats{
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
	}
}
