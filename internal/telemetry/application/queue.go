package application

import "sync"

// Queue is a bounded FIFO buffer shared between the dispatch path (producer)
// and the batch flusher (consumer).
//
// Overflow policy: a producer appending to a full queue sheds the oldest item
// to make room; a failed batch is requeued at the head only when it fits
// entirely under the capacity, otherwise the batch is shed wholesale. Order
// is preserved within the queue across requeues.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	shed     uint64
}

// DefaultQueueCapacity is the hard ceiling on buffered items per queue.
const DefaultQueueCapacity = 10000

// NewQueue constructs a bounded queue. Non-positive capacities fall back to
// the default ceiling.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue[T]{capacity: capacity}
}

// Append enqueues one item at the tail. It returns false when the queue was
// full and the oldest item was shed to admit the new one.
func (q *Queue[T]) Append(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := true
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.shed++
		kept = false
	}
	q.items = append(q.items, item)
	return kept
}

// DrainUpTo dequeues up to n oldest items as a contiguous batch.
func (q *Queue[T]) DrainUpTo(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]T, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

// Requeue re-inserts a failed batch at the head, preserving its original
// order, provided the result stays within capacity. It returns false when
// the batch was shed instead.
func (q *Queue[T]) Requeue(batch []T) bool {
	if len(batch) == 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items)+len(batch) > q.capacity {
		q.shed += uint64(len(batch))
		return false
	}
	merged := make([]T, 0, len(batch)+len(q.items))
	merged = append(merged, batch...)
	merged = append(merged, q.items...)
	q.items = merged
	return true
}

// Len reports the current depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ShedCount reports the cumulative number of items shed to overflow.
func (q *Queue[T]) ShedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shed
}
