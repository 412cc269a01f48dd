package engine

import "sync"

// fifo is an unbounded first-in first-out queue.
// Not safe for concurrent use; the dispatch loop owns its fifos.
type fifo[T any] struct {
	items []T
}

func (q *fifo[T]) Push(v T) {
	q.items = append(q.items, v)
}

func (q *fifo[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]

	// Nil out the slot so the backing array does not retain the value.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return v, true
}

func (q *fifo[T]) Len() int {
	return len(q.items)
}

// Clear drops all items and returns how many were dropped.
func (q *fifo[T]) Clear() int {
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}

// queue is a thread-safe FIFO with a coalescing availability signal.
//
// It carries work between goroutines: injected events into the loop,
// tasks to pool workers, completions back to the loop. The signal channel
// enables context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
type queue[T any] struct {
	mu     sync.Mutex
	items  fifo[T]
	closed bool
	signal chan struct{} // buffered, size 1
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds v to the back of the queue.
// Returns false if the queue is closed.
func (q *queue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items.Push(v)
	q.notify()
	return true
}

// TryDequeue removes the front item without blocking.
//
// If items remain after the pop the signal is re-armed, so several waiters
// woken by one coalesced signal still drain the queue between them.
func (q *queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.items.Pop()
	if ok && q.items.Len() > 0 && !q.closed {
		q.notify()
	}
	return v, ok
}

// notify signals availability without blocking. Caller holds mu.
func (q *queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when items may be available.
// The channel is closed once the queue is closed.
func (q *queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close stops further enqueues, discards queued items and wakes all
// waiters. Returns the number of discarded items.
func (q *queue[T]) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	n := q.items.Clear()
	// A stale token would make the first receive report the channel open.
	select {
	case <-q.signal:
	default:
	}
	close(q.signal)
	return n
}

// Closed reports whether Close has been called.
func (q *queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
