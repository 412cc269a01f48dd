package engine

import (
	"fmt"
	"maps"
	"slices"
)

// pendingPair is a routed event waiting for its identity to free up.
type pendingPair struct {
	handler Handler
	event   Event
}

// tracker serializes updates per identity.
//
// An identity is in flight from submission until its completion is
// applied. Events routed to a busy identity wait in that identity's FIFO
// pending queue and are applied in arrival order.
type tracker struct {
	inFlight map[ID]uint64 // id -> task seq
	pending  map[ID]*fifo[pendingPair]
	deferred int
}

func newTracker() *tracker {
	return &tracker{
		inFlight: make(map[ID]uint64),
		pending:  make(map[ID]*fifo[pendingPair]),
	}
}

// Busy reports whether id has an outstanding computation.
func (t *tracker) Busy(id ID) bool {
	_, ok := t.inFlight[id]
	return ok
}

// Mark records task seq as the outstanding computation for id.
func (t *tracker) Mark(id ID, seq uint64) error {
	if prev, ok := t.inFlight[id]; ok {
		return &RuntimeError{
			Code:     ErrCodeInvariantViolation,
			Message:  fmt.Sprintf("submit while in flight (outstanding task %d, new task %d)", prev, seq),
			EntityID: id,
		}
	}
	t.inFlight[id] = seq
	return nil
}

// Clear ends the outstanding computation for id. seq must name the task
// recorded by Mark; anything else is a double or stray completion.
func (t *tracker) Clear(id ID, seq uint64) error {
	cur, ok := t.inFlight[id]
	if !ok || cur != seq {
		return &RuntimeError{
			Code:     ErrCodeInvariantViolation,
			Message:  fmt.Sprintf("completion of task %d without matching submission", seq),
			EntityID: id,
		}
	}
	delete(t.inFlight, id)
	return nil
}

// Defer queues an event for a busy identity.
func (t *tracker) Defer(id ID, h Handler, ev Event) {
	q, ok := t.pending[id]
	if !ok {
		q = &fifo[pendingPair]{}
		t.pending[id] = q
	}
	q.Push(pendingPair{handler: h, event: ev})
	t.deferred++
}

// Pop removes the oldest pending pair for id. The queue entry is removed
// once it empties.
func (t *tracker) Pop(id ID) (pendingPair, bool) {
	q, ok := t.pending[id]
	if !ok {
		return pendingPair{}, false
	}
	p, ok := q.Pop()
	if q.Len() == 0 {
		delete(t.pending, id)
	}
	return p, ok
}

// Drop discards all pending pairs for id and returns how many there were.
func (t *tracker) Drop(id ID) int {
	q, ok := t.pending[id]
	if !ok {
		return 0
	}
	delete(t.pending, id)
	return q.Len()
}

// Ready returns the identities that are free and have pending pairs,
// ascending.
func (t *tracker) Ready() []ID {
	var out []ID
	for _, id := range slices.Sorted(maps.Keys(t.pending)) {
		if !t.Busy(id) {
			out = append(out, id)
		}
	}
	return out
}

// HasReady reports whether any free identity has pending pairs.
func (t *tracker) HasReady() bool {
	for id := range t.pending {
		if !t.Busy(id) {
			return true
		}
	}
	return false
}

// InFlight returns the number of outstanding computations.
func (t *tracker) InFlight() int {
	return len(t.inFlight)
}

// Pending returns the total number of queued pairs across identities.
func (t *tracker) Pending() int {
	n := 0
	for _, q := range t.pending {
		n += q.Len()
	}
	return n
}
