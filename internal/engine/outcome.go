package engine

import (
	"fmt"
	"time"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// Status reports why a run stopped.
type Status string

const (
	// StatusQuiesced: no queued events, no pending work, nothing in flight.
	StatusQuiesced Status = "quiesced"

	// StatusTimedOut: the wall-clock timeout elapsed. Outstanding
	// computations were abandoned.
	StatusTimedOut Status = "timed_out"

	// StatusBudgetExhausted: the tick budget was spent. Computations
	// already in flight were applied; nothing further was routed. If the
	// timeout or cancellation cut that wait short, the run reports
	// StatusTimedOut or StatusCancelled instead.
	StatusBudgetExhausted Status = "budget_exhausted"

	// StatusCancelled: the caller's context was cancelled.
	StatusCancelled Status = "cancelled"

	// StatusFailed: a handler fault or invariant violation aborted the run.
	StatusFailed Status = "failed"
)

// Outcome is the result of one run: the registry as it stood when the
// loop stopped, plus counters describing what happened.
type Outcome struct {
	RunID    string
	Status   Status
	Entities []Entry // insertion order

	Ticks     int
	Submitted int
	Completed int
	Spawned   int
	Retired   int
	Dropped   int // events routed to no entity
	Deferred  int // events that waited in a pending queue

	// Left behind at termination.
	Queued   int
	Pending  int
	InFlight int

	Elapsed time.Duration
}

// States returns the final entity states in insertion order.
func (o *Outcome) States() []State {
	out := make([]State, len(o.Entities))
	for i, e := range o.Entities {
		out[i] = e.State
	}
	return out
}

// Lookup returns the final state of id.
func (o *Outcome) Lookup(id ID) (State, bool) {
	for _, e := range o.Entities {
		if e.ID == id {
			return e.State, true
		}
	}
	return nil, false
}

// OfVariant returns the final entries of variant v in insertion order.
func (o *Outcome) OfVariant(v Variant) []Entry {
	var out []Entry
	for _, e := range o.Entities {
		if e.State.Variant() == v {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot renders the final registry as canonical IR:
// [{"id":0,"variant":"counter","curr":1,"prev":0.9}, ...].
func (o *Outcome) Snapshot() (ir.IRArray, error) {
	arr := make(ir.IRArray, 0, len(o.Entities))
	for _, e := range o.Entities {
		curr, err := ir.FromAny(e.State.Curr())
		if err != nil {
			return nil, fmt.Errorf("entity %d curr: %w", e.ID, err)
		}
		prev, err := ir.FromAny(e.State.Prev())
		if err != nil {
			return nil, fmt.Errorf("entity %d prev: %w", e.ID, err)
		}
		arr = append(arr, ir.IRObject{
			"id":      ir.IRInt(e.ID),
			"variant": ir.IRString(e.State.Variant()),
			"curr":    curr,
			"prev":    prev,
		})
	}
	return arr, nil
}

// Digest returns the content hash of Snapshot. Two runs that end with the
// same registry produce the same digest regardless of timing.
func (o *Outcome) Digest() (string, error) {
	snap, err := o.Snapshot()
	if err != nil {
		return "", err
	}
	return ir.Digest(ir.DomainSnapshot, snap)
}
