package engine

import (
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// testState is a configurable entity for loop tests.
type testState struct {
	name    string
	variant Variant
	curr    any
	prev    any
	deps    []Variant
	accept  func(self testState, ev Event) bool
	handle  func(self testState, ev Event) (Result, error)
}

func (s testState) Variant() Variant        { return s.variant }
func (s testState) Curr() any               { return s.curr }
func (s testState) Prev() any               { return s.prev }
func (s testState) Persists() bool          { return true }
func (s testState) Dependencies() []Variant { return s.deps }

func (s testState) Matches(ev Event) bool {
	if s.accept == nil {
		return true
	}
	return s.accept(s, ev)
}

func (s testState) Handler(Event) Handler {
	return func(self State, ev Event) (Result, error) {
		me := self.(testState)
		return me.handle(me, ev)
	}
}

// with returns a copy holding curr, with prev set to the old value.
func (s testState) with(curr any) testState {
	s.prev = s.curr
	s.curr = curr
	return s
}

// counter increments itself by 0.1 on its own change events while the
// event value is below limit.
func counter(limit float64) testState {
	return testState{
		name:    "counter",
		variant: "counter",
		curr:    0.0,
		deps:    []Variant{"counter"},
		accept: func(_ testState, ev Event) bool {
			v, ok := ev.Curr().(float64)
			return ok && v < limit
		},
		handle: func(self testState, _ Event) (Result, error) {
			v := self.curr.(float64)
			return SelfOnly(self.with(math.Round((v+0.1)*1e9) / 1e9)), nil
		},
	}
}

// listener records the int payload of every dep event it sees.
func listener(name string, deps ...Variant) testState {
	return testState{
		name:    name,
		variant: Variant(name),
		curr:    []int{},
		deps:    deps,
		handle: func(self testState, ev Event) (Result, error) {
			seen := append(slices.Clone(self.curr.([]int)), ev.Curr().(int))
			return SelfOnly(self.with(seen)), nil
		},
	}
}

func messages(v Variant, n int) []Event {
	out := make([]Event, n)
	for i := range n {
		out[i] = NewMessage(v, i)
	}
	return out
}

// persistingMessage is an event that claims to persist but is not a State.
type persistingMessage struct{ Message }

func (persistingMessage) Persists() bool { return true }

// collector is a Publisher that keeps every notification.
type collector struct {
	mu    sync.Mutex
	notes []Notification
}

func (c *collector) Publish(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

func (c *collector) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.notes)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(quietLogger()),
		WithRunIDGenerator(NewFixedGenerator("run-1", "run-2", "run-3")),
	}
	e, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return e
}

var strategies = []struct {
	name string
	opts []Option
}{
	{"parallel", []Option{WithStrategy(StrategyParallel), WithWorkers(4)}},
	{"cooperative", []Option{WithStrategy(StrategyCooperative)}},
}
