package rules

import (
	"fmt"
	"math"

	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
)

// Entity is a declaratively specified state. Values are immutable; every
// update returns a new Entity.
type Entity struct {
	v    *variant
	curr ir.IRValue
	prev ir.IRValue
}

var _ engine.State = Entity{}

func (e Entity) Variant() engine.Variant { return engine.Variant(e.v.spec.Name) }

func (e Entity) Curr() any {
	if e.curr == nil {
		return nil
	}
	return e.curr
}

func (e Entity) Prev() any {
	if e.prev == nil {
		return nil
	}
	return e.prev
}

func (e Entity) Persists() bool { return true }

// Dependencies returns the variant's declared dependencies. The slice is
// shared by every instance of the variant.
func (e Entity) Dependencies() []engine.Variant { return e.v.deps }

// Spec returns the variant declaration.
func (e Entity) Spec() *ir.VariantSpec { return e.v.spec }

// Matches applies the variant's match bounds to the event's numeric curr.
// A match with bounds rejects non-numeric events.
func (e Entity) Matches(ev engine.Event) bool {
	m := e.v.spec.Match
	if m == nil {
		return true
	}
	if m.SelfBelowLimit && !e.belowLimit() {
		return false
	}
	if m.Gte == nil && m.Gt == nil && m.Lte == nil && m.Lt == nil {
		return true
	}

	x, ok := ir.AsFloat(ev.Curr())
	if !ok {
		return false
	}
	switch {
	case m.Gte != nil && x < *m.Gte:
		return false
	case m.Gt != nil && x <= *m.Gt:
		return false
	case m.Lte != nil && x > *m.Lte:
		return false
	case m.Lt != nil && x >= *m.Lt:
		return false
	}
	return true
}

func (e Entity) belowLimit() bool {
	a := e.v.spec.Action
	if a == nil || a.Limit == nil {
		return true
	}
	x, ok := ir.AsFloat(e.curr)
	return ok && x < *a.Limit
}

// Handler returns the computation for the variant's action. Variants
// without an action hold their value.
func (e Entity) Handler(engine.Event) engine.Handler {
	kind := ir.ActionHold
	if e.v.spec.Action != nil {
		kind = e.v.spec.Action.Kind
	}
	switch kind {
	case ir.ActionIncrement:
		return increment
	case ir.ActionFollow:
		return follow
	case ir.ActionAccumulate:
		return accumulate
	case ir.ActionRetire:
		return retire
	default:
		return hold
	}
}

func self(s engine.State) (Entity, error) {
	e, ok := s.(Entity)
	if !ok {
		return Entity{}, fmt.Errorf("handler bound to %T, want rules.Entity", s)
	}
	return e, nil
}

func increment(s engine.State, ev engine.Event) (engine.Result, error) {
	e, err := self(s)
	if err != nil {
		return engine.Result{}, err
	}
	x, ok := ir.AsFloat(e.curr)
	if !ok {
		return engine.Result{}, fmt.Errorf("increment: %s curr is %T, not a number", e.v.spec.Name, e.curr)
	}
	return e.update(e.capped(x + e.v.spec.Action.Step))
}

func follow(s engine.State, ev engine.Event) (engine.Result, error) {
	e, err := self(s)
	if err != nil {
		return engine.Result{}, err
	}
	next, err := ir.FromAny(ev.Curr())
	if err != nil {
		return engine.Result{}, fmt.Errorf("follow %s: %w", ev.Variant(), err)
	}
	return e.update(next)
}

func accumulate(s engine.State, ev engine.Event) (engine.Result, error) {
	e, err := self(s)
	if err != nil {
		return engine.Result{}, err
	}
	x, ok := ir.AsFloat(e.curr)
	if !ok {
		return engine.Result{}, fmt.Errorf("accumulate: %s curr is %T, not a number", e.v.spec.Name, e.curr)
	}
	d, ok := ir.AsFloat(ev.Curr())
	if !ok {
		return engine.Result{}, fmt.Errorf("accumulate: %s event curr is %T, not a number", ev.Variant(), ev.Curr())
	}
	return e.update(e.capped(x + d))
}

func retire(s engine.State, _ engine.Event) (engine.Result, error) {
	e, err := self(s)
	if err != nil {
		return engine.Result{}, err
	}
	spawned, err := e.outputs(e.curr)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Retire(spawned...), nil
}

func hold(s engine.State, _ engine.Event) (engine.Result, error) {
	e, err := self(s)
	if err != nil {
		return engine.Result{}, err
	}
	return e.update(e.curr)
}

// capped rounds x to nine decimal places and clamps it to the action limit.
func (e Entity) capped(x float64) ir.IRValue {
	x = math.Round(x*1e9) / 1e9
	if a := e.v.spec.Action; a != nil && a.Limit != nil && x > *a.Limit {
		x = *a.Limit
	}
	return ir.IRFloat(x)
}

// update returns the result that replaces e's value with next and emits
// the variant's outputs.
func (e Entity) update(next ir.IRValue) (engine.Result, error) {
	if next == nil {
		next = ir.IRNull{}
	}
	updated := Entity{v: e.v, curr: next, prev: e.curr}
	spawned, err := e.outputs(next)
	if err != nil {
		return engine.Result{}, err
	}
	if len(spawned) == 0 {
		return engine.SelfOnly(updated), nil
	}
	return engine.SelfAndSpawned(updated, spawned...), nil
}

// outputs builds the emitted message and spawned entity carrying value.
func (e Entity) outputs(value ir.IRValue) ([]engine.Event, error) {
	var out []engine.Event
	if name := e.v.spec.Emit; name != "" {
		ev, err := e.v.cat.New(name, value)
		if err != nil {
			return nil, fmt.Errorf("emit: %w", err)
		}
		if m, ok := ev.(engine.Message); ok && e.curr != nil {
			m.Previous = e.curr
			ev = m
		}
		out = append(out, ev)
	}
	if name := e.v.spec.Spawn; name != "" {
		ev, err := e.v.cat.New(name, value)
		if err != nil {
			return nil, fmt.Errorf("spawn: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// String is used in logs.
func (e Entity) String() string {
	b, err := ir.MarshalCanonical(e.curr)
	if err != nil {
		return fmt.Sprintf("%s(<%v>)", e.v.spec.Name, err)
	}
	return fmt.Sprintf("%s(%s)", e.v.spec.Name, b)
}
