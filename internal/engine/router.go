package engine

import (
	"fmt"
	"slices"
)

// match is one routing decision: the identity to update and the handler
// its state supplied for the event.
type match struct {
	id      ID
	handler Handler
}

// matchEvent returns the registered entities whose variant depends on
// ev's variant and whose Matches accepts ev, in insertion order.
//
// No identity is returned twice. Matches and Handler are entity code; a
// panic in either is reported as a HandlerError for that identity.
func matchEvent(ev Event, reg *Registry, idx *DependencyIndex) (out []match, err error) {
	triggers := idx.TriggersFor(ev.Variant())
	if len(triggers) == 0 {
		return nil, nil
	}

	var candidates []ID
	for _, v := range triggers {
		candidates = append(candidates, reg.OfVariant(v)...)
	}
	if len(triggers) > 1 {
		slices.Sort(candidates)
		candidates = slices.Compact(candidates)
	}

	for _, id := range candidates {
		s, ok := reg.Get(id)
		if !ok {
			continue
		}
		h, err := selectHandler(id, s, ev)
		if err != nil {
			return nil, err
		}
		if h != nil {
			out = append(out, match{id: id, handler: h})
		}
	}
	return out, nil
}

// selectHandler evaluates s.Matches(ev) and, when accepted, s.Handler(ev).
// A nil handler means the entity declined the event.
func selectHandler(id ID, s State, ev Event) (h Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				ID:           id,
				Variant:      s.Variant(),
				EventVariant: ev.Variant(),
				Event:        ev,
				Cause:        fmt.Errorf("panic in match: %v", r),
			}
		}
	}()

	if !s.Matches(ev) {
		return nil, nil
	}
	return s.Handler(ev), nil
}
