package engine

import (
	"fmt"
	"slices"
)

// ID identifies a registered entity for the lifetime of a run.
// IDs are assigned in insertion order and never reused.
type ID int64

// Entry pairs an identity with its state.
type Entry struct {
	ID    ID
	State State
}

// Registry maps identities to live entity states.
//
// Iteration follows insertion order. Because identities are allocated
// monotonically, insertion order is ascending ID order, which lets the
// per-variant index stay sorted by appending.
//
// Registry is owned by the dispatch loop and is not safe for concurrent use.
type Registry struct {
	next      ID
	ids       []ID // ascending
	entries   map[ID]State
	byVariant map[Variant][]ID // each ascending
}

// NewRegistry creates an empty registry whose first identity is 0.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[ID]State),
		byVariant: make(map[Variant][]ID),
	}
}

// Insert registers s under a fresh identity and returns it.
func (r *Registry) Insert(s State) ID {
	id := r.next
	r.next++
	r.entries[id] = s
	r.ids = append(r.ids, id)
	v := s.Variant()
	r.byVariant[v] = append(r.byVariant[v], id)
	return id
}

// Put overwrites the state of an existing identity.
// Returns an invariant violation if id is not registered.
func (r *Registry) Put(id ID, s State) error {
	old, ok := r.entries[id]
	if !ok {
		return &RuntimeError{
			Code:     ErrCodeInvariantViolation,
			Message:  "overwrite of unregistered identity",
			EntityID: id,
			Variant:  s.Variant(),
		}
	}
	r.entries[id] = s
	if old.Variant() != s.Variant() {
		r.byVariant[old.Variant()] = removeSorted(r.byVariant[old.Variant()], id)
		r.byVariant[s.Variant()] = insertSorted(r.byVariant[s.Variant()], id)
	}
	return nil
}

// Delete removes id. Deleting an absent identity is a no-op and
// reports false.
func (r *Registry) Delete(id ID) bool {
	s, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	r.ids = removeSorted(r.ids, id)
	v := s.Variant()
	r.byVariant[v] = removeSorted(r.byVariant[v], id)
	if len(r.byVariant[v]) == 0 {
		delete(r.byVariant, v)
	}
	return true
}

// Get returns the state registered under id.
func (r *Registry) Get(id ID) (State, bool) {
	s, ok := r.entries[id]
	return s, ok
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	return len(r.entries)
}

// NextID returns the identity the next Insert will allocate.
func (r *Registry) NextID() ID {
	return r.next
}

// OfVariant returns the identities registered with variant v, ascending.
// The returned slice must not be modified.
func (r *Registry) OfVariant(v Variant) []ID {
	return r.byVariant[v]
}

// Snapshot returns all entries in insertion order.
func (r *Registry) Snapshot() []Entry {
	out := make([]Entry, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, Entry{ID: id, State: r.entries[id]})
	}
	return out
}

// String is used in debug logs.
func (r *Registry) String() string {
	return fmt.Sprintf("registry(len=%d, next=%d)", len(r.entries), r.next)
}

func insertSorted(ids []ID, id ID) []ID {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

func removeSorted(ids []ID, id ID) []ID {
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
