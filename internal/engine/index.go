package engine

import (
	"maps"
	"slices"
)

// DependencyIndex maps an event variant to the entity variants that must
// be notified when such an event occurs.
//
// It is populated lazily: the first time a variant is observed its static
// dependency set is recorded and each dependency gains the variant as a
// trigger. The index never shrinks during a run.
type DependencyIndex struct {
	deps     map[Variant][]Variant
	triggers map[Variant]map[Variant]struct{}
}

// NewDependencyIndex creates an empty index.
func NewDependencyIndex() *DependencyIndex {
	return &DependencyIndex{
		deps:     make(map[Variant][]Variant),
		triggers: make(map[Variant]map[Variant]struct{}),
	}
}

// Register records ev's variant if unseen. States contribute their
// dependencies; plain events register with none. Idempotent: returns true
// only on the first registration of a variant.
func (x *DependencyIndex) Register(ev Event) bool {
	v := ev.Variant()
	if _, seen := x.deps[v]; seen {
		return false
	}

	var deps []Variant
	if s, ok := ev.(State); ok {
		deps = slices.Clone(s.Dependencies())
	}
	if deps == nil {
		deps = []Variant{}
	}
	x.deps[v] = deps

	for _, d := range deps {
		set, ok := x.triggers[d]
		if !ok {
			set = make(map[Variant]struct{})
			x.triggers[d] = set
		}
		set[v] = struct{}{}
	}
	return true
}

// Seen reports whether v has been registered.
func (x *DependencyIndex) Seen(v Variant) bool {
	_, ok := x.deps[v]
	return ok
}

// DependenciesOf returns the recorded dependencies of v.
func (x *DependencyIndex) DependenciesOf(v Variant) []Variant {
	return x.deps[v]
}

// TriggersFor returns the entity variants that depend on eventVariant,
// sorted. Returns an empty slice for variants nothing depends on.
func (x *DependencyIndex) TriggersFor(eventVariant Variant) []Variant {
	set := x.triggers[eventVariant]
	if len(set) == 0 {
		return []Variant{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Len returns the number of registered variants.
func (x *DependencyIndex) Len() int {
	return len(x.deps)
}
