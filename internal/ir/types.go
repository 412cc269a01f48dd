package ir

// VariantKind distinguishes registry-resident entities from one-shot messages.
type VariantKind string

const (
	// KindEntity variants persist in the registry under a stable identity.
	KindEntity VariantKind = "entity"

	// KindMessage variants are transient: routed once, never registered.
	KindMessage VariantKind = "message"
)

// ValidVariantKinds defines allowed variant kinds.
var ValidVariantKinds = map[VariantKind]bool{
	KindEntity:  true,
	KindMessage: true,
}

// ActionKind names the closed set of handler behaviours a declarative
// variant can use.
type ActionKind string

const (
	ActionIncrement  ActionKind = "increment"  // curr += step, capped at limit
	ActionFollow     ActionKind = "follow"     // curr = event curr
	ActionAccumulate ActionKind = "accumulate" // curr += event curr
	ActionRetire     ActionKind = "retire"     // remove self from the registry
	ActionHold       ActionKind = "hold"       // curr unchanged, emits only
)

// ValidActions defines allowed action kinds.
var ValidActions = map[ActionKind]bool{
	ActionIncrement:  true,
	ActionFollow:     true,
	ActionAccumulate: true,
	ActionRetire:     true,
	ActionHold:       true,
}

// ModelSpec is a compiled model: variant declarations plus the initial
// entities and messages that seed a run.
type ModelSpec struct {
	Name     string        `json:"name"`
	Variants []VariantSpec `json:"variants"`
	Seeds    []SeedSpec    `json:"seeds"`
}

// Variant returns the spec named name, or nil.
func (m *ModelSpec) Variant(name string) *VariantSpec {
	for i := range m.Variants {
		if m.Variants[i].Name == name {
			return &m.Variants[i]
		}
	}
	return nil
}

// VariantSpec represents a compiled variant declaration.
// DependsOn is static per variant: every instance shares it.
type VariantSpec struct {
	Name        string      `json:"name"`
	Kind        VariantKind `json:"kind"`
	Description string      `json:"description,omitempty"`
	DependsOn   []string    `json:"depends_on"`
	Match       *MatchSpec  `json:"match,omitempty"`
	Action      *ActionSpec `json:"action,omitempty"`
	Emit        string      `json:"emit,omitempty"`  // message variant carrying the new value
	Spawn       string      `json:"spawn,omitempty"` // entity variant created with the new value
	Line        int         `json:"line,omitempty"`  // source line for diagnostics
}

// MatchSpec narrows a declared dependency to the events one instance
// cares about. All set bounds must hold against the event's numeric curr.
type MatchSpec struct {
	Gte *float64 `json:"gte,omitempty"`
	Gt  *float64 `json:"gt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`

	// SelfBelowLimit additionally requires the instance's own curr to be
	// below its action limit.
	SelfBelowLimit bool `json:"self_below_limit,omitempty"`
}

// ActionSpec configures the handler a variant runs for a matched event.
type ActionSpec struct {
	Kind  ActionKind `json:"kind"`
	Step  float64    `json:"step,omitempty"`
	Limit *float64   `json:"limit,omitempty"`
}

// SeedSpec is one initial input to a run. Seeds of entity variants are
// registered; seeds of message variants only enter the event queue.
type SeedSpec struct {
	Variant string  `json:"variant"`
	Value   IRValue `json:"value"`
}
