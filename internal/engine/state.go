package engine

// Variant is the static tag of an entity or event used for dependency
// matching. Two values with the same Variant share one dependency set.
type Variant string

// Event is anything routed through the dispatch loop: a State standing in
// for its own change, or a Message.
//
// Curr returns nil when the value is absent (a retired entity).
type Event interface {
	Variant() Variant
	Curr() any
	Prev() any
	Persists() bool
}

// State is a registry-resident entity.
//
// Dependencies must return the same set for every instance of a variant;
// the dependency index memoizes it the first time the variant is seen.
// Matches narrows that declaration to the events this instance accepts.
// Handler returns the computation to run if the router commits to the
// event. Handlers run on worker goroutines and receive only their own
// snapshot and the triggering event.
type State interface {
	Event
	Dependencies() []Variant
	Matches(ev Event) bool
	Handler(ev Event) Handler
}

// Handler computes the next value of self in response to ev.
// It must not touch shared state and must not block on unbounded I/O.
type Handler func(self State, ev Event) (Result, error)

// Message is a transient event: routed by variant, never registered.
type Message struct {
	Kind     Variant
	Value    any
	Previous any
}

var _ Event = Message{}

// NewMessage creates a message of the given variant carrying curr.
func NewMessage(kind Variant, curr any) Message {
	return Message{Kind: kind, Value: curr}
}

func (m Message) Variant() Variant { return m.Kind }
func (m Message) Curr() any        { return m.Value }
func (m Message) Prev() any        { return m.Previous }
func (m Message) Persists() bool   { return false }

// tombstone is the event published when an identity retires:
// the retired variant with curr absent and prev set to its last value.
func tombstone(last State) Message {
	return Message{Kind: last.Variant(), Previous: last.Curr()}
}

// ResultKind discriminates handler results.
type ResultKind int

const (
	// KindSelfOnly replaces self and spawns nothing.
	KindSelfOnly ResultKind = iota + 1

	// KindSelfAndSpawned replaces self and emits further states or events.
	KindSelfAndSpawned

	// KindRetired removes self from the registry.
	KindRetired
)

// String returns the kind name for logs.
func (k ResultKind) String() string {
	switch k {
	case KindSelfOnly:
		return "self_only"
	case KindSelfAndSpawned:
		return "self_and_spawned"
	case KindRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Result is the outcome of one handler invocation.
//
// Spawned entries that report Persists() must implement State; they are
// registered under fresh identities. The rest are routed once and dropped.
type Result struct {
	Kind    ResultKind
	Self    State
	Spawned []Event
}

// SelfOnly returns a result that replaces self.
func SelfOnly(self State) Result {
	return Result{Kind: KindSelfOnly, Self: self}
}

// SelfAndSpawned returns a result that replaces self and emits spawned.
func SelfAndSpawned(self State, spawned ...Event) Result {
	return Result{Kind: KindSelfAndSpawned, Self: self, Spawned: spawned}
}

// Retire returns a result that removes self from the registry.
// Spawned entries are still emitted.
func Retire(spawned ...Event) Result {
	return Result{Kind: KindRetired, Spawned: spawned}
}

// retires reports whether applying r deletes the identity. A self whose
// curr is absent is treated as retirement.
func (r Result) retires() bool {
	return r.Kind == KindRetired || r.Self == nil || r.Self.Curr() == nil
}
