package engine

// NoID marks a notification for a transient event that was never
// registered.
const NoID ID = -1

// Notification describes one event entering the global event queue:
// a seed, an injected event, a self update, a spawn, or a retirement.
type Notification struct {
	RunID    string
	Seq      int64 // logical clock, strictly increasing within a run
	Tick     int
	EntityID ID // NoID for transient events
	Variant  Variant
	Curr     any
	Prev     any
	Retired  bool
}

// Publisher receives notifications from the dispatch loop.
//
// Publish is called on the loop goroutine and must not block: anything
// slow belongs behind a queue on the publisher's side.
type Publisher interface {
	Publish(n Notification)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(n Notification)

// Publish calls f(n).
func (f PublisherFunc) Publish(n Notification) {
	f(n)
}

type discardPublisher struct{}

func (discardPublisher) Publish(Notification) {}
