// Package broker fans dispatch loop notifications out to observers.
//
// The engine publishes on its loop goroutine and must never wait on a
// consumer, so Broker.Publish only appends to an in-memory queue. Delivery
// happens on the caller's goroutine in Flush, or continuously in Run.
// Observers see notifications in publication order; different observers
// are served concurrently.
//
// Observers are side-effect sinks (logs, trace stores, metrics). They do
// not feed events back into the run; use engine.Engine.Inject for that.
package broker
