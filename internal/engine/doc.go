// Package engine implements the XSM dispatch loop.
//
// The engine keeps a registry of state entities, routes events to the
// entities whose variants depend on them, and runs the matched handlers,
// at most one at a time per entity.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// One goroutine (the caller of Run) owns the registry, the dependency
// index, the in-flight tracker, the per-entity pending queues and the
// global event queue. Handlers never touch them; they receive a snapshot
// of their own state and the triggering event and return a Result.
//
// Tick:
//  1. Apply completions that have arrived
//  2. Back-pressure: wait while in-flight work fills the executor
//  3. Submit the oldest pending event of every identity that freed up
//  4. Route at most one event from the global queue
//  5. Check quiescence, then the tick budget
//
// Completions are marshalled back onto the loop goroutine through the
// executor's completion queue, so registry mutation stays single-threaded
// under both strategies:
//   - parallel: PoolExecutor, a fixed set of worker goroutines
//   - cooperative: SequentialExecutor, handlers inline, deterministic
//
// INVARIANTS:
//   - At most one outstanding computation per identity
//   - Events for a busy identity are deferred, never dropped, and applied
//     in arrival order
//   - Identities are allocated monotonically and never reused in a run
//   - Dependencies are static per variant; the index never shrinks
package engine
