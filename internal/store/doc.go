// Package store records run traces in SQLite.
//
// A trace is what happened during one engine run:
//   - runs: one row per run with its configuration, status and counters
//   - notifications: every event that entered the event queue, in seq order
//   - snapshots: the registry as it stood when the loop stopped
//
// The store is a recorder, not registry persistence: nothing here can
// resume a run.
//
// # Ordering
//
// All ordering uses logical columns (seq, entity_id), never wall time, so
// a trace reads back identically regardless of when it was written.
// Payloads are stored as RFC 8785 canonical JSON, which makes the stored
// snapshot reproduce the outcome digest exactly (see VerifyRun).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
