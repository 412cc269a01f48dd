package engine

// TickBudget counts dispatch loop ticks against an optional limit.
//
// A tick is one pass of the loop body: apply ready completions, wait out
// back-pressure, drain ready pending queues, route at most one event from
// the global queue. The counter is incremented at the end of the pass and
// the budget is checked right after, so a limit of N allows exactly N
// passes. A limit of 0 means unlimited.
type TickBudget struct {
	limit int
	used  int
}

// NewTickBudget creates a budget with the given limit (0 = unlimited).
func NewTickBudget(limit int) *TickBudget {
	return &TickBudget{limit: limit}
}

// Spend records one tick and reports whether the budget is now exhausted.
func (b *TickBudget) Spend() bool {
	b.used++
	return b.Exhausted()
}

// Exhausted reports whether the limit has been reached.
func (b *TickBudget) Exhausted() bool {
	return b.limit > 0 && b.used >= b.limit
}

// Used returns the number of ticks spent.
func (b *TickBudget) Used() int {
	return b.used
}

// Limit returns the configured limit (0 = unlimited).
func (b *TickBudget) Limit() int {
	return b.limit
}
