package harness

import (
	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
	"github.com/tomjrwilliams/xsm/internal/store"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Status is the run's termination status.
	Status string `json:"status"`

	// Snapshot is the final registry in canonical form.
	Snapshot ir.IRArray `json:"snapshot"`

	// Counts is the number of notifications recorded per variant.
	Counts map[string]int `json:"counts"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// Outcome and Timeline are the raw run data behind the summary.
	Outcome  *engine.Outcome `json:"-"`
	Timeline []store.Record  `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Snapshot: ir.IRArray{},
		Counts:   make(map[string]int),
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
