package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tomjrwilliams/xsm/internal/ir"
	"github.com/tomjrwilliams/xsm/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Variant  string // optional - filter to one variant
}

// TraceEvent represents a single notification in the trace timeline.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Tick     int    `json:"tick"`
	ID       string `json:"id"`
	EntityID int64  `json:"entity_id"`
	Variant  string `json:"variant"`
	Curr     any    `json:"curr"`
	Prev     any    `json:"prev"`
	Retired  bool   `json:"retired,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run      store.RunInfo `json:"run"`
	Timeline []TraceEvent  `json:"timeline"`
	Stats    TraceStats    `json:"stats"`
	Verified bool          `json:"verified"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Transient   int            `json:"transient"`
	Retirements int            `json:"retirements"`
	ByVariant   map[string]int `json:"by_variant"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the notification timeline of a recorded run",
		Long: `Show what a recorded run published, in order.

The output includes:
- Run: configuration, status and counters
- Timeline: every notification with its logical sequence number and tick
- Stats: counts per variant, transient events and retirements
- Verified: whether the stored final registry still matches the run's digest

Examples:
  xsm trace --db ./xsm.db --run 0190a5d2-...
  xsm trace --db ./xsm.db --run 0190a5d2-... --variant counter
  xsm trace --db ./xsm.db --run 0190a5d2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to trace (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.Variant, "variant", "", "filter to one variant")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	info, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	records, err := st.ReadTimeline(ctx, opts.RunID, opts.Variant)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read timeline", err)
	}

	verification, err := st.VerifyRun(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify run", err)
	}

	result := TraceResult{
		Run:      info,
		Timeline: buildTimeline(records),
		Stats:    calculateStats(records),
		Verified: verification.OK(),
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, verification)
}

// buildTimeline converts stored records into output events.
func buildTimeline(records []store.Record) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(records))
	for _, r := range records {
		timeline = append(timeline, TraceEvent{
			Seq:      r.Seq,
			Tick:     r.Tick,
			ID:       r.ID,
			EntityID: r.EntityID,
			Variant:  r.Variant,
			Curr:     ir.ToAny(r.Curr),
			Prev:     ir.ToAny(r.Prev),
			Retired:  r.Retired,
		})
	}
	return timeline
}

// calculateStats computes summary statistics from the timeline.
func calculateStats(records []store.Record) TraceStats {
	stats := TraceStats{
		TotalEvents: len(records),
		ByVariant:   make(map[string]int),
	}
	for _, r := range records {
		stats.ByVariant[r.Variant]++
		if r.EntityID < 0 {
			stats.Transient++
		}
		if r.Retired {
			stats.Retirements++
		}
	}
	return stats
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
		RunID:  result.Run.ID,
	}

	return writeJSON(cmd.OutOrStdout(), response)
}

// outputTraceText outputs the trace result in human-readable format.
func outputTraceText(cmd *cobra.Command, result TraceResult, v store.Verification) error {
	w := cmd.OutOrStdout()
	run := result.Run

	fmt.Fprintf(w, "Run: %s\n", run.ID)
	if run.Model != "" {
		fmt.Fprintf(w, "Model: %s (%s, %d worker(s), budget %d)\n", run.Model, run.Strategy, run.Workers, run.Iters)
	}
	fmt.Fprintf(w, "Status: %s after %d tick(s)\n", run.Status, run.Ticks)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no notifications)")
	}
	for _, e := range result.Timeline {
		who := fmt.Sprintf("#%d", e.EntityID)
		if e.EntityID < 0 {
			who = "msg"
		}
		line := fmt.Sprintf("  [%d] tick %d %s %s %s <- %s", e.Seq, e.Tick, who, e.Variant, formatValue(e.Curr), formatValue(e.Prev))
		if e.Retired {
			line += " (retired)"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Total events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Transient: %d\n", result.Stats.Transient)
	fmt.Fprintf(w, "  Retirements: %d\n", result.Stats.Retirements)
	variants := make([]string, 0, len(result.Stats.ByVariant))
	for name := range result.Stats.ByVariant {
		variants = append(variants, name)
	}
	sort.Strings(variants)
	for _, name := range variants {
		fmt.Fprintf(w, "  %s: %d\n", name, result.Stats.ByVariant[name])
	}
	fmt.Fprintln(w)

	switch {
	case v.Recorded == "":
		fmt.Fprintln(w, "Digest: (run not finished)")
	case v.OK():
		fmt.Fprintf(w, "Digest: %s ✓ verified (%d entities)\n", v.Recorded, v.Entities)
	default:
		fmt.Fprintf(w, "Digest: %s ✗ stored snapshot hashes to %s\n", v.Recorded, v.Computed)
	}
	return nil
}
