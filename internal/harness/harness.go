package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tomjrwilliams/xsm/internal/broker"
	"github.com/tomjrwilliams/xsm/internal/compiler"
	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
	"github.com/tomjrwilliams/xsm/internal/rules"
	"github.com/tomjrwilliams/xsm/internal/store"
	"github.com/tomjrwilliams/xsm/internal/testutil"
)

const defaultRunID = "test-run-default"

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation and with
// a fixed run id, so repeated runs produce the same notification ids.
//
// Execution flow:
// 1. Load and validate the model directory
// 2. Build seeds plus the scenario's extra events
// 3. Run the engine with a broker recording into the store
// 4. Read back the timeline and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	loaded, err := compiler.LoadDir(scenario.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	if errs := compiler.Validate(loaded.Model); len(errs) > 0 {
		return nil, fmt.Errorf("invalid model: %w", errs[0])
	}

	catalog, err := rules.NewCatalog(loaded.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	init, err := catalog.Seeds(loaded.Model)
	if err != nil {
		return nil, err
	}
	for i, step := range scenario.Events {
		value, err := ir.FromAny(step.Value)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		ev, err := catalog.New(step.Variant, value)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		init = append(init, ev)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	runIDs := testutil.NewFixedRunIDGenerator(orDefault(scenario.RunID, defaultRunID))
	runID := runIDs.Generate()

	delivered := broker.NewQueueObserver()
	b := broker.New([]broker.Observer{st, delivered}, broker.WithLogger(logger))
	eng, err := engine.New(engineOptions(scenario, b, logger, runIDs)...)
	if err != nil {
		return nil, err
	}

	meta := store.RunMeta{
		Model:     loaded.Model.Name,
		ModelHash: loaded.Hash,
		Strategy:  string(eng.Strategy()),
		Workers:   eng.Workers(),
		Iters:     scenario.Iters,
	}
	if err := st.BeginRun(ctx, runID, meta); err != nil {
		return nil, err
	}

	out, runErr := eng.Run(ctx, init)
	if out == nil {
		return nil, fmt.Errorf("run failed: %w", runErr)
	}
	if _, err := b.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to record notifications: %w", err)
	}
	if err := st.FinishRun(ctx, meta, out, runErr); err != nil {
		return nil, err
	}

	result := NewResult()
	result.Outcome = out
	result.Status = string(out.Status)
	if result.Snapshot, err = out.Snapshot(); err != nil {
		return nil, err
	}
	if result.Timeline, err = st.ReadTimeline(ctx, runID, ""); err != nil {
		return nil, err
	}
	for _, rec := range result.Timeline {
		result.Counts[rec.Variant]++
	}
	if n := delivered.Len(); n != len(result.Timeline) {
		result.AddError(fmt.Sprintf("recorded %d of %d delivered notifications", len(result.Timeline), n))
	}
	if runErr != nil {
		result.AddError(fmt.Sprintf("run error: %v", runErr))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func engineOptions(s *Scenario, p engine.Publisher, logger *slog.Logger, runIDs engine.RunIDGenerator) []engine.Option {
	opts := []engine.Option{
		engine.WithPublisher(p),
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(runIDs),
	}
	if s.Strategy != "" {
		// Checked by validateScenario.
		strategy, _ := engine.ParseStrategy(s.Strategy)
		opts = append(opts, engine.WithStrategy(strategy))
	}
	if s.Workers > 0 {
		opts = append(opts, engine.WithWorkers(s.Workers))
	}
	if s.Iters > 0 {
		opts = append(opts, engine.WithIters(s.Iters))
	}
	if s.Timeout > 0 {
		opts = append(opts, engine.WithTimeout(s.Timeout))
	}
	return opts
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
