package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tomjrwilliams/xsm/internal/broker"
	"github.com/tomjrwilliams/xsm/internal/compiler"
	"github.com/tomjrwilliams/xsm/internal/engine"
	"github.com/tomjrwilliams/xsm/internal/ir"
	"github.com/tomjrwilliams/xsm/internal/rules"
	"github.com/tomjrwilliams/xsm/internal/store"
)

// Command-line defaults. The engine itself defaults to no budget and no
// timeout.
const (
	defaultIters   = 10000
	defaultTimeout = 30 * time.Second
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Iters    int
	Timeout  time.Duration
	Workers  int
	Strategy string

	// NotifyLog logs every notification (or those of NotifyVariants) to
	// stderr, at most NotifyRate lines per second when NotifyRate > 0.
	NotifyLog      bool
	NotifyRate     float64
	NotifyVariants []string

	// RunIDGenerator allows overriding the run id source (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGenerator engine.RunIDGenerator
}

// EntitySummary is one final registry entry in command output.
type EntitySummary struct {
	ID      int64  `json:"id"`
	Variant string `json:"variant"`
	Curr    any    `json:"curr"`
	Prev    any    `json:"prev"`
}

// RunSummary is the run command's result.
type RunSummary struct {
	RunID     string          `json:"run_id"`
	Model     string          `json:"model"`
	Status    string          `json:"status"`
	Strategy  string          `json:"strategy"`
	Ticks     int             `json:"ticks"`
	Submitted int             `json:"submitted"`
	Completed int             `json:"completed"`
	Spawned   int             `json:"spawned"`
	Retired   int             `json:"retired"`
	Dropped   int             `json:"dropped"`
	Digest    string          `json:"digest"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Entities  []EntitySummary `json:"entities"`
	Error     string          `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <model-dir>",
		Short: "Run a model until it quiesces",
		Long: `Load a CUE model, seed the registry and run the dispatch loop.

The run stops when no work is left, the tick budget is spent, the timeout
elapses, or a handler fails. With --db every notification and the final
registry are recorded for later inspection with 'xsm trace'. With
--notify-log notifications are also logged to stderr as they are published.

Examples:
  xsm run ./models/counter
  xsm run ./models/pipeline --strategy cooperative --iters 500
  xsm run ./models/pipeline --db ./xsm.db --timeout 10s --format json
  xsm run ./models/counter --notify-log --notify-rate 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModel(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run into this SQLite database")
	cmd.Flags().IntVar(&opts.Iters, "iters", defaultIters, "tick budget")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", defaultTimeout, "wall-clock limit")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker goroutines for the parallel strategy (default: GOMAXPROCS)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", string(engine.StrategyParallel), "scheduler (parallel|cooperative)")
	cmd.Flags().BoolVar(&opts.NotifyLog, "notify-log", false, "log each notification to stderr")
	cmd.Flags().Float64Var(&opts.NotifyRate, "notify-rate", 0, "limit --notify-log to this many lines per second (0: unlimited)")
	cmd.Flags().StringSliceVar(&opts.NotifyVariants, "notify-variant", nil, "only log notifications of these variants")

	return cmd
}

func runModel(opts *RunOptions, modelDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Configure logging based on verbose flag
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	strategy, err := engine.ParseStrategy(opts.Strategy)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --strategy", err)
	}
	if opts.NotifyRate < 0 {
		return NewExitError(ExitCommandError, "invalid --notify-rate: must not be negative")
	}

	logger.Info("loading model", "dir", modelDir)
	loaded, err := LoadModel(modelDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load model", err)
	}
	if errs := compiler.Validate(loaded.Model); len(errs) > 0 {
		for _, e := range errs {
			formatter.VerboseLog("%s", e.Error())
		}
		return WrapExitError(ExitCommandError, fmt.Sprintf("model has %d validation error(s)", len(errs)), errs[0])
	}
	catalog, err := rules.NewCatalog(loaded.Model)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build model", err)
	}
	seeds, err := catalog.Seeds(loaded.Model)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build seeds", err)
	}
	logger.Info("model loaded", "model", loaded.Model.Name, "variants", len(loaded.Model.Variants), "seeds", len(seeds))

	runIDs := opts.RunIDGenerator
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	runID := runIDs.Generate()

	engOpts := []engine.Option{
		engine.WithStrategy(strategy),
		engine.WithIters(opts.Iters),
		engine.WithTimeout(opts.Timeout),
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(runID)),
	}
	if opts.Workers > 0 {
		engOpts = append(engOpts, engine.WithWorkers(opts.Workers))
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st        *store.Store
		meta      store.RunMeta
		b         *broker.Broker
		observers []broker.Observer
	)
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		observers = append(observers, st)
	}
	if opts.NotifyLog {
		observers = append(observers, notifyLogger(cmd, opts))
	}
	if len(observers) > 0 {
		b = broker.New(observers, broker.WithLogger(logger))
		engOpts = append(engOpts, engine.WithPublisher(b))
	}

	eng, err := engine.New(engOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid engine configuration", err)
	}

	if st != nil {
		meta = store.RunMeta{
			Model:     loaded.Model.Name,
			ModelHash: loaded.Hash,
			Strategy:  string(eng.Strategy()),
			Workers:   eng.Workers(),
			Iters:     opts.Iters,
			StartedAt: time.Now(),
		}
		if err := st.BeginRun(ctx, runID, meta); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
	}

	out, runErr := runWithBroker(ctx, eng, b, seeds)
	if out == nil {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	if st != nil {
		// The signal context may be done; the final write must still land.
		if err := st.FinishRun(context.WithoutCancel(ctx), meta, out, runErr); err != nil {
			return WrapExitError(ExitCommandError, "failed to record outcome", err)
		}
		formatter.VerboseLog("Recorded run %s in %s", runID, opts.Database)
	}

	summary, err := summarize(loaded.Model.Name, string(eng.Strategy()), out, runErr)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to summarize run", err)
	}
	if err := outputRun(formatter, summary); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("run %s", out.Status), runErr)
	}
	return nil
}

// runWithBroker runs eng while b, if set, delivers notifications. The
// broker drains everything queued before runWithBroker returns.
func runWithBroker(ctx context.Context, eng *engine.Engine, b *broker.Broker, init []engine.Event) (*engine.Outcome, error) {
	if b == nil {
		return eng.Run(ctx, init)
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g := new(errgroup.Group)
	g.Go(func() error {
		return b.Run(bctx)
	})

	out, runErr := eng.Run(ctx, init)
	cancel()
	if err := g.Wait(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("recording notifications: %w", err))
	}
	return out, runErr
}

// notifyLogger builds the --notify-log observer. It logs at info level
// whatever the verbosity.
func notifyLogger(cmd *cobra.Command, opts *RunOptions) broker.Observer {
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

	var filter func(engine.Notification) bool
	if len(opts.NotifyVariants) > 0 {
		keep := make(map[engine.Variant]bool, len(opts.NotifyVariants))
		for _, v := range opts.NotifyVariants {
			keep[engine.Variant(v)] = true
		}
		filter = func(n engine.Notification) bool { return keep[n.Variant] }
	}

	var o broker.Observer = broker.FuncObserver{
		Filter: filter,
		Fn: func(ctx context.Context, n engine.Notification) error {
			log.InfoContext(ctx, "notification",
				"run_id", n.RunID,
				"seq", n.Seq,
				"variant", n.Variant,
				"entity_id", n.EntityID,
				"curr", n.Curr,
			)
			return nil
		},
	}
	if opts.NotifyRate > 0 {
		o = broker.NewThrottle(o, opts.NotifyRate, max(1, int(opts.NotifyRate)))
	}
	return o
}

func summarize(model, strategy string, out *engine.Outcome, runErr error) (RunSummary, error) {
	digest, err := out.Digest()
	if err != nil {
		return RunSummary{}, err
	}
	s := RunSummary{
		RunID:     out.RunID,
		Model:     model,
		Status:    string(out.Status),
		Strategy:  strategy,
		Ticks:     out.Ticks,
		Submitted: out.Submitted,
		Completed: out.Completed,
		Spawned:   out.Spawned,
		Retired:   out.Retired,
		Dropped:   out.Dropped,
		Digest:    digest,
		ElapsedMS: out.Elapsed.Milliseconds(),
		Entities:  make([]EntitySummary, 0, len(out.Entities)),
	}
	for _, e := range out.Entities {
		curr, err := ir.FromAny(e.State.Curr())
		if err != nil {
			return RunSummary{}, fmt.Errorf("entity %d: %w", e.ID, err)
		}
		prev, err := ir.FromAny(e.State.Prev())
		if err != nil {
			return RunSummary{}, fmt.Errorf("entity %d: %w", e.ID, err)
		}
		s.Entities = append(s.Entities, EntitySummary{
			ID:      int64(e.ID),
			Variant: string(e.State.Variant()),
			Curr:    ir.ToAny(curr),
			Prev:    ir.ToAny(prev),
		})
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return s, nil
}

func outputRun(formatter *OutputFormatter, s RunSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(s)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (%s, %s)\n", s.RunID, s.Model, s.Strategy)
	fmt.Fprintf(w, "Status: %s after %d tick(s) in %dms\n", s.Status, s.Ticks, s.ElapsedMS)
	fmt.Fprintf(w, "Handlers: %d submitted, %d completed; %d spawned, %d retired, %d dropped\n",
		s.Submitted, s.Completed, s.Spawned, s.Retired, s.Dropped)
	fmt.Fprintf(w, "Digest: %s\n", s.Digest)
	if s.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", s.Error)
	}
	fmt.Fprintf(w, "\nEntities (%d):\n", len(s.Entities))
	for _, e := range s.Entities {
		fmt.Fprintf(w, "  [%d] %s = %s\n", e.ID, e.Variant, formatValue(e.Curr))
	}
	return nil
}

// formatValue renders a payload as canonical JSON for text output.
func formatValue(v any) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
