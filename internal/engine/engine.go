package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Strategy selects how handler computations are scheduled.
type Strategy string

const (
	// StrategyParallel runs handlers on a pool of worker goroutines.
	StrategyParallel Strategy = "parallel"

	// StrategyCooperative runs handlers inline on the loop goroutine, one
	// at a time. Deterministic for a given input.
	StrategyCooperative Strategy = "cooperative"
)

// ParseStrategy converts a flag value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyParallel, StrategyCooperative:
		return Strategy(s), nil
	default:
		return "", newConfigError("strategy", s, "must be parallel or cooperative")
	}
}

var errRunTimeout = errors.New("run timeout elapsed")

// Engine runs the dispatch loop.
//
// An Engine holds configuration only; all loop state lives in a run that
// Run creates and discards. One Engine may run many times, but not
// concurrently.
//
// Thread-safety model:
//   - Run(): one call at a time; the calling goroutine is the single writer
//     of the registry, dependency index, tracker and queues
//   - Inject(): safe from any goroutine while Run is active
type Engine struct {
	iters     int
	timeout   time.Duration
	workers   int
	strategy  Strategy
	publisher Publisher
	logger    *slog.Logger
	runIDs    RunIDGenerator

	mu     sync.Mutex
	active *run
}

// Option configures an Engine.
type Option func(*Engine)

// WithIters bounds a run to n ticks. 0 (the default) means unlimited.
//
// Once the budget is spent the run waits for computations already in
// flight. Only the timeout or ctx bounds that wait; a handler that never
// returns blocks Run until one of them ends it, and the run then reports
// timed_out or cancelled.
func WithIters(n int) Option {
	return func(e *Engine) {
		e.iters = n
	}
}

// WithTimeout bounds a run's wall-clock time. 0 (the default) means none.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithWorkers sets the worker pool size for the parallel strategy.
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithStrategy selects the scheduling strategy. Default: StrategyParallel.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		e.strategy = s
	}
}

// WithPublisher attaches a notification sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRunIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// New creates an Engine. Invalid options are rejected here, before any
// run starts.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		workers:   runtime.GOMAXPROCS(0),
		strategy:  StrategyParallel,
		publisher: discardPublisher{},
		logger:    slog.Default(),
		runIDs:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}

	switch {
	case e.workers < 1:
		return nil, newConfigError("workers", e.workers, "worker pool size must be at least 1")
	case e.iters < 0:
		return nil, newConfigError("iters", e.iters, "tick budget must not be negative")
	case e.timeout < 0:
		return nil, newConfigError("timeout", e.timeout, "timeout must not be negative")
	case e.publisher == nil:
		return nil, newConfigError("publisher", nil, "publisher must not be nil")
	case e.logger == nil:
		return nil, newConfigError("logger", nil, "logger must not be nil")
	case e.runIDs == nil:
		return nil, newConfigError("run_id_generator", nil, "run id generator must not be nil")
	}
	if _, err := ParseStrategy(string(e.strategy)); err != nil {
		return nil, err
	}
	return e, nil
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() Strategy { return e.strategy }

// Workers returns the configured worker pool size.
func (e *Engine) Workers() int { return e.workers }

// Run seeds a registry from init and runs the dispatch loop until it
// quiesces, the tick budget is spent, the timeout elapses, ctx is
// cancelled, or entity code faults.
//
// Persisting seeds are registered under identities 0..N-1 in order; every
// seed, persisting or not, enters the event queue.
//
// The outcome is returned in every case once the loop has started. The
// error is non-nil for handler faults (*HandlerError), invariant
// violations and cancellation. Timeout and budget exhaustion are normal
// terminations.
func (e *Engine) Run(ctx context.Context, init []Event) (*Outcome, error) {
	r := e.newRun(e.runIDs.Generate())
	if err := e.activate(r); err != nil {
		return nil, err
	}
	defer e.deactivate(r)

	start := time.Now()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.timeout, errRunTimeout)
		defer cancel()
	}

	switch e.strategy {
	case StrategyCooperative:
		r.exec = NewSequentialExecutor()
	default:
		r.exec = NewPoolExecutor(ctx, e.workers)
	}

	r.log.Info("run starting",
		"strategy", e.strategy,
		"workers", r.exec.Capacity(),
		"iters", e.iters,
		"timeout", e.timeout,
		"seeds", len(init),
	)

	var status Status
	err := r.seed(init)
	if err != nil {
		status = StatusFailed
	} else {
		status, err = r.loop(ctx)
	}
	r.shutdown()

	out := r.outcome(status, time.Since(start))
	if err != nil {
		r.log.Error("run failed",
			"status", out.Status,
			"ticks", out.Ticks,
			"error", err,
		)
		return out, err
	}
	r.log.Info("run finished",
		"status", out.Status,
		"ticks", out.Ticks,
		"entities", len(out.Entities),
		"submitted", out.Submitted,
		"completed", out.Completed,
		"elapsed", out.Elapsed,
	)
	return out, nil
}

// Inject adds an event to the active run. It is routed like any other
// event; persisting states are registered under a fresh identity first.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Inject(ev Event) error {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()

	if r == nil || !r.inbox.Enqueue(ev) {
		return &RuntimeError{Code: ErrCodeNotRunning, Message: "no active run"}
	}
	return nil
}

func (e *Engine) activate(r *run) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return &RuntimeError{
			Code:    ErrCodeAlreadyRunning,
			Message: fmt.Sprintf("run %s is still active", e.active.id),
		}
	}
	e.active = r
	return nil
}

func (e *Engine) deactivate(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r.inbox.Close()
	e.active = nil
}

// run is the state of one dispatch loop invocation. Every field is owned
// by the goroutine executing Engine.Run, except inbox.
type run struct {
	id        string
	log       *slog.Logger
	publisher Publisher

	registry *Registry
	index    *DependencyIndex
	tracker  *tracker
	events   fifo[Event]
	inbox    *queue[Event]
	exec     Executor
	budget   *TickBudget
	clock    *Clock

	seq      uint64 // last task seq
	draining bool

	submitted int
	completed int
	spawned   int
	retired   int
	dropped   int
}

func (e *Engine) newRun(id string) *run {
	return &run{
		id:        id,
		log:       e.logger.With("run_id", id),
		publisher: e.publisher,
		registry:  NewRegistry(),
		index:     NewDependencyIndex(),
		tracker:   newTracker(),
		inbox:     newQueue[Event](),
		budget:    NewTickBudget(e.iters),
		clock:     NewClock(),
	}
}

// seed registers persisting inputs and queues every input.
func (r *run) seed(init []Event) error {
	ids := make([]ID, len(init))
	for i, ev := range init {
		if ev == nil {
			return newConfigError("init", i, "nil seed event")
		}
		r.index.Register(ev)
		ids[i] = NoID
		if !ev.Persists() {
			continue
		}
		s, ok := ev.(State)
		if !ok {
			return newConfigError("init", i,
				fmt.Sprintf("persisting seed of variant %s does not implement State", ev.Variant()))
		}
		ids[i] = r.registry.Insert(s)
	}
	for i, ev := range init {
		r.enqueue(ev, ids[i], false)
	}
	return nil
}

// loop runs ticks until a termination condition holds.
func (r *run) loop(ctx context.Context) (Status, error) {
	for {
		if err := r.applyReady(); err != nil {
			return StatusFailed, err
		}
		r.takeInbox()

		// Nothing to route: wait for a completion or an injection without
		// spending a tick.
		for r.idle() {
			if !r.await(ctx, true) {
				break
			}
			if err := r.applyReady(); err != nil {
				return StatusFailed, err
			}
			r.takeInbox()
		}

		// 1. Back-pressure.
		for r.tracker.InFlight() >= r.exec.Capacity() {
			if !r.await(ctx, false) {
				break
			}
			if err := r.applyReady(); err != nil {
				return StatusFailed, err
			}
		}
		if ctx.Err() != nil {
			return r.stopped(ctx)
		}

		// 2. Pending queues of identities that have freed up.
		if err := r.drainPending(); err != nil {
			return StatusFailed, err
		}

		// 3. At most one event from the global queue.
		if ev, ok := r.events.Pop(); ok {
			if err := r.route(ev); err != nil {
				return StatusFailed, err
			}
		}

		// 4. Termination.
		exhausted := r.budget.Spend()
		if r.quiescent() {
			return StatusQuiesced, nil
		}
		if exhausted {
			if err := r.drain(ctx); err != nil {
				return StatusFailed, err
			}
			// Work still in flight means ctx ended the drain.
			if r.tracker.InFlight() > 0 {
				return r.stopped(ctx)
			}
			return StatusBudgetExhausted, nil
		}
	}
}

// stopped maps a done context to a status.
func (r *run) stopped(ctx context.Context) (Status, error) {
	if errors.Is(context.Cause(ctx), errRunTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StatusTimedOut, nil
	}
	return StatusCancelled, ctx.Err()
}

// await blocks until a completion may be ready, an event was injected
// (when inbox is set), or ctx is done. Returns false on ctx done.
func (r *run) await(ctx context.Context, inbox bool) bool {
	var injected <-chan struct{}
	if inbox {
		injected = r.inbox.Wait()
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.exec.Ready():
		return true
	case <-injected:
		return true
	}
}

func (r *run) idle() bool {
	return r.events.Len() == 0 && !r.tracker.HasReady() && r.tracker.InFlight() > 0
}

func (r *run) quiescent() bool {
	return r.events.Len() == 0 &&
		r.tracker.InFlight() == 0 &&
		r.tracker.Pending() == 0 &&
		r.inbox.Len() == 0
}

// drain applies the completions of computations already in flight without
// routing anything further. Bounded by ctx.
func (r *run) drain(ctx context.Context) error {
	r.draining = true
	for {
		if err := r.applyReady(); err != nil {
			return err
		}
		if r.tracker.InFlight() == 0 || !r.await(ctx, false) {
			return nil
		}
	}
}

// shutdown releases the executor. Workers are only joined when nothing is
// outstanding; abandoned computations are left to finish on their own.
func (r *run) shutdown() {
	r.exec.Close()
	if r.tracker.InFlight() > 0 {
		r.log.Warn("abandoning in-flight computations", "in_flight", r.tracker.InFlight())
		return
	}
	if err := r.exec.Wait(); err != nil {
		r.log.Warn("executor shutdown", "error", err)
	}
}

func (r *run) applyReady() error {
	for {
		c, ok := r.exec.Poll()
		if !ok {
			return nil
		}
		if err := r.complete(c); err != nil {
			return err
		}
	}
}

// takeInbox moves injected events onto the global queue.
func (r *run) takeInbox() {
	for {
		ev, ok := r.inbox.TryDequeue()
		if !ok {
			return
		}
		if ev == nil {
			continue
		}
		r.index.Register(ev)
		id := NoID
		if ev.Persists() {
			s, ok := ev.(State)
			if !ok {
				r.log.Warn("injected persisting event is not a state; dropped", "variant", ev.Variant())
				continue
			}
			id = r.registry.Insert(s)
		}
		r.enqueue(ev, id, false)
	}
}

// route matches ev against the registry and submits or defers each match.
func (r *run) route(ev Event) error {
	r.index.Register(ev)

	matches, err := matchEvent(ev, r.registry, r.index)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		r.dropped++
		r.log.Debug("event dropped", "event_variant", ev.Variant())
		return nil
	}

	for _, m := range matches {
		if r.tracker.Busy(m.id) {
			r.tracker.Defer(m.id, m.handler, ev)
			r.log.Debug("event deferred", "entity_id", m.id, "event_variant", ev.Variant())
			continue
		}
		if err := r.submit(m.id, m.handler, ev); err != nil {
			return err
		}
	}
	return nil
}

// drainPending submits the oldest pending pair of every free identity.
func (r *run) drainPending() error {
	for _, id := range r.tracker.Ready() {
		p, ok := r.tracker.Pop(id)
		if !ok {
			continue
		}
		if err := r.submit(id, p.handler, p.event); err != nil {
			return err
		}
	}
	return nil
}

// submit marks id in flight and hands its computation to the executor.
// A pair for an identity that has since retired is skipped.
func (r *run) submit(id ID, h Handler, ev Event) error {
	self, ok := r.registry.Get(id)
	if !ok {
		r.tracker.Drop(id)
		return nil
	}

	r.seq++
	if err := r.tracker.Mark(id, r.seq); err != nil {
		return err
	}
	r.submitted++

	r.log.Debug("submit",
		"entity_id", id,
		"variant", self.Variant(),
		"event_variant", ev.Variant(),
		"task", r.seq,
	)
	r.exec.Submit(Task{Seq: r.seq, ID: id, Self: self, Event: ev, Handler: h})
	return nil
}

// complete applies one finished computation: the single place the
// registry changes after seeding.
func (r *run) complete(c Completion) error {
	t := c.Task
	self, _ := r.registry.Get(t.ID)

	if c.Err != nil {
		return r.fault(t, self, c.Err)
	}
	if err := checkResult(c.Result); err != nil {
		return r.fault(t, self, err)
	}
	if err := r.tracker.Clear(t.ID, t.Seq); err != nil {
		return err
	}
	r.completed++

	res := c.Result
	retired := res.retires()

	var selfEvent Event
	if retired {
		if self != nil {
			r.registry.Delete(t.ID)
			r.retired++
			dropped := r.tracker.Drop(t.ID)
			selfEvent = tombstone(self)
			r.log.Debug("entity retired", "entity_id", t.ID, "variant", self.Variant(), "dropped_pending", dropped)
		}
	} else if self != nil {
		if err := r.registry.Put(t.ID, res.Self); err != nil {
			return err
		}
		r.index.Register(res.Self)
		selfEvent = res.Self
	}

	spawnedIDs := make([]ID, len(res.Spawned))
	for i, sp := range res.Spawned {
		r.index.Register(sp)
		spawnedIDs[i] = NoID
		if sp.Persists() {
			spawnedIDs[i] = r.registry.Insert(sp.(State))
			r.spawned++
		}
	}

	if selfEvent != nil {
		r.enqueue(selfEvent, t.ID, retired)
	}
	for i, sp := range res.Spawned {
		r.enqueue(sp, spawnedIDs[i], false)
	}

	// The freed identity takes its next pending event now rather than on
	// the next tick.
	if !retired && !r.draining {
		if p, ok := r.tracker.Pop(t.ID); ok {
			return r.submit(t.ID, p.handler, p.event)
		}
	}
	return nil
}

// checkResult rejects results the loop cannot apply.
func checkResult(res Result) error {
	switch res.Kind {
	case KindSelfOnly:
		if res.Self == nil {
			return fmt.Errorf("%w: self_only result without self", ErrInvalidResult)
		}
		if len(res.Spawned) > 0 {
			return fmt.Errorf("%w: self_only result with spawned entries", ErrInvalidResult)
		}
	case KindSelfAndSpawned:
		if res.Self == nil {
			return fmt.Errorf("%w: self_and_spawned result without self", ErrInvalidResult)
		}
	case KindRetired:
	default:
		return fmt.Errorf("%w: unknown result kind %d", ErrInvalidResult, res.Kind)
	}
	for i, sp := range res.Spawned {
		if sp == nil {
			return fmt.Errorf("%w: spawned[%d] is nil", ErrInvalidResult, i)
		}
		if _, ok := sp.(State); sp.Persists() && !ok {
			return fmt.Errorf("%w: spawned[%d] of variant %s persists but is not a state",
				ErrInvalidResult, i, sp.Variant())
		}
	}
	return nil
}

func (r *run) fault(t Task, self State, cause error) error {
	variant := t.Self.Variant()
	if self != nil {
		variant = self.Variant()
	}
	err := &HandlerError{
		ID:           t.ID,
		Variant:      variant,
		EventVariant: t.Event.Variant(),
		Event:        t.Event,
		Cause:        cause,
	}
	r.log.Error("handler fault",
		"entity_id", t.ID,
		"variant", variant,
		"event_variant", t.Event.Variant(),
		"error", cause,
	)
	return err
}

// enqueue appends ev to the global queue and publishes it.
func (r *run) enqueue(ev Event, id ID, retired bool) {
	r.events.Push(ev)
	r.publisher.Publish(Notification{
		RunID:    r.id,
		Seq:      r.clock.Next(),
		Tick:     r.budget.Used(),
		EntityID: id,
		Variant:  ev.Variant(),
		Curr:     ev.Curr(),
		Prev:     ev.Prev(),
		Retired:  retired,
	})
}

func (r *run) outcome(status Status, elapsed time.Duration) *Outcome {
	return &Outcome{
		RunID:     r.id,
		Status:    status,
		Entities:  r.registry.Snapshot(),
		Ticks:     r.budget.Used(),
		Submitted: r.submitted,
		Completed: r.completed,
		Spawned:   r.spawned,
		Retired:   r.retired,
		Dropped:   r.dropped,
		Deferred:  r.tracker.deferred,
		Queued:    r.events.Len(),
		Pending:   r.tracker.Pending(),
		InFlight:  r.tracker.InFlight(),
		Elapsed:   elapsed,
	}
}
