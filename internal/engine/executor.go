package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Task is one submitted handler invocation.
type Task struct {
	Seq     uint64
	ID      ID
	Self    State
	Event   Event
	Handler Handler
}

// Completion carries a task's result back to the dispatch loop.
type Completion struct {
	Task   Task
	Result Result
	Err    error
}

// Executor runs handler invocations and hands completions back to the
// dispatch loop.
//
// Submit never blocks; back-pressure is the loop's job, sized by Capacity.
// Completions are collected with Poll after Ready signals. Close abandons
// outstanding work and must not block on it; Wait joins workers and is
// only called once nothing is outstanding.
type Executor interface {
	Capacity() int
	Submit(t Task)
	Poll() (Completion, bool)
	Ready() <-chan struct{}
	Close()
	Wait() error
}

// execute invokes the task's handler, converting a panic into an error.
func execute(t Task) (c Completion) {
	c.Task = t
	defer func() {
		if r := recover(); r != nil {
			c.Err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	c.Result, c.Err = t.Handler(t.Self, t.Event)
	return c
}

// PoolExecutor runs handlers on a fixed set of worker goroutines.
//
// Workers pull from a shared task queue and push completions onto a result
// queue that only the dispatch loop reads, so completions are applied on
// the loop goroutine. Worker lifetime is managed by an errgroup.
type PoolExecutor struct {
	workers int
	tasks   *queue[Task]
	results *queue[Completion]
	g       *errgroup.Group
	cancel  context.CancelFunc
}

var _ Executor = (*PoolExecutor)(nil)

// NewPoolExecutor starts workers goroutines. They exit when ctx is done or
// the executor is closed.
func NewPoolExecutor(ctx context.Context, workers int) *PoolExecutor {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	p := &PoolExecutor{
		workers: workers,
		tasks:   newQueue[Task](),
		results: newQueue[Completion](),
		g:       g,
		cancel:  cancel,
	}
	for range workers {
		g.Go(func() error {
			return p.work(gctx)
		})
	}
	return p
}

func (p *PoolExecutor) work(ctx context.Context) error {
	for {
		t, ok := p.tasks.TryDequeue()
		if ok {
			// Dropped if the executor was closed while the handler ran.
			p.results.Enqueue(execute(t))
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.tasks.Wait():
			if p.tasks.Closed() {
				return nil
			}
		}
	}
}

func (p *PoolExecutor) Capacity() int { return p.workers }

func (p *PoolExecutor) Submit(t Task) {
	p.tasks.Enqueue(t)
}

func (p *PoolExecutor) Poll() (Completion, bool) {
	return p.results.TryDequeue()
}

func (p *PoolExecutor) Ready() <-chan struct{} {
	return p.results.Wait()
}

// Close discards queued tasks and releases the workers. Handlers already
// running finish on their own; their completions are dropped.
func (p *PoolExecutor) Close() {
	p.tasks.Close()
	p.results.Close()
	p.cancel()
}

func (p *PoolExecutor) Wait() error {
	return p.g.Wait()
}

// SequentialExecutor runs each handler inline on the submitting goroutine.
//
// It backs the cooperative strategy: one computation at a time, completions
// applied in submission order, fully deterministic for a given input.
type SequentialExecutor struct {
	results fifo[Completion]
	signal  chan struct{}
	closed  bool
}

var _ Executor = (*SequentialExecutor)(nil)

// NewSequentialExecutor creates an inline executor.
func NewSequentialExecutor() *SequentialExecutor {
	return &SequentialExecutor{signal: make(chan struct{}, 1)}
}

func (s *SequentialExecutor) Capacity() int { return 1 }

func (s *SequentialExecutor) Submit(t Task) {
	if s.closed {
		return
	}
	s.results.Push(execute(t))
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *SequentialExecutor) Poll() (Completion, bool) {
	return s.results.Pop()
}

func (s *SequentialExecutor) Ready() <-chan struct{} {
	return s.signal
}

func (s *SequentialExecutor) Close() {
	s.closed = true
	s.results.Clear()
}

func (s *SequentialExecutor) Wait() error { return nil }
