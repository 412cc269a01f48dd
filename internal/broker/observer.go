package broker

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tomjrwilliams/xsm/internal/engine"
)

// Observer consumes notifications.
//
// Matches is a cheap filter evaluated before delivery. Receive may block;
// it runs on a broker delivery goroutine, never on the dispatch loop.
type Observer interface {
	Matches(n engine.Notification) bool
	Receive(ctx context.Context, n engine.Notification) error
}

// FuncObserver adapts a function to Observer. A nil Filter matches
// everything.
type FuncObserver struct {
	Filter func(n engine.Notification) bool
	Fn     func(ctx context.Context, n engine.Notification) error
}

func (f FuncObserver) Matches(n engine.Notification) bool {
	return f.Filter == nil || f.Filter(n)
}

func (f FuncObserver) Receive(ctx context.Context, n engine.Notification) error {
	return f.Fn(ctx, n)
}

// QueueObserver keeps every matching notification in memory. The scenario
// harness checks the recorded timeline against it.
//
// Thread-safety: safe for concurrent use.
type QueueObserver struct {
	variants map[engine.Variant]bool

	mu    sync.Mutex
	items []engine.Notification
}

// NewQueueObserver creates a queue that keeps notifications of the given
// variants, or of every variant when none are given.
func NewQueueObserver(variants ...engine.Variant) *QueueObserver {
	q := &QueueObserver{}
	if len(variants) > 0 {
		q.variants = make(map[engine.Variant]bool, len(variants))
		for _, v := range variants {
			q.variants[v] = true
		}
	}
	return q
}

func (q *QueueObserver) Matches(n engine.Notification) bool {
	return q.variants == nil || q.variants[n.Variant]
}

func (q *QueueObserver) Receive(_ context.Context, n engine.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	return nil
}

// Items returns a copy of the received notifications in delivery order.
func (q *QueueObserver) Items() []engine.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of received notifications.
func (q *QueueObserver) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Throttle rate-limits an observer with side effects outside the process,
// such as a webhook or a remote log sink.
type Throttle struct {
	next    Observer
	limiter *rate.Limiter
}

// NewThrottle wraps next so that it receives at most perSecond
// notifications per second, with bursts up to burst.
func NewThrottle(next Observer, perSecond float64, burst int) *Throttle {
	return &Throttle{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttle) Matches(n engine.Notification) bool {
	return t.next.Matches(n)
}

func (t *Throttle) Receive(ctx context.Context, n engine.Notification) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return t.next.Receive(ctx, n)
}
