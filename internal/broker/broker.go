package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tomjrwilliams/xsm/internal/engine"
)

// maxConcurrentObservers bounds delivery goroutines per flush.
const maxConcurrentObservers = 8

// Broker implements engine.Publisher and delivers to observers.
//
// Thread-safety: all methods are safe for concurrent use. Flush and Run
// must not be called concurrently with each other; the second caller
// would reorder deliveries.
type Broker struct {
	logger   *slog.Logger
	parallel int

	mu        sync.Mutex
	observers []Observer
	queue     []engine.Notification
	signal    chan struct{} // buffered, size 1

	stats Stats
}

var _ engine.Publisher = (*Broker)(nil)

// Stats counts deliveries since the broker was created.
type Stats struct {
	Published int
	Delivered int
	Failed    int
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// WithConcurrency bounds how many observers are served at once.
func WithConcurrency(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.parallel = n
		}
	}
}

// New creates a broker with the given observers.
func New(observers []Observer, opts ...Option) *Broker {
	b := &Broker{
		logger:    slog.Default(),
		parallel:  maxConcurrentObservers,
		observers: observers,
		signal:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe adds an observer. It receives notifications published after
// the next flush starts.
func (b *Broker) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Publish queues n for delivery. It never blocks.
func (b *Broker) Publish(n engine.Notification) {
	b.mu.Lock()
	b.queue = append(b.queue, n)
	b.stats.Published++
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, undelivered notifications.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats returns a copy of the delivery counters.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Flush delivers everything queued at the time of the call and returns how
// many notifications it took. Each observer receives the batch in order;
// observers run concurrently. An observer error does not stop delivery to
// it or to others; the first error is returned.
//
// A Flush called with a done ctx leaves the queue untouched. Cancelling ctx
// mid-flush discards the rest of the batch.
func (b *Broker) Flush(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	observers := b.observers
	b.mu.Unlock()

	if len(batch) == 0 || len(observers) == 0 {
		return len(batch), nil
	}

	var g errgroup.Group
	g.SetLimit(b.parallel)
	for _, o := range observers {
		g.Go(func() error {
			return b.deliver(ctx, o, batch)
		})
	}
	return len(batch), g.Wait()
}

func (b *Broker) deliver(ctx context.Context, o Observer, batch []engine.Notification) error {
	var first error
	delivered, failed := 0, 0
	for _, n := range batch {
		if ctx.Err() != nil {
			break
		}
		if !o.Matches(n) {
			continue
		}
		if err := o.Receive(ctx, n); err != nil {
			failed++
			b.logger.Warn("observer failed",
				"observer", fmt.Sprintf("%T", o),
				"run_id", n.RunID,
				"seq", n.Seq,
				"variant", n.Variant,
				"error", err,
			)
			if first == nil {
				first = fmt.Errorf("observer %T: seq %d: %w", o, n.Seq, err)
			}
			continue
		}
		delivered++
	}

	b.mu.Lock()
	b.stats.Delivered += delivered
	b.stats.Failed += failed
	b.mu.Unlock()

	if first == nil {
		first = ctx.Err()
	}
	return first
}

// Run flushes whenever notifications arrive until ctx is done, then
// flushes what is left and returns. Cancelling ctx only ends the loop:
// every notification published before Run returns reaches the observers.
// Observer errors are logged and do not stop Run.
func (b *Broker) Run(ctx context.Context) error {
	dctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			_, err := b.Flush(dctx)
			return err
		case <-b.signal:
			if ctx.Err() != nil {
				_, err := b.Flush(dctx)
				return err
			}
			if _, err := b.Flush(dctx); err != nil {
				b.logger.Debug("flush finished with observer errors", "error", err)
			}
		}
	}
}
