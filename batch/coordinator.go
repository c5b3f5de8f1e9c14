// Package batch groups individually submitted items into batches so that
// expensive collaborators (recognition, translation) can amortize per-call
// overhead.
//
// A batch is ready when any of the following holds:
//   - it holds MaxBatchSize items,
//   - MaxWait has elapsed since its first item arrived,
//   - it holds at least MinBatchSize items and 80% of MaxWait has elapsed.
//
// With Adaptive enabled, MaxBatchSize follows the average of the last
// WindowSize recorded batch latencies: fast batches grow it by one, slow
// batches shrink it by one, within [Floor, Ceiling].
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
)

// Flush reasons, also used as metric labels.
const (
	ReasonFull    = "full"
	ReasonTimeout = "timeout"
	ReasonEarly   = "early"
	ReasonForced  = "forced"
	ReasonDrain   = "drain"
)

type pendingItem[T any] struct {
	value T
	at    time.Time
}

// Coordinator accumulates items and hands them out in batches.
// It is safe for concurrent use by many producers and consumers.
type Coordinator[T any] struct {
	name    string
	logger  *logging.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	cfg     Config
	pending []pendingItem[T]
	maxSize int
	window  []time.Duration
	next    int
	samples int
	stats   Stats
	closed  bool

	notify   chan struct{}
	closedCh chan struct{}
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	name    string
	logger  *logging.Logger
	metrics *metrics.Registry
}

// WithName labels logs and metrics emitted by the coordinator.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records batch sizes, flush reasons and latencies.
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) { o.metrics = r }
}

// New creates a Coordinator. Zero tuning fields in cfg take their defaults;
// an invalid combination of limits is rejected with a ConfigError.
func New[T any](cfg Config, opts ...Option) (*Coordinator[T], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{name: "batch", logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator[T]{
		name:     o.name,
		logger:   o.logger.WithComponent("batch").With("coordinator", o.name),
		metrics:  o.metrics,
		cfg:      cfg,
		pending:  make([]pendingItem[T], 0, cfg.MaxBatchSize),
		maxSize:  cfg.MaxBatchSize,
		window:   make([]time.Duration, cfg.WindowSize),
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
	c.stats.MaxBatchSize = cfg.MaxBatchSize
	return c, nil
}

// Name returns the coordinator label.
func (c *Coordinator[T]) Name() string { return c.name }

// Submit adds an item to the current accumulation. The wait timer of a batch
// starts with its first item.
func (c *Coordinator[T]) Submit(item T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrClosed
	}
	if len(c.pending) >= c.cfg.MaxQueueSize {
		c.stats.Rejected++
		c.mu.Unlock()
		return errors.ErrQueueFull
	}
	c.pending = append(c.pending, pendingItem[T]{value: item, at: time.Now()})
	c.stats.Submitted++
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// GetBatch blocks until a batch is ready, ctx is done, or timeout elapses.
// On timeout a partial batch is flushed if it holds at least MinBatchSize
// items; otherwise nil is returned. After Close, remaining items are handed
// out without waiting.
func (c *Coordinator[T]) GetBatch(ctx context.Context, timeout time.Duration) []T {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		now := time.Now()
		if reason, ok := c.readyLocked(now); ok {
			b := c.takeLocked(reason)
			c.mu.Unlock()
			return b
		}
		if c.closed {
			b := c.takeLocked(ReasonDrain)
			c.mu.Unlock()
			return b
		}
		if !now.Before(deadline) {
			var b []T
			if len(c.pending) > 0 && len(c.pending) >= c.cfg.MinBatchSize {
				b = c.takeLocked(ReasonForced)
			}
			c.mu.Unlock()
			return b
		}
		wake := deadline
		if at, ok := c.nextDeadlineLocked(); ok && at.Before(wake) {
			wake = at
		}
		c.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(wake))

		select {
		case <-c.notify:
		case <-timer.C:
		case <-c.closedCh:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Coordinator[T]) readyLocked(now time.Time) (string, bool) {
	n := len(c.pending)
	if n == 0 {
		return "", false
	}
	elapsed := now.Sub(c.pending[0].at)
	switch {
	case n >= c.maxSize:
		return ReasonFull, true
	case elapsed >= c.cfg.MaxWait:
		return ReasonTimeout, true
	case n >= c.cfg.MinBatchSize && elapsed >= c.earlyWait():
		return ReasonEarly, true
	}
	return "", false
}

func (c *Coordinator[T]) nextDeadlineLocked() (time.Time, bool) {
	if len(c.pending) == 0 {
		return time.Time{}, false
	}
	first := c.pending[0].at
	if len(c.pending) >= c.cfg.MinBatchSize {
		return first.Add(c.earlyWait()), true
	}
	return first.Add(c.cfg.MaxWait), true
}

func (c *Coordinator[T]) earlyWait() time.Duration {
	return time.Duration(float64(c.cfg.MaxWait) * earlyFlushRatio)
}

// takeLocked removes up to maxSize items (all items when draining).
func (c *Coordinator[T]) takeLocked(reason string) []T {
	n := len(c.pending)
	if reason != ReasonDrain {
		n = min(n, c.maxSize)
	}
	if n == 0 {
		return nil
	}

	b := make([]T, n)
	for i := range n {
		b[i] = c.pending[i].value
	}
	rest := copy(c.pending, c.pending[n:])
	clear(c.pending[rest:])
	c.pending = c.pending[:rest]

	c.stats.Batches++
	c.stats.Items += uint64(n)
	switch reason {
	case ReasonFull:
		c.stats.FullFlushes++
	case ReasonTimeout:
		c.stats.TimeoutFlushes++
	case ReasonEarly:
		c.stats.EarlyFlushes++
	case ReasonForced, ReasonDrain:
		c.stats.ForcedFlushes++
	}
	c.metrics.BatchFormed(c.name, reason, n)
	return b
}

// RecordLatency adds a batch processing latency sample and, when adaptive
// sizing is enabled and enough samples exist, moves MaxBatchSize by one.
func (c *Coordinator[T]) RecordLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window[c.next] = d
	c.next = (c.next + 1) % len(c.window)
	if c.samples < len(c.window) {
		c.samples++
	}
	c.stats.LatencySamples++

	avg := c.averageLocked()
	c.stats.AvgLatency = avg
	defer func() { c.metrics.BatchObserved(c.name, d, c.maxSize) }()

	if !c.cfg.Adaptive || c.samples < c.cfg.MinSamples {
		return
	}

	switch {
	case avg < c.cfg.LowLatency && c.maxSize < c.cfg.Ceiling:
		c.maxSize++
		c.stats.Increases++
		c.metrics.BatchAdjusted(c.name, "up")
		c.logger.Debug("batch: max size increased", "max_batch_size", c.maxSize, "avg_latency", avg)
	case avg > c.cfg.HighLatency && c.maxSize > c.cfg.floor():
		c.maxSize--
		c.stats.Decreases++
		c.metrics.BatchAdjusted(c.name, "down")
		c.logger.Debug("batch: max size decreased", "max_batch_size", c.maxSize, "avg_latency", avg)
	}
	c.stats.MaxBatchSize = c.maxSize
}

func (c *Coordinator[T]) averageLocked() time.Duration {
	if c.samples == 0 {
		return 0
	}
	var sum time.Duration
	for i := range c.samples {
		sum += c.window[i]
	}
	return sum / time.Duration(c.samples)
}

// MaxBatchSize returns the current (possibly adapted) maximum batch size.
func (c *Coordinator[T]) MaxBatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// MaxWait returns the configured maximum wait for a batch to fill.
func (c *Coordinator[T]) MaxWait() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.MaxWait
}

// Len returns the number of items waiting to be batched.
func (c *Coordinator[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reconfigure replaces the limits of a live coordinator. Pending items are
// kept; the adaptive window restarts.
func (c *Coordinator[T]) Reconfigure(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.maxSize = cfg.MaxBatchSize
	c.window = make([]time.Duration, cfg.WindowSize)
	c.next, c.samples = 0, 0
	c.stats.MaxBatchSize = c.maxSize
	c.mu.Unlock()

	c.logger.Info("batch: reconfigured", "max_batch_size", cfg.MaxBatchSize, "max_wait", cfg.MaxWait)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting items and wakes all waiting consumers. Items still
// pending are returned by subsequent GetBatch calls without waiting.
// Close is idempotent.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closedCh)
}

// Drain removes and returns every pending item.
func (c *Coordinator[T]) Drain() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]T, len(c.pending))
	for i, p := range c.pending {
		out[i] = p.value
	}
	c.pending = c.pending[:0]
	return out
}
