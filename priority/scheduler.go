// Package priority provides a bounded priority queue with starvation
// prevention.
//
// Lower priority values are more urgent. Entries with equal effective
// priority leave in insertion order. When starvation prevention is enabled,
// every queued entry gains one point of urgency per aging step (one second
// by default): its effective priority is max(0, base - floor(age/step)),
// optionally capped by a maximum boost. Aging is applied under the same lock
// as Enqueue at each Dequeue, so a long-waiting background entry eventually
// ties with, and thanks to its older sequence number beats, fresh critical
// arrivals.
package priority

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
	"github.com/OptikR/OptikR-sub005/task"
)

const (
	defaultMaxSize   = 1000
	defaultAgingStep = time.Second
)

// Scheduler is a concurrency-safe priority queue of T.
type Scheduler[T any] struct {
	name       string
	maxSize    int
	starvation bool
	agingStep  time.Duration
	maxBoost   int
	levels     map[string]task.Priority
	now        func() time.Time
	logger     *logging.Logger
	metrics    *metrics.Registry

	mu     sync.Mutex
	queue  entryHeap[T]
	seq    uint64
	closed bool
	stats  Stats

	notify   chan struct{}
	closedCh chan struct{}
}

// Option configures a Scheduler.
type Option func(*settings)

type settings struct {
	name       string
	maxSize    int
	starvation bool
	agingStep  time.Duration
	maxBoost   int
	levels     map[string]task.Priority
	now        func() time.Time
	logger     *logging.Logger
	metrics    *metrics.Registry
}

// WithMaxSize bounds the number of queued entries.
func WithMaxSize(n int) Option {
	return func(s *settings) { s.maxSize = n }
}

// WithStarvationPrevention toggles aging. Enabled by default.
func WithStarvationPrevention(enabled bool) Option {
	return func(s *settings) { s.starvation = enabled }
}

// WithAgingStep sets how long an entry waits to gain one point of urgency.
func WithAgingStep(d time.Duration) Option {
	return func(s *settings) { s.agingStep = d }
}

// WithMaxBoost caps the total urgency an entry can gain through aging.
// Zero means unlimited: entries may age all the way to priority 0.
func WithMaxBoost(points int) Option {
	return func(s *settings) { s.maxBoost = points }
}

// WithLevels replaces the named priority bands used by EnqueueLevel.
func WithLevels(levels map[string]task.Priority) Option {
	return func(s *settings) { s.levels = levels }
}

// WithClock overrides the time source used for aging.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithName labels logs and metrics.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics records queue depth, waits and boosts.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *settings) { s.metrics = r }
}

// New creates a Scheduler.
func New[T any](opts ...Option) (*Scheduler[T], error) {
	s := settings{
		name:       "priority",
		maxSize:    defaultMaxSize,
		starvation: true,
		agingStep:  defaultAgingStep,
		levels:     task.DefaultLevels(),
		now:        time.Now,
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	switch {
	case s.maxSize < 1:
		return nil, errors.NewConfigError("scheduler", "max_queue_size", s.maxSize, "must be positive")
	case s.agingStep <= 0:
		return nil, errors.NewConfigError("scheduler", "aging_step", s.agingStep, "must be positive")
	case s.maxBoost < 0:
		return nil, errors.NewConfigError("scheduler", "max_boost", s.maxBoost, "must not be negative")
	}
	for name, p := range s.levels {
		if p < 0 {
			return nil, errors.NewConfigError("scheduler", "priority_levels."+name, p, "must not be negative")
		}
	}

	return &Scheduler[T]{
		name:       s.name,
		maxSize:    s.maxSize,
		starvation: s.starvation,
		agingStep:  s.agingStep,
		maxBoost:   s.maxBoost,
		levels:     s.levels,
		now:        s.now,
		logger:     s.logger.WithComponent("scheduler").With("scheduler", s.name),
		metrics:    s.metrics,
		queue:      make(entryHeap[T], 0, min(s.maxSize, 256)),
		stats:      Stats{DequeuedByPriority: make(map[task.Priority]uint64)},
		notify:     make(chan struct{}, 1),
		closedCh:   make(chan struct{}),
	}, nil
}

// Enqueue inserts value with the given base priority. It returns
// ErrQueueFull at capacity and ErrClosed after Close.
func (s *Scheduler[T]) Enqueue(value T, p task.Priority) error {
	if p < 0 {
		p = 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrClosed
	}
	if len(s.queue) >= s.maxSize {
		s.stats.Rejected++
		s.mu.Unlock()
		return errors.ErrQueueFull
	}
	s.seq++
	heap.Push(&s.queue, &entry[T]{
		value:      value,
		base:       p,
		effective:  p,
		seq:        s.seq,
		enqueuedAt: s.now(),
	})
	s.stats.Enqueued++
	depth := len(s.queue)
	s.mu.Unlock()

	s.metrics.SchedulerDepth(s.name, depth)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// EnqueueLevel inserts value using a named priority band such as "HIGH".
func (s *Scheduler[T]) EnqueueLevel(value T, level string) error {
	p, ok := s.Level(level)
	if !ok {
		return errors.NewConfigError("scheduler", "priority_level", level, "unknown level")
	}
	return s.Enqueue(value, p)
}

// Level resolves a named band.
func (s *Scheduler[T]) Level(name string) (task.Priority, bool) {
	p, ok := s.levels[name]
	return p, ok
}

// Dequeue removes the most urgent entry, waiting up to timeout for one to
// arrive. ok is false on timeout, cancellation, or when the scheduler is
// closed and empty.
func (s *Scheduler[T]) Dequeue(ctx context.Context, timeout time.Duration) (value T, ok bool) {
	if value, ok = s.TryDequeue(); ok {
		return value, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.notify:
		case <-s.closedCh:
			return s.TryDequeue()
		case <-timer.C:
			return s.TryDequeue()
		case <-ctx.Done():
			return value, false
		}
		if value, ok = s.TryDequeue(); ok {
			return value, true
		}
	}
}

// TryDequeue removes the most urgent entry without waiting.
func (s *Scheduler[T]) TryDequeue() (value T, ok bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return value, false
	}

	now := s.now()
	boosted := s.ageLocked(now)
	e := heap.Pop(&s.queue).(*entry[T])
	wait := now.Sub(e.enqueuedAt)

	s.stats.Dequeued++
	s.stats.DequeuedByPriority[e.base]++
	s.stats.totalWait += wait
	if e.effective < e.base {
		s.stats.Promoted++
	}
	depth := len(s.queue)
	more := depth > 0
	s.mu.Unlock()

	s.metrics.SchedulerBoost(s.name, boosted)
	s.metrics.SchedulerDequeue(s.name, e.base.String(), wait)
	s.metrics.SchedulerDepth(s.name, depth)
	if more {
		// Hand the wake-up on to another waiting consumer.
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return e.value, true
}

// ageLocked recomputes effective priorities and restores heap order when any
// entry moved. It returns the number of entries promoted.
func (s *Scheduler[T]) ageLocked(now time.Time) int {
	if !s.starvation {
		return 0
	}
	promoted := 0
	for _, e := range s.queue {
		if eff := s.effective(e, now); eff < e.effective {
			e.effective = eff
			promoted++
		}
	}
	if promoted > 0 {
		heap.Init(&s.queue)
		s.stats.Boosts += uint64(promoted)
	}
	return promoted
}

func (s *Scheduler[T]) effective(e *entry[T], now time.Time) task.Priority {
	if !s.starvation {
		return e.effective
	}
	boost := int(now.Sub(e.enqueuedAt) / s.agingStep)
	if s.maxBoost > 0 {
		boost = min(boost, s.maxBoost)
	}
	return min(e.effective, max(0, e.base-task.Priority(boost)))
}

// Peek returns the entry Dequeue would return now, without removing it or
// touching statistics.
func (s *Scheduler[T]) Peek() (value T, p task.Priority, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return value, 0, false
	}
	now := s.now()
	var best *entry[T]
	var bestEff task.Priority
	for _, e := range s.queue {
		eff := s.effective(e, now)
		if best == nil || eff < bestEff || (eff == bestEff && e.seq < best.seq) {
			best, bestEff = e, eff
		}
	}
	return best.value, bestEff, true
}

// Len returns the number of queued entries.
func (s *Scheduler[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close rejects further Enqueue calls and wakes blocked consumers. Queued
// entries remain available to Dequeue and Drain. Close is idempotent.
func (s *Scheduler[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closedCh)
	s.logger.Debug("scheduler: closed", "pending", len(s.queue))
}

// Drain removes every queued entry in dequeue order.
func (s *Scheduler[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ageLocked(s.now())
	out := make([]T, 0, len(s.queue))
	for len(s.queue) > 0 {
		out = append(out, heap.Pop(&s.queue).(*entry[T]).value)
	}
	return out
}
