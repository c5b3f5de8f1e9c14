package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/OptikR/OptikR-sub005/batch"
	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/algorithms"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
	"github.com/OptikR/OptikR-sub005/task"
)

// Item is the unit flowing through a pipeline.
type Item = task.WorkItem[any]

// ProcessFunc transforms one item. The returned value becomes the payload
// seen by the next stage.
type ProcessFunc func(ctx context.Context, item *Item) (any, error)

// BatchFunc transforms a batch and returns one value per item, in order.
type BatchFunc func(ctx context.Context, items []*Item) ([]any, error)

// Callback receives the terminal outcome of a submitted item exactly once.
type Callback func(task.Result[any])

// entry carries an item and its completion callback between stages.
type entry struct {
	item     *Item
	callback Callback
	admitted time.Time
	done     atomic.Bool
}

// Stage is one named step of a pipeline with its own bounded queue and
// concurrency limit.
type Stage struct {
	name        string
	index       int
	fn          ProcessFunc
	batchFn     BatchFunc
	concurrency int
	capacity    int
	queue       chan *entry
	coord       *batch.Coordinator[*entry]
	sem         *semaphore.Weighted
	retry       algorithms.RetryPolicy
	limiter     *rate.Limiter
	executor    Executor
	failure     FailurePolicy

	p        *Pipeline
	next     *Stage
	upstream <-chan struct{}
	done     chan struct{}
	logger   *logging.Logger
	metrics  *metrics.Registry
	inFlight atomic.Int64

	// gate orders offers against seal: once sealed, nothing enters the
	// queue again.
	gate   sync.RWMutex
	sealed bool

	mu    sync.Mutex
	stats StageStats
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// offer puts e on the stage input. wait == 0 fails fast, wait < 0 waits
// until ctx is done, otherwise it waits up to wait for space. It returns
// ErrClosed once ctx is done or the stage is sealed.
func (s *Stage) offer(ctx context.Context, e *entry, wait time.Duration) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.sealed || ctx.Err() != nil {
		return errors.ErrClosed
	}
	if s.coord != nil {
		return s.offerBatch(ctx, e, wait)
	}

	if wait == 0 {
		select {
		case s.queue <- e:
			s.received()
			return nil
		default:
			return errors.ErrQueueFull
		}
	}

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case s.queue <- e:
		s.received()
		return nil
	case <-timeout:
		return errors.ErrQueueFull
	case <-ctx.Done():
		return errors.ErrClosed
	}
}

// offerBatch retries a full coordinator at a short interval until the
// deadline; the coordinator has no blocking submit.
func (s *Stage) offerBatch(ctx context.Context, e *entry, wait time.Duration) error {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	for {
		err := s.coord.Submit(e)
		if err == nil {
			s.received()
			return nil
		}
		if !errors.Is(err, errors.ErrQueueFull) || wait == 0 {
			return err
		}
		if wait > 0 && time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.ErrClosed
		case <-time.After(time.Millisecond):
		}
	}
}

// ReconfigureBatch applies new limits to the coordinator of a batch stage
// while the pipeline runs.
func (s *Stage) ReconfigureBatch(cfg batch.Config) error {
	if s.coord == nil {
		return errors.NewConfigError("pipeline", "stage."+s.name, nil, "not a batch stage")
	}
	return s.coord.Reconfigure(cfg)
}

func (s *Stage) received() {
	s.mu.Lock()
	s.stats.Received++
	s.mu.Unlock()
	s.metrics.StageSubmit(s.name)
}

// take pulls the next unit of work: one entry, or a ready batch.
func (s *Stage) take(ctx context.Context, wait time.Duration) []*entry {
	if s.coord != nil {
		// A shorter pull would force-flush batches before they fill.
		return s.coord.GetBatch(ctx, max(wait, s.coord.MaxWait()))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case e := <-s.queue:
		return []*entry{e}
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (s *Stage) queued() int {
	if s.coord != nil {
		return s.coord.Len()
	}
	return len(s.queue)
}

// seal rejects every later offer and returns the entries still queued.
// Offers blocked on a full queue must be released by cancelling their
// context first.
func (s *Stage) seal() []*entry {
	s.gate.Lock()
	s.sealed = true
	s.gate.Unlock()
	if s.coord != nil {
		s.coord.Close()
	}
	return s.drainQueued()
}

// drainQueued removes every entry still waiting in the stage input.
func (s *Stage) drainQueued() []*entry {
	if s.coord != nil {
		return s.coord.Drain()
	}
	var out []*entry
	for {
		select {
		case e := <-s.queue:
			out = append(out, e)
		default:
			return out
		}
	}
}

// finished reports whether the loop may exit: admissions are closed, the
// upstream producer has exited and nothing is left in the queue.
func (s *Stage) finished() bool {
	if s.p.accepting.Load() {
		return false
	}
	if s.upstream != nil {
		select {
		case <-s.upstream:
		default:
			return false
		}
	}
	if s.coord != nil {
		// Hand out the remainder without waiting for batch readiness.
		s.coord.Close()
	}
	return s.queued() == 0
}

// run is the supervisory loop: acquire an admission slot, pull work with a
// short timeout and dispatch it asynchronously.
func (s *Stage) run(ctx context.Context) {
	defer close(s.done)
	s.logger.Debug("pipeline: stage loop started", "concurrency", s.concurrency, "capacity", s.capacity)

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		if ctx.Err() != nil {
			s.sem.Release(1)
			return
		}
		entries := s.take(ctx, s.p.pollInterval)
		if len(entries) == 0 {
			s.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			if s.finished() {
				// Wait for in-flight work so downstream sees every forward.
				if err := s.sem.Acquire(ctx, int64(s.concurrency)); err == nil {
					s.sem.Release(int64(s.concurrency))
				}
				s.logger.Debug("pipeline: stage loop exited")
				return
			}
			continue
		}

		s.inFlight.Add(1)
		s.metrics.StageGauges(s.name, s.queued(), int(s.inFlight.Load()))
		s.dispatch(ctx, entries)
	}
}

func (s *Stage) dispatch(ctx context.Context, entries []*entry) {
	s.p.jobs.Add(1)
	job := func() {
		defer func() {
			s.inFlight.Add(-1)
			s.sem.Release(1)
			s.p.jobs.Done()
		}()
		if s.coord != nil {
			s.processBatch(ctx, entries)
			return
		}
		s.processOne(ctx, entries[0])
	}

	if s.executor != nil {
		err := s.executor.Submit(func(context.Context) error {
			job()
			return nil
		})
		if err == nil {
			return
		}
		s.logger.Debug("pipeline: executor rejected work, running on goroutine", "error", err)
	}
	go job()
}

func (s *Stage) processOne(ctx context.Context, e *entry) {
	if e.item.Failed() {
		s.passThrough(ctx, e)
		return
	}

	start := time.Now()
	var out any
	attempts, err := algorithms.Retry(ctx, s.retry, func(int) error {
		if err := s.waitLimiter(ctx); err != nil {
			return err
		}
		var err error
		out, err = callWithRecovery(ctx, s.fn, e.item)
		return err
	}, s.onRetry)
	elapsed := time.Since(start)

	if err != nil {
		s.fail(ctx, e, &errors.ItemError{Stage: s.name, ItemID: e.item.ID, Attempts: attempts, Err: err}, elapsed)
		return
	}
	next := task.WithPayload(e.item, out)
	next.Attempts = attempts
	e.item = next
	s.succeed(ctx, e, elapsed)
}

func (s *Stage) processBatch(ctx context.Context, entries []*entry) {
	live := entries[:0:0]
	for _, e := range entries {
		if e.item.Failed() {
			s.passThrough(ctx, e)
			continue
		}
		live = append(live, e)
	}
	if len(live) == 0 {
		return
	}

	run := func(ctx context.Context, es []*entry) ([]any, error) {
		items := make([]*Item, len(es))
		for i, e := range es {
			items[i] = e.item
		}
		return s.batchFn(ctx, items)
	}

	start := time.Now()
	var results []any
	attempts, err := algorithms.Retry(ctx, s.retry, func(int) error {
		if err := s.waitLimiter(ctx); err != nil {
			return err
		}
		var err error
		results, err = batch.Execute(ctx, s.coord, live, run)
		return err
	}, s.onRetry)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.stats.Batches++
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("pipeline: batch failed", "size", len(live), "attempts", attempts, "error", err)
		for _, e := range live {
			s.fail(ctx, e, err, elapsed)
		}
		return
	}
	for i, e := range live {
		next := task.WithPayload(e.item, results[i])
		next.Attempts = attempts
		e.item = next
		s.succeed(ctx, e, elapsed)
	}
}

func (s *Stage) waitLimiter(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Stage) onRetry(attempt int, err error) {
	s.mu.Lock()
	s.stats.Retries++
	s.mu.Unlock()
	s.metrics.StageRetry(s.name)
	s.logger.Debug("pipeline: retrying", "attempt", attempt, "error", err)
}

func (s *Stage) succeed(ctx context.Context, e *entry, elapsed time.Duration) {
	s.mu.Lock()
	s.stats.Processed++
	s.stats.totalLatency += elapsed
	s.mu.Unlock()
	s.metrics.StageDone(s.name, metrics.OutcomeSuccess, elapsed)

	s.forward(ctx, e)
}

func (s *Stage) fail(ctx context.Context, e *entry, err error, elapsed time.Duration) {
	s.mu.Lock()
	s.stats.Failed++
	s.stats.totalLatency += elapsed
	s.mu.Unlock()

	s.logger.Warn("pipeline: item failed", "item_id", e.item.ID, "region", e.item.RegionID, "error", err)

	if s.failure == Forward {
		s.metrics.StageDone(s.name, metrics.OutcomeForwarded, elapsed)
		marked := task.WithPayload(e.item, e.item.Payload)
		marked.Err = err
		e.item = marked
		s.forward(ctx, e)
		return
	}
	s.metrics.StageDone(s.name, metrics.OutcomeDropped, elapsed)
	s.p.complete(e, s.name, err)
}

// passThrough forwards an item that already carries an error marker.
func (s *Stage) passThrough(ctx context.Context, e *entry) {
	s.mu.Lock()
	s.stats.PassedThrough++
	s.mu.Unlock()
	s.forward(ctx, e)
}

func (s *Stage) forward(ctx context.Context, e *entry) {
	if s.next == nil {
		s.p.complete(e, s.name, e.item.Err)
		return
	}
	if err := s.next.offer(ctx, e, -1); err != nil {
		s.p.complete(e, s.name, fmt.Errorf("forward to %q: %w", s.next.name, err))
	}
}

func callWithRecovery(ctx context.Context, fn ProcessFunc, item *Item) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("worker panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()
	return fn(ctx, item)
}
