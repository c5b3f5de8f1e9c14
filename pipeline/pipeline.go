// Package pipeline runs work items through a chain of named stages.
//
// Every stage has a bounded input queue, a concurrency limit enforced with
// admission slots, and one supervisory loop that pulls work with a short
// timeout and processes it asynchronously. A stage may front its function
// with a batch coordinator, run its work on an executor such as the
// work-stealing pool, retry failures with backoff and rate-limit calls.
// Submissions enter the first stage directly or through a priority
// scheduler.
//
// Every accepted item reaches exactly one terminal outcome, reported to its
// callback: a value from the last stage or an error. Rejected submissions
// return an error from Submit and never invoke the callback. At all times
//
//	Submitted == Completed + Failed + Pending
//
// Example:
//
//	p := pipeline.New(pipeline.WithLogger(logger))
//	_ = p.AddStage("ocr", recognize, 2, 64)
//	_ = p.AddStage("translate", translate, 4, 64, pipeline.WithRetry(policy))
//	if err := p.Start(ctx); err != nil {
//		return err
//	}
//	defer p.Stop(5 * time.Second)
//
//	future, err := p.SubmitFuture(task.NewItem[any](frame))
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/OptikR/OptikR-sub005/batch"
	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
	"github.com/OptikR/OptikR-sub005/priority"
	"github.com/OptikR/OptikR-sub005/task"
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Pipeline is a chain of stages. Build it with AddStage/AddBatchStage, then
// Start it; the stage list is fixed once running.
type Pipeline struct {
	name          string
	submitPolicy  SubmitPolicy
	submitTimeout time.Duration
	failure       FailurePolicy
	pollInterval  time.Duration
	logger        *logging.Logger
	metrics       *metrics.Registry

	admissionOpts []priority.Option
	useAdmission  bool
	admission     *priority.Scheduler[*entry]
	pumpDone      chan struct{}

	// admit is held shared by submitters and exclusively when admissions
	// close, so no entry slips in after Stop has begun.
	admit     sync.RWMutex
	accepting atomic.Bool

	mu        sync.Mutex
	state     state
	stages    []*Stage
	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64

	// jobs counts dispatched stage work until its function returns.
	jobs      sync.WaitGroup
	timedOut  atomic.Bool
	abandoned atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	s := settings{
		name:          "pipeline",
		submitPolicy:  Reject,
		submitTimeout: defaultSubmitTimeout,
		failure:       Drop,
		pollInterval:  defaultPollInterval,
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	return &Pipeline{
		name:          s.name,
		submitPolicy:  s.submitPolicy,
		submitTimeout: s.submitTimeout,
		failure:       s.failure,
		pollInterval:  s.pollInterval,
		logger:        s.logger.WithComponent("pipeline").With("pipeline", s.name),
		metrics:       s.metrics,
		admissionOpts: s.admission,
		useAdmission:  s.useAdmission,
		done:          make(chan struct{}),
	}
}

// AddStage appends a stage that processes items one at a time with up to
// concurrencyLimit items in flight and at most queueCapacity items queued.
func (p *Pipeline) AddStage(name string, fn ProcessFunc, concurrencyLimit, queueCapacity int, opts ...StageOption) error {
	if fn == nil {
		return errors.NewConfigError("pipeline", "stage."+name, nil, "processing function is nil")
	}
	if queueCapacity < 1 {
		return errors.NewConfigError("pipeline", "stage."+name+".queue_capacity", queueCapacity, "must be positive")
	}
	s, err := p.newStage(name, concurrencyLimit, opts)
	if err != nil {
		return err
	}
	s.fn = fn
	s.capacity = queueCapacity
	s.queue = make(chan *entry, queueCapacity)
	return p.appendStage(s)
}

// AddBatchStage appends a stage whose input is a batch coordinator built
// from cfg; fn receives whole batches and cfg.MaxQueueSize bounds the queue.
func (p *Pipeline) AddBatchStage(name string, fn BatchFunc, concurrencyLimit int, cfg batch.Config, opts ...StageOption) error {
	if fn == nil {
		return errors.NewConfigError("pipeline", "stage."+name, nil, "batch function is nil")
	}
	s, err := p.newStage(name, concurrencyLimit, opts)
	if err != nil {
		return err
	}
	coord, err := batch.New[*entry](cfg,
		batch.WithName(name),
		batch.WithLogger(p.logger),
		batch.WithMetrics(p.metrics),
	)
	if err != nil {
		return err
	}
	s.batchFn = fn
	s.coord = coord
	s.capacity = coord.Stats().MaxBatchSize
	if cfg.MaxQueueSize > 0 {
		s.capacity = cfg.MaxQueueSize
	}
	return p.appendStage(s)
}

func (p *Pipeline) newStage(name string, concurrency int, opts []StageOption) (*Stage, error) {
	if name == "" {
		return nil, errors.NewConfigError("pipeline", "stage.name", name, "must not be empty")
	}
	if concurrency < 1 {
		return nil, errors.NewConfigError("pipeline", "stage."+name+".concurrency", concurrency, "must be positive")
	}

	ss := stageSettings{}
	for _, opt := range opts {
		opt(&ss)
	}
	failure := p.failure
	if ss.failure != nil {
		failure = *ss.failure
	}

	return &Stage{
		name:        name,
		concurrency: concurrency,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		retry:       ss.retry,
		limiter:     ss.limiter,
		executor:    ss.executor,
		failure:     failure,
		p:           p,
		done:        make(chan struct{}),
		logger:      p.logger.WithStage(name),
		metrics:     p.metrics,
		stats:       StageStats{Name: name},
	}, nil
}

func (p *Pipeline) appendStage(s *Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateIdle {
		return errors.ErrAlreadyStarted
	}
	for _, existing := range p.stages {
		if existing.name == s.name {
			return errors.NewConfigError("pipeline", "stage.name", s.name, "duplicate stage")
		}
	}
	s.index = len(p.stages)
	s.stats.Concurrency = s.concurrency
	s.stats.Capacity = s.capacity
	p.stages = append(p.stages, s)
	return nil
}

// Stage returns the named stage.
func (p *Pipeline) Stage(name string) (*Stage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stages {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// Start links the stages and launches one supervisory loop per stage.
// Cancelling ctx aborts processing immediately: queued items fail with
// ErrClosed and in-flight items complete as their functions return. Stop
// drains gracefully.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.state == stateRunning:
		return errors.ErrAlreadyStarted
	case p.state == stateStopped:
		return errors.ErrClosed
	case len(p.stages) == 0:
		return errors.NewConfigError("pipeline", "stages", 0, "at least one stage is required")
	}

	if p.useAdmission {
		opts := append([]priority.Option{priority.WithName(p.name), priority.WithLogger(p.logger), priority.WithMetrics(p.metrics)}, p.admissionOpts...)
		sched, err := priority.New[*entry](opts...)
		if err != nil {
			return err
		}
		p.admission = sched
		p.pumpDone = make(chan struct{})
		p.stages[0].upstream = p.pumpDone
	}
	for i, s := range p.stages {
		if i > 0 {
			s.upstream = p.stages[i-1].done
		}
		if i+1 < len(p.stages) {
			s.next = p.stages[i+1]
		}
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.state = stateRunning
	p.accepting.Store(true)

	var g errgroup.Group
	for _, s := range p.stages {
		g.Go(func() error {
			s.run(p.ctx)
			return nil
		})
	}
	if p.admission != nil {
		g.Go(func() error {
			p.pump(p.ctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		if n := p.abandon(); n > 0 {
			p.logger.Warn("pipeline: loops exited with items queued", "items_failed", n)
		}
		close(p.done)
	}()

	p.logger.Info("pipeline: started", "stages", len(p.stages), "admission", p.admission != nil)
	return nil
}

// pump moves entries from the priority scheduler into the first stage.
func (p *Pipeline) pump(ctx context.Context) {
	defer close(p.pumpDone)
	first := p.stages[0]
	for {
		e, ok := p.admission.Dequeue(ctx, p.pollInterval)
		if !ok {
			if ctx.Err() != nil || (!p.accepting.Load() && p.admission.Len() == 0) {
				return
			}
			continue
		}
		if err := first.offer(ctx, e, -1); err != nil {
			p.complete(e, first.name, err)
		}
	}
}

// Submit offers item to the pipeline. It returns ErrQueueFull when the item
// cannot be queued under the submit policy and ErrClosed once stopping.
func (p *Pipeline) Submit(item *Item) error {
	return p.SubmitWithCallback(item, nil)
}

// SubmitFuture submits item and returns a future resolved with its outcome.
func (p *Pipeline) SubmitFuture(item *Item) (*task.Future[any], error) {
	future := task.NewFuture[any]()
	if err := p.SubmitWithCallback(item, future.Callback()); err != nil {
		return nil, err
	}
	return future, nil
}

// SubmitWithCallback submits item; cb, if non-nil, is invoked exactly once
// with the item's terminal outcome. cb is not invoked when an error is
// returned.
func (p *Pipeline) SubmitWithCallback(item *Item, cb Callback) error {
	if item == nil {
		return errors.New("pipeline: nil item")
	}

	p.admit.RLock()
	defer p.admit.RUnlock()

	if !p.accepting.Load() {
		p.mu.Lock()
		idle := p.state == stateIdle
		p.mu.Unlock()
		if idle {
			return errors.ErrNotStarted
		}
		return errors.ErrClosed
	}

	e := &entry{item: item, callback: cb, admitted: time.Now()}
	p.mu.Lock()
	p.submitted++
	p.mu.Unlock()

	err := p.admitEntry(e)
	if err != nil {
		p.mu.Lock()
		p.submitted--
		p.rejected++
		p.mu.Unlock()
		reason := "queue_full"
		if !errors.Is(err, errors.ErrQueueFull) {
			reason = "closed"
		}
		p.metrics.StageReject(p.stages[0].name, reason)
	}
	return err
}

func (p *Pipeline) admitEntry(e *entry) error {
	var wait time.Duration
	if p.submitPolicy == Block && !e.item.Flags.Has(task.FlagDropOnOverload) {
		wait = p.submitTimeout
	}
	if p.admission == nil {
		return p.stages[0].offer(p.ctx, e, wait)
	}

	prio := e.item.Priority
	if e.item.Flags.Has(task.FlagUrgent) {
		prio = task.PriorityCritical
	}
	return p.enqueueAdmission(e, prio, wait)
}

// enqueueAdmission retries a full scheduler at a short interval until wait
// elapses; the scheduler has no blocking enqueue.
func (p *Pipeline) enqueueAdmission(e *entry, prio task.Priority, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		err := p.admission.Enqueue(e, prio)
		if err == nil || !errors.Is(err, errors.ErrQueueFull) || wait <= 0 {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-p.ctx.Done():
			return errors.ErrClosed
		case <-time.After(time.Millisecond):
		}
	}
}

// complete records the terminal outcome of e and invokes its callback.
// Only the first call per entry has any effect.
func (p *Pipeline) complete(e *entry, stage string, err error) {
	if !e.done.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()

	if e.callback == nil {
		return
	}
	res := task.Result[any]{
		ItemID:   e.item.ID,
		Err:      err,
		Stage:    stage,
		Duration: time.Since(e.admitted),
	}
	if err == nil {
		res.Value = e.item.Payload
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline: callback panicked", "item_id", e.item.ID, "panic", r)
		}
	}()
	e.callback(res)
}

// Stop closes admissions and lets queued and in-flight items finish. Stage
// loops still running after timeout are abandoned: their context is
// cancelled, items still queued fail with ErrShutdownTimeout and a
// ShutdownError is returned as a warning. A ShutdownError is also returned
// when the Start context was cancelled with items still queued. Calling
// Stop again is a no-op.
func (p *Pipeline) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.admit.Lock()
		p.accepting.Store(false)
		p.admit.Unlock()

		p.mu.Lock()
		started := p.state == stateRunning
		p.state = stateStopped
		p.mu.Unlock()
		if !started {
			close(p.done)
			return
		}
		if p.admission != nil {
			p.admission.Close()
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			unfinished := int(p.Stats().Pending) // #nosec G115 -- bounded by queue capacities
			p.timedOut.Store(true)
			p.cancel()
			// Every loop blocks only on ctx-aware calls, so this is prompt.
			<-p.done
			err = &errors.ShutdownError{Component: "pipeline", Unfinished: unfinished, Timeout: timeout}
			p.logger.Warn("pipeline: shutdown timeout", "timeout", timeout, "unfinished", unfinished, "items_failed", p.abandoned.Load())
			return
		}

		// Loops have exited; in-flight items only need their functions to
		// return. That is immediate unless the Start context was cancelled.
		settled := waitJobs(&p.jobs, timer.C)
		p.cancel()
		if n := int(p.abandoned.Load()); n > 0 || !settled {
			unfinished := n + p.inFlight()
			err = &errors.ShutdownError{Component: "pipeline", Unfinished: unfinished, Timeout: timeout}
			p.logger.Warn("pipeline: stopped after cancellation", "unfinished", unfinished)
			return
		}
		s := p.Stats()
		p.logger.Info("pipeline: stopped", "completed", s.Completed, "failed", s.Failed)
	})
	return err
}

// abandon closes admission, seals every stage and fails the entries still
// queued. It runs once all loops have exited and returns the number failed.
// Entries forwarded later by in-flight work fail on the sealed stage.
func (p *Pipeline) abandon() int {
	p.admit.Lock()
	p.accepting.Store(false)
	p.admit.Unlock()

	var pending []*entry
	if p.admission != nil {
		p.admission.Close()
		pending = append(pending, p.admission.Drain()...)
	}
	for _, s := range p.stages {
		pending = append(pending, s.seal()...)
	}
	if len(pending) == 0 {
		return 0
	}

	cause := errors.ErrShutdownTimeout
	if !p.timedOut.Load() {
		cause = fmt.Errorf("%w: %w", errors.ErrClosed, context.Cause(p.ctx))
	}
	for _, e := range pending {
		p.complete(e, "", cause)
	}
	p.abandoned.Add(int64(len(pending)))
	return len(pending)
}

func (p *Pipeline) inFlight() int {
	n := 0
	for _, s := range p.stages {
		n += int(s.inFlight.Load())
	}
	return n
}

// waitJobs waits for wg or for expired to fire.
func waitJobs(wg *sync.WaitGroup, expired <-chan time.Time) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-expired:
		return false
	}
}

// Done is closed once every stage loop has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.done }
