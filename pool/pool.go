package pool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
)

// Task is a unit of work executed by the pool.
type Task func(ctx context.Context) error

// job is a queued task. abort, when set, is called instead of run if the
// task is discarded without running.
type job struct {
	run   Task
	abort func(error)
}

// Pool is a work-stealing executor.
type Pool struct {
	name           string
	stealThreshold int
	idle           IdleStrategy
	idleInterval   time.Duration
	cores          [][]int
	logger         *logging.Logger
	metrics        *metrics.Registry
	pin            func([]int) func()

	workers []*worker
	next    atomic.Uint64
	wake    chan struct{}

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	stolen    atomic.Uint64

	mu       sync.RWMutex
	started  bool
	stopped  bool
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type worker struct {
	id        int
	queue     *deque[job]
	rng       *rand.Rand
	logger    *logging.Logger
	completed atomic.Uint64
	failed    atomic.Uint64
	stolen    atomic.Uint64
}

// New creates a Pool. Workers are not started until Start; tasks submitted
// before Start are queued and run once the pool starts, or discarded by a
// Stop that comes first.
func New(opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.workers < 1:
		return nil, errors.NewConfigError("pool", "num_workers", cfg.workers, "must be positive")
	case cfg.stealThreshold < 0:
		return nil, errors.NewConfigError("pool", "steal_threshold", cfg.stealThreshold, "must not be negative")
	case cfg.queueCapacity < 1:
		return nil, errors.NewConfigError("pool", "max_queue_size", cfg.queueCapacity, "must be positive")
	case cfg.idleInterval <= 0:
		return nil, errors.NewConfigError("pool", "idle_interval", cfg.idleInterval, "must be positive")
	}

	logger := cfg.logger.WithComponent("pool").With("pool", cfg.name)
	p := &Pool{
		name:           cfg.name,
		stealThreshold: cfg.stealThreshold,
		idle:           cfg.idle,
		idleInterval:   cfg.idleInterval,
		logger:         logger,
		metrics:        cfg.metrics,
		workers:        make([]*worker, cfg.workers),
		wake:           make(chan struct{}, cfg.workers),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = &worker{
			id:     i,
			queue:  newDeque[job](cfg.queueCapacity),
			rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(i))), // #nosec G404 -- victim selection only
			logger: logger.WithWorker(i),
		}
	}
	if cfg.advisor != nil {
		p.cores = cfg.advisor.OptimizeWorkerGroups(cfg.role, cfg.workers)
		p.pin = cfg.advisor.Pin
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches the workers. ctx is passed to every task; cancelling it
// does not stop the pool, Stop does.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.stopped:
		return errors.ErrClosed
	case p.started:
		return errors.ErrAlreadyStarted
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)

	var g errgroup.Group
	for _, w := range p.workers {
		g.Go(func() error {
			p.runWorker(w)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(p.done)
	}()

	p.logger.Info("pool: started", "workers", len(p.workers), "idle", p.idle.String(), "steal_threshold", p.stealThreshold)
	return nil
}

// Submit queues t on the next worker in round-robin order.
func (p *Pool) Submit(t Task) error {
	return p.submit(p.nextWorker(), job{run: t})
}

// SubmitTo queues t on a specific worker. Returns ErrQueueFull when that
// worker's deque is at capacity and ErrClosed after Stop.
func (p *Pool) SubmitTo(workerID int, t Task) error {
	return p.submit(workerID, job{run: t})
}

func (p *Pool) nextWorker() int {
	return int(p.next.Add(1)-1) % len(p.workers) // #nosec G115 -- modulo keeps it in range
}

func (p *Pool) submit(workerID int, j job) error {
	if j.run == nil {
		return fmt.Errorf("pool: nil task")
	}
	if workerID < 0 || workerID >= len(p.workers) {
		return fmt.Errorf("pool: worker %d out of range [0,%d)", workerID, len(p.workers))
	}

	// Held across the push so no task lands after Stop has begun draining.
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return errors.ErrClosed
	}
	p.submitted.Add(1)
	if !p.workers[workerID].queue.pushBack(j) {
		p.submitted.Add(^uint64(0))
		p.mu.RUnlock()
		return errors.ErrQueueFull
	}
	p.mu.RUnlock()

	if p.idle == IdleNotify {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (p *Pool) runWorker(w *worker) {
	if p.pin != nil && w.id < len(p.cores) {
		unpin := p.pin(p.cores[w.id])
		defer unpin()
	}

	for {
		if j, ok := w.queue.popBack(); ok {
			p.execute(w, j.run, false)
			continue
		}
		if j, ok := p.steal(w); ok {
			p.execute(w, j.run, true)
			continue
		}
		if !p.running.Load() && p.queued() == 0 {
			return
		}
		p.waitIdle()
	}
}

// steal scans peers from a random offset and takes the oldest task of the
// first peer above the threshold. While stopping, any queued task may be
// taken so the pool drains quickly.
func (p *Pool) steal(thief *worker) (job, bool) {
	n := len(p.workers)
	if n <= 1 {
		return job{}, false
	}

	threshold := p.stealThreshold
	if !p.running.Load() {
		threshold = 0
	}

	start := thief.rng.IntN(n)
	for i := range n {
		victim := p.workers[(start+i)%n]
		if victim == thief {
			continue
		}
		if j, ok := victim.queue.popFrontAbove(threshold); ok {
			return j, true
		}
	}
	return job{}, false
}

func (p *Pool) waitIdle() {
	if p.idle == IdlePoll {
		time.Sleep(p.idleInterval)
		return
	}

	timer := time.NewTimer(notifyBackstop)
	defer timer.Stop()
	select {
	case <-p.wake:
	case <-p.stopCh:
		// Stop is sticky; avoid spinning on the closed channel.
		time.Sleep(p.idleInterval)
	case <-timer.C:
	}
}

func (p *Pool) execute(w *worker, t Task, stolen bool) {
	err := runWithRecovery(p.ctx, t)

	if stolen {
		w.stolen.Add(1)
		p.stolen.Add(1)
	}
	if err != nil {
		w.failed.Add(1)
		p.failed.Add(1)
		p.metrics.PoolTask(p.name, metrics.OutcomeFailure, stolen)
		w.logger.Warn("pool: task failed", "error", err, "stolen", stolen)
		return
	}
	w.completed.Add(1)
	p.completed.Add(1)
	p.metrics.PoolTask(p.name, metrics.OutcomeSuccess, stolen)
}

func runWithRecovery(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("worker panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()
	return t(ctx)
}

func (p *Pool) queued() int {
	total := 0
	for _, w := range p.workers {
		total += w.queue.len()
	}
	return total
}

// Stop stops accepting tasks, lets workers drain every queued task and waits
// up to timeout for them to exit. Workers still running after the timeout
// are abandoned: their context is cancelled and a ShutdownError is returned.
// Stopping a pool that never started discards its queued tasks as failed;
// futures from SubmitFunc resolve with ErrClosed. Calling Stop again is a
// no-op.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		started := p.started
		p.mu.Unlock()

		p.running.Store(false)
		close(p.stopCh)
		if !started {
			if n := p.discardQueued(); n > 0 {
				p.logger.Warn("pool: stopped before start, tasks discarded", "tasks", n)
			}
			close(p.done)
			return
		}

		if err = waitUntil(p.done, timeout); err != nil {
			p.cancel()
			unfinished := int(p.Stats().Pending) // #nosec G115 -- bounded by queue capacity
			err = &errors.ShutdownError{Component: "pool", Unfinished: unfinished, Timeout: timeout}
			p.logger.Warn("pool: shutdown timeout", "timeout", timeout, "unfinished", unfinished)
			return
		}
		p.cancel()
		p.logger.Info("pool: stopped", "completed", p.completed.Load(), "failed", p.failed.Load(), "stolen", p.stolen.Load())
	})
	return err
}

// discardQueued fails every queued task without running it.
func (p *Pool) discardQueued() int {
	n := 0
	for _, w := range p.workers {
		for _, j := range w.queue.drain() {
			if j.abort != nil {
				j.abort(errors.ErrClosed)
			}
			w.failed.Add(1)
			p.failed.Add(1)
			p.metrics.PoolTask(p.name, metrics.OutcomeFailure, false)
			n++
		}
	}
	return n
}

// Done is closed once every worker has exited.
func (p *Pool) Done() <-chan struct{} { return p.done }

// waitUntil waits for d to close or the timeout to elapse.
func waitUntil(d <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d:
		return nil
	case <-timer.C:
		return errors.ErrShutdownTimeout
	}
}
