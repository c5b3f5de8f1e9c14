package pool

import (
	"runtime"
	"time"

	"github.com/OptikR/OptikR-sub005/affinity"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
)

const (
	defaultStealThreshold = 2
	defaultQueueCapacity  = 1024
	defaultIdleInterval   = time.Millisecond
	// notifyBackstop bounds how long a notified-idle worker sleeps before
	// re-checking the running flag and its peers.
	notifyBackstop = 50 * time.Millisecond
)

// IdleStrategy selects how a worker with no local or stealable work waits.
type IdleStrategy int

const (
	// IdlePoll sleeps a fixed interval between checks.
	IdlePoll IdleStrategy = iota
	// IdleNotify blocks until a submission signals new work.
	IdleNotify
)

// ParseIdleStrategy maps "poll" and "notify" to their strategies.
func ParseIdleStrategy(s string) (IdleStrategy, bool) {
	switch s {
	case "poll", "":
		return IdlePoll, true
	case "notify":
		return IdleNotify, true
	}
	return IdlePoll, false
}

func (s IdleStrategy) String() string {
	if s == IdleNotify {
		return "notify"
	}
	return "poll"
}

type config struct {
	name           string
	workers        int
	stealThreshold int
	queueCapacity  int
	idle           IdleStrategy
	idleInterval   time.Duration
	advisor        *affinity.Advisor
	role           string
	logger         *logging.Logger
	metrics        *metrics.Registry
}

func defaultConfig() config {
	return config{
		name:           "pool",
		workers:        runtime.NumCPU(),
		stealThreshold: defaultStealThreshold,
		queueCapacity:  defaultQueueCapacity,
		idle:           IdlePoll,
		idleInterval:   defaultIdleInterval,
		logger:         logging.NopLogger(),
	}
}

// Option configures a Pool.
type Option func(*config)

// WithWorkers sets the number of workers. Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithStealThreshold sets the queue length a peer must exceed before its
// tasks may be stolen.
func WithStealThreshold(n int) Option {
	return func(c *config) { c.stealThreshold = n }
}

// WithQueueCapacity bounds each worker's deque.
func WithQueueCapacity(n int) Option {
	return func(c *config) { c.queueCapacity = n }
}

// WithIdleStrategy selects polling or wake-up notification for idle workers.
func WithIdleStrategy(s IdleStrategy) Option {
	return func(c *config) { c.idle = s }
}

// WithIdleInterval sets the polling sleep for IdlePoll.
func WithIdleInterval(d time.Duration) Option {
	return func(c *config) { c.idleInterval = d }
}

// WithAffinity pins each worker's OS thread to the core set the advisor
// recommends for role. Pinning failures are logged and ignored.
func WithAffinity(a *affinity.Advisor, role string) Option {
	return func(c *config) {
		c.advisor = a
		c.role = role
	}
}

// WithName labels logs and metrics.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics records task outcomes and steals.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *config) { c.metrics = r }
}
