package pipeline

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/OptikR/OptikR-sub005/internal/algorithms"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
	"github.com/OptikR/OptikR-sub005/pool"
	"github.com/OptikR/OptikR-sub005/priority"
)

const (
	defaultPollInterval  = 100 * time.Millisecond
	defaultSubmitTimeout = 100 * time.Millisecond
)

// SubmitPolicy decides what Submit does when the first queue is full.
type SubmitPolicy int

const (
	// Reject fails immediately with ErrQueueFull.
	Reject SubmitPolicy = iota
	// Block waits up to the submit timeout for space.
	Block
)

// ParseSubmitPolicy maps "reject" and "block" to their policies.
func ParseSubmitPolicy(s string) (SubmitPolicy, bool) {
	switch s {
	case "reject", "":
		return Reject, true
	case "block":
		return Block, true
	}
	return Reject, false
}

// FailurePolicy decides what happens to an item whose processing failed.
type FailurePolicy int

const (
	// Drop ends the item's journey and reports the failure to its callback.
	Drop FailurePolicy = iota
	// Forward hands the item downstream with its error marker set; later
	// stages pass it through without processing.
	Forward
)

// ParseFailurePolicy maps "drop" and "forward" to their policies.
func ParseFailurePolicy(s string) (FailurePolicy, bool) {
	switch s {
	case "drop", "":
		return Drop, true
	case "forward":
		return Forward, true
	}
	return Drop, false
}

// Executor runs stage work off the supervisory loop. *pool.Pool satisfies it.
type Executor interface {
	Submit(t pool.Task) error
}

type settings struct {
	name          string
	submitPolicy  SubmitPolicy
	submitTimeout time.Duration
	failure       FailurePolicy
	pollInterval  time.Duration
	admission     []priority.Option
	useAdmission  bool
	logger        *logging.Logger
	metrics       *metrics.Registry
}

// Option configures a Pipeline.
type Option func(*settings)

// WithName labels logs.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics records per-stage counters, gauges and latencies.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *settings) { s.metrics = r }
}

// WithSubmitPolicy sets the behaviour of Submit on a full first queue.
// timeout only applies to Block.
func WithSubmitPolicy(policy SubmitPolicy, timeout time.Duration) Option {
	return func(s *settings) {
		s.submitPolicy = policy
		s.submitTimeout = timeout
	}
}

// WithFailurePolicy sets the default failure policy for all stages.
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(s *settings) { s.failure = policy }
}

// WithPollInterval sets how long a stage loop waits for an item before
// re-checking whether it should exit.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) { s.pollInterval = d }
}

// WithPriorityAdmission routes submissions through a priority scheduler
// that feeds the first stage, so urgent items overtake queued background
// work.
func WithPriorityAdmission(opts ...priority.Option) Option {
	return func(s *settings) {
		s.useAdmission = true
		s.admission = opts
	}
}

type stageSettings struct {
	retry    algorithms.RetryPolicy
	limiter  *rate.Limiter
	executor Executor
	failure  *FailurePolicy
}

// StageOption configures a single stage.
type StageOption func(*stageSettings)

// WithRetry retries a failing item or batch according to policy before
// applying the failure policy.
func WithRetry(policy algorithms.RetryPolicy) StageOption {
	return func(s *stageSettings) { s.retry = policy }
}

// WithRateLimit caps the stage at rps calls per second with the given burst.
func WithRateLimit(rps float64, burst int) StageOption {
	return func(s *stageSettings) { s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1)) }
}

// WithExecutor runs the stage's processing function on e, typically a
// work-stealing pool, instead of a dedicated goroutine.
func WithExecutor(e Executor) StageOption {
	return func(s *stageSettings) { s.executor = e }
}

// WithStageFailurePolicy overrides the pipeline failure policy for one stage.
func WithStageFailurePolicy(policy FailurePolicy) StageOption {
	return func(s *stageSettings) { s.failure = &policy }
}
