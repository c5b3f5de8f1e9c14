package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/robfig/cron/v3"

	"github.com/OptikR/OptikR-sub005/affinity"
	flowerrors "github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/algorithms"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/pool"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string // e.g. "batch.max_batch_size"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// Is makes every validation failure match errors.ErrConfiguration.
func (e ValidationError) Is(target error) bool { return target == flowerrors.ErrConfiguration }

// ValidationErrors collects every invalid setting of a Config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func (e ValidationErrors) Is(target error) bool {
	return len(e) > 0 && target == flowerrors.ErrConfiguration
}

// Fields returns the invalid field paths in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validatePipeline()...)
	errs = append(errs, c.validateBatch()...)
	errs = append(errs, c.validateScheduler()...)
	errs = append(errs, c.validatePool()...)
	errs = append(errs, c.validateAffinity()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateMonitor()...)
	return errs
}

func (c *Config) validatePipeline() []ValidationError {
	var errs []ValidationError
	p := c.Pipeline

	if _, ok := pipeline.ParseSubmitPolicy(p.SubmitPolicy); !ok {
		errs = append(errs, ValidationError{"pipeline.submit_policy", p.SubmitPolicy, "must be one of: reject, block"})
	}
	if _, ok := pipeline.ParseFailurePolicy(p.FailurePolicy); !ok {
		errs = append(errs, ValidationError{"pipeline.failure_policy", p.FailurePolicy, "must be one of: drop, forward"})
	}
	if p.SubmitTimeout < 0 {
		errs = append(errs, ValidationError{"pipeline.submit_timeout", p.SubmitTimeout, "must be non-negative"})
	}
	if p.PollInterval <= 0 {
		errs = append(errs, ValidationError{"pipeline.poll_interval", p.PollInterval, "must be positive"})
	}
	if p.StopTimeout <= 0 {
		errs = append(errs, ValidationError{"pipeline.stop_timeout", p.StopTimeout, "must be positive"})
	}
	if p.StageConcurrency < 1 {
		errs = append(errs, ValidationError{"pipeline.stage_concurrency", p.StageConcurrency, "must be at least 1"})
	}
	if p.QueueCapacity < 1 {
		errs = append(errs, ValidationError{"pipeline.queue_capacity", p.QueueCapacity, "must be at least 1"})
	}
	if p.RateLimit < 0 {
		errs = append(errs, ValidationError{"pipeline.rate_limit", p.RateLimit, "must be non-negative (0 = unlimited)"})
	}

	r := p.Retry
	if r.MaxAttempts < 0 {
		errs = append(errs, ValidationError{"pipeline.retry.max_attempts", r.MaxAttempts, "must be non-negative"})
	}
	if _, ok := algorithms.ParseKind(r.Backoff); !ok {
		errs = append(errs, ValidationError{"pipeline.retry.backoff", r.Backoff, "must be one of: exponential, jittered, decorrelated"})
	}
	if r.Initial < 0 || r.Max < r.Initial {
		errs = append(errs, ValidationError{"pipeline.retry.max", r.Max, "must be at least retry.initial"})
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		errs = append(errs, ValidationError{"pipeline.retry.jitter", r.Jitter, "must be between 0 and 1"})
	}
	return errs
}

func (c *Config) validateBatch() []ValidationError {
	err := c.Batch.Batch().Validate()
	if err == nil {
		return nil
	}
	var cfgErr *flowerrors.ConfigError
	if flowerrors.As(err, &cfgErr) {
		return []ValidationError{{"batch." + cfgErr.Field, cfgErr.Value, cfgErr.Reason}}
	}
	return []ValidationError{{"batch", nil, err.Error()}}
}

func (c *Config) validateScheduler() []ValidationError {
	var errs []ValidationError
	s := c.Scheduler

	if s.MaxSize < 1 {
		errs = append(errs, ValidationError{"scheduler.max_size", s.MaxSize, "must be at least 1"})
	}
	if s.StarvationPrevention && s.AgingStep <= 0 {
		errs = append(errs, ValidationError{"scheduler.aging_step", s.AgingStep, "must be positive when starvation prevention is enabled"})
	}
	if s.MaxBoost < 0 {
		errs = append(errs, ValidationError{"scheduler.max_boost", s.MaxBoost, "must be non-negative (0 = unlimited)"})
	}
	names := make([]string, 0, len(s.PriorityLevels))
	for name := range s.PriorityLevels {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if v := s.PriorityLevels[name]; v < 0 {
			errs = append(errs, ValidationError{"scheduler.priority_levels." + name, v, "must be non-negative"})
		}
	}
	return errs
}

func (c *Config) validatePool() []ValidationError {
	var errs []ValidationError
	p := c.Pool

	if p.Workers < 0 {
		errs = append(errs, ValidationError{"pool.workers", p.Workers, "must be non-negative (0 = GOMAXPROCS)"})
	}
	if p.StealThreshold < 0 {
		errs = append(errs, ValidationError{"pool.steal_threshold", p.StealThreshold, "must be non-negative"})
	}
	if p.QueueCapacity < 1 {
		errs = append(errs, ValidationError{"pool.queue_capacity", p.QueueCapacity, "must be at least 1"})
	}
	if _, ok := pool.ParseIdleStrategy(p.IdleStrategy); !ok {
		errs = append(errs, ValidationError{"pool.idle_strategy", p.IdleStrategy, "must be one of: poll, notify"})
	}
	if p.IdleInterval <= 0 {
		errs = append(errs, ValidationError{"pool.idle_interval", p.IdleInterval, "must be positive"})
	}
	return errs
}

func (c *Config) validateAffinity() []ValidationError {
	var errs []ValidationError
	for i, r := range c.Affinity.Rules {
		field := fmt.Sprintf("affinity.rules[%d]", i)
		if _, err := glob.Compile(r.Pattern); err != nil || r.Pattern == "" {
			errs = append(errs, ValidationError{field + ".pattern", r.Pattern, "must be a valid glob pattern"})
		}
		if _, ok := affinity.ParseCoreClass(r.Class); !ok {
			errs = append(errs, ValidationError{field + ".class", r.Class, "must be one of: performance, efficiency"})
		}
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	if !logging.ValidLevel(c.Logging.Level) {
		return []ValidationError{{"logging.level", c.Logging.Level, "must be one of: DEBUG, INFO, WARN, ERROR"}}
	}
	return nil
}

func (c *Config) validateMonitor() []ValidationError {
	var errs []ValidationError
	m := c.Monitor

	if m.Enabled {
		if _, err := cron.ParseStandard(m.Schedule); err != nil {
			errs = append(errs, ValidationError{"monitor.schedule", m.Schedule, "must be a cron spec: " + err.Error()})
		}
	}
	if m.Redis.Enabled {
		if m.Redis.Addr == "" {
			errs = append(errs, ValidationError{"monitor.redis.addr", m.Redis.Addr, "must be set when redis is enabled"})
		}
		if m.Redis.Key == "" {
			errs = append(errs, ValidationError{"monitor.redis.key", m.Redis.Key, "must be set when redis is enabled"})
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, ValidationError{"metrics.listen", c.Metrics.Listen, "must be set when metrics are enabled"})
	}
	return errs
}
