package config

import (
	"slices"
	"strings"

	"github.com/OptikR/OptikR-sub005/affinity"
	"github.com/OptikR/OptikR-sub005/batch"
	"github.com/OptikR/OptikR-sub005/internal/algorithms"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/pool"
	"github.com/OptikR/OptikR-sub005/priority"
	"github.com/OptikR/OptikR-sub005/task"
)

// Batch converts the section to a batch.Config.
func (c BatchConfig) Batch() batch.Config {
	return batch.Config{
		MaxBatchSize: c.MaxBatchSize,
		MinBatchSize: c.MinBatchSize,
		MaxWait:      c.MaxWait,
		MaxQueueSize: c.MaxQueueSize,
		Adaptive:     c.Adaptive,
		LowLatency:   c.LowLatency,
		HighLatency:  c.HighLatency,
		Ceiling:      c.Ceiling,
		Floor:        c.Floor,
		WindowSize:   c.WindowSize,
		MinSamples:   c.MinSamples,
	}
}

// Levels returns the priority bands keyed by upper-case name.
func (c SchedulerConfig) Levels() map[string]task.Priority {
	levels := task.DefaultLevels()
	for name, v := range c.PriorityLevels {
		levels[strings.ToUpper(name)] = task.Priority(v)
	}
	return levels
}

// Options converts the section to scheduler options.
func (c SchedulerConfig) Options() []priority.Option {
	return []priority.Option{
		priority.WithMaxSize(c.MaxSize),
		priority.WithStarvationPrevention(c.StarvationPrevention),
		priority.WithAgingStep(c.AgingStep),
		priority.WithMaxBoost(c.MaxBoost),
		priority.WithLevels(c.Levels()),
	}
}

// RetryPolicy converts the retry section.
func (c RetryConfig) RetryPolicy() algorithms.RetryPolicy {
	kind, _ := algorithms.ParseKind(c.Backoff)
	return algorithms.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		Kind:        kind,
		Initial:     c.Initial,
		Max:         c.Max,
		Jitter:      c.Jitter,
	}
}

// Options converts the section to pipeline options. sched configures the
// admission scheduler when priority admission is on.
func (c PipelineConfig) Options(sched SchedulerConfig) []pipeline.Option {
	submit, _ := pipeline.ParseSubmitPolicy(c.SubmitPolicy)
	failure, _ := pipeline.ParseFailurePolicy(c.FailurePolicy)
	opts := []pipeline.Option{
		pipeline.WithSubmitPolicy(submit, c.SubmitTimeout),
		pipeline.WithFailurePolicy(failure),
		pipeline.WithPollInterval(c.PollInterval),
	}
	if c.PriorityAdmission {
		opts = append(opts, pipeline.WithPriorityAdmission(sched.Options()...))
	}
	return opts
}

// StageOptions returns the options applied to every stage.
func (c PipelineConfig) StageOptions() []pipeline.StageOption {
	var opts []pipeline.StageOption
	if policy := c.Retry.RetryPolicy(); policy.Enabled() {
		opts = append(opts, pipeline.WithRetry(policy))
	}
	if c.RateLimit > 0 {
		opts = append(opts, pipeline.WithRateLimit(c.RateLimit, int(c.RateLimit)))
	}
	return opts
}

// Options converts the section to pool options. advisor may be nil.
func (c PoolConfig) Options(advisor *affinity.Advisor) []pool.Option {
	idle, _ := pool.ParseIdleStrategy(c.IdleStrategy)
	opts := []pool.Option{
		pool.WithStealThreshold(c.StealThreshold),
		pool.WithQueueCapacity(c.QueueCapacity),
		pool.WithIdleStrategy(idle),
		pool.WithIdleInterval(c.IdleInterval),
	}
	if c.Workers > 0 {
		opts = append(opts, pool.WithWorkers(c.Workers))
	}
	if advisor != nil {
		opts = append(opts, pool.WithAffinity(advisor, c.Role))
	}
	return opts
}

// AdvisorRules returns the configured rules followed by the built-in ones.
func (c AffinityConfig) AdvisorRules() []affinity.Rule {
	rules := make([]affinity.Rule, 0, len(c.Rules)+len(affinity.DefaultRules))
	for _, r := range c.Rules {
		class, _ := affinity.ParseCoreClass(r.Class)
		rules = append(rules, affinity.Rule{Pattern: r.Pattern, Class: class})
	}
	return append(rules, slices.Clone(affinity.DefaultRules)...)
}

// Options converts the section to advisor options. Pinning uses the OS
// when enabled and is a no-op otherwise.
func (c AffinityConfig) Options() []affinity.Option {
	opts := []affinity.Option{affinity.WithRules(c.AdvisorRules()...)}
	if c.Enabled {
		opts = append(opts, affinity.WithPinner(affinity.OSPinner{}))
	} else {
		opts = append(opts, affinity.WithPinner(affinity.NoopPinner{}))
	}
	return opts
}
