// Package metrics provides Prometheus instrumentation for the scheduling engine.
//
// There is no package-level default registry: a Registry is created by the
// application and handed to each component through its options. All
// recording methods are safe to call on a nil *Registry, so components run
// unchanged when metrics are disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "optikr"

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeForwarded = "forwarded"
	OutcomeDropped   = "dropped"
)

// Registry holds all metric instances.
type Registry struct {
	// Pipeline
	StageSubmitted  *prometheus.CounterVec
	StageRejected   *prometheus.CounterVec
	StageProcessed  *prometheus.CounterVec
	StageQueueDepth *prometheus.GaugeVec
	StageInFlight   *prometheus.GaugeVec
	StageDuration   *prometheus.HistogramVec
	StageRetries    *prometheus.CounterVec

	// Batching
	BatchSize        *prometheus.HistogramVec
	BatchFlushes     *prometheus.CounterVec
	BatchMaxSize     *prometheus.GaugeVec
	BatchLatency     *prometheus.HistogramVec
	BatchAdjustments *prometheus.CounterVec

	// Priority scheduling
	SchedulerQueueDepth *prometheus.GaugeVec
	SchedulerDequeued   *prometheus.CounterVec
	SchedulerBoosts     *prometheus.CounterVec
	SchedulerWait       *prometheus.HistogramVec

	// Work stealing
	PoolTasks     *prometheus.CounterVec
	PoolSteals    *prometheus.CounterVec
	PoolQueueSize *prometheus.GaugeVec
}

// NewRegistry creates a registry whose collectors are registered with reg.
// An empty namespace selects DefaultNamespace.
func NewRegistry(reg prometheus.Registerer, namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Registry{
		StageSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "submitted_total",
				Help:      "Items admitted into a stage queue",
			},
			[]string{"stage"},
		),
		StageRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "rejected_total",
				Help:      "Items rejected because a stage queue was full or closed",
			},
			[]string{"stage", "reason"},
		),
		StageProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "processed_total",
				Help:      "Items that left a stage, by outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "queue_depth",
				Help:      "Items waiting in a stage queue",
			},
			[]string{"stage"},
		),
		StageInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "in_flight",
				Help:      "Items currently being processed by a stage",
			},
			[]string{"stage"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "processing_duration_seconds",
				Help:      "Time spent in a stage processing function",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"stage"},
		),
		StageRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "retries_total",
				Help:      "Processing attempts retried after a failure",
			},
			[]string{"stage"},
		),

		BatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "size",
				Help:      "Number of items per formed batch",
				Buckets:   prometheus.LinearBuckets(1, 1, 16),
			},
			[]string{"coordinator"},
		),
		BatchFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "flushes_total",
				Help:      "Formed batches by flush reason",
			},
			[]string{"coordinator", "reason"},
		),
		BatchMaxSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "max_size",
				Help:      "Current adaptive maximum batch size",
			},
			[]string{"coordinator"},
		),
		BatchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "latency_seconds",
				Help:      "Observed batch processing latency",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"coordinator"},
		),
		BatchAdjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "adjustments_total",
				Help:      "Adaptive batch size changes by direction",
			},
			[]string{"coordinator", "direction"},
		),

		SchedulerQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Entries waiting in the priority scheduler",
			},
			[]string{"scheduler"},
		),
		SchedulerDequeued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "dequeued_total",
				Help:      "Entries dequeued by base priority band",
			},
			[]string{"scheduler", "priority"},
		),
		SchedulerBoosts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "boosts_total",
				Help:      "Effective priority promotions applied by aging",
			},
			[]string{"scheduler"},
		),
		SchedulerWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "wait_seconds",
				Help:      "Time entries spent queued before dequeue",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"scheduler"},
		),

		PoolTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "tasks_total",
				Help:      "Tasks executed by outcome",
			},
			[]string{"pool", "outcome"},
		),
		PoolSteals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "steals_total",
				Help:      "Tasks taken from a peer worker queue",
			},
			[]string{"pool"},
		),
		PoolQueueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "queued",
				Help:      "Tasks waiting in worker deques",
			},
			[]string{"pool"},
		),
	}
}

// StageSubmit records an admitted item.
func (r *Registry) StageSubmit(stage string) {
	if r == nil {
		return
	}
	r.StageSubmitted.WithLabelValues(stage).Inc()
}

// StageReject records a rejected submission.
func (r *Registry) StageReject(stage, reason string) {
	if r == nil {
		return
	}
	r.StageRejected.WithLabelValues(stage, reason).Inc()
}

// StageDone records an item leaving a stage.
func (r *Registry) StageDone(stage, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.StageProcessed.WithLabelValues(stage, outcome).Inc()
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StageRetry records a retried attempt.
func (r *Registry) StageRetry(stage string) {
	if r == nil {
		return
	}
	r.StageRetries.WithLabelValues(stage).Inc()
}

// StageGauges publishes the current queue depth and in-flight count.
func (r *Registry) StageGauges(stage string, queued, inFlight int) {
	if r == nil {
		return
	}
	r.StageQueueDepth.WithLabelValues(stage).Set(float64(queued))
	r.StageInFlight.WithLabelValues(stage).Set(float64(inFlight))
}

// BatchFormed records a flushed batch.
func (r *Registry) BatchFormed(coordinator, reason string, size int) {
	if r == nil {
		return
	}
	r.BatchSize.WithLabelValues(coordinator).Observe(float64(size))
	r.BatchFlushes.WithLabelValues(coordinator, reason).Inc()
}

// BatchObserved records a batch latency sample and the resulting max size.
func (r *Registry) BatchObserved(coordinator string, latency time.Duration, maxSize int) {
	if r == nil {
		return
	}
	r.BatchLatency.WithLabelValues(coordinator).Observe(latency.Seconds())
	r.BatchMaxSize.WithLabelValues(coordinator).Set(float64(maxSize))
}

// BatchAdjusted records an adaptive size change; direction is "up" or "down".
func (r *Registry) BatchAdjusted(coordinator, direction string) {
	if r == nil {
		return
	}
	r.BatchAdjustments.WithLabelValues(coordinator, direction).Inc()
}

// SchedulerDepth publishes the scheduler queue length.
func (r *Registry) SchedulerDepth(scheduler string, n int) {
	if r == nil {
		return
	}
	r.SchedulerQueueDepth.WithLabelValues(scheduler).Set(float64(n))
}

// SchedulerDequeue records a dequeued entry and how long it waited.
func (r *Registry) SchedulerDequeue(scheduler, priority string, wait time.Duration) {
	if r == nil {
		return
	}
	r.SchedulerDequeued.WithLabelValues(scheduler, priority).Inc()
	r.SchedulerWait.WithLabelValues(scheduler).Observe(wait.Seconds())
}

// SchedulerBoost records n aging promotions.
func (r *Registry) SchedulerBoost(scheduler string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.SchedulerBoosts.WithLabelValues(scheduler).Add(float64(n))
}

// PoolTask records a finished pool task.
func (r *Registry) PoolTask(pool, outcome string, stolen bool) {
	if r == nil {
		return
	}
	r.PoolTasks.WithLabelValues(pool, outcome).Inc()
	if stolen {
		r.PoolSteals.WithLabelValues(pool).Inc()
	}
}

// PoolQueued publishes the number of tasks waiting across worker deques.
func (r *Registry) PoolQueued(pool string, n int) {
	if r == nil {
		return
	}
	r.PoolQueueSize.WithLabelValues(pool).Set(float64(n))
}
