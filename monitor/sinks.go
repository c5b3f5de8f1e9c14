package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
)

// LogSink writes a one-line summary of each snapshot.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(l *logging.Logger) *LogSink {
	return &LogSink{logger: l.WithComponent("monitor")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, snap Snapshot) error {
	args := []any{}
	if p := snap.Pipeline; p != nil {
		args = append(args,
			"submitted", p.Submitted,
			"completed", p.Completed,
			"failed", p.Failed,
			"pending", p.Pending,
			"rejected", p.Rejected,
		)
		for _, st := range p.Stages {
			args = append(args, "stage_"+st.Name+"_queued", st.Queued)
		}
	}
	if p := snap.Pool; p != nil {
		args = append(args, "pool_pending", p.Pending, "pool_stolen", p.Stolen, "steal_rate", p.StealRate)
	}
	s.logger.Info("monitor: stats", args...)
	return nil
}

// MetricsSink publishes snapshot gauges that components do not update on
// their own, such as pool queue depth.
type MetricsSink struct {
	reg      *metrics.Registry
	pipeline string
	pool     string
}

// NewMetricsSink creates a MetricsSink. pipelineName and poolName label the
// gauges and should match the component names.
func NewMetricsSink(reg *metrics.Registry, pipelineName, poolName string) *MetricsSink {
	return &MetricsSink{reg: reg, pipeline: pipelineName, pool: poolName}
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Publish(_ context.Context, snap Snapshot) error {
	if p := snap.Pipeline; p != nil {
		for _, st := range p.Stages {
			s.reg.StageGauges(st.Name, st.Queued, st.InFlight)
		}
		if p.Admission != nil {
			s.reg.SchedulerDepth(s.pipeline, p.Admission.Pending)
		}
	}
	if p := snap.Pool; p != nil {
		s.reg.PoolQueued(s.pool, p.Queued)
	}
	return nil
}

// HashStore is the subset of the Redis client the Redis sink needs.
// *redis.Client and *redis.ClusterClient satisfy it.
type HashStore interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSink stores the latest snapshot in a Redis hash: headline counters
// as plain fields and the full component stats as JSON.
type RedisSink struct {
	client HashStore
	key    string
	ttl    time.Duration
}

// NewRedisSink creates a RedisSink writing to key. A positive ttl expires
// the hash when reporting stops.
func NewRedisSink(client HashStore, key string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, key: key, ttl: ttl}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, snap Snapshot) error {
	fields := map[string]any{
		"updated_at": snap.Time.UTC().Format(time.RFC3339Nano),
	}
	if p := snap.Pipeline; p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode pipeline stats: %w", err)
		}
		fields["pipeline"] = string(data)
		fields["submitted"] = p.Submitted
		fields["completed"] = p.Completed
		fields["failed"] = p.Failed
		fields["pending"] = p.Pending
	}
	if p := snap.Pool; p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode pool stats: %w", err)
		}
		fields["pool"] = string(data)
	}

	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", s.key, err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", s.key, err)
		}
	}
	return nil
}
