package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/metrics"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/pool"
	"github.com/OptikR/OptikR-sub005/priority"
)

type fakeRedis struct {
	mu     sync.Mutex
	hashes map[string]map[string]any
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: make(map[string]map[string]any), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "hset", key)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]any)
		f.hashes[key] = h
	}
	fields := values[0].(map[string]any)
	for k, v := range fields {
		h[k] = v
	}
	cmd.SetVal(int64(len(fields)))
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx, "expire", key)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = ttl
	cmd.SetVal(true)
	return cmd
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Pipeline: &pipeline.Stats{
			Running:   true,
			Submitted: 10,
			Completed: 6,
			Failed:    1,
			Pending:   3,
			Stages: []pipeline.StageStats{
				{Name: "ocr", Queued: 2, InFlight: 1},
				{Name: "translate", Queued: 0, InFlight: 1},
			},
			Admission: &priority.Stats{Pending: 4},
		},
		Pool: &pool.Stats{Submitted: 5, Completed: 5, Queued: 7},
	}
}

func TestNewReporterValidation(t *testing.T) {
	_, err := NewReporter("@every 1s", nil)
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	_, err = NewReporter("not a schedule", sampleSnapshot)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestReportPublishesToEverySink(t *testing.T) {
	first := &recordingSink{err: errors.New("unavailable")}
	second := &recordingSink{}

	r, err := NewReporter("@every 1m", sampleSnapshot, WithSink(first), WithSink(second))
	require.NoError(t, err)

	err = r.Report(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink recording: unavailable")
	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())

	last, ok := r.Last()
	require.True(t, ok)
	assert.EqualValues(t, 10, last.Pipeline.Submitted)

	total, failed := r.Reports()
	assert.EqualValues(t, 1, total)
	assert.EqualValues(t, 1, failed)
}

func TestReportStampsTime(t *testing.T) {
	sink := &recordingSink{}
	r, err := NewReporter("@every 1m", func() Snapshot { return Snapshot{} }, WithSink(sink))
	require.NoError(t, err)
	require.NoError(t, r.Report(context.Background()))
	assert.False(t, sink.snaps[0].Time.IsZero())
}

func TestScheduledReporting(t *testing.T) {
	sink := &recordingSink{}
	r, err := NewReporter("@every 1s", sampleSnapshot, WithSink(sink))
	require.NoError(t, err)

	r.Start()
	deadline := time.Now().Add(3 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	assert.GreaterOrEqual(t, sink.count(), 1)
}

func TestRedisSink(t *testing.T) {
	client := newFakeRedis()
	sink := NewRedisSink(client, "optikr:stats", time.Minute)

	require.NoError(t, sink.Publish(context.Background(), sampleSnapshot()))

	h := client.hashes["optikr:stats"]
	require.NotNil(t, h)
	assert.Equal(t, "2026-01-02T03:04:05Z", h["updated_at"])
	assert.EqualValues(t, 10, h["submitted"])
	assert.EqualValues(t, 3, h["pending"])
	assert.Equal(t, time.Minute, client.ttls["optikr:stats"])

	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal([]byte(h["pipeline"].(string)), &stats))
	assert.Len(t, stats.Stages, 2)
	assert.Equal(t, "ocr", stats.Stages[0].Name)

	var ps pool.Stats
	require.NoError(t, json.Unmarshal([]byte(h["pool"].(string)), &ps))
	assert.Equal(t, 7, ps.Queued)
}

func TestRedisSinkError(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	sink := NewRedisSink(client, "k", 0)

	err := sink.Publish(context.Background(), sampleSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hset k")
	assert.Empty(t, client.ttls)
}

func TestMetricsSink(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry(), "")
	sink := NewMetricsSink(reg, "overlay", "workers")

	require.NoError(t, sink.Publish(context.Background(), sampleSnapshot()))

	assert.InDelta(t, 2, testutil.ToFloat64(reg.StageQueueDepth.WithLabelValues("ocr")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(reg.StageInFlight.WithLabelValues("translate")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(reg.SchedulerQueueDepth.WithLabelValues("overlay")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(reg.PoolQueueSize.WithLabelValues("workers")), 0)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.New(&buf, "INFO"))

	require.NoError(t, sink.Publish(context.Background(), sampleSnapshot()))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "monitor: stats", rec["msg"])
	assert.EqualValues(t, 10, rec["submitted"])
	assert.EqualValues(t, 2, rec["stage_ocr_queued"])
}
