// Package monitor periodically snapshots engine statistics and publishes
// them to sinks: the log, Prometheus gauges and a Redis hash that external
// dashboards can poll.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/logging"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/pool"
)

// Snapshot is the statistics of one reporting tick. Components that are
// not monitored are nil.
type Snapshot struct {
	Time     time.Time       `json:"time"`
	Pipeline *pipeline.Stats `json:"pipeline,omitempty"`
	Pool     *pool.Stats     `json:"pool,omitempty"`
}

// Source produces a snapshot. It must not modify the components it reads.
type Source func() Snapshot

// Sink receives snapshots.
type Sink interface {
	Name() string
	Publish(ctx context.Context, s Snapshot) error
}

// Reporter runs Report on a cron schedule. Overlapping ticks are skipped.
type Reporter struct {
	schedule string
	source   Source
	sinks    []Sink
	timeout  time.Duration
	logger   *logging.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	last    Snapshot
	hasLast bool
	reports uint64
	errs    uint64
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(r *Reporter) { r.sinks = append(r.sinks, s) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithPublishTimeout bounds each scheduled publication.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Reporter) { r.timeout = d }
}

// NewReporter creates a reporter. schedule is a standard cron spec or a
// descriptor such as "@every 10s".
func NewReporter(schedule string, source Source, opts ...Option) (*Reporter, error) {
	if source == nil {
		return nil, errors.NewConfigError("monitor", "source", nil, "must not be nil")
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, errors.NewConfigError("monitor", "schedule", schedule, err.Error())
	}

	r := &Reporter{
		schedule: schedule,
		source:   source,
		timeout:  5 * time.Second,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("monitor")

	clog := cronLogger{r.logger}
	r.cron = cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	r.cron.Schedule(sched, cron.FuncJob(r.tick))
	return r, nil
}

func (r *Reporter) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Report(ctx); err != nil {
		r.logger.Warn("monitor: publish failed", "error", err)
	}
}

// Report takes a snapshot and publishes it to every sink. Sink failures are
// joined; one failing sink does not stop the others.
func (r *Reporter) Report(ctx context.Context) error {
	snap := r.source()
	if snap.Time.IsZero() {
		snap.Time = time.Now()
	}

	var errs []error
	for _, s := range r.sinks {
		if err := s.Publish(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}

	r.mu.Lock()
	r.last, r.hasLast = snap, true
	r.reports++
	if len(errs) > 0 {
		r.errs++
	}
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Start begins scheduled reporting.
func (r *Reporter) Start() {
	r.cron.Start()
	r.logger.Info("monitor: started", "schedule", r.schedule, "sinks", len(r.sinks))
}

// Stop halts scheduling and waits for a running report to finish or ctx to
// be done.
func (r *Reporter) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent snapshot.
func (r *Reporter) Last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Reports returns how many reports ran and how many had sink errors.
func (r *Reporter) Reports() (total, failed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports, r.errs
}

// cronLogger adapts the engine logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("monitor: cron "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("monitor: cron "+msg, append(keysAndValues, "error", err)...)
}
