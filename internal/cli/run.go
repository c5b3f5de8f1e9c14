package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/OptikR/OptikR-sub005/affinity"
	"github.com/OptikR/OptikR-sub005/config"
	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/overlay"
	"github.com/OptikR/OptikR-sub005/metrics"
	"github.com/OptikR/OptikR-sub005/monitor"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/pool"
	"github.com/OptikR/OptikR-sub005/task"
)

const (
	pipelineName = "overlay"
	poolName     = "translation"
)

type runOptions struct {
	frames      int
	interval    time.Duration
	regions     int
	failureRate float64
}

func newRunCommand(a *app) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the overlay pipeline on simulated frames",
		Long: `Run captures simulated frames, recognizes their text regions in
adaptive batches, translates them on the work-stealing pool and renders the
results. Statistics are reported on the monitor schedule and summarized on
exit. Edits to the batch section of the config file apply while running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.frames, "frames", 100, "frames to capture (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 50*time.Millisecond, "time between captured frames")
	cmd.Flags().IntVar(&opts.regions, "regions", 4, "text regions per frame")
	cmd.Flags().Float64Var(&opts.failureRate, "failure-rate", 0, "probability that a translation fails")
	return cmd
}

func (a *app) run(ctx context.Context, w io.Writer, opts runOptions) error {
	cfg := a.cfg
	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	var reg *metrics.Registry
	var promReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg = metrics.NewRegistry(promReg, cfg.Metrics.Namespace)
	}

	var advisor *affinity.Advisor
	if cfg.Affinity.Enabled {
		var err error
		advisor, err = affinity.NewAdvisor(append(cfg.Affinity.Options(), affinity.WithLogger(a.logger))...)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wp, err := pool.New(append(cfg.Pool.Options(advisor),
		pool.WithName(poolName),
		pool.WithLogger(a.logger),
		pool.WithMetrics(reg),
	)...)
	if err != nil {
		return err
	}
	if err := wp.Start(ctx); err != nil {
		return err
	}

	simCfg := overlay.DefaultConfig()
	simCfg.RegionsPerFrame = opts.regions
	simCfg.FailureRate = opts.failureRate
	sim := overlay.NewSimulator(simCfg)

	p, err := buildPipeline(cfg, sim, wp, a, reg)
	if err != nil {
		_ = wp.Stop(cfg.Pipeline.StopTimeout)
		return err
	}
	if err := p.Start(ctx); err != nil {
		_ = wp.Stop(cfg.Pipeline.StopTimeout)
		return err
	}

	a.loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			a.logger.Warn("config: reload rejected", "error", err)
			return
		}
		if ocr, ok := p.Stage(affinity.RoleOCR); ok {
			if err := ocr.ReconfigureBatch(next.Batch.Batch()); err != nil {
				a.logger.Warn("config: batch reload failed", "error", err)
			}
		}
	})

	reporter, closeSinks, err := a.startReporter(p, wp, reg)
	if err != nil {
		_ = p.Stop(cfg.Pipeline.StopTimeout)
		_ = wp.Stop(cfg.Pipeline.StopTimeout)
		return err
	}
	defer closeSinks()

	var srv *http.Server
	var g errgroup.Group
	if promReg != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		a.logger.Info("metrics: serving", "addr", cfg.Metrics.Listen)
	}

	var rendered, failed, dropped atomic.Uint64
	onResult := func(res task.Result[any]) {
		if res.Err != nil {
			failed.Add(1)
			return
		}
		rendered.Add(1)
	}

	start := time.Now()
	produceErr := produce(ctx, p, sim, opts, onResult, &dropped)

	stopErr := p.Stop(cfg.Pipeline.StopTimeout)
	if stopErr != nil {
		_, _ = yellow.Fprintf(w, "warning: %v\n", stopErr)
	}
	if err := wp.Stop(cfg.Pipeline.StopTimeout); err != nil {
		_, _ = yellow.Fprintf(w, "warning: %v\n", err)
	}
	if reporter != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Pipeline.StopTimeout)
		_ = reporter.Report(stopCtx)
		_ = reporter.Stop(stopCtx)
		stopCancel()
	}
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	printSection(w, "RUN SUMMARY",
		fmt.Sprintf("Duration: %s  Rendered: %s  Failed: %s  Dropped at admission: %s",
			formatDuration(elapsed), formatNumber(rendered.Load()), formatNumber(failed.Load()), formatNumber(dropped.Load())))
	if err := renderPipelineStats(w, p.Stats()); err != nil {
		return err
	}
	if err := renderPoolStats(w, wp.Stats()); err != nil {
		return err
	}
	renderCacheStats(w, sim.CacheStats())
	return produceErr
}

func buildPipeline(cfg *config.Config, sim *overlay.Simulator, wp *pool.Pool, a *app, reg *metrics.Registry) (*pipeline.Pipeline, error) {
	p := pipeline.New(append(cfg.Pipeline.Options(cfg.Scheduler),
		pipeline.WithName(pipelineName),
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(reg),
	)...)

	stageOpts := cfg.Pipeline.StageOptions()
	concurrency, capacity := cfg.Pipeline.StageConcurrency, cfg.Pipeline.QueueCapacity

	if err := p.AddBatchStage(affinity.RoleOCR, sim.Recognize, concurrency, cfg.Batch.Batch(), stageOpts...); err != nil {
		return nil, err
	}
	translateOpts := append(stageOpts[:len(stageOpts):len(stageOpts)], pipeline.WithExecutor(wp))
	if err := p.AddStage(affinity.RoleTranslation, sim.Translate, concurrency, capacity, translateOpts...); err != nil {
		return nil, err
	}
	if err := p.AddStage(affinity.RoleRender, sim.Render, 1, capacity, stageOpts...); err != nil {
		return nil, err
	}
	return p, nil
}

// startReporter starts the monitor when enabled. The returned func closes
// sink connections.
func (a *app) startReporter(p *pipeline.Pipeline, wp *pool.Pool, reg *metrics.Registry) (*monitor.Reporter, func(), error) {
	noop := func() {}
	mc := a.cfg.Monitor
	if !mc.Enabled {
		return nil, noop, nil
	}

	opts := []monitor.Option{
		monitor.WithLogger(a.logger),
		monitor.WithSink(monitor.NewLogSink(a.logger)),
	}
	if reg != nil {
		opts = append(opts, monitor.WithSink(monitor.NewMetricsSink(reg, pipelineName, poolName)))
	}

	closeSinks := noop
	if mc.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     mc.Redis.Addr,
			Password: mc.Redis.Password,
			DB:       mc.Redis.DB,
		})
		closeSinks = func() { _ = client.Close() }
		opts = append(opts, monitor.WithSink(monitor.NewRedisSink(client, mc.Redis.Key, mc.Redis.TTL)))
	}

	source := func() monitor.Snapshot {
		ps, pls := p.Stats(), wp.Stats()
		return monitor.Snapshot{Time: time.Now(), Pipeline: &ps, Pool: &pls}
	}
	reporter, err := monitor.NewReporter(mc.Schedule, source, opts...)
	if err != nil {
		closeSinks()
		return nil, noop, err
	}
	reporter.Start()
	return reporter, closeSinks, nil
}

// produce captures frames and submits their regions until opts.frames have
// been captured or ctx is done. Regions rejected by backpressure are
// counted in dropped; the next frame supersedes them.
func produce(ctx context.Context, p *pipeline.Pipeline, sim *overlay.Simulator, opts runOptions, cb pipeline.Callback, dropped *atomic.Uint64) error {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for frame := 0; opts.frames == 0 || frame < opts.frames; frame++ {
		for _, item := range sim.Items(sim.Capture(frame)) {
			err := p.SubmitWithCallback(item, cb)
			switch {
			case err == nil:
			case errors.IsBackpressure(err):
				dropped.Add(1)
			default:
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
