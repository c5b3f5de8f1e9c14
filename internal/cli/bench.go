package cli

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/OptikR/OptikR-sub005/pool"
)

type benchOptions struct {
	tasks   int
	workers int
	work    int
}

// benchCase is one pool configuration under one submission pattern.
type benchCase struct {
	name   string
	skewed bool
	opts   []pool.Option
}

type benchResult struct {
	name    string
	workers int
	elapsed time.Duration
	stats   pool.Stats
}

func newBenchCommand(a *app) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare work-stealing pool configurations",
		Long: `Bench runs the same CPU-bound workload through the translation pool under
several idle strategies and submission patterns. The skewed cases submit
every task to worker 0, so throughput depends on stealing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.bench(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.tasks, "tasks", 20000, "tasks per case")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "pool workers (0 uses pool.workers from the config)")
	cmd.Flags().IntVar(&opts.work, "work", 200, "hash rounds per task")
	return cmd
}

func (a *app) bench(ctx context.Context, w io.Writer, opts benchOptions) error {
	if opts.tasks <= 0 || opts.work <= 0 {
		return fmt.Errorf("--tasks and --work must be positive")
	}
	workers := opts.workers
	if workers <= 0 {
		workers = a.cfg.Pool.Workers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	cases := benchCases(workers, opts.tasks, a.cfg.Pool.IdleInterval)

	var bar *progressbar.ProgressBar
	if isTerminal(w) {
		bar = makeProgressBar(len(cases))
	}

	results := make([]benchResult, 0, len(cases))
	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		res, err := runBenchCase(ctx, c, workers, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		results = append(results, res)
		if bar != nil {
			_ = bar.Add(1)
		} else {
			_, _ = fmt.Fprintf(w, "%-24s %s\n", c.name, formatDuration(res.elapsed))
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	printSection(w, "POOL BENCHMARK",
		fmt.Sprintf("Tasks: %s  Workers: %d  Hash rounds: %d", formatNumber(uint64(opts.tasks)), workers, opts.work))
	return renderBenchResults(w, results)
}

func benchCases(workers, tasks int, idleInterval time.Duration) []benchCase {
	base := func(idle pool.IdleStrategy) []pool.Option {
		return []pool.Option{
			pool.WithWorkers(workers),
			pool.WithQueueCapacity(tasks),
			pool.WithIdleStrategy(idle),
			pool.WithIdleInterval(idleInterval),
		}
	}
	return []benchCase{
		{name: "round-robin / poll", opts: base(pool.IdlePoll)},
		{name: "round-robin / notify", opts: base(pool.IdleNotify)},
		{name: "skewed / poll", skewed: true, opts: base(pool.IdlePoll)},
		{name: "skewed / notify", skewed: true, opts: base(pool.IdleNotify)},
		// A threshold above the queue length disables stealing.
		{name: "skewed / no stealing", skewed: true, opts: append(base(pool.IdlePoll), pool.WithStealThreshold(tasks))},
	}
}

func runBenchCase(ctx context.Context, c benchCase, workers int, opts benchOptions) (benchResult, error) {
	p, err := pool.New(append(c.opts, pool.WithName("bench"))...)
	if err != nil {
		return benchResult{}, err
	}

	var wg sync.WaitGroup
	wg.Add(opts.tasks)
	work := func(id int) pool.Task {
		return func(context.Context) error {
			defer wg.Done()
			hashWork(id, opts.work)
			return nil
		}
	}

	if err := p.Start(ctx); err != nil {
		return benchResult{}, err
	}
	start := time.Now()
	for i := range opts.tasks {
		if c.skewed {
			err = p.SubmitTo(0, work(i))
		} else {
			err = p.Submit(work(i))
		}
		if err != nil {
			wg.Add(i - opts.tasks)
			_ = p.Stop(time.Second)
			return benchResult{}, err
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	if err := p.Stop(5 * time.Second); err != nil {
		return benchResult{}, err
	}
	return benchResult{name: c.name, workers: workers, elapsed: elapsed, stats: p.Stats()}, nil
}

// hashWork stands in for a short translation: rounds of FNV-1a over the
// task id.
func hashWork(id, rounds int) uint64 {
	h := fnv.New64a()
	buf := []byte(strconv.Itoa(id))
	var sum uint64
	for range rounds {
		_, _ = h.Write(buf)
		sum ^= h.Sum64()
	}
	return sum
}

func renderBenchResults(w io.Writer, results []benchResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Case", "Workers", "Time", "Tasks/sec", "Stolen", "Steal Rate", "Failed")
	for _, r := range results {
		perSec := float64(r.stats.Processed()) / r.elapsed.Seconds()
		_ = table.Append(
			r.name,
			strconv.Itoa(r.workers),
			formatDuration(r.elapsed),
			formatNumber(uint64(perSec)),
			formatNumber(r.stats.Stolen),
			fmt.Sprintf("%.1f%%", r.stats.StealRate*100),
			formatNumber(r.stats.Failed),
		)
	}
	return table.Render()
}

func makeProgressBar(n int) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription("Benchmarking pool"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
