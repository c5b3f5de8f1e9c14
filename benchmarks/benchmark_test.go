package benchmarks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OptikR/OptikR-sub005/batch"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/pool"
	"github.com/OptikR/OptikR-sub005/priority"
	"github.com/OptikR/OptikR-sub005/task"
)

// =============================================================================
// Work-stealing pool
// =============================================================================

func BenchmarkPoolRoundRobin(b *testing.B) {
	for _, workers := range []int{2, 4, 8} {
		for _, cfg := range getPoolConfigs(workers, 4096) {
			b.Run(fmt.Sprintf("%s/workers=%d", cfg.name, workers), func(b *testing.B) {
				p := startPool(b, cfg.opts)
				var wg sync.WaitGroup

				b.ResetTimer()
				for i := range b.N {
					wg.Add(1)
					submitRetrying(b, p.Submit, func(context.Context) error {
						defer wg.Done()
						hashWork(i, 50)
						return nil
					})
				}
				wg.Wait()
				b.StopTimer()
				b.ReportMetric(p.Stats().StealRate*100, "steal%")
			})
		}
	}
}

// BenchmarkPoolSkewed sends every task to worker 0, the pattern stealing
// exists for.
func BenchmarkPoolSkewed(b *testing.B) {
	for _, cfg := range getPoolConfigs(4, 1<<16) {
		b.Run(cfg.name, func(b *testing.B) {
			p := startPool(b, cfg.opts)
			submitTo0 := func(t pool.Task) error { return p.SubmitTo(0, t) }
			var wg sync.WaitGroup

			b.ResetTimer()
			for i := range b.N {
				wg.Add(1)
				submitRetrying(b, submitTo0, func(context.Context) error {
					defer wg.Done()
					hashWork(i, 200)
					return nil
				})
			}
			wg.Wait()
			b.StopTimer()
			b.ReportMetric(p.Stats().StealRate*100, "steal%")
		})
	}
}

// =============================================================================
// Priority scheduler
// =============================================================================

func BenchmarkSchedulerEnqueueDequeue(b *testing.B) {
	bands := []task.Priority{task.PriorityCritical, task.PriorityHigh, task.PriorityNormal, task.PriorityLow, task.PriorityBackground}
	for _, aging := range []bool{false, true} {
		for _, depth := range []int{16, 256} {
			b.Run(fmt.Sprintf("aging=%t/depth=%d", aging, depth), func(b *testing.B) {
				s, err := priority.New[int](priority.WithMaxSize(depth+1), priority.WithStarvationPrevention(aging))
				if err != nil {
					b.Fatal(err)
				}
				for i := range depth {
					_ = s.Enqueue(i, bands[i%len(bands)])
				}

				b.ResetTimer()
				for i := range b.N {
					_ = s.Enqueue(i, bands[i%len(bands)])
					_, _ = s.TryDequeue()
				}
			})
		}
	}
}

func BenchmarkSchedulerParallel(b *testing.B) {
	s, err := priority.New[int](priority.WithMaxSize(1 << 20))
	if err != nil {
		b.Fatal(err)
	}
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = s.Enqueue(i, task.Priority(i%200))
			_, _ = s.TryDequeue()
			i++
		}
	})
}

// =============================================================================
// Batch coordinator
// =============================================================================

func BenchmarkBatchFullFlush(b *testing.B) {
	for _, size := range []int{4, 8, 16} {
		b.Run(fmt.Sprintf("max=%d", size), func(b *testing.B) {
			cfg := batch.DefaultConfig()
			cfg.MaxBatchSize = size
			cfg.MaxWait = time.Second
			cfg.Adaptive = false
			c, err := batch.New[int](cfg)
			if err != nil {
				b.Fatal(err)
			}
			ctx := context.Background()

			b.ResetTimer()
			for i := range b.N {
				_ = c.Submit(i)
				if c.Len() >= size {
					c.GetBatch(ctx, 0)
				}
			}
		})
	}
}

// =============================================================================
// Pipeline
// =============================================================================

func BenchmarkPipelineThreeStages(b *testing.B) {
	for _, admission := range []bool{false, true} {
		b.Run(fmt.Sprintf("admission=%t", admission), func(b *testing.B) {
			opts := []pipeline.Option{
				pipeline.WithSubmitPolicy(pipeline.Block, time.Second),
				pipeline.WithPollInterval(time.Millisecond),
			}
			if admission {
				opts = append(opts, pipeline.WithPriorityAdmission(priority.WithMaxSize(4096)))
			}
			p := pipeline.New(opts...)

			pass := func(_ context.Context, item *pipeline.Item) (any, error) { return item.Payload, nil }
			batchCfg := batch.DefaultConfig()
			batchCfg.MaxWait = time.Millisecond
			batchCfg.Adaptive = false
			_ = p.AddBatchStage("ocr", func(_ context.Context, items []*pipeline.Item) ([]any, error) {
				out := make([]any, len(items))
				for i, it := range items {
					out[i] = it.Payload
				}
				return out, nil
			}, 2, batchCfg)
			_ = p.AddStage("translation", pass, 4, 1024)
			_ = p.AddStage("render", pass, 1, 1024)

			if err := p.Start(context.Background()); err != nil {
				b.Fatal(err)
			}
			var wg sync.WaitGroup
			done := func(task.Result[any]) { wg.Done() }

			b.ResetTimer()
			for i := range b.N {
				wg.Add(1)
				if err := p.SubmitWithCallback(task.NewItem[any](i), done); err != nil {
					b.Fatal(err)
				}
			}
			wg.Wait()
			b.StopTimer()
			_ = p.Stop(10 * time.Second)
		})
	}
}
