package pool

import (
	"context"
	"sync"
	"testing"
	"time"
)

func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

func BenchmarkPoolSkewed(b *testing.B) {
	for _, idle := range []IdleStrategy{IdlePoll, IdleNotify} {
		b.Run(idle.String(), func(b *testing.B) {
			p, err := New(WithWorkers(4), WithIdleStrategy(idle), WithQueueCapacity(b.N+1))
			if err != nil {
				b.Fatal(err)
			}
			var wg sync.WaitGroup
			wg.Add(b.N)
			for range b.N {
				_ = p.SubmitTo(0, func(context.Context) error {
					spin(10 * time.Microsecond)
					wg.Done()
					return nil
				})
			}
			b.ResetTimer()
			_ = p.Start(context.Background())
			wg.Wait()
			b.StopTimer()
			_ = p.Stop(time.Second)
		})
	}
}

func BenchmarkGoroutinePerTask(b *testing.B) {
	var wg sync.WaitGroup
	wg.Add(b.N)
	for range b.N {
		go func() {
			spin(10 * time.Microsecond)
			wg.Done()
		}()
	}
	wg.Wait()
}
