// Package benchmarks measures the scheduling components under overlay-like
// workloads. Run with: go test -bench=. ./benchmarks
package benchmarks

import (
	"context"
	"hash/fnv"
	"strconv"
	"testing"
	"time"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/pool"
)

// poolConfig defines a benchmark configuration for the work-stealing pool
type poolConfig struct {
	name string
	opts []pool.Option
}

// getPoolConfigs returns the idle strategies and steal thresholds worth
// comparing.
func getPoolConfigs(workers, capacity int) []poolConfig {
	base := func(extra ...pool.Option) []pool.Option {
		return append([]pool.Option{
			pool.WithWorkers(workers),
			pool.WithQueueCapacity(capacity),
		}, extra...)
	}
	return []poolConfig{
		{name: "Poll", opts: base(pool.WithIdleStrategy(pool.IdlePoll))},
		{name: "Notify", opts: base(pool.WithIdleStrategy(pool.IdleNotify))},
		{name: "EagerSteal", opts: base(pool.WithIdleStrategy(pool.IdleNotify), pool.WithStealThreshold(0))},
		{name: "NoSteal", opts: base(pool.WithIdleStrategy(pool.IdleNotify), pool.WithStealThreshold(capacity))},
	}
}

// startPool creates and starts a pool, stopping it when the benchmark ends.
func startPool(b *testing.B, opts []pool.Option) *pool.Pool {
	b.Helper()
	p, err := pool.New(opts...)
	if err != nil {
		b.Fatalf("pool.New() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		b.Fatalf("Start() error = %v", err)
	}
	b.Cleanup(func() { _ = p.Stop(10 * time.Second) })
	return p
}

// hashWork simulates a short CPU-bound translation lookup.
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

// submitRetrying submits t, yielding while the target queue is full.
func submitRetrying(b *testing.B, submit func(pool.Task) error, t pool.Task) {
	b.Helper()
	for {
		err := submit(t)
		if err == nil {
			return
		}
		if !errors.Is(err, errors.ErrQueueFull) {
			b.Fatalf("submit error = %v", err)
		}
		time.Sleep(10 * time.Microsecond)
	}
}
