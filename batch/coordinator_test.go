package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OptikR/OptikR-sub005/errors"
)

func newTestCoordinator(t *testing.T, cfg Config) *Coordinator[int] {
	t.Helper()
	c, err := New[int](cfg, WithName(t.Name()))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"min above max", func(c *Config) { c.MinBatchSize = 10; c.MaxBatchSize = 4 }, "min_batch_size"},
		{"zero max", func(c *Config) { c.MaxBatchSize = 0 }, "max_batch_size"},
		{"zero wait", func(c *Config) { c.MaxWait = 0 }, "max_wait_time"},
		{"max above ceiling", func(c *Config) { c.MaxBatchSize = 32 }, "max_batch_size"},
		{"inverted thresholds", func(c *Config) { c.LowLatency = time.Second }, "low_latency"},
		{"queue below batch", func(c *Config) { c.MaxQueueSize = 2 }, "max_queue_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)

			_, err := New[int](cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfiguration))

			var cfgErr *errors.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNonAdaptiveAllowsLargeBatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptive = false
	cfg.MaxBatchSize = 64
	_, err := New[int](cfg)
	assert.NoError(t, err)
}

func TestFullBatchFlushesImmediately(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 4, MaxWait: 10 * time.Millisecond, Adaptive: true})

	for i := range 4 {
		require.NoError(t, c.Submit(i))
	}

	start := time.Now()
	b := c.GetBatch(context.Background(), time.Second)
	assert.Equal(t, []int{0, 1, 2, 3}, b)
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	s := c.Stats()
	assert.EqualValues(t, 1, s.Batches)
	assert.EqualValues(t, 1, s.FullFlushes)
	assert.Equal(t, 0, s.Pending)
}

func TestSingleItemFlushesAfterWait(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 4, MaxWait: 10 * time.Millisecond})

	require.NoError(t, c.Submit(7))
	start := time.Now()
	b := c.GetBatch(context.Background(), time.Second)

	assert.Equal(t, []int{7}, b)
	assert.GreaterOrEqual(t, time.Since(start), 7*time.Millisecond)
}

func TestEarlyFlushWhenMinimumReached(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 8, MinBatchSize: 3, MaxWait: 50 * time.Millisecond})

	for i := range 2 {
		require.NoError(t, c.Submit(i))
	}
	// Two items are below the minimum: nothing flushes before MaxWait.
	assert.Nil(t, c.GetBatch(context.Background(), 5*time.Millisecond))

	require.NoError(t, c.Submit(2))
	b := c.GetBatch(context.Background(), time.Second)
	assert.Equal(t, []int{0, 1, 2}, b)

	s := c.Stats()
	assert.EqualValues(t, 1, s.Batches)
	assert.EqualValues(t, 1, s.EarlyFlushes+s.TimeoutFlushes)
}

func TestCallerTimeoutForcesPartialBatch(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 8, MinBatchSize: 2, MaxWait: time.Second})

	require.NoError(t, c.Submit(1))
	assert.Nil(t, c.GetBatch(context.Background(), 5*time.Millisecond), "below minimum returns empty")

	require.NoError(t, c.Submit(2))
	b := c.GetBatch(context.Background(), 5*time.Millisecond)
	assert.Equal(t, []int{1, 2}, b)
	assert.EqualValues(t, 1, c.Stats().ForcedFlushes)
}

func TestOverfullAccumulationSplits(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 3, MaxWait: 5 * time.Millisecond})

	for i := range 7 {
		require.NoError(t, c.Submit(i))
	}

	var sizes []int
	for range 3 {
		sizes = append(sizes, len(c.GetBatch(context.Background(), time.Second)))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestSubmitRejectsWhenFull(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 2, MaxWait: time.Second, MaxQueueSize: 2})

	require.NoError(t, c.Submit(1))
	require.NoError(t, c.Submit(2))
	assert.ErrorIs(t, c.Submit(3), errors.ErrQueueFull)
	assert.EqualValues(t, 1, c.Stats().Rejected)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	c, err := New[int](Config{MaxBatchSize: 4, MinBatchSize: 4, MaxWait: time.Hour})
	require.NoError(t, err)

	require.NoError(t, c.Submit(1))

	done := make(chan []int)
	go func() { done <- c.GetBatch(context.Background(), time.Hour) }()

	time.Sleep(5 * time.Millisecond)
	c.Close()
	c.Close()

	select {
	case b := <-done:
		assert.Equal(t, []int{1}, b)
	case <-time.After(time.Second):
		t.Fatal("GetBatch did not return after Close")
	}
	assert.ErrorIs(t, c.Submit(2), errors.ErrClosed)
}

func TestGetBatchHonoursContext(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 4, MaxWait: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	assert.Nil(t, c.GetBatch(ctx, time.Hour))
}

func TestAdaptiveSizing(t *testing.T) {
	t.Run("fast batches grow up to ceiling", func(t *testing.T) {
		c := newTestCoordinator(t, Config{MaxBatchSize: 8, MaxWait: 10 * time.Millisecond, Adaptive: true})

		for i := range 10 {
			c.RecordLatency(20 * time.Millisecond)
			if i < 4 {
				assert.Equal(t, 8, c.MaxBatchSize(), "no adjustment before five samples")
			}
		}
		assert.Greater(t, c.MaxBatchSize(), 8)
		assert.LessOrEqual(t, c.MaxBatchSize(), 16)

		for range 50 {
			c.RecordLatency(time.Millisecond)
		}
		assert.Equal(t, 16, c.MaxBatchSize())
	})

	t.Run("slow batches shrink down to floor", func(t *testing.T) {
		c := newTestCoordinator(t, Config{MaxBatchSize: 8, MaxWait: 10 * time.Millisecond, Adaptive: true})

		for range 30 {
			c.RecordLatency(150 * time.Millisecond)
			assert.GreaterOrEqual(t, c.MaxBatchSize(), 2)
		}
		assert.Equal(t, 2, c.MaxBatchSize())
		s := c.Stats()
		assert.EqualValues(t, 6, s.Decreases)
		assert.Equal(t, 150*time.Millisecond, s.AvgLatency)
	})

	t.Run("floor never drops below min batch size", func(t *testing.T) {
		c := newTestCoordinator(t, Config{MaxBatchSize: 8, MinBatchSize: 5, MaxWait: 10 * time.Millisecond, Adaptive: true})
		for range 30 {
			c.RecordLatency(time.Second)
		}
		assert.Equal(t, 5, c.MaxBatchSize())
	})

	t.Run("middle band holds steady", func(t *testing.T) {
		c := newTestCoordinator(t, Config{MaxBatchSize: 6, MaxWait: 10 * time.Millisecond, Adaptive: true})
		for range 20 {
			c.RecordLatency(60 * time.Millisecond)
		}
		assert.Equal(t, 6, c.MaxBatchSize())
	})

	t.Run("disabled", func(t *testing.T) {
		c := newTestCoordinator(t, Config{MaxBatchSize: 6, MaxWait: 10 * time.Millisecond})
		for range 20 {
			c.RecordLatency(time.Millisecond)
		}
		assert.Equal(t, 6, c.MaxBatchSize())
	})
}

func TestReconfigure(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 8, MaxWait: 10 * time.Millisecond})

	require.Error(t, c.Reconfigure(Config{MaxBatchSize: 2, MinBatchSize: 3, MaxWait: time.Millisecond}))
	require.NoError(t, c.Reconfigure(Config{MaxBatchSize: 3, MaxWait: 10 * time.Millisecond}))
	assert.Equal(t, 3, c.MaxBatchSize())
}

func TestConcurrentProducersAndConsumers(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 8, MaxWait: 2 * time.Millisecond, MaxQueueSize: 10000})

	const producers, perProducer = 8, 250
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				if err := c.Submit(p*perProducer + i); err != nil {
					t.Errorf("submit: %v", err)
				}
			}
		}()
	}

	var mu sync.Mutex
	seen := make(map[int]bool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumers sync.WaitGroup
	for range 3 {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for ctx.Err() == nil {
				b := c.GetBatch(ctx, 10*time.Millisecond)
				if len(b) > 8 {
					t.Errorf("batch of %d exceeds max", len(b))
				}
				mu.Lock()
				for _, v := range b {
					if seen[v] {
						t.Errorf("item %d delivered twice", v)
					}
					seen[v] = true
				}
				done := len(seen) == producers*perProducer
				mu.Unlock()
				if done {
					cancel()
				}
			}
		}()
	}

	wg.Wait()
	consumers.Wait()
	assert.Len(t, seen, producers*perProducer)
	assert.EqualValues(t, producers*perProducer, c.Stats().Items)
}

func TestExecute(t *testing.T) {
	c := newTestCoordinator(t, Config{MaxBatchSize: 4, MaxWait: 10 * time.Millisecond})

	double := func(_ context.Context, items []int) ([]string, error) {
		out := make([]string, len(items))
		for i, v := range items {
			out[i] = fmt.Sprint(v * 2)
		}
		return out, nil
	}

	res, err := Execute(context.Background(), c, []int{1, 2}, double)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4"}, res)
	assert.EqualValues(t, 1, c.Stats().LatencySamples)

	t.Run("error fails whole batch", func(t *testing.T) {
		_, err := Execute(context.Background(), c, []int{1, 2, 3}, func(context.Context, []int) ([]string, error) {
			return nil, errors.New("backend down")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrBatchProcessing)

		var batchErr *errors.BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 3, batchErr.Size)
	})

	t.Run("result count mismatch", func(t *testing.T) {
		_, err := Execute(context.Background(), c, []int{1, 2}, func(context.Context, []int) ([]string, error) {
			return []string{"only one"}, nil
		})
		assert.ErrorIs(t, err, errors.ErrBatchProcessing)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		_, err := Execute(context.Background(), c, []int{1}, func(context.Context, []int) ([]string, error) {
			panic("ocr model not loaded")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch panic")
	})
}
