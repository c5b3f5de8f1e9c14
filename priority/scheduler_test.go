package priority

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/task"
)

// fakeClock is advanced manually so aging can be tested without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustScheduler(t *testing.T, opts ...Option) *Scheduler[string] {
	t.Helper()
	s, err := New[string](opts...)
	require.NoError(t, err)
	return s
}

func TestDequeueOrdersByPriority(t *testing.T) {
	s := mustScheduler(t)

	for _, p := range []task.Priority{5, 1, 3} {
		require.NoError(t, s.Enqueue(p.String(), p))
	}

	var got []string
	for range 3 {
		v, ok := s.TryDequeue()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []string{"P1", "P3", "P5"}, got)
}

func TestEqualPriorityIsFIFO(t *testing.T) {
	s := mustScheduler(t, WithStarvationPrevention(false))

	for _, v := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Enqueue(v, task.PriorityNormal))
	}
	require.NoError(t, s.Enqueue("urgent", task.PriorityCritical))

	want := []string{"urgent", "a", "b", "c", "d"}
	for _, w := range want {
		v, ok := s.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, w, v)
	}
}

func TestStarvationBound(t *testing.T) {
	clock := newFakeClock()
	s := mustScheduler(t, WithClock(clock.Now))

	require.NoError(t, s.Enqueue("background", task.PriorityBackground))

	servedAt := -1
	for sec := 1; sec <= 300; sec++ {
		clock.Advance(time.Second)
		require.NoError(t, s.Enqueue("critical", task.PriorityCritical))

		v, ok := s.TryDequeue()
		require.True(t, ok)
		if v == "background" {
			servedAt = sec
			break
		}
	}

	require.NotEqual(t, -1, servedAt, "background entry starved")
	assert.LessOrEqual(t, servedAt, 201)
	assert.GreaterOrEqual(t, servedAt, 199)
	assert.Positive(t, s.Stats().Promoted)
}

func TestNoAgingWithoutStarvationPrevention(t *testing.T) {
	clock := newFakeClock()
	s := mustScheduler(t, WithClock(clock.Now), WithStarvationPrevention(false))

	require.NoError(t, s.Enqueue("background", task.PriorityBackground))
	clock.Advance(time.Hour)
	require.NoError(t, s.Enqueue("critical", task.PriorityCritical))

	v, _ := s.TryDequeue()
	assert.Equal(t, "critical", v)
	assert.Zero(t, s.Stats().Boosts)
}

func TestMaxBoostCapsAging(t *testing.T) {
	clock := newFakeClock()
	s := mustScheduler(t, WithClock(clock.Now), WithMaxBoost(50))

	require.NoError(t, s.Enqueue("low", task.PriorityLow))
	clock.Advance(10 * time.Minute)

	_, p, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, task.Priority(50), p)

	require.NoError(t, s.Enqueue("high", task.PriorityHigh))
	v, _ := s.TryDequeue()
	assert.Equal(t, "high", v)
}

func TestEffectivePriorityNeverIncreases(t *testing.T) {
	clock := newFakeClock()
	s := mustScheduler(t, WithClock(clock.Now), WithAgingStep(10*time.Millisecond))

	require.NoError(t, s.Enqueue("x", 30))
	require.NoError(t, s.Enqueue("y", 40))

	var last task.Priority = 1 << 30
	for range 50 {
		clock.Advance(time.Millisecond * 7)
		_, p, ok := s.Peek()
		require.True(t, ok)
		assert.LessOrEqual(t, p, last)
		assert.GreaterOrEqual(t, p, task.Priority(0))
		last = p
	}
}

func TestPeekIsReadOnly(t *testing.T) {
	clock := newFakeClock()
	s := mustScheduler(t, WithClock(clock.Now))
	require.NoError(t, s.Enqueue("a", 10))
	require.NoError(t, s.Enqueue("b", 5))
	clock.Advance(3 * time.Second)

	before := s.Stats()
	v, p, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, task.Priority(2), p)
	assert.Equal(t, before, s.Stats())
	assert.Equal(t, 2, s.Len())
}

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	s := mustScheduler(t, WithMaxSize(2))

	require.NoError(t, s.Enqueue("a", 1))
	require.NoError(t, s.Enqueue("b", 1))
	err := s.Enqueue("c", 0)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
	assert.EqualValues(t, 1, s.Stats().Rejected)
}

func TestEnqueueLevel(t *testing.T) {
	s := mustScheduler(t, WithLevels(map[string]task.Priority{"OVERLAY": 1, "PREFETCH": 150}))

	require.NoError(t, s.EnqueueLevel("prefetch", "PREFETCH"))
	require.NoError(t, s.EnqueueLevel("overlay", "OVERLAY"))
	assert.ErrorIs(t, s.EnqueueLevel("x", "CRITICAL"), errors.ErrConfiguration)

	v, _ := s.TryDequeue()
	assert.Equal(t, "overlay", v)
}

func TestInvalidOptions(t *testing.T) {
	for name, opt := range map[string]Option{
		"size":  WithMaxSize(0),
		"step":  WithAgingStep(0),
		"boost": WithMaxBoost(-1),
		"level": WithLevels(map[string]task.Priority{"BAD": -1}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New[int](opt)
			assert.ErrorIs(t, err, errors.ErrConfiguration)
		})
	}
}

func TestDequeueWaitsForArrival(t *testing.T) {
	s := mustScheduler(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Enqueue("late", task.PriorityNormal)
	}()

	v, ok := s.Dequeue(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "late", v)

	start := time.Now()
	_, ok = s.Dequeue(context.Background(), 15*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestCloseWakesConsumers(t *testing.T) {
	s := mustScheduler(t)

	done := make(chan bool)
	go func() {
		_, ok := s.Dequeue(context.Background(), time.Hour)
		done <- ok
	}()

	time.Sleep(5 * time.Millisecond)
	s.Close()
	s.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue not woken by Close")
	}
	assert.ErrorIs(t, s.Enqueue("x", 0), errors.ErrClosed)
}

func TestDrainReturnsPriorityOrder(t *testing.T) {
	s := mustScheduler(t, WithStarvationPrevention(false))
	for i, p := range []task.Priority{100, 0, 50, 0} {
		require.NoError(t, s.Enqueue(string(rune('a'+i)), p))
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, s.Drain())
	assert.Zero(t, s.Len())
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	s, err := New[int](WithMaxSize(100000))
	require.NoError(t, err)

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				if err := s.Enqueue(p*perProducer+i, task.Priority(i%4*25)); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}()
	}

	var got atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var consumers sync.WaitGroup
	for range 4 {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for got.Load() < producers*perProducer && ctx.Err() == nil {
				if _, ok := s.Dequeue(ctx, 5*time.Millisecond); ok {
					got.Add(1)
				}
			}
		}()
	}

	wg.Wait()
	consumers.Wait()

	st := s.Stats()
	assert.EqualValues(t, producers*perProducer, got.Load())
	assert.EqualValues(t, producers*perProducer, st.Enqueued)
	assert.Equal(t, st.Enqueued, st.Dequeued+uint64(st.Pending))
}
