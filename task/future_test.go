package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFuture_Get(t *testing.T) {
	t.Run("successful result", func(t *testing.T) {
		future := NewFuture[string]()
		id := uuid.New()

		go func() {
			time.Sleep(20 * time.Millisecond)
			future.Complete(Result[string]{ItemID: id, Value: "hola"})
		}()

		value, err := future.Get()
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if value != "hola" {
			t.Errorf("expected value 'hola', got %v", value)
		}
	})

	t.Run("error result", func(t *testing.T) {
		future := NewFuture[string]()
		expectedErr := errors.New("translation backend unavailable")

		go future.Complete(Result[string]{Err: expectedErr})

		_, err := future.Get()
		if err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
	})

	t.Run("multiple Get calls return same result", func(t *testing.T) {
		future := NewFuture[int]()
		go future.Complete(Result[int]{Value: 123})

		v1, err1 := future.Get()
		v2, err2 := future.Get()
		if v1 != v2 || err1 != err2 {
			t.Errorf("Get calls returned different results")
		}
	})
}

func TestFuture_CompleteOnce(t *testing.T) {
	future := NewFuture[int]()

	var wg sync.WaitGroup
	var mu sync.Mutex
	resolved := 0
	for i := range 10 {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if future.Complete(Result[int]{Value: v}) {
				mu.Lock()
				resolved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if resolved != 1 {
		t.Fatalf("expected exactly one resolution, got %d", resolved)
	}
}

func TestFuture_GetWithContext(t *testing.T) {
	t.Run("context timeout before result", func(t *testing.T) {
		future := NewFuture[string]()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := future.GetWithContext(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("result before timeout", func(t *testing.T) {
		future := NewFuture[string]()
		future.Complete(Result[string]{Value: "ready"})

		value, err := future.GetWithTimeout(time.Second)
		if err != nil || value != "ready" {
			t.Errorf("got (%q, %v)", value, err)
		}
	})
}

func TestFuture_TryGetAndDone(t *testing.T) {
	future := NewFuture[string]()

	if _, ok := future.TryGet(); ok {
		t.Fatal("TryGet should report not ready")
	}
	select {
	case <-future.Done():
		t.Fatal("Done should not be closed yet")
	default:
	}

	future.Callback()(Result[string]{Value: "x", Stage: "render"})

	select {
	case <-future.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after completion")
	}
	res, ok := future.TryGet()
	if !ok || res.Stage != "render" {
		t.Fatalf("unexpected TryGet result %+v ok=%v", res, ok)
	}
}
