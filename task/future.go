package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is the terminal outcome of one work item.
type Result[R any] struct {
	ItemID uuid.UUID
	Value  R
	Err    error
	// Stage is the name of the stage that produced the outcome.
	Stage    string
	Duration time.Duration
}

// Future is a handle to a result that will be delivered exactly once.
//
// Example:
//
//	future, err := p.SubmitFuture(item)
//	if err != nil {
//		return err
//	}
//	value, err := future.GetWithTimeout(time.Second)
type Future[R any] struct {
	once   sync.Once
	done   chan struct{}
	result Result[R]
}

// NewFuture creates an unresolved future.
func NewFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// Complete resolves the future. Only the first call has any effect; it
// reports whether this call resolved the future.
func (f *Future[R]) Complete(res Result[R]) bool {
	resolved := false
	f.once.Do(func() {
		f.result = res
		close(f.done)
		resolved = true
	})
	return resolved
}

// Get blocks until the result is available.
func (f *Future[R]) Get() (R, error) {
	<-f.done
	return f.result.Value, f.result.Err
}

// GetWithContext blocks until the result is available or ctx is done.
func (f *Future[R]) GetWithContext(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// GetWithTimeout blocks for at most timeout.
func (f *Future[R]) GetWithTimeout(timeout time.Duration) (R, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.GetWithContext(ctx)
}

// TryGet returns the result without blocking. ok is false while unresolved.
func (f *Future[R]) TryGet() (res Result[R], ok bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return res, false
	}
}

// Done is closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Callback adapts the future to a completion callback.
func (f *Future[R]) Callback() func(Result[R]) {
	return func(res Result[R]) { f.Complete(res) }
}
