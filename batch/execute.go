package batch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/OptikR/OptikR-sub005/errors"
)

// Func processes a batch and returns one result per input, in order.
type Func[T, R any] func(ctx context.Context, items []T) ([]R, error)

// Execute runs fn over items, records the observed latency with c and
// enforces the all-or-nothing contract: any error, panic or result count
// mismatch fails the whole batch with a BatchError.
func Execute[T, R any](ctx context.Context, c *Coordinator[T], items []T, fn Func[T, R]) ([]R, error) {
	start := time.Now()
	results, err := callWithRecovery(ctx, items, fn)
	c.RecordLatency(time.Since(start))

	if err == nil && len(results) != len(items) {
		err = fmt.Errorf("returned %d results for %d items", len(results), len(items))
	}
	if err != nil {
		c.logger.Warn("batch: processing failed", "size", len(items), "error", err)
		return nil, &errors.BatchError{Stage: c.name, Size: len(items), Err: err}
	}
	return results, nil
}

func callWithRecovery[T, R any](ctx context.Context, items []T, fn Func[T, R]) (results []R, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("batch panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()
	return fn(ctx, items)
}
