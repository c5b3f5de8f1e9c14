package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/OptikR/OptikR-sub005/task"
)

// SubmitFunc runs fn on the pool and returns a future for its result.
// A panic in fn resolves the future with an error, and so does a Stop that
// discards the task before it runs.
func SubmitFunc[R any](p *Pool, fn func(ctx context.Context) (R, error)) (*task.Future[R], error) {
	future := task.NewFuture[R]()
	abort := func(err error) { future.Complete(task.Result[R]{Err: err}) }
	err := p.submit(p.nextWorker(), job{abort: abort, run: func(ctx context.Context) (err error) {
		start := time.Now()
		var value R
		defer func() {
			if r := recover(); r != nil {
				future.Complete(task.Result[R]{Err: fmt.Errorf("task panic: %v", r), Duration: time.Since(start)})
				panic(r)
			}
			future.Complete(task.Result[R]{Value: value, Err: err, Duration: time.Since(start)})
		}()
		value, err = fn(ctx)
		return err
	}})
	if err != nil {
		return nil, err
	}
	return future, nil
}
