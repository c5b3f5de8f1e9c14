// Package pool provides a work-stealing executor for CPU-bound tasks.
//
// Each worker owns a double-ended queue. Submissions without an explicit
// target are distributed round-robin. A worker runs its newest local task
// first (LIFO); when its queue is empty it scans its peers starting at a
// random offset and steals the oldest task from any peer holding more than
// the steal threshold. Idle workers either sleep a short fixed interval or
// wait for a wake-up signal, depending on the configured IdleStrategy, and
// re-check the running flag each time they wake.
//
// Basic usage:
//
//	p, err := pool.New(pool.WithWorkers(4))
//	if err != nil {
//		return err
//	}
//	if err := p.Start(ctx); err != nil {
//		return err
//	}
//	defer p.Stop(5 * time.Second)
//
//	future, err := pool.SubmitFunc(p, func(ctx context.Context) (int, error) {
//		return render(frame), nil
//	})
//
// Task failures, including panics, are recovered per task and never stop
// a worker.
package pool
