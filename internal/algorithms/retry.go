package algorithms

import (
	"context"
	"time"
)

// RetryPolicy describes how many times an operation is attempted and how
// long to wait between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Kind        Kind
	Initial     time.Duration
	Max         time.Duration
	Jitter      float64
}

// Enabled reports whether more than one attempt is allowed.
func (p RetryPolicy) Enabled() bool { return p.MaxAttempts > 1 }

// Retry calls fn until it succeeds, MaxAttempts is reached or ctx is done.
// onRetry, when non-nil, is called before each retry with the failed
// attempt's error. It returns the attempts made and the last error.
func Retry(ctx context.Context, p RetryPolicy, fn func(attempt int) error, onRetry func(attempt int, err error)) (int, error) {
	attempts := max(p.MaxAttempts, 1)
	backoff := NewBackoff(p.Kind, p.Initial, p.Max, p.Jitter)

	var err error
	for attempt := range attempts {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, err)
			}
			if delay := backoff.NextDelay(attempt - 1); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return attempt, err
				}
			}
		}
		if err = fn(attempt); err == nil {
			return attempt + 1, nil
		}
	}
	return attempts, err
}
