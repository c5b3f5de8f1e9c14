// Package algorithms holds the retry backoff strategies used by pipeline
// stages.
package algorithms

import (
	"math/rand/v2"
	"sync"
	"time"
)

// maxShift keeps 1<<attempt from overflowing a Duration.
const maxShift = 62

// Kind selects a backoff algorithm.
type Kind int

const (
	// Exponential doubles the delay on every attempt (default).
	Exponential Kind = iota
	// Jittered scales the exponential delay by a random factor in
	// [1-jitter, 1+jitter].
	Jittered
	// Decorrelated picks each delay in [initial, 3*previous], so concurrent
	// retries drift apart.
	Decorrelated
)

// ParseKind maps configuration names to a Kind.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "exponential", "":
		return Exponential, true
	case "jittered", "jitter":
		return Jittered, true
	case "decorrelated":
		return Decorrelated, true
	}
	return Exponential, false
}

func (k Kind) String() string {
	switch k {
	case Jittered:
		return "jittered"
	case Decorrelated:
		return "decorrelated"
	default:
		return "exponential"
	}
}

// Backoff computes the wait before a retry. attempt is 0 for the first retry.
type Backoff interface {
	NextDelay(attempt int) time.Duration
	Reset()
}

// NewBackoff builds a strategy. jitter is only used by Jittered and is
// clamped to [0, 1].
func NewBackoff(kind Kind, initial, maxDelay time.Duration, jitter float64) Backoff {
	if maxDelay < initial {
		maxDelay = initial
	}
	switch kind {
	case Jittered:
		return &jittered{initial: initial, max: maxDelay, jitter: min(max(jitter, 0), 1)}
	case Decorrelated:
		return &decorrelated{initial: initial, max: maxDelay, prev: initial}
	default:
		return exponential{initial: initial, max: maxDelay}
	}
}

type exponential struct {
	initial, max time.Duration
}

func (e exponential) NextDelay(attempt int) time.Duration {
	return expDelay(attempt, e.initial, e.max)
}

func (exponential) Reset() {}

func expDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		return 0
	}
	if attempt >= maxShift {
		return maxDelay
	}
	d := initial << uint(attempt)
	if d <= 0 || d > maxDelay || d>>uint(attempt) != initial {
		return maxDelay
	}
	return d
}

type jittered struct {
	initial, max time.Duration
	jitter       float64
}

func (j *jittered) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	base := expDelay(attempt, j.initial, j.max)
	factor := 1 + (rand.Float64()*2-1)*j.jitter // #nosec G404 -- jitter only
	return min(max(time.Duration(float64(base)*factor), 0), j.max)
}

func (*jittered) Reset() {}

type decorrelated struct {
	mu           sync.Mutex
	initial, max time.Duration
	prev         time.Duration
}

func (d *decorrelated) NextDelay(attempt int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if attempt <= 0 {
		d.prev = d.initial
		return d.initial
	}
	upper := min(d.prev*3, d.max)
	span := upper - d.initial
	if span <= 0 {
		d.prev = d.initial
		return d.initial
	}
	d.prev = d.initial + rand.N(span) // #nosec G404 -- jitter only
	return d.prev
}

func (d *decorrelated) Reset() {
	d.mu.Lock()
	d.prev = d.initial
	d.mu.Unlock()
}
