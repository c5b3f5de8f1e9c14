package batch

import (
	"time"

	"github.com/OptikR/OptikR-sub005/errors"
)

const (
	defaultMaxBatchSize = 8
	defaultMinBatchSize = 1
	defaultMaxWait      = 50 * time.Millisecond
	defaultMaxQueueSize = 1000

	defaultLowLatency  = 30 * time.Millisecond
	defaultHighLatency = 100 * time.Millisecond
	defaultCeiling     = 16
	defaultFloor       = 2
	defaultWindowSize  = 10
	defaultMinSamples  = 5

	// earlyFlushRatio is the fraction of MaxWait after which a batch holding
	// at least MinBatchSize items is flushed without waiting for the rest.
	earlyFlushRatio = 0.8
)

// Config controls how a Coordinator forms batches.
type Config struct {
	MaxBatchSize int
	MinBatchSize int
	MaxWait      time.Duration
	// MaxQueueSize bounds the number of items waiting to be batched.
	MaxQueueSize int

	// Adaptive enables latency-driven tuning of MaxBatchSize.
	Adaptive bool
	// LowLatency and HighLatency are the average-latency thresholds below
	// which the batch size grows and above which it shrinks.
	LowLatency  time.Duration
	HighLatency time.Duration
	// Ceiling and Floor bound adaptive changes.
	Ceiling int
	Floor   int
	// WindowSize is the number of latency samples averaged; no adjustment is
	// made until MinSamples have been recorded.
	WindowSize int
	MinSamples int
}

// DefaultConfig returns the default batching configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: defaultMaxBatchSize,
		MinBatchSize: defaultMinBatchSize,
		MaxWait:      defaultMaxWait,
		MaxQueueSize: defaultMaxQueueSize,
		Adaptive:     true,
		LowLatency:   defaultLowLatency,
		HighLatency:  defaultHighLatency,
		Ceiling:      defaultCeiling,
		Floor:        defaultFloor,
		WindowSize:   defaultWindowSize,
		MinSamples:   defaultMinSamples,
	}
}

// withDefaults fills zero tuning fields so callers may set only the limits.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinBatchSize == 0 {
		c.MinBatchSize = d.MinBatchSize
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.LowLatency == 0 {
		c.LowLatency = d.LowLatency
	}
	if c.HighLatency == 0 {
		c.HighLatency = d.HighLatency
	}
	if c.Ceiling == 0 {
		c.Ceiling = d.Ceiling
	}
	if c.Floor == 0 {
		c.Floor = d.Floor
	}
	if c.WindowSize == 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinSamples == 0 {
		c.MinSamples = d.MinSamples
	}
	return c
}

// Validate reports the first invalid field as a ConfigError.
func (c Config) Validate() error {
	switch {
	case c.MaxBatchSize < 1:
		return errors.NewConfigError("batch", "max_batch_size", c.MaxBatchSize, "must be at least 1")
	case c.MinBatchSize < 1:
		return errors.NewConfigError("batch", "min_batch_size", c.MinBatchSize, "must be at least 1")
	case c.MinBatchSize > c.MaxBatchSize:
		return errors.NewConfigError("batch", "min_batch_size", c.MinBatchSize, "exceeds max_batch_size")
	case c.MaxWait <= 0:
		return errors.NewConfigError("batch", "max_wait_time", c.MaxWait, "must be positive")
	case c.MaxQueueSize < c.MaxBatchSize:
		return errors.NewConfigError("batch", "max_queue_size", c.MaxQueueSize, "smaller than max_batch_size")
	}
	if !c.Adaptive {
		return nil
	}
	switch {
	case c.Floor < 1 || c.Floor > c.Ceiling:
		return errors.NewConfigError("batch", "floor", c.Floor, "must be within [1, ceiling]")
	case c.MaxBatchSize > c.Ceiling:
		return errors.NewConfigError("batch", "max_batch_size", c.MaxBatchSize, "exceeds adaptive ceiling")
	case c.MinBatchSize > c.Ceiling:
		return errors.NewConfigError("batch", "min_batch_size", c.MinBatchSize, "exceeds adaptive ceiling")
	case c.LowLatency >= c.HighLatency:
		return errors.NewConfigError("batch", "low_latency", c.LowLatency, "must be below high_latency")
	case c.MinSamples < 1 || c.MinSamples > c.WindowSize:
		return errors.NewConfigError("batch", "min_samples", c.MinSamples, "must be within [1, window_size]")
	}
	return nil
}

// floor is the effective lower bound: the batch size never drops below the
// configured minimum.
func (c Config) floor() int {
	return max(c.Floor, c.MinBatchSize)
}
