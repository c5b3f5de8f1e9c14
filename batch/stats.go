package batch

import "time"

// Stats is a point-in-time snapshot of a Coordinator.
type Stats struct {
	Submitted uint64
	Rejected  uint64
	Batches   uint64
	Items     uint64
	Pending   int

	FullFlushes    uint64
	TimeoutFlushes uint64
	EarlyFlushes   uint64
	ForcedFlushes  uint64

	MaxBatchSize   int
	Increases      uint64
	Decreases      uint64
	AvgLatency     time.Duration
	LatencySamples uint64
}

// AvgBatchSize is the mean number of items per formed batch.
func (s Stats) AvgBatchSize() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Items) / float64(s.Batches)
}

// Stats returns a snapshot. It does not modify the coordinator.
func (c *Coordinator[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = len(c.pending)
	return s
}
