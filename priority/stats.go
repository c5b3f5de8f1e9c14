package priority

import (
	"maps"
	"time"

	"github.com/OptikR/OptikR-sub005/task"
)

// Stats is a point-in-time snapshot of a Scheduler.
type Stats struct {
	Enqueued uint64
	Dequeued uint64
	Rejected uint64
	Pending  int
	// Boosts counts individual aging promotions; Promoted counts dequeued
	// entries that left with an effective priority below their base.
	Boosts             uint64
	Promoted           uint64
	DequeuedByPriority map[task.Priority]uint64
	AvgWait            time.Duration

	totalWait time.Duration
}

// Stats returns a snapshot. It does not modify the scheduler.
func (s *Scheduler[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Pending = len(s.queue)
	st.DequeuedByPriority = maps.Clone(s.stats.DequeuedByPriority)
	if st.Dequeued > 0 {
		st.AvgWait = st.totalWait / time.Duration(st.Dequeued)
	}
	st.totalWait = 0
	return st
}
