package pipeline

import (
	"time"

	"github.com/OptikR/OptikR-sub005/batch"
	"github.com/OptikR/OptikR-sub005/priority"
)

// StageStats is a snapshot of one stage.
type StageStats struct {
	Name          string
	Received      uint64
	Processed     uint64
	Failed        uint64
	PassedThrough uint64
	Retries       uint64
	Batches       uint64
	Queued        int
	InFlight      int
	Capacity      int
	Concurrency   int
	AvgLatency    time.Duration
	// Batch is set for stages fronted by a batch coordinator.
	Batch *batch.Stats

	totalLatency time.Duration
}

// Stats is a snapshot of a pipeline.
type Stats struct {
	Running   bool
	Submitted uint64
	Completed uint64
	Failed    uint64
	Pending   uint64
	Rejected  uint64
	Stages    []StageStats
	// Admission is set when priority admission is enabled.
	Admission *priority.Stats
}

// Processed returns Completed + Failed.
func (s Stats) Processed() uint64 { return s.Completed + s.Failed }

// Stats returns a snapshot. It does not modify the pipeline.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	st := Stats{
		Running:   p.state == stateRunning,
		Submitted: p.submitted,
		Completed: p.completed,
		Failed:    p.failed,
		Rejected:  p.rejected,
	}
	st.Pending = st.Submitted - st.Completed - st.Failed
	stages := p.stages
	admission := p.admission
	p.mu.Unlock()

	st.Stages = make([]StageStats, len(stages))
	for i, s := range stages {
		st.Stages[i] = s.Stats()
	}
	if admission != nil {
		as := admission.Stats()
		st.Admission = &as
	}
	return st
}

// Stats returns a snapshot of the stage.
func (s *Stage) Stats() StageStats {
	s.mu.Lock()
	ss := s.stats
	s.mu.Unlock()

	if n := ss.Processed + ss.Failed; n > 0 {
		ss.AvgLatency = ss.totalLatency / time.Duration(n)
	}
	ss.totalLatency = 0
	ss.Queued = s.queued()
	ss.InFlight = int(s.inFlight.Load())
	if s.coord != nil {
		bs := s.coord.Stats()
		ss.Batch = &bs
	}
	return ss
}
