package pool

// WorkerStats describes one worker.
type WorkerStats struct {
	ID        int
	Completed uint64
	Failed    uint64
	// Stolen counts tasks this worker took from peers.
	Stolen uint64
	Queued int
}

// Stats is a point-in-time snapshot of a Pool.
type Stats struct {
	Workers   []WorkerStats
	Submitted uint64
	Completed uint64
	Failed    uint64
	Stolen    uint64
	// Pending is Submitted minus Completed and Failed: tasks queued or running.
	Pending uint64
	Queued  int
	// StealRate is Stolen divided by processed (Completed + Failed).
	StealRate float64
}

// Processed returns Completed + Failed.
func (s Stats) Processed() uint64 { return s.Completed + s.Failed }

// Stats returns a snapshot. It does not modify the pool.
func (p *Pool) Stats() Stats {
	s := Stats{Workers: make([]WorkerStats, len(p.workers))}

	// Read outcome counters before submitted so Pending never underflows.
	s.Completed = p.completed.Load()
	s.Failed = p.failed.Load()
	s.Stolen = p.stolen.Load()
	s.Submitted = p.submitted.Load()
	s.Pending = s.Submitted - min(s.Submitted, s.Processed())

	for i, w := range p.workers {
		ws := WorkerStats{
			ID:        w.id,
			Completed: w.completed.Load(),
			Failed:    w.failed.Load(),
			Stolen:    w.stolen.Load(),
			Queued:    w.queue.len(),
		}
		s.Queued += ws.Queued
		s.Workers[i] = ws
	}
	if processed := s.Processed(); processed > 0 {
		s.StealRate = float64(s.Stolen) / float64(processed)
	}
	return s
}
