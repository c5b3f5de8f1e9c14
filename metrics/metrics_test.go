package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.StageSubmit("ocr")
		r.StageReject("ocr", "queue_full")
		r.StageDone("ocr", OutcomeSuccess, time.Millisecond)
		r.StageRetry("ocr")
		r.StageGauges("ocr", 1, 1)
		r.BatchFormed("ocr", "full", 4)
		r.BatchObserved("ocr", time.Millisecond, 8)
		r.BatchAdjusted("ocr", "up")
		r.SchedulerDepth("admission", 3)
		r.SchedulerDequeue("admission", "HIGH", time.Millisecond)
		r.SchedulerBoost("admission", 2)
		r.PoolTask("cpu", OutcomeSuccess, true)
		r.PoolQueued("cpu", 5)
	})
}

func TestRegistryRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg, "")

	r.StageSubmit("ocr")
	r.StageSubmit("ocr")
	r.StageDone("ocr", OutcomeFailure, 5*time.Millisecond)
	r.PoolTask("cpu", OutcomeSuccess, true)
	r.BatchObserved("ocr", 20*time.Millisecond, 9)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.StageSubmitted.WithLabelValues("ocr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.StageProcessed.WithLabelValues("ocr", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PoolSteals.WithLabelValues("cpu")))
	assert.Equal(t, 9.0, testutil.ToFloat64(r.BatchMaxSize.WithLabelValues("ocr")))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.Contains(t, mf.GetName(), DefaultNamespace+"_")
	}
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewRegistry(prometheus.NewRegistry(), "a")
		NewRegistry(prometheus.NewRegistry(), "a")
	})
}
