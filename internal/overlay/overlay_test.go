package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OptikR/OptikR-sub005/batch"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/task"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.OCRLatency = 0
	cfg.OCRPerItem = 0
	cfg.TranslateLatency = 0
	cfg.RenderLatency = 0
	return cfg
}

func TestCaptureIsDeterministic(t *testing.T) {
	a := NewSimulator(fastConfig()).Capture(3)
	b := NewSimulator(fastConfig()).Capture(3)
	assert.Equal(t, a, b)
	require.Len(t, a, 4)
	assert.Equal(t, "f3-r0", a[0].ID)
}

func TestItemsPriorities(t *testing.T) {
	sim := NewSimulator(fastConfig())
	items := sim.Items(sim.Capture(0))
	assert.Equal(t, task.PriorityHigh, items[0].Priority)
	assert.Equal(t, task.PriorityNormal, items[1].Priority)
	assert.True(t, items[1].Flags.Has(task.FlagCacheable))
	assert.Equal(t, "f0-r1", items[1].RegionID)
}

func TestTranslateUsesCache(t *testing.T) {
	sim := NewSimulator(fastConfig())
	region := Region{ID: "r", Text: "save and quit"}
	item := task.NewItem[any](Recognized{Region: region, Text: region.Text}, task.WithFlags(task.FlagCacheable))

	out, err := sim.Translate(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "speichern und beenden", out.(Translated).Text)
	assert.False(t, out.(Translated).Cached)

	out, err = sim.Translate(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, out.(Translated).Cached)

	st := sim.CacheStats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 1, st.Misses)
	assert.Equal(t, 1, st.Size)
}

func TestTranslateFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureRate = 1
	sim := NewSimulator(cfg)

	_, err := sim.Translate(context.Background(), task.NewItem[any](Recognized{Text: "options"}))
	assert.ErrorContains(t, err, "service unavailable")

	_, err = sim.Translate(context.Background(), task.NewItem[any](Recognized{Text: "  "}))
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = sim.Translate(context.Background(), task.NewItem[any]("raw"))
	assert.ErrorContains(t, err, "unexpected payload")
}

func TestStagesHonourCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCRLatency = time.Second
	sim := NewSimulator(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Recognize(ctx, sim.Items(sim.Capture(0)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOverlayPipeline(t *testing.T) {
	sim := NewSimulator(fastConfig())

	bcfg := batch.DefaultConfig()
	bcfg.MaxWait = 5 * time.Millisecond
	p := pipeline.New(pipeline.WithSubmitPolicy(pipeline.Block, time.Second), pipeline.WithPollInterval(5*time.Millisecond))
	require.NoError(t, p.AddBatchStage("ocr", sim.Recognize, 1, bcfg))
	require.NoError(t, p.AddStage("translate", sim.Translate, 2, 16))
	require.NoError(t, p.AddStage("render", sim.Render, 1, 16))
	require.NoError(t, p.Start(context.Background()))

	var futures []*task.Future[any]
	for frame := range 5 {
		for _, item := range sim.Items(sim.Capture(frame)) {
			f, err := p.SubmitFuture(item)
			require.NoError(t, err)
			futures = append(futures, f)
		}
	}
	for _, f := range futures {
		v, err := f.GetWithTimeout(2 * time.Second)
		require.NoError(t, err)
		assert.NotEmpty(t, v.(Rendered).Label)
	}
	require.NoError(t, p.Stop(time.Second))

	assert.EqualValues(t, 20, p.Stats().Completed)
	assert.Positive(t, sim.CacheStats().Hits)
}
