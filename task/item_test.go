package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewItemDefaults(t *testing.T) {
	item := NewItem("frame-1")

	assert.NotEqual(t, [16]byte{}, [16]byte(item.ID))
	assert.Equal(t, PriorityNormal, item.Priority)
	assert.False(t, item.Failed())
	assert.WithinDuration(t, time.Now(), item.EnqueuedAt, time.Second)
}

func TestItemOptions(t *testing.T) {
	item := NewItem(42,
		WithPriority(PriorityCritical),
		WithRegion("subtitle-bar"),
		WithFlags(FlagUrgent|FlagCacheable),
	)

	assert.Equal(t, PriorityCritical, item.Priority)
	assert.Equal(t, "subtitle-bar", item.RegionID)
	assert.True(t, item.Flags.Has(FlagUrgent))
	assert.True(t, item.Flags.Has(FlagCacheable))
	assert.False(t, item.Flags.Has(FlagDropOnOverload))
}

func TestWithPayloadKeepsMeta(t *testing.T) {
	src := NewItem("こんにちは", WithRegion("r1"))
	dst := WithPayload(src, len(src.Payload))

	assert.Equal(t, src.ID, dst.ID)
	assert.Equal(t, "r1", dst.RegionID)
	assert.Equal(t, len("こんにちは"), dst.Payload)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Equal(t, "BACKGROUND", PriorityBackground.String())
	assert.Equal(t, "P7", Priority(7).String())
	assert.Equal(t, "P-3", Priority(-3).String())
	assert.Equal(t, PriorityLow, DefaultLevels()["LOW"])
}
