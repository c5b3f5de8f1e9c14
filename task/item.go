// Package task holds the values that flow through the scheduling engine:
// work items with their metadata, and the futures that deliver their results.
package task

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Priority is an integer urgency level. Lower values are more urgent.
type Priority int

// Named priority bands.
const (
	PriorityCritical   Priority = 0
	PriorityHigh       Priority = 25
	PriorityNormal     Priority = 50
	PriorityLow        Priority = 100
	PriorityBackground Priority = 200
)

var priorityNames = map[Priority]string{
	PriorityCritical:   "CRITICAL",
	PriorityHigh:       "HIGH",
	PriorityNormal:     "NORMAL",
	PriorityLow:        "LOW",
	PriorityBackground: "BACKGROUND",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "P" + strconv.Itoa(int(p))
}

// DefaultLevels returns the named bands as a level map. Configuration may
// override or extend it.
func DefaultLevels() map[string]Priority {
	levels := make(map[string]Priority, len(priorityNames))
	for p, name := range priorityNames {
		levels[name] = p
	}
	return levels
}

// Flags carries per-item routing hints.
type Flags uint32

const (
	// FlagUrgent admits the item at PriorityCritical regardless of its
	// base priority when the pipeline uses priority admission.
	FlagUrgent Flags = 1 << iota
	// FlagCacheable marks results that may be reused for identical payloads.
	FlagCacheable
	// FlagDropOnOverload rejects the item immediately when the first queue
	// is full, even under a blocking submit policy.
	FlagDropOnOverload
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Meta is the mutable metadata of a work item. It is only changed by the
// component currently owning the item.
type Meta struct {
	ID         uuid.UUID
	EnqueuedAt time.Time
	Priority   Priority
	RegionID   string
	Flags      Flags
	// Err is set when an upstream stage failed and the item was forwarded
	// instead of dropped.
	Err error
	// Attempts counts processing attempts in the current stage.
	Attempts int
}

// Failed reports whether the item carries an error marker.
func (m *Meta) Failed() bool { return m.Err != nil }

// WorkItem is a unit of work with an opaque payload.
type WorkItem[T any] struct {
	Meta
	Payload T
}

// ItemOption customizes a new work item.
type ItemOption func(*Meta)

// WithPriority sets the base priority.
func WithPriority(p Priority) ItemOption {
	return func(m *Meta) { m.Priority = p }
}

// WithRegion tags the item with the screen region it belongs to.
func WithRegion(id string) ItemOption {
	return func(m *Meta) { m.RegionID = id }
}

// WithFlags sets routing flags.
func WithFlags(f Flags) ItemOption {
	return func(m *Meta) { m.Flags |= f }
}

// WithID overrides the generated correlation id.
func WithID(id uuid.UUID) ItemOption {
	return func(m *Meta) { m.ID = id }
}

// NewItem creates a work item with a fresh correlation id, NORMAL priority
// and the current time as enqueue timestamp.
func NewItem[T any](payload T, opts ...ItemOption) *WorkItem[T] {
	item := &WorkItem[T]{
		Meta: Meta{
			ID:         uuid.New(),
			EnqueuedAt: time.Now(),
			Priority:   PriorityNormal,
		},
		Payload: payload,
	}
	for _, opt := range opts {
		opt(&item.Meta)
	}
	return item
}

// Age returns how long the item has been waiting relative to now.
func (w *WorkItem[T]) Age(now time.Time) time.Duration {
	return now.Sub(w.EnqueuedAt)
}

// WithPayload returns a copy of the item's metadata carrying a new payload.
// Stages use it to hand a transformed value downstream.
func WithPayload[T, U any](w *WorkItem[T], payload U) *WorkItem[U] {
	return &WorkItem[U]{Meta: w.Meta, Payload: payload}
}
