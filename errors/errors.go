// Package errors defines the error taxonomy shared by the scheduling engine.
//
// Every component reports failures through the sentinels below, either directly
// or wrapped in one of the typed errors that carry the stage, item or component
// involved. Callers match with Is/As, which are re-exported here so a single
// import covers both the taxonomy and the standard helpers.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Re-exported from the standard library.
var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Sentinel errors.
var (
	// ErrQueueFull is returned when a bounded queue cannot accept another item.
	ErrQueueFull = errors.New("queue full")

	// ErrClosed is returned when submitting to a component that has been stopped.
	ErrClosed = errors.New("component closed")

	// ErrNotStarted is returned when an operation requires a running component.
	ErrNotStarted = errors.New("component not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("component already started")

	// ErrShutdownTimeout is returned when workers did not exit within the stop timeout.
	ErrShutdownTimeout = errors.New("error in shutting down: timeout reached")

	// ErrConfiguration marks an invalid combination of options.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrItemProcessing marks a single item whose processing function failed.
	ErrItemProcessing = errors.New("item processing failed")

	// ErrBatchProcessing marks a batch whose processing function failed; every
	// item of the batch is failed with it.
	ErrBatchProcessing = errors.New("batch processing failed")
)

// ItemError describes the failure of one work item inside a stage.
type ItemError struct {
	Stage    string
	ItemID   uuid.UUID
	Attempts int
	Err      error
}

func (e *ItemError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("stage %q: item %s failed after %d attempts: %v", e.Stage, e.ItemID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("stage %q: item %s failed: %v", e.Stage, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

func (e *ItemError) Is(target error) bool { return target == ErrItemProcessing }

// BatchError describes the failure of a whole batch.
type BatchError struct {
	Stage string
	Size  int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("stage %q: batch of %d failed: %v", e.Stage, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func (e *BatchError) Is(target error) bool { return target == ErrBatchProcessing }

// ConfigError is returned by constructors that reject their options.
type ConfigError struct {
	Component string
	Field     string
	Value     any
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid %s=%v: %s", e.Component, e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigError builds a ConfigError.
func NewConfigError(component, field string, value any, reason string) error {
	return &ConfigError{Component: component, Field: field, Value: value, Reason: reason}
}

// ShutdownError reports work a component gave up on while stopping.
type ShutdownError struct {
	Component string
	// Unfinished counts the items or tasks that had no outcome yet when the
	// component stopped waiting for them.
	Unfinished int
	Timeout    time.Duration
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%s: %v after %v (%d unfinished)", e.Component, ErrShutdownTimeout, e.Timeout, e.Unfinished)
}

func (e *ShutdownError) Is(target error) bool { return target == ErrShutdownTimeout }

// IsBackpressure reports whether err means the caller should slow down and retry later.
func IsBackpressure(err error) bool {
	return errors.Is(err, ErrQueueFull)
}

// IsFatal reports whether err prevents a component from operating at all.
// Processing and shutdown errors are never fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrNotStarted)
}
