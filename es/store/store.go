// Package store provides event store abstractions shared by all adapters.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupcart/es"
)

var (
	// ErrOptimisticConcurrency indicates a version conflict during append.
	ErrOptimisticConcurrency = errors.New("optimistic concurrency conflict")

	// ErrNoEvents indicates an attempt to append zero events.
	ErrNoEvents = errors.New("no events to append")

	// ErrInvalidStream indicates an empty stream id or aggregate type.
	ErrInvalidStream = errors.New("invalid stream")
)

// ConcurrencyError describes a failed expected-version check.
// It matches ErrOptimisticConcurrency with errors.Is.
type ConcurrencyError struct {
	StreamID string
	Expected es.ExpectedVersion
	Actual   int64
}

// NewConcurrencyError builds a ConcurrencyError.
func NewConcurrencyError(streamID string, expected es.ExpectedVersion, actual int64) *ConcurrencyError {
	return &ConcurrencyError{StreamID: streamID, Expected: expected, Actual: actual}
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: stream %s expected %s, actual version %d",
		ErrOptimisticConcurrency, e.StreamID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrOptimisticConcurrency) succeed.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrOptimisticConcurrency
}

// EventStore is the append-only, per-stream ordered event log.
type EventStore interface {
	// Append atomically appends events to streamID.
	// It succeeds only if the stream's current version satisfies expected.
	// Events are assigned versions current+1..current+len(events); the caller's
	// StreamID, AggregateType and Version fields are overwritten.
	//
	// Returns a *ConcurrencyError (matching ErrOptimisticConcurrency) on mismatch,
	// in which case nothing is written. Returns ErrNoEvents if events is empty.
	Append(ctx context.Context, streamID, aggregateType string, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error)

	// Load returns the events of streamID ordered by version.
	// If maxVersion is non-nil, events after it are omitted.
	// A stream without events yields an empty slice and no error.
	Load(ctx context.Context, streamID string, maxVersion *int64) ([]es.Event, error)

	// Version returns the current head version of streamID (0 if it has no events).
	Version(ctx context.Context, streamID string) (int64, error)
}

// EventReader reads the global log sequentially.
// Implemented by stores that assign GlobalPosition.
type EventReader interface {
	// ReadEvents returns up to limit events with a global position greater than
	// fromPosition, ordered by global position.
	ReadEvents(ctx context.Context, fromPosition int64, limit int) ([]es.Event, error)
}

// CheckpointStore persists projection progress.
type CheckpointStore interface {
	// GetCheckpoint returns the last processed global position (0 if none).
	GetCheckpoint(ctx context.Context, projectionName string) (int64, error)

	// UpdateCheckpoint records the last processed global position.
	UpdateCheckpoint(ctx context.Context, projectionName string, position int64) error
}

// ValidateAppend performs the argument checks every adapter applies before I/O.
func ValidateAppend(streamID, aggregateType string, events []es.Event) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	if streamID == "" {
		return fmt.Errorf("%w: empty stream id", ErrInvalidStream)
	}
	if aggregateType == "" {
		return fmt.Errorf("%w: empty aggregate type", ErrInvalidStream)
	}
	for i := range events {
		if events[i].EventType == "" {
			return fmt.Errorf("event %d: empty event type", i)
		}
	}
	return nil
}

// Stamp fills the store-assigned fields of events starting at nextVersion and
// applies the defaults for actor, timestamp and event id. It returns a copy.
func Stamp(streamID, aggregateType string, nextVersion int64, events []es.Event, now func() time.Time) []es.Event {
	stamped := make([]es.Event, len(events))
	for i := range events {
		e := events[i]
		e.StreamID = streamID
		e.AggregateType = aggregateType
		e.Version = nextVersion + int64(i)
		if e.ActorID == "" {
			e.ActorID = es.SystemActor
		}
		if e.OccurredOn.IsZero() {
			e.OccurredOn = now()
		}
		e.OccurredOn = e.OccurredOn.UTC()
		if e.EventID == uuid.Nil {
			e.EventID = es.NewEventID()
		}
		stamped[i] = e
	}
	return stamped
}

// IsConflict reports whether err is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOptimisticConcurrency)
}
