// Package es provides core event sourcing interfaces and types.
package es

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SystemActor is recorded as the actor of events raised without an explicit actor.
const SystemActor = "SYSTEM"

// Event represents an immutable, committed (or about to be committed) domain event.
// Events are never mutated or deleted once appended; a delete is itself an event
// carrying DeleteMarker.
type Event struct {
	// OccurredOn is when the event was raised
	OccurredOn time.Time

	// StreamID identifies the event log of one aggregate instance
	StreamID string

	// AggregateType identifies the type of aggregate this event belongs to
	AggregateType string

	// EventType is the discriminator: the logical, fully-qualified event type name
	EventType string

	// ActorID identifies who caused the event. Defaults to SystemActor.
	ActorID string

	// Payload contains the event data as a self-describing JSON document
	Payload []byte

	// Version is the version of the stream after this event is applied.
	// Assigned by the store on append.
	Version int64

	// GlobalPosition is assigned by stores that keep a global log.
	// Zero for stores without one.
	GlobalPosition int64

	// EventID is a unique identifier for this event
	EventID uuid.UUID

	// DeleteMarker is set on events that soft-delete the aggregate
	DeleteMarker bool
}

// Stream is the ordered event sequence of a single aggregate instance.
type Stream struct {
	StreamID      string
	AggregateType string
	Events        []Event
}

// Version returns the version of the last event in the stream, or 0 if empty.
func (s Stream) Version() int64 {
	if len(s.Events) == 0 {
		return 0
	}
	return s.Events[len(s.Events)-1].Version
}

// IsEmpty reports whether the stream has no events.
func (s Stream) IsEmpty() bool {
	return len(s.Events) == 0
}

// Len returns the number of events in the stream.
func (s Stream) Len() int {
	return len(s.Events)
}

// AppendResult is returned by a successful append.
type AppendResult struct {
	// Events are the appended events with Version (and GlobalPosition, where
	// supported) assigned.
	Events []Event

	// GlobalPositions are the positions assigned in the global log, if any.
	GlobalPositions []int64
}

// FromVersion returns the version of the first appended event, or 0 if none.
func (r AppendResult) FromVersion() int64 {
	if len(r.Events) == 0 {
		return 0
	}
	return r.Events[0].Version
}

// ToVersion returns the version of the last appended event, or 0 if none.
// This is the new head version of the stream.
func (r AppendResult) ToVersion() int64 {
	if len(r.Events) == 0 {
		return 0
	}
	return r.Events[len(r.Events)-1].Version
}

// StreamIDFromUUID derives the stream identifier of an aggregate from its UUID.
// The UUID bytes are encoded as URL-safe base64 without padding.
func StreamIDFromUUID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// UUIDFromStreamID reverses StreamIDFromUUID.
func UUIDFromStreamID(streamID string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(streamID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid stream id %q: %w", streamID, err)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid stream id %q: %w", streamID, err)
	}
	return id, nil
}

// NewEventID returns a new time-ordered event identifier.
func NewEventID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
