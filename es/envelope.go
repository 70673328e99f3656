package es

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON wire form of an Event used by transports and log
// services that carry whole events rather than table rows.
type Envelope struct {
	OccurredOn     time.Time       `json:"occurredOn"`
	StreamID       string          `json:"streamId"`
	AggregateType  string          `json:"aggregateType"`
	EventType      string          `json:"eventType"`
	ActorID        string          `json:"actorId"`
	Payload        json.RawMessage `json:"payload"`
	Version        int64           `json:"version"`
	GlobalPosition int64           `json:"globalPosition,omitempty"`
	EventID        uuid.UUID       `json:"eventId"`
	DeleteMarker   bool            `json:"deleteMarker,omitempty"`
}

// NewEnvelope wraps e for the wire.
//
//nolint:gocritic // hugeParam: events are values
func NewEnvelope(e Event) Envelope {
	return Envelope{
		OccurredOn:     e.OccurredOn,
		StreamID:       e.StreamID,
		AggregateType:  e.AggregateType,
		EventType:      e.EventType,
		ActorID:        e.ActorID,
		Payload:        json.RawMessage(e.Payload),
		Version:        e.Version,
		GlobalPosition: e.GlobalPosition,
		EventID:        e.EventID,
		DeleteMarker:   e.DeleteMarker,
	}
}

// Event returns the event carried by the envelope.
func (env Envelope) Event() Event {
	return Event{
		OccurredOn:     env.OccurredOn.UTC(),
		StreamID:       env.StreamID,
		AggregateType:  env.AggregateType,
		EventType:      env.EventType,
		ActorID:        env.ActorID,
		Payload:        []byte(env.Payload),
		Version:        env.Version,
		GlobalPosition: env.GlobalPosition,
		EventID:        env.EventID,
		DeleteMarker:   env.DeleteMarker,
	}
}

// MarshalEnvelope encodes e as envelope JSON.
//
//nolint:gocritic // hugeParam: events are values
func MarshalEnvelope(e Event) ([]byte, error) {
	return json.Marshal(NewEnvelope(e))
}

// UnmarshalEnvelope decodes envelope JSON into an Event.
func UnmarshalEnvelope(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, err
	}
	return env.Event(), nil
}
