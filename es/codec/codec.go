// Package codec maps domain event values to logical type tags and JSON payloads.
//
// Tags are fully-qualified logical names such as "shop.cart.ItemAdded". They are
// what the store persists in the event_type column, so a tag must never change
// once events carrying it have been written.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrEventTypeNotFound indicates a stored tag with no registered type.
	ErrEventTypeNotFound = errors.New("event type not found")

	// ErrEventDataDeserialization indicates a payload that could not be decoded.
	ErrEventDataDeserialization = errors.New("event data deserialization failed")

	// ErrUnregisteredEvent indicates an attempt to encode a Go type with no tag.
	ErrUnregisteredEvent = errors.New("event type is not registered")
)

// EventTypeNotFoundError reports a persisted event whose tag is unknown to the registry.
type EventTypeNotFoundError struct {
	EventID uuid.UUID
	TypeTag string
	Payload []byte
}

func (e *EventTypeNotFoundError) Error() string {
	return fmt.Sprintf("event %s: type %q not found", e.EventID, e.TypeTag)
}

// Is reports whether target is ErrEventTypeNotFound.
func (e *EventTypeNotFoundError) Is(target error) bool {
	return target == ErrEventTypeNotFound
}

// EventDataDeserializationError reports a payload that does not decode into its registered type.
type EventDataDeserializationError struct {
	Cause   error
	TypeTag string
	Payload []byte
	EventID uuid.UUID
}

func (e *EventDataDeserializationError) Error() string {
	return fmt.Sprintf("event %s: failed to decode %q: %v", e.EventID, e.TypeTag, e.Cause)
}

// Is reports whether target is ErrEventDataDeserialization.
func (e *EventDataDeserializationError) Is(target error) bool {
	return target == ErrEventDataDeserialization
}

func (e *EventDataDeserializationError) Unwrap() error {
	return e.Cause
}

var errNullPayload = errors.New("payload is empty or null")

type decodeFunc func(payload []byte) (any, error)

// Registry is a bidirectional mapping between Go event types and type tags.
// It is safe for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]decodeFunc
	tags     map[reflect.Type]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[string]decodeFunc),
		tags:     make(map[reflect.Type]string),
	}
}

// Register binds the value type T to typeTag.
// It panics when the tag is empty or either side is already registered.
func Register[T any](r *Registry, typeTag string) {
	if typeTag == "" {
		panic("codec: empty type tag")
	}
	typ := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.decoders[typeTag]; ok {
		panic(fmt.Sprintf("codec: type tag %q registered twice", typeTag))
	}
	if existing, ok := r.tags[typ]; ok {
		panic(fmt.Sprintf("codec: %s already registered as %q", typ, existing))
	}

	r.tags[typ] = typeTag
	r.decoders[typeTag] = func(payload []byte) (any, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Encode returns the tag and JSON payload for event. Pointers are dereferenced.
func (r *Registry) Encode(event any) (string, []byte, error) {
	typ := reflect.TypeOf(event)
	if typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	r.mu.RLock()
	tag, ok := r.tags[typ]
	r.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %v", ErrUnregisteredEvent, typ)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s: %w", tag, err)
	}
	return tag, payload, nil
}

// Decode turns a persisted payload back into the registered value type.
// A payload that is empty or JSON null is a deserialization failure.
func (r *Registry) Decode(eventID uuid.UUID, typeTag string, payload []byte) (any, error) {
	r.mu.RLock()
	decode, ok := r.decoders[typeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, &EventTypeNotFoundError{EventID: eventID, TypeTag: typeTag, Payload: payload}
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &EventDataDeserializationError{EventID: eventID, TypeTag: typeTag, Payload: payload, Cause: errNullPayload}
	}

	v, err := decode(payload)
	if err != nil {
		return nil, &EventDataDeserializationError{EventID: eventID, TypeTag: typeTag, Payload: payload, Cause: err}
	}
	return v, nil
}

// TagOf returns the tag registered for the type of event.
func (r *Registry) TagOf(event any) (string, bool) {
	typ := reflect.TypeOf(event)
	if typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.tags[typ]
	return tag, ok
}

// Tags lists registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.decoders))
	for tag := range r.decoders {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
