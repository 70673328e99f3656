package aggregate

import (
	"bytes"
	"encoding/json"
)

type fieldState uint8

const (
	fieldUnchanged fieldState = iota
	fieldSet
	fieldCleared
)

// Field is a tri-state value for partial updates: unchanged, set to a value,
// or explicitly cleared. In JSON an unchanged field is omitted (tag it with
// omitzero), a cleared field is null and a set field is its value.
type Field[T any] struct {
	value T
	state fieldState
}

// Unchanged returns a field that leaves the current value alone.
func Unchanged[T any]() Field[T] { return Field[T]{} }

// SetTo returns a field assigning v.
func SetTo[T any](v T) Field[T] { return Field[T]{value: v, state: fieldSet} }

// Cleared returns a field that removes the current value.
func Cleared[T any]() Field[T] { return Field[T]{state: fieldCleared} }

// IsZero reports whether the field is unchanged.
func (f Field[T]) IsZero() bool { return f.state == fieldUnchanged }

// IsSet reports whether the field assigns a value.
func (f Field[T]) IsSet() bool { return f.state == fieldSet }

// IsCleared reports whether the field removes the value.
func (f Field[T]) IsCleared() bool { return f.state == fieldCleared }

// Get returns the assigned value and whether one was assigned.
func (f Field[T]) Get() (T, bool) { return f.value, f.state == fieldSet }

// ApplyTo writes the field onto dst. Clearing stores the zero value.
func (f Field[T]) ApplyTo(dst *T) {
	switch f.state {
	case fieldSet:
		*dst = f.value
	case fieldCleared:
		var zero T
		*dst = zero
	}
}

// ApplyToPtr writes the field onto an optional value. Clearing stores nil.
func (f Field[T]) ApplyToPtr(dst **T) {
	switch f.state {
	case fieldSet:
		v := f.value
		*dst = &v
	case fieldCleared:
		*dst = nil
	}
}

// MarshalJSON implements json.Marshaler.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON implements json.Unmarshaler. It only runs for present keys,
// so absent keys stay unchanged.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Cleared[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = SetTo(v)
	return nil
}
