// Package aggregate provides the embeddable base for event-sourced aggregate roots.
//
// A concrete aggregate embeds Root, passes its apply function to NewRoot, and
// exposes domain methods that validate, then call Record. Record buffers the
// change and applies it at once, so the aggregate always reflects its pending
// events. The repository replays history through Replay and persists Changes.
package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/getpup/pupcart/es"
)

var (
	// ErrInvariant indicates a command that would violate a domain rule.
	// The aggregate is left unchanged.
	ErrInvariant = errors.New("domain invariant violation")

	// ErrDeleted indicates a mutation of an aggregate carrying a delete marker.
	ErrDeleted = fmt.Errorf("%w: aggregate is deleted", ErrInvariant)

	// ErrVersionGap indicates a replayed event that does not directly follow
	// the aggregate's current version.
	ErrVersionGap = errors.New("non-contiguous stream version")
)

// Invariantf returns an error wrapping ErrInvariant with detail.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Change is an event raised on an aggregate and not yet persisted.
type Change struct {
	OccurredOn   time.Time
	Event        any
	ActorID      string
	DeleteMarker bool
}

// Aggregate is what the repository needs from a concrete aggregate.
// Embedding Root satisfies it.
type Aggregate interface {
	StreamID() string
	AggregateType() string
	Version() int64
	Changes() []Change
	HasChanges() bool
	Commit(newVersion int64)
	Replay(meta es.Event, event any) error
}

// Option configures a Root.
type Option func(*Root)

// WithClock stamps recorded changes with now.
// Without a clock changes carry a zero time and are stamped at save.
func WithClock(now func() time.Time) Option {
	return func(r *Root) {
		r.now = now
	}
}

// Root carries identity, version and pending changes.
type Root struct {
	now           func() time.Time
	apply         func(event any)
	streamID      string
	aggregateType string
	changes       []Change
	version       int64
	deleted       bool
}

// NewRoot creates a root for streamID. apply is the aggregate's state
// transition and must not fail; an unknown event is a programming error.
func NewRoot(streamID, aggregateType string, apply func(event any), opts ...Option) Root {
	r := Root{
		streamID:      streamID,
		aggregateType: aggregateType,
		apply:         apply,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// StreamID returns the stream the aggregate persists to.
func (r *Root) StreamID() string { return r.streamID }

// AggregateType returns the aggregate type name.
func (r *Root) AggregateType() string { return r.aggregateType }

// Version returns the last persisted version. Pending changes do not count.
func (r *Root) Version() int64 { return r.version }

// Changes returns a copy of the pending changes in raise order.
func (r *Root) Changes() []Change {
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

// HasChanges reports whether there is anything to save.
func (r *Root) HasChanges() bool { return len(r.changes) > 0 }

// IsDeleted reports whether a delete marker has been applied.
func (r *Root) IsDeleted() bool { return r.deleted }

// IsNew reports whether nothing has been persisted or raised yet.
func (r *Root) IsNew() bool { return r.version == 0 && len(r.changes) == 0 }

// GuardActive returns ErrDeleted once the aggregate is deleted.
func (r *Root) GuardActive() error {
	if r.deleted {
		return ErrDeleted
	}
	return nil
}

// Record buffers event as a pending change and applies it.
func (r *Root) Record(event any, actorID string) {
	r.record(event, actorID, false)
}

// RecordDelete records event with a delete marker. The aggregate is deleted afterwards.
func (r *Root) RecordDelete(event any, actorID string) {
	r.record(event, actorID, true)
	r.deleted = true
}

func (r *Root) record(event any, actorID string, deleteMarker bool) {
	change := Change{
		Event:        event,
		ActorID:      actorID,
		DeleteMarker: deleteMarker,
	}
	if r.now != nil {
		change.OccurredOn = r.now().UTC()
	}
	r.apply(event)
	r.changes = append(r.changes, change)
}

// MarkDeleted sets the deleted flag without recording anything.
func (r *Root) MarkDeleted() { r.deleted = true }

// Commit clears pending changes after they were persisted at newVersion.
func (r *Root) Commit(newVersion int64) {
	r.changes = nil
	r.version = newVersion
}

// Replay applies a persisted event and advances the version to meta.Version.
// meta.Version must be the current version plus one; otherwise nothing is
// applied and ErrVersionGap is returned.
func (r *Root) Replay(meta es.Event, event any) error {
	if meta.Version != r.version+1 {
		return fmt.Errorf("%w: stream %s at version %d got version %d",
			ErrVersionGap, r.streamID, r.version, meta.Version)
	}
	r.apply(event)
	r.version = meta.Version
	if meta.DeleteMarker {
		r.deleted = true
	}
	return nil
}
