// Package repository loads aggregates from and saves them to an event store.
//
// Save appends an aggregate's pending changes with optimistic concurrency
// against the version the aggregate was loaded at, commits the aggregate, and
// then publishes the committed events. Conflicts are returned to the caller;
// nothing here retries.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/bus"
	"github.com/getpup/pupcart/es/codec"
	"github.com/getpup/pupcart/es/store"
)

// ErrPublish indicates events were persisted but could not be published.
var ErrPublish = errors.New("publish failed after commit")

// PublishError reports a publish failure. Events up to and including
// Committed are durable; events before Event were published.
type PublishError struct {
	Err       error
	StreamID  string
	Event     int64
	Committed int64
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("stream %s committed at version %d, publish of version %d failed: %v",
		e.StreamID, e.Committed, e.Event, e.Err)
}

// Is reports whether target is ErrPublish.
func (e *PublishError) Is(target error) bool {
	return target == ErrPublish
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Factory returns an empty aggregate for streamID.
type Factory[A aggregate.Aggregate] func(streamID string) A

type config struct {
	publisher bus.Publisher
	logger    es.Logger
	now       func() time.Time
}

// Option configures a Repository.
type Option func(*config)

// WithBus publishes committed events to p.
func WithBus(p bus.Publisher) Option {
	return func(c *config) {
		c.publisher = p
	}
}

// WithLogger sets a logger for the repository.
func WithLogger(logger es.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock stamps changes that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Repository persists aggregates of one type.
type Repository[A aggregate.Aggregate] struct {
	store   store.EventStore
	codec   *codec.Registry
	factory Factory[A]
	config  config
}

// New creates a repository.
func New[A aggregate.Aggregate](s store.EventStore, c *codec.Registry, factory Factory[A], opts ...Option) *Repository[A] {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repository[A]{
		store:   s,
		codec:   c,
		factory: factory,
		config:  cfg,
	}
}

// Load rebuilds the aggregate from its full stream.
// ok is false when the stream has no events.
func (r *Repository[A]) Load(ctx context.Context, streamID string) (agg A, ok bool, err error) {
	return r.load(ctx, streamID, nil)
}

// LoadVersion rebuilds the aggregate as it was at version.
// ok is false when the stream has no events at or below version.
func (r *Repository[A]) LoadVersion(ctx context.Context, streamID string, version int64) (agg A, ok bool, err error) {
	if version < 1 {
		var zero A
		return zero, false, nil
	}
	return r.load(ctx, streamID, &version)
}

func (r *Repository[A]) load(ctx context.Context, streamID string, maxVersion *int64) (A, bool, error) {
	var zero A

	events, err := r.store.Load(ctx, streamID, maxVersion)
	if err != nil {
		return zero, false, fmt.Errorf("failed to load stream %s: %w", streamID, err)
	}
	if len(events) == 0 {
		return zero, false, nil
	}

	agg := r.factory(streamID)
	for i := range events {
		e := events[i]
		if e.AggregateType != agg.AggregateType() {
			return zero, false, fmt.Errorf("%w: stream %s holds %s events, not %s",
				store.ErrInvalidStream, streamID, e.AggregateType, agg.AggregateType())
		}
		decoded, err := r.codec.Decode(e.EventID, e.EventType, e.Payload)
		if err != nil {
			return zero, false, fmt.Errorf("failed to replay %s at version %d: %w", streamID, e.Version, err)
		}
		if err := agg.Replay(e, decoded); err != nil {
			return zero, false, fmt.Errorf("failed to replay %s: %w", streamID, err)
		}
	}

	if r.config.logger != nil {
		r.config.logger.Debug(ctx, "aggregate loaded",
			"stream_id", streamID,
			"aggregate_type", agg.AggregateType(),
			"version", agg.Version())
	}
	return agg, true, nil
}

// LoadMany loads each id independently. Absent ids are omitted; order follows ids.
func (r *Repository[A]) LoadMany(ctx context.Context, streamIDs []string) ([]A, error) {
	out := make([]A, 0, len(streamIDs))
	for _, id := range streamIDs {
		agg, ok, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, agg)
		}
	}
	return out, nil
}

// Save persists pending changes. It is a no-op without changes.
func (r *Repository[A]) Save(ctx context.Context, agg A) error {
	if !agg.HasChanges() {
		return nil
	}

	changes := agg.Changes()
	events := make([]es.Event, len(changes))
	for i, ch := range changes {
		tag, payload, err := r.codec.Encode(ch.Event)
		if err != nil {
			return fmt.Errorf("failed to encode change %d of %s: %w", i, agg.StreamID(), err)
		}
		occurred := ch.OccurredOn
		if occurred.IsZero() {
			occurred = r.config.now()
		}
		events[i] = es.Event{
			EventType:    tag,
			Payload:      payload,
			ActorID:      ch.ActorID,
			OccurredOn:   occurred.UTC(),
			DeleteMarker: ch.DeleteMarker,
		}
	}

	expected := es.Exact(agg.Version())
	result, err := r.store.Append(ctx, agg.StreamID(), agg.AggregateType(), expected, events)
	if err != nil {
		if r.config.logger != nil {
			r.config.logger.Error(ctx, "save failed",
				"stream_id", agg.StreamID(),
				"expected_version", expected.String(),
				"error", err)
		}
		return fmt.Errorf("failed to save %s %s: %w", agg.AggregateType(), agg.StreamID(), err)
	}
	agg.Commit(result.ToVersion())

	if r.config.logger != nil {
		r.config.logger.Info(ctx, "aggregate saved",
			"stream_id", agg.StreamID(),
			"aggregate_type", agg.AggregateType(),
			"version", result.ToVersion(),
			"event_count", len(result.Events))
	}

	if r.config.publisher == nil {
		return nil
	}
	for i := range result.Events {
		if err := r.config.publisher.Publish(ctx, result.Events[i]); err != nil {
			return &PublishError{
				Err:       err,
				StreamID:  agg.StreamID(),
				Event:     result.Events[i].Version,
				Committed: result.ToVersion(),
			}
		}
	}
	return nil
}

// SaveMany saves aggregates in order. There is no atomicity across aggregates:
// it stops at the first failure and aggregates saved before it stay committed.
func (r *Repository[A]) SaveMany(ctx context.Context, aggs []A) error {
	for i, agg := range aggs {
		if err := r.Save(ctx, agg); err != nil {
			return fmt.Errorf("batch save stopped at %d of %d (stream %s): %w", i+1, len(aggs), agg.StreamID(), err)
		}
	}
	return nil
}
