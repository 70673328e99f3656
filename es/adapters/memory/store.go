// Package memory provides a process-lifetime, in-memory event store.
// It honours the same append/load semantics as the durable adapters and is
// intended for tests and local tooling.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/store"
)

// StoreConfig contains configuration for the in-memory event store.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled.
	Logger es.Logger

	// Now returns the timestamp applied to events without OccurredOn.
	Now func() time.Time
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Now: time.Now,
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(now func() time.Time) StoreOption {
	return func(c *StoreConfig) {
		c.Now = now
	}
}

type stream struct {
	aggregateType string
	events        []es.Event
}

// Store is an in-memory event store.
type Store struct {
	config      StoreConfig
	mu          sync.RWMutex
	streams     map[string]*stream
	log         []es.Event
	checkpoints map[string]int64
}

// NewStore creates an empty in-memory store.
func NewStore(opts ...StoreOption) *Store {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Store{
		config:      config,
		streams:     make(map[string]*stream),
		checkpoints: make(map[string]int64),
	}
}

var (
	_ store.EventStore      = (*Store)(nil)
	_ store.EventReader     = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
)

// Append implements store.EventStore.
func (s *Store) Append(ctx context.Context, streamID, aggregateType string, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return es.AppendResult{}, err
	}
	if err := store.ValidateAppend(streamID, aggregateType, events); err != nil {
		return es.AppendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streams[streamID]
	var current int64
	if st != nil {
		current = int64(len(st.events))
		if st.aggregateType != aggregateType {
			return es.AppendResult{}, fmt.Errorf("%w: stream %s belongs to aggregate type %s, not %s",
				store.ErrInvalidStream, streamID, st.aggregateType, aggregateType)
		}
	}

	if !expected.Matches(current) {
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "expected version validation failed",
				"stream_id", streamID,
				"current_version", current,
				"expected_version", expected.String())
		}
		return es.AppendResult{}, store.NewConcurrencyError(streamID, expected, current)
	}

	stamped := store.Stamp(streamID, aggregateType, current+1, events, s.config.Now)
	positions := make([]int64, len(stamped))
	for i := range stamped {
		stamped[i].GlobalPosition = int64(len(s.log)) + 1
		positions[i] = stamped[i].GlobalPosition
		s.log = append(s.log, stamped[i])
	}

	if st == nil {
		st = &stream{aggregateType: aggregateType}
		s.streams[streamID] = st
	}
	st.events = append(st.events, stamped...)

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "events appended",
			"stream_id", streamID,
			"aggregate_type", aggregateType,
			"event_count", len(stamped),
			"version_range", fmt.Sprintf("%d-%d", current+1, current+int64(len(stamped))))
	}

	result := make([]es.Event, len(stamped))
	copy(result, stamped)
	return es.AppendResult{Events: result, GlobalPositions: positions}, nil
}

// Load implements store.EventStore.
func (s *Store) Load(ctx context.Context, streamID string, maxVersion *int64) ([]es.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.streams[streamID]
	if st == nil {
		return []es.Event{}, nil
	}

	events := st.events
	if maxVersion != nil && *maxVersion < int64(len(events)) {
		if *maxVersion < 0 {
			return []es.Event{}, nil
		}
		events = events[:*maxVersion]
	}

	result := make([]es.Event, len(events))
	copy(result, events)
	return result, nil
}

// Version implements store.EventStore.
func (s *Store) Version(ctx context.Context, streamID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if st := s.streams[streamID]; st != nil {
		return int64(len(st.events)), nil
	}
	return 0, nil
}

// ReadEvents implements store.EventReader.
func (s *Store) ReadEvents(ctx context.Context, fromPosition int64, limit int) ([]es.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if fromPosition < 0 {
		fromPosition = 0
	}
	if fromPosition >= int64(len(s.log)) {
		return nil, nil
	}
	end := int64(len(s.log))
	if limit > 0 && fromPosition+int64(limit) < end {
		end = fromPosition + int64(limit)
	}

	result := make([]es.Event, end-fromPosition)
	copy(result, s.log[fromPosition:end])
	return result, nil
}

// GetCheckpoint implements store.CheckpointStore.
func (s *Store) GetCheckpoint(ctx context.Context, projectionName string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[projectionName], nil
}

// UpdateCheckpoint implements store.CheckpointStore.
func (s *Store) UpdateCheckpoint(ctx context.Context, projectionName string, position int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[projectionName] = position
	return nil
}
