// Package storetest provides a contract test suite that every event store
// adapter must pass. Adapters call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/store"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) store.EventStore

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("AppendToNewStream", func(t *testing.T) { testAppendToNewStream(t, newStore(t)) })
	t.Run("AppendContinuesVersions", func(t *testing.T) { testAppendContinuesVersions(t, newStore(t)) })
	t.Run("StaleExpectedVersionLeavesStreamUnchanged", func(t *testing.T) { testStaleExpectedVersion(t, newStore(t)) })
	t.Run("NoStreamOnExistingStream", func(t *testing.T) { testNoStreamOnExisting(t, newStore(t)) })
	t.Run("AnySkipsCheck", func(t *testing.T) { testAnySkipsCheck(t, newStore(t)) })
	t.Run("EmptyAppend", func(t *testing.T) { testEmptyAppend(t, newStore(t)) })
	t.Run("LoadBoundedByVersion", func(t *testing.T) { testLoadBounded(t, newStore(t)) })
	t.Run("LoadUnknownStream", func(t *testing.T) { testLoadUnknown(t, newStore(t)) })
	t.Run("Defaults", func(t *testing.T) { testDefaults(t, newStore(t)) })
	t.Run("StreamsAreIndependent", func(t *testing.T) { testStreamsIndependent(t, newStore(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceledContext(t, newStore(t)) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, newStore(t)) })
	t.Run("GlobalLog", func(t *testing.T) { testGlobalLog(t, newStore(t)) })
}

// NewEvents builds n events of a test type with small JSON payloads.
func NewEvents(n int) []es.Event {
	events := make([]es.Event, n)
	for i := range events {
		events[i] = es.Event{
			EventType: "test.ThingHappened",
			ActorID:   "tester",
			Payload:   []byte(fmt.Sprintf(`{"n":%d,"nested":{"label":"item-%d"}}`, i, i)),
		}
	}
	return events
}

func newStreamID() string {
	return es.StreamIDFromUUID(uuid.New())
}

func testAppendToNewStream(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	result, err := s.Append(ctx, streamID, "Thing", es.Exact(0), NewEvents(3))
	require.NoError(t, err)
	require.Len(t, result.Events, 3)
	assert.Equal(t, int64(1), result.FromVersion())
	assert.Equal(t, int64(3), result.ToVersion())

	for i, e := range result.Events {
		assert.Equal(t, int64(i+1), e.Version)
		assert.Equal(t, streamID, e.StreamID)
		assert.Equal(t, "Thing", e.AggregateType)
	}

	version, err := s.Version(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
}

func testAppendContinuesVersions(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	_, err := s.Append(ctx, streamID, "Thing", es.NoStream(), NewEvents(2))
	require.NoError(t, err)

	result, err := s.Append(ctx, streamID, "Thing", es.Exact(2), NewEvents(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.FromVersion())
	assert.Equal(t, int64(4), result.ToVersion())

	events, err := s.Load(ctx, streamID, nil)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version, "versions must be contiguous")
	}
}

func testStaleExpectedVersion(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	_, err := s.Append(ctx, streamID, "Thing", es.Exact(0), NewEvents(2))
	require.NoError(t, err)
	before, err := s.Load(ctx, streamID, nil)
	require.NoError(t, err)

	_, err = s.Append(ctx, streamID, "Thing", es.Exact(1), NewEvents(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrOptimisticConcurrency), "expected concurrency conflict, got %v", err)

	var conflict *store.ConcurrencyError
	if errors.As(err, &conflict) {
		assert.Equal(t, streamID, conflict.StreamID)
		assert.Equal(t, int64(2), conflict.Actual)
	}

	after, err := s.Load(ctx, streamID, nil)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].EventID, after[i].EventID)
		assert.Equal(t, before[i].Version, after[i].Version)
	}

	version, err := s.Version(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func testNoStreamOnExisting(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	_, err := s.Append(ctx, streamID, "Thing", es.NoStream(), NewEvents(1))
	require.NoError(t, err)

	_, err = s.Append(ctx, streamID, "Thing", es.NoStream(), NewEvents(1))
	assert.ErrorIs(t, err, store.ErrOptimisticConcurrency)
}

func testAnySkipsCheck(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	_, err := s.Append(ctx, streamID, "Thing", es.Any(), NewEvents(1))
	require.NoError(t, err)
	result, err := s.Append(ctx, streamID, "Thing", es.Any(), NewEvents(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.ToVersion())
}

func testEmptyAppend(t *testing.T, s store.EventStore) {
	_, err := s.Append(context.Background(), newStreamID(), "Thing", es.Exact(0), nil)
	assert.ErrorIs(t, err, store.ErrNoEvents)
}

func testLoadBounded(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	_, err := s.Append(ctx, streamID, "Thing", es.Exact(0), NewEvents(5))
	require.NoError(t, err)

	maxVersion := int64(3)
	events, err := s.Load(ctx, streamID, &maxVersion)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[2].Version)

	beyond := int64(10)
	events, err = s.Load(ctx, streamID, &beyond)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	zero := int64(0)
	events, err = s.Load(ctx, streamID, &zero)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func testLoadUnknown(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	events, err := s.Load(ctx, streamID, nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	version, err := s.Version(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func testDefaults(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()
	occurred := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	eventID := uuid.New()

	events := []es.Event{
		{EventType: "test.Created", Payload: []byte(`{"name":"a"}`)},
		{EventType: "test.Deleted", Payload: []byte(`{}`), ActorID: "alice", OccurredOn: occurred, EventID: eventID, DeleteMarker: true},
	}
	_, err := s.Append(ctx, streamID, "Thing", es.Exact(0), events)
	require.NoError(t, err)

	loaded, err := s.Load(ctx, streamID, nil)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, es.SystemActor, loaded[0].ActorID)
	assert.NotEqual(t, uuid.Nil, loaded[0].EventID)
	assert.False(t, loaded[0].OccurredOn.IsZero())
	assert.False(t, loaded[0].DeleteMarker)
	assert.Equal(t, "test.Created", loaded[0].EventType)
	assert.JSONEq(t, `{"name":"a"}`, string(loaded[0].Payload))

	assert.Equal(t, "alice", loaded[1].ActorID)
	assert.Equal(t, eventID, loaded[1].EventID)
	assert.True(t, loaded[1].DeleteMarker)
	assert.WithinDuration(t, occurred, loaded[1].OccurredOn, time.Second)
	assert.Equal(t, "Thing", loaded[1].AggregateType)
}

func testStreamsIndependent(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	a, b := newStreamID(), newStreamID()

	_, err := s.Append(ctx, a, "Thing", es.Exact(0), NewEvents(2))
	require.NoError(t, err)
	result, err := s.Append(ctx, b, "Thing", es.Exact(0), NewEvents(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ToVersion())

	events, err := s.Load(ctx, a, nil)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func testCanceledContext(t *testing.T, s store.EventStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	streamID := newStreamID()

	_, err := s.Append(ctx, streamID, "Thing", es.Exact(0), NewEvents(2))
	require.Error(t, err)

	version, err := s.Version(context.Background(), streamID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version, "canceled append must not write")
}

func testConcurrentWriters(t *testing.T, s store.EventStore) {
	ctx := context.Background()
	streamID := newStreamID()

	_, err := s.Append(ctx, streamID, "Thing", es.Exact(0), NewEvents(1))
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, streamID, "Thing", es.Exact(1), NewEvents(2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrOptimisticConcurrency):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)

	events, err := s.Load(ctx, streamID, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version)
	}
}

func testGlobalLog(t *testing.T, s store.EventStore) {
	reader, ok := s.(store.EventReader)
	if !ok {
		t.Skip("store does not expose a global log")
	}
	ctx := context.Background()
	a, b := newStreamID(), newStreamID()

	_, err := s.Append(ctx, a, "Thing", es.Exact(0), NewEvents(2))
	require.NoError(t, err)
	_, err = s.Append(ctx, b, "Other", es.Exact(0), NewEvents(1))
	require.NoError(t, err)

	events, err := reader.ReadEvents(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].GlobalPosition, events[i-1].GlobalPosition)
	}
	assert.Equal(t, b, events[2].StreamID)

	rest, err := reader.ReadEvents(ctx, events[0].GlobalPosition, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, events[1].EventID, rest[0].EventID)
}
