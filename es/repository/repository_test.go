package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/adapters/memory"
	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/bus"
	"github.com/getpup/pupcart/es/codec"
	"github.com/getpup/pupcart/es/repository"
	"github.com/getpup/pupcart/es/store"
)

type added struct {
	By int `json:"by"`
}

type closed struct{}

type tally struct {
	aggregate.Root
	total int
}

func newTally(id string) *tally {
	t := &tally{}
	t.Root = aggregate.NewRoot(id, "Tally", t.apply)
	return t
}

func (t *tally) apply(event any) {
	switch e := event.(type) {
	case added:
		t.total += e.By
	case closed:
	default:
		panic("tally: unknown event")
	}
}

func (t *tally) Add(by int) { t.Record(added{By: by}, "tester") }

func (t *tally) Close() { t.RecordDelete(closed{}, "tester") }

func newCodec() *codec.Registry {
	r := codec.NewRegistry()
	codec.Register[added](r, "test.tally.Added")
	codec.Register[closed](r, "test.tally.Closed")
	return r
}

func newID() string { return es.StreamIDFromUUID(uuid.New()) }

func newRepo(s store.EventStore, opts ...repository.Option) *repository.Repository[*tally] {
	return repository.New(s, newCodec(), newTally, opts...)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	repo := newRepo(s, repository.WithClock(func() time.Time { return at }))

	id := newID()
	agg := newTally(id)
	agg.Add(2)
	agg.Add(5)
	require.NoError(t, repo.Save(ctx, agg))
	assert.Equal(t, int64(2), agg.Version())
	assert.False(t, agg.HasChanges())

	loaded, ok, err := repo.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, loaded.total)
	assert.Equal(t, int64(2), loaded.Version())

	events, err := s.Load(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, "test.tally.Added", events[0].EventType)
	assert.Equal(t, "tester", events[0].ActorID)
	assert.True(t, at.Equal(events[0].OccurredOn))
}

func TestSaveWithoutChangesIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	published := 0
	repo := newRepo(s, repository.WithBus(bus.PublisherFunc(func(context.Context, es.Event) error {
		published++
		return nil
	})))

	agg := newTally(newID())
	require.NoError(t, repo.Save(ctx, agg))

	version, err := s.Version(ctx, agg.StreamID())
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
	assert.Zero(t, published)
}

func TestLoadAbsent(t *testing.T) {
	repo := newRepo(memory.NewStore())
	agg, ok, err := repo.Load(context.Background(), newID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, agg)
}

// gappedStore hides one version of every stream it loads.
type gappedStore struct {
	store.EventStore
	skip int64
}

func (s gappedStore) Load(ctx context.Context, streamID string, maxVersion *int64) ([]es.Event, error) {
	events, err := s.EventStore.Load(ctx, streamID, maxVersion)
	if err != nil {
		return nil, err
	}
	var out []es.Event
	for _, e := range events {
		if e.Version != s.skip {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestLoadRejectsVersionGap(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	id := newID()

	agg := newTally(id)
	agg.Add(1)
	agg.Add(2)
	agg.Add(3)
	require.NoError(t, newRepo(s).Save(ctx, agg))

	_, ok, err := newRepo(gappedStore{EventStore: s, skip: 2}).Load(ctx, id)
	assert.ErrorIs(t, err, aggregate.ErrVersionGap)
	assert.False(t, ok)
}

func TestStaleSaveConflicts(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	repo := newRepo(s)
	id := newID()

	seed := newTally(id)
	seed.Add(1)
	require.NoError(t, repo.Save(ctx, seed))

	first, _, err := repo.Load(ctx, id)
	require.NoError(t, err)
	second, _, err := repo.Load(ctx, id)
	require.NoError(t, err)

	first.Add(10)
	require.NoError(t, repo.Save(ctx, first))

	second.Add(100)
	err = repo.Save(ctx, second)
	require.ErrorIs(t, err, store.ErrOptimisticConcurrency)

	var conflict *store.ConcurrencyError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Expected.Value())
	assert.Equal(t, int64(2), conflict.Actual)

	assert.True(t, second.HasChanges(), "a failed save keeps pending changes")
	assert.Equal(t, int64(1), second.Version())

	current, _, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 11, current.total)
}

func TestLoadVersion(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(memory.NewStore())
	id := newID()

	agg := newTally(id)
	agg.Add(1)
	agg.Add(2)
	agg.Add(3)
	require.NoError(t, repo.Save(ctx, agg))

	tests := []struct {
		version int64
		total   int
		ok      bool
	}{
		{0, 0, false},
		{1, 1, true},
		{2, 3, true},
		{10, 6, true},
	}
	for _, tt := range tests {
		got, ok, err := repo.LoadVersion(ctx, id, tt.version)
		require.NoError(t, err)
		require.Equal(t, tt.ok, ok, "version %d", tt.version)
		if ok {
			assert.Equal(t, tt.total, got.total, "version %d", tt.version)
			assert.Equal(t, min(tt.version, 3), got.Version())
		}
	}
}

func TestLoadMany(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(memory.NewStore())

	a, b := newTally(newID()), newTally(newID())
	a.Add(1)
	b.Add(2)
	require.NoError(t, repo.SaveMany(ctx, []*tally{a, b}))

	got, err := repo.LoadMany(ctx, []string{b.StreamID(), newID(), a.StreamID()})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.StreamID(), got[0].StreamID())
	assert.Equal(t, a.StreamID(), got[1].StreamID())
}

func TestPublishesInCommitOrder(t *testing.T) {
	ctx := context.Background()
	var versions []int64
	repo := newRepo(memory.NewStore(), repository.WithBus(bus.PublisherFunc(func(_ context.Context, e es.Event) error {
		versions = append(versions, e.Version)
		return nil
	})))

	agg := newTally(newID())
	agg.Add(1)
	agg.Add(1)
	require.NoError(t, repo.Save(ctx, agg))
	agg.Close()
	require.NoError(t, repo.Save(ctx, agg))

	assert.Equal(t, []int64{1, 2, 3}, versions)
}

func TestPublishFailureAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	boom := errors.New("bus down")
	calls := 0
	repo := newRepo(s, repository.WithBus(bus.PublisherFunc(func(context.Context, es.Event) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})))

	agg := newTally(newID())
	agg.Add(1)
	agg.Add(1)
	agg.Add(1)
	err := repo.Save(ctx, agg)
	require.ErrorIs(t, err, repository.ErrPublish)
	require.ErrorIs(t, err, boom)

	var pubErr *repository.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, int64(2), pubErr.Event)
	assert.Equal(t, int64(3), pubErr.Committed)

	// The events are durable and the aggregate is committed.
	assert.Equal(t, int64(3), agg.Version())
	version, err := s.Version(ctx, agg.StreamID())
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
}

func TestSaveManyPartialApplication(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	repo := newRepo(s)

	existing := newTally(newID())
	existing.Add(1)
	require.NoError(t, repo.Save(ctx, existing))

	// stale claims version 0 on a stream already at version 1.
	stale := newTally(existing.StreamID())
	stale.Add(5)

	first, last := newTally(newID()), newTally(newID())
	first.Add(1)
	last.Add(1)

	err := repo.SaveMany(ctx, []*tally{first, stale, last})
	require.ErrorIs(t, err, store.ErrOptimisticConcurrency)
	assert.Contains(t, err.Error(), existing.StreamID())

	// Known limitation: the aggregate saved before the failure stays committed.
	v, _ := s.Version(ctx, first.StreamID())
	assert.Equal(t, int64(1), v)
	v, _ = s.Version(ctx, last.StreamID())
	assert.Equal(t, int64(0), v)
}

func TestUnknownEventTypeFailsLoad(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	id := newID()

	_, err := s.Append(ctx, id, "Tally", es.NoStream(), []es.Event{
		{EventType: "test.tally.Added", Payload: []byte(`{"by":1}`)},
		{EventType: "test.tally.Renamed", Payload: []byte(`{"name":"x"}`)},
	})
	require.NoError(t, err)

	agg, ok, err := newRepo(s).Load(ctx, id)
	require.ErrorIs(t, err, codec.ErrEventTypeNotFound)
	assert.False(t, ok)
	assert.Nil(t, agg)
}

func TestAggregateTypeMismatchFailsLoad(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	id := newID()
	_, err := s.Append(ctx, id, "Other", es.NoStream(), []es.Event{
		{EventType: "test.tally.Added", Payload: []byte(`{"by":1}`)},
	})
	require.NoError(t, err)

	_, _, err = newRepo(s).Load(ctx, id)
	assert.ErrorIs(t, err, store.ErrInvalidStream)
}

func TestChunkedSavesFoldLikeOneSave(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("replay after chunked saves equals the running total", prop.ForAll(
		func(amounts []int, chunk int) bool {
			ctx := context.Background()
			repo := newRepo(memory.NewStore())
			agg := newTally(newID())

			want := 0
			for i, by := range amounts {
				agg.Add(by)
				want += by
				if (i+1)%chunk == 0 {
					if err := repo.Save(ctx, agg); err != nil {
						return false
					}
				}
			}
			if err := repo.Save(ctx, agg); err != nil {
				return false
			}

			loaded, ok, err := repo.Load(ctx, agg.StreamID())
			if err != nil || !ok {
				return false
			}
			return loaded.total == want &&
				loaded.Version() == int64(len(amounts)) &&
				loaded.total == agg.total
		},
		gen.SliceOfN(20, gen.IntRange(1, 50)),
		gen.IntRange(1, 7),
	))

	properties.TestingRun(t)
}
