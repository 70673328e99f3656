package redisstream_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/adapters/redisstream"
	"github.com/getpup/pupcart/es/store"
	"github.com/getpup/pupcart/es/store/storetest"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStoreContract(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "snappy"
		}
		t.Run(name, func(t *testing.T) {
			storetest.Run(t, func(t *testing.T) store.EventStore {
				_, client := newClient(t)
				config := redisstream.DefaultConfig()
				config.Compress = compress
				return redisstream.NewStore(client, config)
			})
		})
	}
}

func TestEntryIDsAreVersions(t *testing.T) {
	mr, client := newClient(t)
	s := redisstream.NewStore(client, redisstream.DefaultConfig())
	ctx := context.Background()
	streamID := es.StreamIDFromUUID(uuid.New())

	_, err := s.Append(ctx, streamID, "Cart", es.NoStream(), storetest.NewEvents(2))
	require.NoError(t, err)
	_, err = s.Append(ctx, streamID, "Cart", es.Any(), storetest.NewEvents(1))
	require.NoError(t, err)

	entries, err := client.XRange(ctx, "pupcart:stream:"+streamID, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"0-1", "0-2", "0-3"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})

	typ, err := mr.Get("pupcart:stream:" + streamID + ":type")
	require.NoError(t, err)
	assert.Equal(t, "Cart", typ)
}

func TestAggregateTypeMismatch(t *testing.T) {
	_, client := newClient(t)
	s := redisstream.NewStore(client, redisstream.DefaultConfig())
	ctx := context.Background()
	streamID := es.StreamIDFromUUID(uuid.New())

	_, err := s.Append(ctx, streamID, "Cart", es.NoStream(), storetest.NewEvents(1))
	require.NoError(t, err)
	_, err = s.Append(ctx, streamID, "Product", es.Any(), storetest.NewEvents(1))
	require.ErrorIs(t, err, store.ErrInvalidStream)

	v, err := s.Version(ctx, streamID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestAppendRefusesForeignEntriesWithoutWriting(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	streamID := es.StreamIDFromUUID(uuid.New())
	key := "pupcart:stream:" + streamID
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: key, ID: "0-5", Values: []string{"e", "{}"}}).Err())

	s := redisstream.NewStore(client, redisstream.DefaultConfig())
	_, err := s.Append(ctx, streamID, "Cart", es.Any(), storetest.NewEvents(2))
	require.ErrorIs(t, err, store.ErrInvalidStream)

	n, err := client.XLen(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "no entry may be added")
	exists, err := client.Exists(ctx, key+":type").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestCompressedEntriesAreReadableWithoutCompression(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	streamID := es.StreamIDFromUUID(uuid.New())

	compressed := redisstream.DefaultConfig()
	compressed.Compress = true
	_, err := redisstream.NewStore(client, compressed).Append(ctx, streamID, "Cart", es.NoStream(), storetest.NewEvents(2))
	require.NoError(t, err)

	events, err := redisstream.NewStore(client, redisstream.DefaultConfig()).Load(ctx, streamID, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"n":1,"nested":{"label":"item-1"}}`, string(events[1].Payload))
}

func TestRedisUnavailable(t *testing.T) {
	mr, client := newClient(t)
	s := redisstream.NewStore(client, redisstream.DefaultConfig())
	mr.Close()

	_, err := s.Append(context.Background(), es.StreamIDFromUUID(uuid.New()), "Cart", es.NoStream(), storetest.NewEvents(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrOptimisticConcurrency)
}
