// Package redisstream stores each event stream as a Redis stream.
//
// Entry IDs are "0-<version>", so XRANGE bounds are stream versions and the
// stream length is the head version. Appends run as one Lua script that checks
// the length and adds every entry, which makes them atomic on the server.
// Redis does not roll a script back, so every check runs before the first
// XADD: a stream whose last entry is not "0-<length>" is refused untouched.
// There is no global log; this store does not implement store.EventReader.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/store"
)

const (
	fieldPlain      = "e"
	fieldCompressed = "z"

	replyConflict = "CONFLICT"
	replyAggType  = "AGGTYPE"
	replyGap      = "GAP"
)

// KEYS[1] stream, KEYS[2] aggregate type marker.
// ARGV: mode ("any"|"exact"), expected, aggregate type, field, entries...
const appendScript = `
local current = redis.call("XLEN", KEYS[1])
local existing = redis.call("GET", KEYS[2])
if existing and existing ~= ARGV[3] then
	return redis.error_reply("AGGTYPE " .. existing)
end
if ARGV[1] == "exact" and current ~= tonumber(ARGV[2]) then
	return redis.error_reply("CONFLICT " .. current)
end
if current > 0 then
	local last = redis.call("XREVRANGE", KEYS[1], "+", "-", "COUNT", 1)
	if last[1] == nil or last[1][1] ~= "0-" .. current then
		return redis.error_reply("GAP " .. current)
	end
end
for i = 5, #ARGV do
	redis.call("XADD", KEYS[1], "0-" .. (current + i - 4), ARGV[4], ARGV[i])
end
if not existing then
	redis.call("SET", KEYS[2], ARGV[3])
end
return current
`

// Config configures the Redis stream store.
type Config struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// Now returns the timestamp applied to events without OccurredOn.
	Now func() time.Time

	// Prefix is prepended to stream ids to form Redis keys.
	Prefix string

	// Compress stores envelopes snappy-compressed.
	Compress bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Now:    time.Now,
		Prefix: "pupcart:stream:",
	}
}

// Store is a Redis Streams event store.
type Store struct {
	client redis.UniversalClient
	config Config
}

var _ store.EventStore = (*Store)(nil)

// NewStore creates a store on client.
func NewStore(client redis.UniversalClient, config Config) *Store {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Store{
		client: client,
		config: config,
	}
}

func (s *Store) key(streamID string) string {
	return s.config.Prefix + streamID
}

func (s *Store) typeKey(streamID string) string {
	return s.config.Prefix + streamID + ":type"
}

// Append implements store.EventStore.
func (s *Store) Append(ctx context.Context, streamID, aggregateType string, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return es.AppendResult{}, err
	}
	if err := store.ValidateAppend(streamID, aggregateType, events); err != nil {
		return es.AppendResult{}, err
	}

	// Versions are fixed up once the script reports the head.
	stamped := store.Stamp(streamID, aggregateType, 1, events, s.config.Now)

	field := fieldPlain
	if s.config.Compress {
		field = fieldCompressed
	}
	mode, expectedValue := "exact", expected.Value()
	if expected.IsAny() {
		mode = "any"
	}

	args := make([]interface{}, 0, 4+len(stamped))
	args = append(args, mode, expectedValue, aggregateType, field)
	for i := range stamped {
		value, err := s.encode(stamped[i])
		if err != nil {
			return es.AppendResult{}, err
		}
		args = append(args, value)
	}

	current, err := s.client.Eval(ctx, appendScript, []string{s.key(streamID), s.typeKey(streamID)}, args...).Int64()
	if err != nil {
		return es.AppendResult{}, s.scriptError(ctx, streamID, aggregateType, expected, err)
	}

	for i := range stamped {
		stamped[i].Version = current + int64(i) + 1
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "events appended",
			"stream_id", streamID,
			"aggregate_type", aggregateType,
			"event_count", len(stamped),
			"version_range", fmt.Sprintf("%d-%d", current+1, current+int64(len(stamped))))
	}

	return es.AppendResult{
		Events:          stamped,
		GlobalPositions: make([]int64, len(stamped)),
	}, nil
}

func (s *Store) scriptError(ctx context.Context, streamID, aggregateType string, expected es.ExpectedVersion, err error) error {
	msg := err.Error()
	if i := strings.Index(msg, replyConflict); i >= 0 {
		actual, _ := strconv.ParseInt(strings.TrimSpace(msg[i+len(replyConflict):]), 10, 64)
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "expected version validation failed",
				"stream_id", streamID,
				"current_version", actual,
				"expected_version", expected.String())
		}
		return store.NewConcurrencyError(streamID, expected, actual)
	}
	if i := strings.Index(msg, replyAggType); i >= 0 {
		existing := strings.TrimSpace(msg[i+len(replyAggType):])
		return fmt.Errorf("%w: stream %s belongs to aggregate type %s, not %s",
			store.ErrInvalidStream, streamID, existing, aggregateType)
	}
	if strings.Contains(msg, replyGap) {
		return fmt.Errorf("%w: redis stream %s entry ids do not match its length",
			store.ErrInvalidStream, streamID)
	}
	return fmt.Errorf("failed to append to redis stream: %w", err)
}

//nolint:gocritic // hugeParam: events are values
func (s *Store) encode(e es.Event) (string, error) {
	e.Version = 0
	data, err := es.MarshalEnvelope(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	if s.config.Compress {
		data = snappy.Encode(nil, data)
	}
	return string(data), nil
}

// Load implements store.EventStore.
func (s *Store) Load(ctx context.Context, streamID string, maxVersion *int64) ([]es.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxVersion != nil && *maxVersion < 1 {
		return []es.Event{}, nil
	}

	end := "+"
	if maxVersion != nil {
		end = "0-" + strconv.FormatInt(*maxVersion, 10)
	}
	entries, err := s.client.XRange(ctx, s.key(streamID), "-", end).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read redis stream: %w", err)
	}

	events := make([]es.Event, 0, len(entries))
	for _, entry := range entries {
		e, err := decodeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("stream %s entry %s: %w", streamID, entry.ID, err)
		}
		events = append(events, e)
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "stream loaded",
			"stream_id", streamID,
			"event_count", len(events))
	}
	return events, nil
}

func decodeEntry(entry redis.XMessage) (es.Event, error) {
	_, seq, ok := strings.Cut(entry.ID, "-")
	if !ok {
		return es.Event{}, fmt.Errorf("malformed entry id")
	}
	version, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return es.Event{}, fmt.Errorf("malformed entry id: %w", err)
	}

	var data []byte
	if v, ok := entry.Values[fieldCompressed].(string); ok {
		data, err = snappy.Decode(nil, []byte(v))
		if err != nil {
			return es.Event{}, fmt.Errorf("failed to decompress envelope: %w", err)
		}
	} else if v, ok := entry.Values[fieldPlain].(string); ok {
		data = []byte(v)
	} else {
		return es.Event{}, errors.New("entry has no envelope field")
	}

	e, err := es.UnmarshalEnvelope(data)
	if err != nil {
		return es.Event{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	e.Version = version
	return e, nil
}

// Version implements store.EventStore.
func (s *Store) Version(ctx context.Context, streamID string) (int64, error) {
	n, err := s.client.XLen(ctx, s.key(streamID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read redis stream length: %w", err)
	}
	return n, nil
}
