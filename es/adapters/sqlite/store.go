// Package sqlite provides a SQLite adapter for event sourcing.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/store"
)

const (
	// sqliteDateTimeFormat is the format used for timestamp storage/parsing in SQLite
	sqliteDateTimeFormat = "2006-01-02 15:04:05.000000"
)

// StoreConfig contains configuration for the SQLite event store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled.
	Logger es.Logger

	// Now returns the timestamp applied to events without OccurredOn.
	Now func() time.Time

	// EventsTable is the name of the events table
	EventsTable string

	// StreamHeadsTable is the name of the stream version tracking table
	StreamHeadsTable string

	// CheckpointsTable is the name of the projection checkpoints table
	CheckpointsTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Now:              time.Now,
		EventsTable:      "events",
		StreamHeadsTable: "stream_heads",
		CheckpointsTable: "projection_checkpoints",
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

// WithEventsTable sets a custom events table name.
func WithEventsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.EventsTable = tableName
	}
}

// WithStreamHeadsTable sets a custom stream heads table name.
func WithStreamHeadsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.StreamHeadsTable = tableName
	}
}

// WithCheckpointsTable sets a custom projection checkpoints table name.
func WithCheckpointsTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.CheckpointsTable = tableName
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a SQLite-backed event store implementation.
type Store struct {
	config StoreConfig
	db     *sql.DB
}

// NewStore creates a new SQLite event store on db.
func NewStore(db *sql.DB, config StoreConfig) *Store {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Store{
		config: config,
		db:     db,
	}
}

var (
	_ store.EventStore      = (*Store)(nil)
	_ store.EventReader     = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
)

// Append implements store.EventStore. The append runs in its own transaction.
func (s *Store) Append(ctx context.Context, streamID, aggregateType string, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return es.AppendResult{}, err
	}
	if err := store.ValidateAppend(streamID, aggregateType, events); err != nil {
		return es.AppendResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return es.AppendResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error ignored: expected to fail if commit succeeds
		tx.Rollback()
	}()

	result, err := s.AppendTx(ctx, tx, streamID, aggregateType, expected, events)
	if err != nil {
		return es.AppendResult{}, err
	}

	if err := tx.Commit(); err != nil {
		if IsUniqueViolation(err) {
			return es.AppendResult{}, store.NewConcurrencyError(streamID, expected, result.FromVersion()-1)
		}
		return es.AppendResult{}, fmt.Errorf("failed to commit append: %w", err)
	}
	return result, nil
}

// AppendTx appends within a caller-owned transaction.
// The caller is responsible for commit and rollback.
//
//nolint:gocyclo // Complexity comes from necessary logging and validation checks
func (s *Store) AppendTx(ctx context.Context, tx es.DBTX, streamID, aggregateType string, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if err := store.ValidateAppend(streamID, aggregateType, events); err != nil {
		return es.AppendResult{}, err
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "append starting",
			"stream_id", streamID,
			"event_count", len(events),
			"expected_version", expected.String())
	}

	// Fetch current version from the stream heads table
	var (
		currentVersion sql.NullInt64
		headType       sql.NullString
	)
	query := fmt.Sprintf(`
		SELECT version, aggregate_type
		FROM %s
		WHERE aggregate_id = ?
	`, s.config.StreamHeadsTable)

	err := tx.QueryRowContext(ctx, query, streamID).Scan(&currentVersion, &headType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return es.AppendResult{}, fmt.Errorf("failed to check current version: %w", err)
	}

	current := currentVersion.Int64
	if headType.Valid && headType.String != aggregateType {
		return es.AppendResult{}, fmt.Errorf("%w: stream %s belongs to aggregate type %s, not %s",
			store.ErrInvalidStream, streamID, headType.String, aggregateType)
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
	globalPositions := make([]int64, len(stamped))
	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (
			event_id, version, actor_id, occurred_on, delete_marker,
			aggregate_type, aggregate_id, event_type, event_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EventsTable)

	for i := range stamped {
		event := &stamped[i]

		result, execErr := tx.ExecContext(ctx, insertQuery,
			event.EventID.String(),
			event.Version,
			event.ActorID,
			event.OccurredOn.Format(sqliteDateTimeFormat),
			event.DeleteMarker,
			event.AggregateType,
			event.StreamID,
			event.EventType,
			string(event.Payload),
		)
		if execErr != nil {
			// A unique violation means another writer committed this version first
			if IsUniqueViolation(execErr) {
				if s.config.Logger != nil {
					s.config.Logger.Error(ctx, "optimistic concurrency conflict",
						"stream_id", streamID,
						"version", event.Version)
				}
				return es.AppendResult{}, store.NewConcurrencyError(streamID, expected, current)
			}
			return es.AppendResult{}, fmt.Errorf("failed to insert event %d: %w", i, execErr)
		}

		globalPos, idErr := result.LastInsertId()
		if idErr != nil {
			return es.AppendResult{}, fmt.Errorf("failed to get last insert id: %w", idErr)
		}
		event.GlobalPosition = globalPos
		globalPositions[i] = globalPos
	}

	latestVersion := current + int64(len(stamped))
	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, aggregate_type, version, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (aggregate_id)
		DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, s.config.StreamHeadsTable)

	if _, err := tx.ExecContext(ctx, upsertQuery, streamID, aggregateType, latestVersion); err != nil {
		return es.AppendResult{}, fmt.Errorf("failed to update stream head: %w", err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "events appended",
			"stream_id", streamID,
			"aggregate_type", aggregateType,
			"event_count", len(stamped),
			"version_range", fmt.Sprintf("%d-%d", current+1, latestVersion),
			"positions", globalPositions)
	}

	return es.AppendResult{
		Events:          stamped,
		GlobalPositions: globalPositions,
	}, nil
}

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT ||
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "unique constraint")
}

const selectColumns = `
	global_position, event_id, version, actor_id, occurred_on, delete_marker,
	aggregate_type, aggregate_id, event_type, event_data
`

// Load implements store.EventStore.
func (s *Store) Load(ctx context.Context, streamID string, maxVersion *int64) ([]es.Event, error) {
	return s.LoadTx(ctx, s.db, streamID, maxVersion)
}

// LoadTx loads a stream using tx.
func (s *Store) LoadTx(ctx context.Context, tx es.DBTX, streamID string, maxVersion *int64) ([]es.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE aggregate_id = ?`, selectColumns, s.config.EventsTable)
	args := []interface{}{streamID}
	if maxVersion != nil {
		query += " AND version <= ?"
		args = append(args, *maxVersion)
	}
	query += " ORDER BY version ASC"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stream: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "stream loaded",
			"stream_id", streamID,
			"event_count", len(events))
	}
	return events, nil
}

// Version implements store.EventStore.
func (s *Store) Version(ctx context.Context, streamID string) (int64, error) {
	query := fmt.Sprintf(`SELECT version FROM %s WHERE aggregate_id = ?`, s.config.StreamHeadsTable)

	var version int64
	err := s.db.QueryRowContext(ctx, query, streamID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read stream version: %w", err)
	}
	return version, nil
}

// ReadEvents implements store.EventReader.
func (s *Store) ReadEvents(ctx context.Context, fromPosition int64, limit int) ([]es.Event, error) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "reading events", "from_position", fromPosition, "limit", limit)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE global_position > ?
		ORDER BY global_position ASC
		LIMIT ?
	`, selectColumns, s.config.EventsTable)

	rows, err := s.db.QueryContext(ctx, query, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]es.Event, error) {
	events := []es.Event{}
	for rows.Next() {
		var (
			e          es.Event
			eventID    string
			occurredOn string
			payload    string
		)
		err := rows.Scan(
			&e.GlobalPosition,
			&eventID,
			&e.Version,
			&e.ActorID,
			&occurredOn,
			&e.DeleteMarker,
			&e.AggregateType,
			&e.StreamID,
			&e.EventType,
			&payload,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.EventID, err = uuid.Parse(eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event ID: %w", err)
		}

		e.OccurredOn, err = parseTimestamp(occurredOn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse occurred_on: %w", err)
		}
		e.Payload = []byte(payload)

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// sqliteDateTimeFormats lists common SQLite datetime formats for parsing
var sqliteDateTimeFormats = []string{
	sqliteDateTimeFormat,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// parseTimestamp parses SQLite datetime strings, which are stored in UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, format := range sqliteDateTimeFormats {
		t, err := time.ParseInLocation(format, s, time.UTC)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// GetCheckpoint implements store.CheckpointStore.
func (s *Store) GetCheckpoint(ctx context.Context, projectionName string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT last_global_position
		FROM %s
		WHERE projection_name = ?
	`, s.config.CheckpointsTable)

	var checkpoint int64
	err := s.db.QueryRowContext(ctx, query, projectionName).Scan(&checkpoint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return checkpoint, nil
}

// UpdateCheckpoint implements store.CheckpointStore.
func (s *Store) UpdateCheckpoint(ctx context.Context, projectionName string, position int64) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (projection_name, last_global_position, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT (projection_name)
		DO UPDATE SET
			last_global_position = excluded.last_global_position,
			updated_at = excluded.updated_at
	`, s.config.CheckpointsTable)

	_, err := s.db.ExecContext(ctx, query, projectionName, position)
	return err
}
