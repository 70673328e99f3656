package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// EventsTable is the name of the shared events table
	EventsTable string

	// StreamHeadsTable is the name of the stream version tracking table
	StreamHeadsTable string

	// CheckpointsTable is the name of the projection checkpoints table
	CheckpointsTable string

	// ProductsTable, CartsTable and CartLinesTable name the read-model tables
	ProductsTable  string
	CartsTable     string
	CartLinesTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_event_store.sql", timestamp),
		EventsTable:      "events",
		StreamHeadsTable: "stream_heads",
		CheckpointsTable: "projection_checkpoints",
		ProductsTable:    "products",
		CartsTable:       "carts",
		CartLinesTable:   "cart_lines",
	}
}

// GeneratePostgres writes the PostgreSQL event store migration.
func GeneratePostgres(config *Config) error {
	return write(config, PostgresSchema(config))
}

// GenerateMySQL writes the MySQL/MariaDB event store migration.
func GenerateMySQL(config *Config) error {
	return write(config, MySQLSchema(config))
}

// GenerateSQLite writes the SQLite event store migration.
func GenerateSQLite(config *Config) error {
	return write(config, SQLiteSchema(config))
}

// GenerateReadModelSQLite writes the SQLite read-model migration.
func GenerateReadModelSQLite(config *Config) error {
	return write(config, ReadModelSQLiteSchema(config))
}

func write(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// PostgresSchema returns the PostgreSQL DDL.
func PostgresSchema(config *Config) string {
	return fmt.Sprintf(`-- Event Store Migration for PostgreSQL
-- Generated: %[1]s

-- Events table: one row per event, append-only
CREATE TABLE IF NOT EXISTS %[2]s (
    global_position BIGSERIAL PRIMARY KEY,
    event_id UUID NOT NULL UNIQUE,
    version BIGINT NOT NULL,
    actor_id TEXT NOT NULL DEFAULT 'SYSTEM',
    occurred_on TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    delete_marker BOOLEAN NOT NULL DEFAULT FALSE,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_data JSON NOT NULL,

    UNIQUE (aggregate_id, version)
);

CREATE INDEX IF NOT EXISTS idx_%[2]s_actor_id ON %[2]s (actor_id);
CREATE INDEX IF NOT EXISTS idx_%[2]s_occurred_on ON %[2]s (occurred_on);
CREATE INDEX IF NOT EXISTS idx_%[2]s_event_type ON %[2]s (event_type);
CREATE INDEX IF NOT EXISTS idx_%[2]s_delete_marker ON %[2]s (delete_marker);
CREATE INDEX IF NOT EXISTS idx_%[2]s_aggregate ON %[2]s (aggregate_type, aggregate_id);

-- Stream heads give O(1) version lookup on append
CREATE TABLE IF NOT EXISTS %[3]s (
    aggregate_id TEXT PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    version BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Projection checkpoints track catch-up progress
CREATE TABLE IF NOT EXISTS %[4]s (
    projection_name TEXT PRIMARY KEY,
    last_global_position BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.StreamHeadsTable,
		config.CheckpointsTable,
	)
}

// MySQLSchema returns the MySQL/MariaDB DDL.
// Executing it in one call requires multiStatements=true in the DSN.
func MySQLSchema(config *Config) string {
	return fmt.Sprintf(`-- Event Store Migration for MySQL/MariaDB
-- Generated: %[1]s

-- Events table: one row per event, append-only
CREATE TABLE IF NOT EXISTS %[2]s (
    global_position BIGINT AUTO_INCREMENT PRIMARY KEY,
    event_id BINARY(16) NOT NULL UNIQUE,
    version BIGINT NOT NULL,
    actor_id VARCHAR(255) NOT NULL DEFAULT 'SYSTEM',
    occurred_on DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    delete_marker BOOLEAN NOT NULL DEFAULT FALSE,
    aggregate_type VARCHAR(255) NOT NULL,
    aggregate_id VARCHAR(64) NOT NULL,
    event_type VARCHAR(255) NOT NULL,
    event_data JSON NOT NULL,

    UNIQUE KEY unique_stream_version (aggregate_id, version),
    INDEX idx_%[2]s_actor_id (actor_id),
    INDEX idx_%[2]s_occurred_on (occurred_on),
    INDEX idx_%[2]s_event_type (event_type),
    INDEX idx_%[2]s_delete_marker (delete_marker),
    INDEX idx_%[2]s_aggregate (aggregate_type, aggregate_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Stream heads give O(1) version lookup on append
CREATE TABLE IF NOT EXISTS %[3]s (
    aggregate_id VARCHAR(64) PRIMARY KEY,
    aggregate_type VARCHAR(255) NOT NULL,
    version BIGINT NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Projection checkpoints track catch-up progress
CREATE TABLE IF NOT EXISTS %[4]s (
    projection_name VARCHAR(255) PRIMARY KEY,
    last_global_position BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.StreamHeadsTable,
		config.CheckpointsTable,
	)
}

// SQLiteSchema returns the SQLite DDL.
func SQLiteSchema(config *Config) string {
	return fmt.Sprintf(`-- Event Store Migration for SQLite
-- Generated: %[1]s

-- Events table: one row per event, append-only
CREATE TABLE IF NOT EXISTS %[2]s (
    global_position INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    version INTEGER NOT NULL,
    actor_id TEXT NOT NULL DEFAULT 'SYSTEM',
    occurred_on TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%d %%H:%%M:%%f', 'now')),
    delete_marker INTEGER NOT NULL DEFAULT 0,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_data TEXT NOT NULL,

    UNIQUE (aggregate_id, version)
);

CREATE INDEX IF NOT EXISTS idx_%[2]s_actor_id ON %[2]s (actor_id);
CREATE INDEX IF NOT EXISTS idx_%[2]s_occurred_on ON %[2]s (occurred_on);
CREATE INDEX IF NOT EXISTS idx_%[2]s_event_type ON %[2]s (event_type);
CREATE INDEX IF NOT EXISTS idx_%[2]s_delete_marker ON %[2]s (delete_marker);
CREATE INDEX IF NOT EXISTS idx_%[2]s_aggregate ON %[2]s (aggregate_type, aggregate_id);

-- Stream heads give O(1) version lookup on append
CREATE TABLE IF NOT EXISTS %[3]s (
    aggregate_id TEXT PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    version INTEGER NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Projection checkpoints track catch-up progress
CREATE TABLE IF NOT EXISTS %[4]s (
    projection_name TEXT PRIMARY KEY,
    last_global_position INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.StreamHeadsTable,
		config.CheckpointsTable,
	)
}

// ReadModelSQLiteSchema returns the SQLite DDL for the shop read model.
// Cart lines are owned by their cart and removed with it.
// Foreign keys must be enabled on the connection (PRAGMA foreign_keys = ON).
func ReadModelSQLiteSchema(config *Config) string {
	return fmt.Sprintf(`-- Read Model Migration for SQLite
-- Generated: %[1]s

CREATE TABLE IF NOT EXISTS %[2]s (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    description TEXT,
    price INTEGER NOT NULL DEFAULT 0,
    picture_url TEXT,
    version INTEGER NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    created_by TEXT NOT NULL,
    created_on TEXT NOT NULL,
    updated_by TEXT NOT NULL,
    updated_on TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS %[3]s (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_by TEXT NOT NULL,
    created_on TEXT NOT NULL,
    updated_by TEXT NOT NULL,
    updated_on TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS %[4]s (
    cart_id TEXT NOT NULL REFERENCES %[3]s (id) ON DELETE CASCADE,
    product_id TEXT NOT NULL,
    quantity INTEGER NOT NULL CHECK (quantity > 0),

    PRIMARY KEY (cart_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_%[4]s_product ON %[4]s (product_id);
`,
		time.Now().Format(time.RFC3339),
		config.ProductsTable,
		config.CartsTable,
		config.CartLinesTable,
	)
}
