// Package config loads process configuration for the pupcart binaries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backends accepted by PUPCART_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendRedis    = "redis"
)

// ErrInvalid indicates a configuration value outside its allowed set.
var ErrInvalid = errors.New("invalid configuration")

// Config is the process configuration, read from the environment.
type Config struct {
	Backend string `env:"PUPCART_BACKEND" envDefault:"sqlite"`

	SQLiteDSN      string `env:"PUPCART_SQLITE_DSN"      envDefault:"pupcart.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"`
	PostgresDSN    string `env:"PUPCART_POSTGRES_DSN"`
	PostgresDriver string `env:"PUPCART_POSTGRES_DRIVER" envDefault:"pgx"`
	MySQLDSN       string `env:"PUPCART_MYSQL_DSN"`

	RedisAddr     string `env:"PUPCART_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPrefix   string `env:"PUPCART_REDIS_PREFIX"   envDefault:"pupcart:stream:"`
	RedisCompress bool   `env:"PUPCART_REDIS_COMPRESS"`

	KafkaBrokers []string `env:"PUPCART_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"PUPCART_KAFKA_TOPIC"   envDefault:"shop-events"`

	ReadModelDSN string `env:"PUPCART_READMODEL_DSN" envDefault:"pupcart-readmodel.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"`

	LogLevel     string `env:"PUPCART_LOG_LEVEL"     envDefault:"info"`
	OTelEndpoint string `env:"PUPCART_OTEL_ENDPOINT"`
	MetricsFile  string `env:"PUPCART_METRICS_FILE"`

	RetryTries uint `env:"PUPCART_RETRY_TRIES" envDefault:"5"`
}

// Load reads envFile, if given, then parses the environment. Without envFile
// a .env in the working directory is used when present. Variables already set
// in the environment win over file values.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that parsing alone cannot.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: PUPCART_POSTGRES_DSN is required for the postgres backend", ErrInvalid)
		}
		if c.PostgresDriver != "pgx" && c.PostgresDriver != "postgres" {
			return fmt.Errorf("%w: PUPCART_POSTGRES_DRIVER must be pgx or postgres, got %q", ErrInvalid, c.PostgresDriver)
		}
	case BackendMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("%w: PUPCART_MYSQL_DSN is required for the mysql backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.RetryTries == 0 {
		return fmt.Errorf("%w: PUPCART_RETRY_TRIES must be at least 1", ErrInvalid)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}
