package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/adapters/memory"
	"github.com/getpup/pupcart/es/adapters/mysql"
	"github.com/getpup/pupcart/es/adapters/postgres"
	"github.com/getpup/pupcart/es/adapters/redisstream"
	"github.com/getpup/pupcart/es/adapters/sqlite"
	"github.com/getpup/pupcart/es/bus"
	"github.com/getpup/pupcart/es/bus/kafka"
	"github.com/getpup/pupcart/es/codec"
	"github.com/getpup/pupcart/es/migrations"
	"github.com/getpup/pupcart/es/observability"
	"github.com/getpup/pupcart/es/repository"
	"github.com/getpup/pupcart/es/store"
	"github.com/getpup/pupcart/internal/config"
	"github.com/getpup/pupcart/internal/shop/cart"
	"github.com/getpup/pupcart/internal/shop/commands"
	"github.com/getpup/pupcart/internal/shop/product"
	"github.com/getpup/pupcart/internal/shop/readmodel"
	"github.com/getpup/pupcart/internal/telemetry"
)

const serviceName = "shopctl"

// backend is an opened event store. reader and checkpoints are nil for
// stores without a global log.
type backend struct {
	events      store.EventStore
	reader      store.EventReader
	checkpoints store.CheckpointStore
	close       func() error
}

type app struct {
	config    config.Config
	logger    es.Logger
	stdout    io.Writer
	registry  *prometheus.Registry
	backend   backend
	views     readmodel.Store
	projector *readmodel.Projector
	codec     *codec.Registry
	products  *repository.Repository[*product.Product]
	carts     *repository.Repository[*cart.Cart]
	service   *commands.Service
	closers   []func(context.Context) error
}

func newApp(ctx context.Context, envFile string, stdout io.Writer) (a *app, err error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	a = &app{
		config:   cfg,
		logger:   es.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))),
		stdout:   stdout,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			//nolint:errcheck // setup error is returned instead
			a.Close(ctx)
			a = nil
		}
	}()

	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return a, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	a.backend, err = openBackend(&cfg, a.logger)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.backend.close() })

	a.views, err = a.openReadModel()
	if err != nil {
		return a, err
	}

	a.codec = codec.NewRegistry()
	product.Register(a.codec)
	cart.Register(a.codec)
	a.projector = readmodel.NewProjector(a.views, a.codec, readmodel.WithLogger(a.logger))

	dispatcher := bus.NewDispatcher(bus.WithLogger(a.logger))
	dispatcher.Subscribe(a.projector)
	// External delivery goes first; the local read model can be rebuilt.
	var publishers bus.Fanout
	if len(cfg.KafkaBrokers) > 0 {
		kcfg := kafka.DefaultConfig()
		kcfg.Logger = a.logger
		kcfg.Brokers = cfg.KafkaBrokers
		kcfg.Topic = cfg.KafkaTopic
		kcfg.ClientID = serviceName
		publisher, err := kafka.NewPublisher(kcfg)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })
		publishers = append(publishers, publisher)
	}
	publishers = append(publishers, dispatcher)

	events := observability.Instrument(a.backend.events, observability.NewMetrics(a.registry))
	opts := []repository.Option{repository.WithBus(publishers), repository.WithLogger(a.logger)}
	a.products = repository.New(events, a.codec, repository.Factory[*product.Product](func(id string) *product.Product { return product.New(id) }), opts...)
	a.carts = repository.New(events, a.codec, repository.Factory[*cart.Cart](func(id string) *cart.Cart { return cart.New(id) }), opts...)

	svcConfig := commands.DefaultConfig()
	svcConfig.Logger = a.logger
	svcConfig.MaxTries = cfg.RetryTries
	a.service = commands.NewService(a.products, a.carts, svcConfig)
	return a, nil
}

func openBackend(cfg *config.Config, logger es.Logger) (backend, error) {
	schema := migrations.DefaultConfig()
	switch cfg.Backend {
	case config.BackendMemory:
		s := memory.NewStore(memory.WithLogger(logger))
		return backend{events: s, reader: s, checkpoints: s, close: func() error { return nil }}, nil

	case config.BackendSQLite:
		db, err := sql.Open("sqlite", cfg.SQLiteDSN)
		if err != nil {
			return backend{}, fmt.Errorf("failed to open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(migrations.SQLiteSchema(&schema)); err != nil {
			db.Close()
			return backend{}, fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
		s := sqlite.NewStore(db, sqlite.NewStoreConfig(sqlite.WithLogger(logger)))
		return backend{events: s, reader: s, checkpoints: s, close: db.Close}, nil

	case config.BackendPostgres:
		db, err := sql.Open(cfg.PostgresDriver, cfg.PostgresDSN)
		if err != nil {
			return backend{}, fmt.Errorf("failed to open postgres: %w", err)
		}
		s := postgres.NewStore(db, postgres.NewStoreConfig(postgres.WithLogger(logger)))
		return backend{events: s, reader: s, checkpoints: s, close: db.Close}, nil

	case config.BackendMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return backend{}, fmt.Errorf("failed to open mysql: %w", err)
		}
		s := mysql.NewStore(db, mysql.NewStoreConfig(mysql.WithLogger(logger)))
		return backend{events: s, reader: s, checkpoints: s, close: db.Close}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rcfg := redisstream.DefaultConfig()
		rcfg.Logger = logger
		rcfg.Prefix = cfg.RedisPrefix
		rcfg.Compress = cfg.RedisCompress
		return backend{events: redisstream.NewStore(client, rcfg), close: client.Close}, nil

	default:
		return backend{}, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend)
	}
}

func (a *app) openReadModel() (readmodel.Store, error) {
	if a.config.Backend == config.BackendMemory {
		return readmodel.NewMemoryStore(), nil
	}
	db, err := sql.Open("sqlite", a.config.ReadModelDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open read model: %w", err)
	}
	db.SetMaxOpenConns(1)
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	schema := migrations.DefaultConfig()
	if _, err := db.Exec(migrations.ReadModelSQLiteSchema(&schema)); err != nil {
		return nil, fmt.Errorf("failed to apply read model schema: %w", err)
	}
	return readmodel.NewSQLStore(db, readmodel.DefaultSQLStoreConfig()), nil
}

// Close writes metrics if configured and releases resources in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.config.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(a.config.MetricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
