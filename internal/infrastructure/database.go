// Package infrastructure provides database, Redis and NATS connection setup.
//
// One pgxpool is shared by the ent SQL driver, the pgx repositories, River
// and the queue stats queries.
//
// Import Path: bazaar.dev/realtime/internal/infrastructure
package infrastructure

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/config"
	"bazaar.dev/realtime/internal/pkg/logger"
)

//go:embed schema/schema.sql
var schemaSQL string

// Schema returns the DDL of the tables this service owns.
func Schema() string { return schemaSQL }

// DatabaseClients contains all database-related clients.
// All clients share a single pgxpool connection pool.
type DatabaseClients struct {
	// Pool is the shared connection pool (repositories + River).
	Pool *pgxpool.Pool

	// DB wraps Pool for ent. Created via stdlib.OpenDBFromPool so ent reuses
	// the pgxpool connections.
	DB *sql.DB

	// Ent is the ent SQL driver backed by DB.
	Ent *entsql.Driver

	// RiverClient is the River job queue client backed by the shared pool.
	// Nil until InitRiverClient is called.
	RiverClient *river.Client[pgx.Tx]
}

// NewDatabaseClients creates database clients with shared connection pool.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	// last_seen_at and created_at are compared across instances.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)

	db, drv := NewEntDriver(pool)
	return &DatabaseClients{Pool: pool, DB: db, Ent: drv}, nil
}

// NewEntDriver wraps pool in a *sql.DB and an ent Postgres driver.
func NewEntDriver(pool *pgxpool.Pool) (*sql.DB, *entsql.Driver) {
	db := stdlib.OpenDBFromPool(pool)
	return db, entsql.OpenDB(dialect.Postgres, db)
}

// AutoMigrate applies the service schema and River's queue tables.
// Only use in development; production applies schema.sql through its
// migration pipeline.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	logger.Info("Applying service schema...")
	if _, err := c.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("Running River migration...")
	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("River migration: already up-to-date")
	}

	return nil
}

// InitRiverClient creates a River client with registered workers.
// queues maps each River queue name to its worker budget; both come from
// bootstrap so this package stays unaware of job kinds.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, queues map[string]int, cfg config.RiverConfig) error {
	queueConfig := make(map[string]river.QueueConfig, len(queues))
	for name, maxWorkers := range queues {
		queueConfig[name] = river.QueueConfig{MaxWorkers: maxWorkers}
	}

	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues:                      queueConfig,
		Workers:                     workers,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized", zap.Int("queues", len(queueConfig)))
	return nil
}

// Close closes the connection pool gracefully.
func (c *DatabaseClients) Close() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
