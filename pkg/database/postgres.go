package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/contacts-api/pkg/config"
	"github.com/prohmpiriya/contacts-api/pkg/retry"
)

var (
	// ErrSchemaNotMigrated means the migrations table is missing or empty
	ErrSchemaNotMigrated = errors.New("database schema has not been migrated")
	// ErrSchemaDirty means a migration failed halfway and needs `migrate force`
	ErrSchemaDirty = errors.New("database schema is dirty")
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration

	// ConnectRetries is the number of retries after the first failed connect
	ConnectRetries       int
	ConnectRetryInterval time.Duration

	EnableTracing bool
	ServiceName   string
}

// NewPostgresConfig builds the pool settings from the application config
func NewPostgresConfig(cfg *config.Config) *PostgresConfig {
	db := cfg.Database
	return &PostgresConfig{
		DSN:                  db.DSN(),
		MaxConns:             int32(db.MaxOpenConns),
		MinConns:             int32(db.MaxIdleConns),
		MaxConnLifetime:      db.ConnMaxLifetime,
		MaxConnIdleTime:      db.ConnMaxIdleTime,
		ConnectTimeout:       db.ConnectTimeout,
		ConnectRetries:       db.ConnectRetries,
		ConnectRetryInterval: db.ConnectRetryInterval,
		EnableTracing:        cfg.OTel.Enabled,
		ServiceName:          cfg.OTel.ServiceName,
	}
}

// rowQuerier is the part of the pool the readiness check needs
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDB owns the connection pool shared by the repositories
type PostgresDB struct {
	pool *pgxpool.Pool
	q    rowQuerier
}

// NewPostgres opens the pool, retrying the first connection with backoff
func NewPostgres(ctx context.Context, cfg *PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	// Query parameters stay out of spans: they carry password hashes and tokens
	if cfg.EnableTracing {
		poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(
			otelpgx.WithTrimSQLInSpanName(),
			otelpgx.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
		)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	result := retry.New(&retry.Config{
		MaxRetries:      cfg.ConnectRetries,
		InitialInterval: cfg.ConnectRetryInterval,
		MaxInterval:     10 * cfg.ConnectRetryInterval,
	}).Do(ctx, pool.Ping)
	if result.Err != nil {
		pool.Close()
		lastErr := result.LastError
		if lastErr == nil {
			lastErr = result.Err
		}
		return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", result.Attempts, lastErr)
	}

	return &PostgresDB{pool: pool, q: pool}, nil
}

// Pool returns the underlying pgxpool.Pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping reports whether the database is reachable and its migrations applied cleanly
func (db *PostgresDB) Ping(ctx context.Context) error {
	var (
		version int64
		dirty   bool
	)
	err := db.q.QueryRow(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrSchemaNotMigrated
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable:
			return ErrSchemaNotMigrated
		}
		return fmt.Errorf("database ping failed: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d", ErrSchemaDirty, version)
	}
	return nil
}

// Close closes all connections in the pool gracefully
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
