package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"spacewatch/internal/config"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Open builds the backend selected by database.driver and ensures its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	var backend Backend
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = NewStore(pool)
	case "sqlite":
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		backend = store
	case "memory", "":
		backend = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := backend.EnsureSchema(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return backend, nil
}
