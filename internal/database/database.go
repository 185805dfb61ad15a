package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatcourier/internal/constants"
	"chatcourier/internal/migrations"
	"chatcourier/internal/models"
	"chatcourier/internal/security"
)

// Database wraps the SQLite store behind typed operations for queue items,
// inbound events, rate limiting state, reminders and owner settings.
type Database struct {
	db        *sql.DB
	pool      *Pool
	encryptor *encryptor

	// now is swappable for tests that need deterministic timestamps.
	now func() time.Time
}

// New opens (creating if needed) the SQLite database at cfg.Path, applies the
// schema and pre-warms the connection pool.
func New(ctx context.Context, cfg models.DatabaseConfig) (*Database, error) {
	if err := security.ValidateFilePath(cfg.Path); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = constants.DefaultPoolSize
	}
	prewarm := cfg.PoolPrewarm
	if prewarm <= 0 {
		prewarm = constants.DefaultPoolPrewarm
	}
	pool, err := NewPool(ctx, db, size, prewarm)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Database{
		db:        db,
		pool:      pool,
		encryptor: enc,
		now:       time.Now,
	}, nil
}

// Pool exposes the bounded connection pool.
func (d *Database) Pool() *Pool {
	return d.pool
}

// Close releases the pool and the underlying database.
func (d *Database) Close() error {
	if d.pool != nil {
		_ = d.pool.Close()
	}
	return d.db.Close()
}

// withConn runs fn on a pooled connection with transient-error retry.
func (d *Database) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	return withRetry(ctx, func() error {
		handle, err := d.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer handle.Release()
		return fn(handle.Conn())
	})
}
