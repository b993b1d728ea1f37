package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres pool and verifies it answers within pingTimeout.
// The pool is returned even when the ping fails so callers can decide
// whether to retry.
func NewDB(ctx context.Context, connString string, pingTimeout time.Duration) (*DB, error) {
	if connString == "" {
		return nil, errors.New("store: empty connection string")
	}
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	d := &DB{Client: db}
	return d, d.Ping(ctx, pingTimeout)
}

// Ping checks connectivity with a bounded wait.
func (d *DB) Ping(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.Client == nil {
		return errors.New("store: database not configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.Client.PingContext(ctx)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
