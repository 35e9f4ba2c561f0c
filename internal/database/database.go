// Package database executes probe queries against the monitored database.
// Every execution leases its own connection from a pool, runs inside a
// read-only transaction where the engine supports one, and is bounded by a
// statement timeout that is enforced both server-side and by cancelling the
// statement through the driver.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Row maps column name to the value returned by the driver.
type Row = map[string]any

// ResultSet is the ordered output of a query.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Executor runs read-only queries.
type Executor interface {
	Execute(ctx context.Context, query string, params []any, timeout time.Duration) (*ResultSet, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures an Executor.
type Config struct {
	Driver   string // postgres | mysql | sqlserver
	DSN      string
	MaxConns int
}

// ErrTimeout marks a statement that was cancelled for exceeding its timeout.
var ErrTimeout = errors.New("statement timeout")

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg Config) (Executor, error) {
	switch cfg.Driver {
	case "postgres", "postgresql", "pgx":
		return NewPgx(ctx, cfg)
	case "mysql":
		return NewSQL(ctx, "mysql", cfg)
	case "sqlserver", "mssql":
		return NewSQL(ctx, "sqlserver", cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// timeoutErr normalises driver-specific timeout errors to wrap ErrTimeout.
func timeoutErr(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isServerTimeout(err) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
	}
	return err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// cleanupContext returns a short-lived context for rollback after the query
// context may already be cancelled.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
