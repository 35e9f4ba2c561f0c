package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQueryCanceled is SQLSTATE 57014, raised by statement_timeout.
const pgQueryCanceled = "57014"

// PgxExecutor runs probes against PostgreSQL through a pgx pool.
type PgxExecutor struct {
	pool *pgxpool.Pool
}

// NewPgx creates a pool and verifies connectivity.
func NewPgx(ctx context.Context, cfg Config) (*PgxExecutor, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "sqlwatch"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PgxExecutor{pool: pool}, nil
}

// Execute runs query in a read-only transaction on a leased connection.
// The lease is released on every return path; a context deadline makes pgx
// send a cancel request for the running statement.
func (e *PgxExecutor) Execute(ctx context.Context, query string, params []any, timeout time.Duration) (*ResultSet, error) {
	qctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	conn, err := e.pool.Acquire(qctx)
	if err != nil {
		return nil, timeoutErr(qctx, timeout, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Release()

	tx, err := conn.BeginTx(qctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, timeoutErr(qctx, timeout, fmt.Errorf("begin read-only transaction: %w", err))
	}
	defer func() {
		rctx, rcancel := cleanupContext(ctx)
		defer rcancel()
		_ = tx.Rollback(rctx)
	}()

	if timeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())
		if _, err := tx.Exec(qctx, stmt); err != nil {
			return nil, timeoutErr(qctx, timeout, fmt.Errorf("set statement_timeout: %w", err))
		}
	}

	rows, err := tx.Query(qctx, query, params...)
	if err != nil {
		return nil, timeoutErr(qctx, timeout, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, timeoutErr(qctx, timeout, fmt.Errorf("read row: %w", err))
		}
		row := make(Row, len(values))
		for i, v := range values {
			row[rs.Columns[i]] = v
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, timeoutErr(qctx, timeout, fmt.Errorf("iterate rows: %w", err))
	}
	return rs, nil
}

// Ping checks connectivity.
func (e *PgxExecutor) Ping(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the pool.
func (e *PgxExecutor) Close() error {
	e.pool.Close()
	return nil
}

func isPgTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled
}
