package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
)

// mysqlMaxExecutionTimeExceeded is ER_QUERY_TIMEOUT.
const mysqlMaxExecutionTimeExceeded = 3024

// SQLExecutor runs probes through database/sql (MySQL, SQL Server).
type SQLExecutor struct {
	db     *sql.DB
	driver string
}

// NewSQL opens a database/sql pool for driver and verifies connectivity.
func NewSQL(ctx context.Context, driver string, cfg Config) (*SQLExecutor, error) {
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &SQLExecutor{db: db, driver: driver}, nil
}

// Execute runs query on a dedicated connection from the pool.
func (e *SQLExecutor) Execute(ctx context.Context, query string, params []any, timeout time.Duration) (*ResultSet, error) {
	qctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	conn, err := e.db.Conn(qctx)
	if err != nil {
		return nil, timeoutErr(qctx, timeout, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	tx, err := conn.BeginTx(qctx, txOptions(e.driver))
	if err != nil {
		return nil, timeoutErr(qctx, timeout, fmt.Errorf("begin transaction: %w", err))
	}
	// Never committed.
	defer func() { _ = tx.Rollback() }()

	if e.driver == "mysql" {
		query = withMaxExecutionTime(query, timeout)
	}

	rows, err := tx.QueryContext(qctx, query, params...)
	if err != nil {
		return nil, timeoutErr(qctx, timeout, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	rs, err := collectRows(rows)
	if err != nil {
		return nil, timeoutErr(qctx, timeout, err)
	}
	return rs, nil
}

// txOptions returns the transaction options for driver. go-mssqldb refuses
// read-only transactions, so SQL Server probes rely on the statement check,
// the rollback and a login limited to reading.
func txOptions(driver string) *sql.TxOptions {
	if driver == "mysql" {
		return &sql.TxOptions{ReadOnly: true}
	}
	return nil
}

var leadingSelect = regexp.MustCompile(`(?is)^(?:\s|--[^\n]*\n|#[^\n]*\n|/\*.*?\*/)*select\b`)

// withMaxExecutionTime adds a MAX_EXECUTION_TIME optimizer hint to a query
// that starts with SELECT, so the server limit applies to this statement
// only. Other statements are bounded by the context deadline alone.
func withMaxExecutionTime(query string, timeout time.Duration) string {
	ms := timeout.Milliseconds()
	if ms <= 0 {
		return query
	}
	loc := leadingSelect.FindStringIndex(query)
	if loc == nil {
		return query
	}
	return query[:loc[1]] + fmt.Sprintf(" /*+ MAX_EXECUTION_TIME(%d) */", ms) + query[loc[1]:]
}

// Ping checks connectivity.
func (e *SQLExecutor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", e.driver, err)
	}
	return nil
}

// Close closes the pool.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

func collectRows(rows *sql.Rows) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	rs := &ResultSet{Columns: cols}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rs.Rows = append(rs.Rows, makeRow(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}

func makeRow(cols []string, values []any) Row {
	row := make(Row, len(cols))
	for i, col := range cols {
		switch v := values[i].(type) {
		case []byte:
			row[col] = string(v)
		default:
			row[col] = v
		}
	}
	return row
}

func isMySQLTimeout(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlMaxExecutionTimeExceeded
}

func isServerTimeout(err error) bool {
	return isPgTimeout(err) || isMySQLTimeout(err)
}
