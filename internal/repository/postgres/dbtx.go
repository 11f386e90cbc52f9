package postgres

import (
	"context"
	"database/sql"
	"time"

	"fintelli/internal/metrics"
)

// DBTX is a common interface for *sqlx.DB and *sqlx.Tx so repositories
// work inside and outside transactions
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// observe records one query in the DB metrics
func observe(op string, start time.Time, err error) {
	metrics.RecordDBQuery("postgres", op, time.Since(start), err)
}
