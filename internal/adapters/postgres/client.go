package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pgvector/pgvector-go"

	"fintelli/internal/adapters/config"
	"fintelli/pkg/errors"
)

// Client wraps sqlx.DB for PostgreSQL operations
type Client struct {
	db *sqlx.DB
}

// NewClient creates a new PostgreSQL client with connection pooling.
// An unreachable database at startup is fatal for the process.
func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, errors.NewConnectivityError("postgres", "connect", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.NewConnectivityError("postgres", "ping", err)
	}

	return &Client{db: db}, nil
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// EnsureVectorExtension registers the pgvector extension required by the embeddings table
func (c *Client) EnsureVectorExtension(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return errors.Wrap(err, "create vector extension")
	}
	// Round-trip a literal so a missing type surfaces at startup instead of on first upsert.
	var probe pgvector.Vector
	if err := c.db.GetContext(ctx, &probe, `SELECT '[1,0]'::vector`); err != nil {
		return errors.Wrap(err, "probe vector type")
	}
	return nil
}
