package postgres

import (
	"context"
	"fmt"

	"fintelli/pkg/errors"
)

// schemaStatements creates every table the service needs. All statements
// are idempotent so EnsureSchema runs on each startup.
func schemaStatements(dims int) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			posted_at TIMESTAMPTZ NOT NULL,
			sentiment TEXT,
			sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			topics TEXT[] NOT NULL DEFAULT '{}',
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			embedding_ref TEXT NOT NULL DEFAULT '',
			processed BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_processed_posted_at ON posts (processed, posted_at)`,
		`CREATE TABLE IF NOT EXISTS insights (
			id UUID PRIMARY KEY,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_run_id ON insights (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_created_at ON insights (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			window_from TIMESTAMPTZ NOT NULL,
			window_to TIMESTAMPTZ NOT NULL,
			posts_ingested INTEGER NOT NULL DEFAULT 0,
			posts_processed INTEGER NOT NULL DEFAULT 0,
			agent_statuses JSONB NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS post_embeddings (
			doc_id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			topics TEXT[] NOT NULL DEFAULT '{}',
			sentiment TEXT NOT NULL DEFAULT '',
			posted_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_post_embeddings_hnsw ON post_embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
}

// EnsureSchema creates missing tables and indexes. The vector extension
// must already exist.
func EnsureSchema(ctx context.Context, db DBTX, dims int) error {
	if dims <= 0 {
		return errors.NewValidationError("dims", "must be positive", dims)
	}
	for i, stmt := range schemaStatements(dims) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema statement %d", i)
		}
	}
	return nil
}
