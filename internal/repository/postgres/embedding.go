package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"fintelli/internal/vectorindex"
	"fintelli/pkg/errors"
)

// Compile-time check
var _ vectorindex.Store = (*EmbeddingRepository)(nil)

// EmbeddingRepository is the pgvector backing of the vector index
type EmbeddingRepository struct {
	db DBTX
}

// NewEmbeddingRepository creates a new embedding repository
func NewEmbeddingRepository(db DBTX) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

type embeddingRow struct {
	DocID     string         `db:"doc_id"`
	Score     float64        `db:"score"`
	Content   string         `db:"content"`
	Source    string         `db:"source"`
	Topics    pq.StringArray `db:"topics"`
	Sentiment string         `db:"sentiment"`
	PostedAt  time.Time      `db:"posted_at"`
}

// Upsert inserts or overwrites the vector stored for docID
func (r *EmbeddingRepository) Upsert(ctx context.Context, docID string, embedding []float32, meta vectorindex.Metadata) error {
	query := `
		INSERT INTO post_embeddings (
			doc_id, embedding, content, source, topics, sentiment, posted_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (doc_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			topics = EXCLUDED.topics,
			sentiment = EXCLUDED.sentiment,
			posted_at = EXCLUDED.posted_at,
			updated_at = NOW()`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		docID, pgvector.NewVector(embedding), meta.Content, meta.Source,
		pq.StringArray(meta.Topics), meta.Sentiment, meta.Timestamp,
	)
	observe("upsert_embedding", start, err)
	if err != nil {
		return errors.Wrapf(err, "upsert embedding %s", docID)
	}
	return nil
}

// Query returns the k nearest vectors by cosine distance
func (r *EmbeddingRepository) Query(ctx context.Context, embedding []float32, k int) ([]vectorindex.Match, error) {
	query := `
		SELECT doc_id, 1 - (embedding <=> $1) AS score,
			content, source, topics, sentiment, posted_at
		FROM post_embeddings
		ORDER BY embedding <=> $1, posted_at DESC
		LIMIT $2`

	var rows []embeddingRow
	start := time.Now()
	err := r.db.SelectContext(ctx, &rows, query, pgvector.NewVector(embedding), k)
	observe("query_embeddings", start, err)
	if err != nil {
		return nil, errors.NewConnectivityError("pgvector", "query", err)
	}

	matches := make([]vectorindex.Match, len(rows))
	for i, row := range rows {
		topics := []string(row.Topics)
		if topics == nil {
			topics = []string{}
		}
		matches[i] = vectorindex.Match{
			DocID: row.DocID,
			Score: row.Score,
			Metadata: vectorindex.Metadata{
				Content:   row.Content,
				Source:    row.Source,
				Topics:    topics,
				Sentiment: row.Sentiment,
				Timestamp: row.PostedAt,
			},
		}
	}
	return matches, nil
}
