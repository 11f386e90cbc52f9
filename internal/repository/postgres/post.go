package postgres

import (
	"context"
	"time"

	"fintelli/internal/domain/post"
	"fintelli/pkg/errors"
)

// Compile-time check
var _ post.Repository = (*PostRepository)(nil)

const postColumns = `id, source, content, author, url, posted_at, sentiment, sentiment_score,
	topics, relevance_score, embedding_ref, processed, created_at`

// PostRepository implements post.Repository using sqlx
type PostRepository struct {
	db DBTX
}

// NewPostRepository creates a new post repository
func NewPostRepository(db DBTX) *PostRepository {
	return &PostRepository{db: db}
}

// Create inserts a raw post. Re-ingesting the same id is a no-op.
func (r *PostRepository) Create(ctx context.Context, p *post.Post) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Topics == nil {
		p.Topics = []string{}
	}

	query := `
		INSERT INTO posts (
			id, source, content, author, url, posted_at, sentiment, sentiment_score,
			topics, relevance_score, embedding_ref, processed, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (id) DO NOTHING`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Source, p.Content, p.Author, p.URL, p.Timestamp, p.Sentiment, p.SentimentScore,
		p.Topics, p.RelevanceScore, p.EmbeddingRef, p.Processed, p.CreatedAt,
	)
	observe("create_post", start, err)
	if err != nil {
		return errors.Wrapf(err, "insert post %s", p.ID)
	}
	return nil
}

// ListUnprocessed returns the oldest unprocessed posts in the window
func (r *PostRepository) ListUnprocessed(ctx context.Context, window post.Window, limit int) ([]post.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE processed = false
		  AND posted_at BETWEEN $1 AND $2
		ORDER BY posted_at ASC
		LIMIT $3`

	var posts []post.Post
	start := time.Now()
	err := r.db.SelectContext(ctx, &posts, query, window.From, window.To, limit)
	observe("list_unprocessed", start, err)
	if err != nil {
		return nil, errors.Wrap(err, "select unprocessed posts")
	}
	return posts, nil
}

// ListProcessed returns the newest relevant processed posts in the window
func (r *PostRepository) ListProcessed(ctx context.Context, window post.Window, limit int) ([]post.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE processed = true
		  AND relevance_score > 0
		  AND posted_at BETWEEN $1 AND $2
		ORDER BY posted_at DESC
		LIMIT $3`

	posts := []post.Post{}
	start := time.Now()
	err := r.db.SelectContext(ctx, &posts, query, window.From, window.To, limit)
	observe("list_processed", start, err)
	if err != nil {
		return nil, errors.Wrap(err, "select processed posts")
	}
	return posts, nil
}

// MarkProcessed stores the processing tags. Only unprocessed rows are
// touched, so a processed post is never rewritten.
func (r *PostRepository) MarkProcessed(ctx context.Context, p *post.Post) error {
	if p.Topics == nil {
		p.Topics = []string{}
	}

	query := `
		UPDATE posts SET
			content = $2,
			sentiment = $3,
			sentiment_score = $4,
			topics = $5,
			relevance_score = $6,
			embedding_ref = $7,
			processed = true
		WHERE id = $1 AND processed = false`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Content, p.Sentiment, p.SentimentScore, p.Topics, p.RelevanceScore, p.EmbeddingRef,
	)
	observe("mark_processed", start, err)
	if err != nil {
		return errors.Wrapf(err, "mark post %s processed", p.ID)
	}
	p.Processed = true
	return nil
}
