package seeds

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fintelli/internal/domain/post"
	"fintelli/pkg/errors"
)

// PostBuilder provides a fluent API for creating raw posts. Posts are
// inserted unprocessed so the next workflow run picks them up.
type PostBuilder struct {
	repo   post.Repository
	ctx    context.Context
	now    time.Time
	entity *post.Post
}

// NewPostBuilder creates a builder with a fresh id posted at now
func NewPostBuilder(repo post.Repository, ctx context.Context, now time.Time) *PostBuilder {
	return &PostBuilder{
		repo: repo,
		ctx:  ctx,
		now:  now,
		entity: &post.Post{
			ID:        "seed-" + uuid.NewString(),
			Source:    post.SourceTwitter,
			Author:    "seed_user",
			Timestamp: now,
		},
	}
}

// WithID sets a specific ID, making re-runs idempotent
func (b *PostBuilder) WithID(id string) *PostBuilder {
	b.entity.ID = id
	return b
}

// WithSource sets the platform
func (b *PostBuilder) WithSource(source string) *PostBuilder {
	b.entity.Source = source
	return b
}

// WithContent sets the post text
func (b *PostBuilder) WithContent(content string) *PostBuilder {
	b.entity.Content = content
	return b
}

// WithAuthor sets the author handle
func (b *PostBuilder) WithAuthor(author string) *PostBuilder {
	b.entity.Author = author
	return b
}

// WithURL sets the permalink
func (b *PostBuilder) WithURL(url string) *PostBuilder {
	b.entity.URL = url
	return b
}

// PostedAgo backdates the post relative to the seed run
func (b *PostBuilder) PostedAgo(d time.Duration) *PostBuilder {
	b.entity.Timestamp = b.now.Add(-d)
	return b
}

// Build returns the post without inserting it
func (b *PostBuilder) Build() *post.Post {
	p := *b.entity
	return &p
}

// Insert persists the post
func (b *PostBuilder) Insert() (*post.Post, error) {
	if b.entity.Content == "" {
		return nil, errors.NewValidationError("content", "is required", b.entity.ID)
	}
	p := b.Build()
	if err := b.repo.Create(b.ctx, p); err != nil {
		return nil, errors.Wrapf(err, "seed post %s", p.ID)
	}
	return p, nil
}
