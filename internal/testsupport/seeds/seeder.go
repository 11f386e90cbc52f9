package seeds

import (
	"context"
	"time"

	"fintelli/internal/domain/post"
	"fintelli/pkg/logger"
)

// Seeder is the central entry point for creating seed data.
// It provides a fluent API to build realistic post streams.
type Seeder struct {
	posts post.Repository
	ctx   context.Context
	log   *logger.Logger
	now   time.Time
}

// New creates a new Seeder instance. Relative timestamps are anchored at
// the moment of creation so one seed run forms a consistent window.
func New(posts post.Repository) *Seeder {
	return &Seeder{
		posts: posts,
		ctx:   context.Background(),
		log:   logger.Get().With("component", "seeds"),
		now:   time.Now().UTC(),
	}
}

// WithContext sets the context for database operations
func (s *Seeder) WithContext(ctx context.Context) *Seeder {
	s.ctx = ctx
	return s
}

// Log returns the logger instance
func (s *Seeder) Log() *logger.Logger {
	return s.log
}

// Post starts building a raw social media post
func (s *Seeder) Post() *PostBuilder {
	return NewPostBuilder(s.posts, s.ctx, s.now)
}
