package post

import (
	"context"
)

// Source yields raw posts for ingestion
type Source interface {
	ListUnprocessed(ctx context.Context, window Window, limit int) ([]Post, error)
}

// Repository defines the interface for post data access
type Repository interface {
	Source
	Create(ctx context.Context, p *Post) error
	ListProcessed(ctx context.Context, window Window, limit int) ([]Post, error)
	MarkProcessed(ctx context.Context, p *Post) error
}
