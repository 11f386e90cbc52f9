package insight

import (
	"context"
)

// Repository defines the interface for insight data access. Insights are append-only.
type Repository interface {
	CreateBatch(ctx context.Context, insights []Insight) error
	ListRecent(ctx context.Context, limit int) ([]Insight, error)
	ListByRun(ctx context.Context, runID string) ([]Insight, error)
}
