package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fintelli/internal/domain/insight"
	"fintelli/pkg/errors"
)

// Compile-time check
var _ insight.Repository = (*InsightRepository)(nil)

// InsightRepository implements insight.Repository using sqlx
type InsightRepository struct {
	db DBTX
}

// NewInsightRepository creates a new insight repository
func NewInsightRepository(db DBTX) *InsightRepository {
	return &InsightRepository{db: db}
}

// CreateBatch appends insights in a single statement
func (r *InsightRepository) CreateBatch(ctx context.Context, insights []insight.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]insight.Insight, len(insights))
	for i, in := range insights {
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		if in.CreatedAt.IsZero() {
			in.CreatedAt = now
		}
		rows[i] = in
	}

	query := `
		INSERT INTO insights (id, run_id, type, source, content, confidence, created_at)
		VALUES (:id, :run_id, :type, :source, :content, :confidence, :created_at)`

	start := time.Now()
	_, err := r.db.NamedExecContext(ctx, query, rows)
	observe("create_insights", start, err)
	if err != nil {
		return errors.Wrapf(err, "insert %d insights", len(rows))
	}
	return nil
}

// ListRecent returns the newest insights across all runs
func (r *InsightRepository) ListRecent(ctx context.Context, limit int) ([]insight.Insight, error) {
	query := `
		SELECT id, run_id, type, source, content, confidence, created_at
		FROM insights
		ORDER BY created_at DESC, confidence DESC
		LIMIT $1`

	out := []insight.Insight{}
	start := time.Now()
	err := r.db.SelectContext(ctx, &out, query, limit)
	observe("list_recent_insights", start, err)
	if err != nil {
		return nil, errors.Wrap(err, "select recent insights")
	}
	return out, nil
}

// ListByRun returns the insights of one run, strongest first
func (r *InsightRepository) ListByRun(ctx context.Context, runID string) ([]insight.Insight, error) {
	query := `
		SELECT id, run_id, type, source, content, confidence, created_at
		FROM insights
		WHERE run_id = $1
		ORDER BY confidence DESC, created_at ASC`

	out := []insight.Insight{}
	start := time.Now()
	err := r.db.SelectContext(ctx, &out, query, runID)
	observe("list_run_insights", start, err)
	if err != nil {
		return nil, errors.Wrapf(err, "select insights of run %s", runID)
	}
	return out, nil
}
