package postgres

import (
	"context"
	"database/sql"
	"time"

	"fintelli/internal/domain/run"
	"fintelli/pkg/errors"
)

// Compile-time check
var _ run.Repository = (*WorkflowRunRepository)(nil)

// WorkflowRunRepository implements run.Repository using sqlx
type WorkflowRunRepository struct {
	db DBTX
}

// NewWorkflowRunRepository creates a new workflow run repository
func NewWorkflowRunRepository(db DBTX) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db}
}

// Save upserts a run record keyed by its id
func (r *WorkflowRunRepository) Save(ctx context.Context, wr *run.WorkflowRun) error {
	statuses := string(wr.AgentStatuses)
	if statuses == "" {
		statuses = "{}"
	}

	query := `
		INSERT INTO workflow_runs (
			id, state, query, window_from, window_to, posts_ingested, posts_processed,
			agent_statuses, error, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			posts_ingested = EXCLUDED.posts_ingested,
			posts_processed = EXCLUDED.posts_processed,
			agent_statuses = EXCLUDED.agent_statuses,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		wr.ID, wr.State, wr.Query, wr.WindowFrom, wr.WindowTo, wr.PostsIngested, wr.PostsProcessed,
		statuses, wr.Error, wr.StartedAt, wr.FinishedAt,
	)
	observe("save_run", start, err)
	if err != nil {
		return errors.Wrapf(err, "save run %s", wr.ID)
	}
	return nil
}

// GetByID returns a persisted run or errors.ErrNotFound
func (r *WorkflowRunRepository) GetByID(ctx context.Context, id string) (*run.WorkflowRun, error) {
	query := `
		SELECT id, state, query, window_from, window_to, posts_ingested, posts_processed,
			agent_statuses, error, started_at, finished_at
		FROM workflow_runs
		WHERE id = $1`

	var wr run.WorkflowRun
	start := time.Now()
	err := r.db.GetContext(ctx, &wr, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		observe("get_run", start, nil)
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", id)
	}
	observe("get_run", start, err)
	if err != nil {
		return nil, errors.Wrapf(err, "select run %s", id)
	}
	return &wr, nil
}
