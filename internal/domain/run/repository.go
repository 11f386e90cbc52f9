package run

import (
	"context"
	"time"
)

// Repository persists finished workflow runs
type Repository interface {
	Save(ctx context.Context, r *WorkflowRun) error
	GetByID(ctx context.Context, id string) (*WorkflowRun, error)
}

// ExecutionRecorder ships per-agent execution rows to the analytics store
type ExecutionRecorder interface {
	RecordExecutions(ctx context.Context, executions []AgentExecution) error
}

// ExecutionStats reads aggregated agent executions back for reporting
type ExecutionStats interface {
	Summaries(ctx context.Context, since time.Time) ([]AgentSummary, error)
}
