package run

import (
	"encoding/json"
	"time"
)

// State of a workflow run
type State string

const (
	StatePending    State = "PENDING"
	StateIngesting  State = "INGESTING"
	StateProcessing State = "PROCESSING"
	StateAnalyzing  State = "ANALYZING"
	StateCompiling  State = "COMPILING"
	StateSucceeded  State = "SUCCEEDED"
	StatePartial    State = "PARTIAL"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StatePartial || s == StateFailed
}

// WorkflowRun is the persisted metadata of a finished run
type WorkflowRun struct {
	ID             string          `db:"id" json:"id"`
	State          State           `db:"state" json:"state"`
	Query          string          `db:"query" json:"query"`
	WindowFrom     time.Time       `db:"window_from" json:"window_from"`
	WindowTo       time.Time       `db:"window_to" json:"window_to"`
	PostsIngested  int             `db:"posts_ingested" json:"posts_ingested"`
	PostsProcessed int             `db:"posts_processed" json:"posts_processed"`
	AgentStatuses  json.RawMessage `db:"agent_statuses" json:"agent_statuses"`
	Error          string          `db:"error" json:"error,omitempty"`
	StartedAt      time.Time       `db:"started_at" json:"started_at"`
	FinishedAt     time.Time       `db:"finished_at" json:"finished_at"`
}

// AgentExecution is one agent invocation within a run, kept for analytics
type AgentExecution struct {
	RunID      string    `ch:"run_id"`
	Agent      string    `ch:"agent"`
	Status     string    `ch:"status"`
	CacheHit   bool      `ch:"cache_hit"`
	Confidence float64   `ch:"confidence"`
	DurationMs int64     `ch:"duration_ms"`
	CreatedAt  time.Time `ch:"created_at"`
}

// AgentSummary aggregates executions of one agent over a period
type AgentSummary struct {
	Agent         string  `ch:"agent" json:"agent"`
	Executions    uint64  `ch:"executions" json:"executions"`
	Failures      uint64  `ch:"failures" json:"failures"`
	CacheHits     uint64  `ch:"cache_hits" json:"cache_hits"`
	AvgConfidence float64 `ch:"avg_confidence" json:"avg_confidence"`
	AvgDurationMs float64 `ch:"avg_duration_ms" json:"avg_duration_ms"`
}
