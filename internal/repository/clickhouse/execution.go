package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"fintelli/internal/domain/run"
	"fintelli/internal/metrics"
	"fintelli/pkg/clickhouse"
	"fintelli/pkg/errors"
)

// Compile-time checks
var (
	_ run.ExecutionRecorder = (*ExecutionRepository)(nil)
	_ run.ExecutionStats    = (*ExecutionRepository)(nil)
)

// ExecutionsTableDDL creates the agent execution table
const ExecutionsTableDDL = `
	CREATE TABLE IF NOT EXISTS agent_executions (
		run_id String,
		agent LowCardinality(String),
		status LowCardinality(String),
		cache_hit Bool,
		confidence Float64,
		duration_ms Int64,
		created_at DateTime64(3)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (agent, created_at)
	TTL toDateTime(created_at) + INTERVAL 90 DAY`

// appender is the part of driver.Batch the flush needs
type appender interface {
	Append(v ...any) error
}

// ExecutionRepository ships agent executions to ClickHouse through a batch writer
type ExecutionRepository struct {
	conn        driver.Conn
	batchWriter *clickhouse.BatchWriter[run.AgentExecution]
}

// NewExecutionRepository creates a new execution repository with batch writer
func NewExecutionRepository(conn driver.Conn) *ExecutionRepository {
	repo := &ExecutionRepository{conn: conn}
	repo.batchWriter = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[run.AgentExecution]{
		FlushFunc:    repo.flushBatch,
		TableName:    "agent_executions",
		MaxBatchSize: 500,
		MaxAge:       5 * time.Second,
	})
	return repo
}

// EnsureSchema creates the executions table if missing
func (r *ExecutionRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, ExecutionsTableDDL); err != nil {
		return errors.Wrap(err, "create agent_executions table")
	}
	return nil
}

// Start begins the background flush loop
func (r *ExecutionRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop flushes buffered rows and stops the flush loop
func (r *ExecutionRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// RecordExecutions buffers rows; they reach ClickHouse on the next flush
func (r *ExecutionRepository) RecordExecutions(ctx context.Context, executions []run.AgentExecution) error {
	if len(executions) == 0 {
		return nil
	}
	return r.batchWriter.Add(ctx, executions...)
}

func (r *ExecutionRepository) flushBatch(ctx context.Context, batch []run.AgentExecution) error {
	start := time.Now()
	stmt, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO agent_executions (
			run_id, agent, status, cache_hit, confidence, duration_ms, created_at
		)`)
	if err != nil {
		metrics.RecordDBQuery("clickhouse", "insert_executions", time.Since(start), err)
		return errors.Wrap(err, "prepare batch")
	}
	defer stmt.Close()

	if err := appendExecutions(stmt, batch); err != nil {
		return err
	}

	err = stmt.Send()
	metrics.RecordDBQuery("clickhouse", "insert_executions", time.Since(start), err)
	if err != nil {
		return errors.Wrap(err, "send batch")
	}
	return nil
}

func appendExecutions(b appender, batch []run.AgentExecution) error {
	for _, e := range batch {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if err := b.Append(
			e.RunID, e.Agent, e.Status, e.CacheHit, e.Confidence, e.DurationMs, createdAt,
		); err != nil {
			return errors.Wrapf(err, "append execution %s/%s", e.RunID, e.Agent)
		}
	}
	return nil
}

// Summaries aggregates executions per agent since the given time
func (r *ExecutionRepository) Summaries(ctx context.Context, since time.Time) ([]run.AgentSummary, error) {
	query := `
		SELECT
			agent,
			count() AS executions,
			countIf(status = 'failed') AS failures,
			countIf(cache_hit) AS cache_hits,
			avgIf(confidence, status = 'ok') AS avg_confidence,
			avg(duration_ms) AS avg_duration_ms
		FROM agent_executions
		WHERE created_at >= ?
		GROUP BY agent
		ORDER BY agent`

	var out []run.AgentSummary
	start := time.Now()
	err := r.conn.Select(ctx, &out, query, since)
	metrics.RecordDBQuery("clickhouse", "execution_summaries", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "select execution summaries")
	}
	if out == nil {
		out = []run.AgentSummary{}
	}
	return out, nil
}
