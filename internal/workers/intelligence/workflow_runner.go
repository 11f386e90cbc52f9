package intelligence

import (
	"context"
	"time"

	"fintelli/internal/agents/schemas"
	"fintelli/internal/workers"
	"fintelli/internal/workflow"
	"fintelli/pkg/errors"
)

// Workflows runs workflows synchronously
type Workflows interface {
	RunWorkflow(ctx context.Context, p workflow.Params) (schemas.CompiledReport, error)
	Defaults(p workflow.Params) workflow.Params
}

// ReportCache receives reports compiled outside the API
type ReportCache interface {
	Set(ctx context.Context, key string, report schemas.CompiledReport, ttl time.Duration) error
}

// WorkflowRunner runs the default workflow on a schedule and refreshes
// the cached report, so dashboards rarely wait on a cold run
type WorkflowRunner struct {
	*workers.BaseWorker
	workflows Workflows
	reports   ReportCache
	reportTTL time.Duration
	params    workflow.Params
}

// NewWorkflowRunner creates the worker. reports may be nil, in which case
// runs only persist their results.
func NewWorkflowRunner(
	workflows Workflows,
	reports ReportCache,
	reportTTL time.Duration,
	params workflow.Params,
	interval time.Duration,
	enabled bool,
) *WorkflowRunner {
	return &WorkflowRunner{
		BaseWorker: workers.NewBaseWorker("workflow_runner", interval, enabled),
		workflows:  workflows,
		reports:    reports,
		reportTTL:  reportTTL,
		params:     workflows.Defaults(params),
	}
}

// Run executes one workflow run
func (w *WorkflowRunner) Run(ctx context.Context) error {
	report, err := w.workflows.RunWorkflow(ctx, w.params)
	if err != nil {
		return errors.Wrap(err, "scheduled workflow")
	}

	w.Log().Infow("Scheduled workflow completed",
		"run_id", report.RunID,
		"overall_health", report.OverallHealth,
		"risk_level", report.RiskLevel,
		"confidence", report.Confidence,
	)

	if w.reports == nil {
		return nil
	}
	key := workflow.ReportKey(w.params.Query, w.params.Window)
	if err := w.reports.Set(ctx, key, report, w.reportTTL); err != nil {
		// the API recomputes on its next miss
		w.Log().Warnw("Failed to refresh cached report", "run_id", report.RunID, "error", err)
	}
	return nil
}
