package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintelli/internal/agents"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/coordinator"
	"fintelli/internal/domain/insight"
	"fintelli/internal/domain/post"
	"fintelli/internal/domain/run"
	"fintelli/internal/events"
)

// runRecord is everything persisted about a finished run
type runRecord struct {
	id        string
	state     run.State
	params    Params
	window    post.Window
	ingested  int
	processed int
	started   time.Time
	outcomes  map[string]agents.Outcome
	report    *schemas.CompiledReport
	briefing  *coordinator.Briefing
	err       error
}

// persist writes insights, the run row and agent telemetry, then publishes
// events. Failures are logged and never change the run's terminal state.
func (o *Orchestrator) persist(ctx context.Context, rec runRecord) {
	// A cancelled run still records how it ended
	ctx = context.WithoutCancel(ctx)
	log := o.log.With("run_id", rec.id)
	finished := o.now().UTC()

	if rec.report != nil && o.deps.Insights != nil {
		batch := Insights(*rec.report)
		if rec.briefing != nil {
			batch = append(batch, BriefingInsight(*rec.briefing))
		}
		if err := o.deps.Insights.CreateBatch(ctx, batch); err != nil {
			log.Errorw("Failed to persist insights", "error", err)
		}
	}

	if o.deps.Runs != nil {
		if err := o.deps.Runs.Save(ctx, rec.toRun(finished)); err != nil {
			log.Errorw("Failed to persist workflow run", "error", err)
		}
	}

	if len(rec.outcomes) > 0 && o.deps.Recorder != nil {
		if err := o.deps.Recorder.RecordExecutions(ctx, rec.executions(finished)); err != nil {
			log.Warnw("Failed to record agent executions", "error", err)
		}
	}

	completed := &events.WorkflowCompletedEvent{
		BaseEvent:      events.NewBaseEvent(events.TypeWorkflowCompleted, o.instance),
		RunID:          rec.id,
		State:          string(rec.state),
		Query:          rec.params.Query,
		WindowHours:    int(rec.params.Window / time.Hour),
		PostsIngested:  rec.ingested,
		PostsProcessed: rec.processed,
		DurationMs:     finished.Sub(rec.started).Milliseconds(),
	}
	if rec.err != nil {
		completed.Error = rec.err.Error()
	}
	if rec.report != nil {
		completed.FailedAgents = rec.report.FailedAgents()
	}
	if err := o.deps.Events.PublishWorkflowCompleted(ctx, completed); err != nil {
		log.Warnw("Failed to publish workflow completion", "error", err)
	}

	if rec.report != nil {
		generated := &events.InsightsGeneratedEvent{
			BaseEvent:        events.NewBaseEvent(events.TypeInsightsGenerated, o.instance),
			RunID:            rec.id,
			OverallHealth:    rec.report.OverallHealth,
			OpportunityScore: rec.report.OpportunityScore,
			RiskLevel:        rec.report.RiskLevel,
			Confidence:       rec.report.Confidence,
			TopInsights:      append([]string{}, rec.report.TopInsights...),
			ShareOfVoice:     rec.report.ShareOfVoice,
		}
		if err := o.deps.Events.PublishInsightsGenerated(ctx, generated); err != nil {
			log.Warnw("Failed to publish insights", "error", err)
		}
	}
}

func (rec runRecord) toRun(finished time.Time) *run.WorkflowRun {
	statuses := make(map[string]schemas.Status, len(rec.outcomes))
	for name, out := range rec.outcomes {
		statuses[name] = out.Result.Status
	}
	if rec.report != nil {
		for name, res := range rec.report.PerAgent {
			statuses[name] = res.Status
		}
	}
	raw, _ := json.Marshal(statuses)

	wr := &run.WorkflowRun{
		ID:             rec.id,
		State:          rec.state,
		Query:          rec.params.Query,
		WindowFrom:     rec.window.From,
		WindowTo:       rec.window.To,
		PostsIngested:  rec.ingested,
		PostsProcessed: rec.processed,
		AgentStatuses:  raw,
		StartedAt:      rec.started.UTC(),
		FinishedAt:     finished,
	}
	if rec.err != nil {
		wr.Error = rec.err.Error()
	}
	return wr
}

func (rec runRecord) executions(finished time.Time) []run.AgentExecution {
	out := make([]run.AgentExecution, 0, len(rec.outcomes))
	for _, name := range schemas.AgentNames {
		o, ok := rec.outcomes[name]
		if !ok {
			continue
		}
		out = append(out, run.AgentExecution{
			RunID:      rec.id,
			Agent:      name,
			Status:     string(o.Result.Status),
			CacheHit:   o.CacheHit,
			Confidence: o.Result.Confidence,
			DurationMs: o.Duration.Milliseconds(),
			CreatedAt:  finished,
		})
	}
	return out
}

// Insights projects a compiled report onto append-only insight records:
// one report summary followed by the ranked insights
func Insights(report schemas.CompiledReport) []insight.Insight {
	created := report.GeneratedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	out := make([]insight.Insight, 0, len(report.Highlights)+1)
	out = append(out, insight.Insight{
		ID:     uuid.New(),
		RunID:  report.RunID,
		Type:   insight.TypeInvestmentReport,
		Source: "coordinator",
		Content: fmt.Sprintf("Market health %.1f/10, opportunity %.1f/10, risk %s",
			report.OverallHealth, report.OpportunityScore, report.RiskLevel),
		Confidence: report.Confidence,
		CreatedAt:  created,
	})

	for _, h := range report.Highlights {
		in := insight.Insight{
			ID:         uuid.New(),
			RunID:      report.RunID,
			Type:       insight.TypeAgentInsight,
			Source:     h.Agent,
			Content:    h.Text,
			Confidence: h.Confidence,
			CreatedAt:  created,
		}
		if h.Notice {
			in.Type = insight.TypeCoordinatorNote
			in.Source = "coordinator"
		}
		out = append(out, in)
	}
	return out
}

// BriefingInsight stores a daily briefing as one insight whose content is
// the briefing JSON
func BriefingInsight(b coordinator.Briefing) insight.Insight {
	content, _ := json.Marshal(b)
	created := b.GeneratedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return insight.Insight{
		ID:         uuid.New(),
		RunID:      b.RunID,
		Type:       insight.TypeDailyBriefing,
		Source:     "coordinator",
		Content:    string(content),
		Confidence: b.Confidence,
		CreatedAt:  created,
	}
}
