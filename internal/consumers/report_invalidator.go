package consumers

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"fintelli/internal/adapters/kafka"
	"fintelli/internal/domain/run"
	"fintelli/internal/events"
	"fintelli/internal/workflow"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// MessageSource is the subset of kafka.Consumer used by consumers
type MessageSource interface {
	Consume(ctx context.Context, handler kafka.MessageHandler) error
	Close() error
}

// ReportCache drops cached reports
type ReportCache interface {
	Invalidate(ctx context.Context, key string) error
}

// ReportInvalidator drops cached reports when another instance completes a
// run for the same query and window, so dashboards pick up fresh data
// before the report TTL expires.
type ReportInvalidator struct {
	source  MessageSource
	reports ReportCache
	self    string
	log     *logger.Logger
}

// NewReportInvalidator creates the consumer. self is the local
// orchestrator instance; its own events are skipped because the local
// report layer already holds the result.
func NewReportInvalidator(source MessageSource, reports ReportCache, self string, log *logger.Logger) *ReportInvalidator {
	return &ReportInvalidator{
		source:  source,
		reports: reports,
		self:    self,
		log:     log.With("component", "report_invalidator"),
	}
}

// Start consumes until ctx is cancelled
func (c *ReportInvalidator) Start(ctx context.Context) error {
	c.log.Infow("Subscribed to workflow events", "topic", kafka.TopicWorkflowCompleted)

	defer func() {
		if err := c.source.Close(); err != nil {
			c.log.Errorw("Failed to close report invalidator", "error", err)
		}
	}()

	err := c.source.Consume(ctx, c.handle)
	if ctx.Err() != nil {
		c.log.Info("Report invalidator stopped")
		return nil
	}
	return err
}

func (c *ReportInvalidator) handle(ctx context.Context, msg kafkago.Message) error {
	var ev events.WorkflowCompletedEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return errors.Wrap(err, "decode workflow.completed")
	}
	if ev.FromSource(c.self) {
		return nil
	}
	switch run.State(ev.State) {
	case run.StateSucceeded, run.StatePartial:
	default:
		return nil
	}
	if ev.WindowHours <= 0 {
		return errors.NewValidationError("window_hours", "must be positive", ev.WindowHours)
	}

	key := workflow.ReportKey(ev.Query, time.Duration(ev.WindowHours)*time.Hour)
	if err := c.reports.Invalidate(ctx, key); err != nil {
		return errors.Wrapf(err, "invalidate report for run %s", ev.RunID)
	}
	c.log.Debugw("Report invalidated", "run_id", ev.RunID, "source", ev.Source, "query", ev.Query)
	return nil
}
