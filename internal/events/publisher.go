package events

import (
	"context"

	"fintelli/internal/adapters/kafka"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// Publisher announces workflow outcomes to other services
type Publisher interface {
	PublishWorkflowCompleted(ctx context.Context, event *WorkflowCompletedEvent) error
	PublishInsightsGenerated(ctx context.Context, event *InsightsGeneratedEvent) error
}

// Producer is the transport a KafkaPublisher writes to
type Producer interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*NoopPublisher)(nil)
	_ Producer  = (*kafka.Producer)(nil)
)

// KafkaPublisher publishes JSON events keyed by run id, so a run's events
// land on one partition in order
type KafkaPublisher struct {
	producer Producer
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer Producer) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// PublishWorkflowCompleted publishes a run's terminal state
func (p *KafkaPublisher) PublishWorkflowCompleted(ctx context.Context, event *WorkflowCompletedEvent) error {
	event.Query = SanitizeUTF8(event.Query)
	event.Error = SanitizeUTF8(event.Error)
	return p.publish(ctx, kafka.TopicWorkflowCompleted, event.RunID, event)
}

// PublishInsightsGenerated publishes a compiled report's headline
func (p *KafkaPublisher) PublishInsightsGenerated(ctx context.Context, event *InsightsGeneratedEvent) error {
	event.TopInsights = sanitizeAll(event.TopInsights)
	return p.publish(ctx, kafka.TopicInsightsGenerated, event.RunID, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, event interface{}) error {
	if err := p.producer.Publish(ctx, topic, key, event); err != nil {
		return errors.Wrapf(err, "send to kafka topic %s", topic)
	}
	p.log.Debugw("Event published", "topic", topic, "run_id", key)
	return nil
}

// NoopPublisher drops events when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) PublishWorkflowCompleted(context.Context, *WorkflowCompletedEvent) error {
	return nil
}

func (NoopPublisher) PublishInsightsGenerated(context.Context, *InsightsGeneratedEvent) error {
	return nil
}
