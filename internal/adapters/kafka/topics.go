package kafka

// Topic definitions for Kafka event streaming
const (
	// Workflow lifecycle
	TopicWorkflowCompleted = "workflow.completed"

	// Compiled insights, one message per run
	TopicInsightsGenerated = "insights.generated"
)
