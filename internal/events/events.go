package events

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"fintelli/internal/adapters/kafka"
)

// Event types
const (
	TypeWorkflowCompleted = kafka.TopicWorkflowCompleted
	TypeInsightsGenerated = kafka.TopicInsightsGenerated
)

// BaseEvent is the envelope shared by every event
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// FromSource reports whether the event was produced by source
func (e BaseEvent) FromSource(source string) bool {
	return e.Source == source
}

// NewBaseEvent creates an envelope with a fresh id and the current time
func NewBaseEvent(eventType, source string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
	}
}

// WorkflowCompletedEvent is published once per run on reaching a terminal state
type WorkflowCompletedEvent struct {
	BaseEvent
	RunID          string   `json:"run_id"`
	State          string   `json:"state"`
	Query          string   `json:"query"`
	WindowHours    int      `json:"window_hours"`
	PostsIngested  int      `json:"posts_ingested"`
	PostsProcessed int      `json:"posts_processed"`
	FailedAgents   []string `json:"failed_agents,omitempty"`
	Error          string   `json:"error,omitempty"`
	DurationMs     int64    `json:"duration_ms"`
}

// InsightsGeneratedEvent carries the headline of a compiled report
type InsightsGeneratedEvent struct {
	BaseEvent
	RunID            string             `json:"run_id"`
	OverallHealth    float64            `json:"overall_health"`
	OpportunityScore float64            `json:"opportunity_score"`
	RiskLevel        string             `json:"risk_level"`
	Confidence       float64            `json:"confidence"`
	TopInsights      []string           `json:"top_insights"`
	ShareOfVoice     map[string]float64 `json:"share_of_voice,omitempty"`
}

// SanitizeUTF8 drops invalid byte sequences. Model output and scraped posts
// occasionally carry them and kafka consumers in other languages reject them.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}

func sanitizeAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = SanitizeUTF8(s)
	}
	return out
}
