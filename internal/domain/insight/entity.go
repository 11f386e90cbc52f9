package insight

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a persisted insight
type Type string

const (
	TypeInvestmentReport Type = "investment_report"
	TypeAgentInsight     Type = "agent_insight"
	TypeCoordinatorNote  Type = "coordinator_note"
	TypeDailyBriefing    Type = "daily_briefing"
)

// Insight is an append-only record produced by a workflow run
type Insight struct {
	ID         uuid.UUID `db:"id" json:"id"`
	RunID      string    `db:"run_id" json:"run_id"`
	Type       Type      `db:"type" json:"type"`
	Source     string    `db:"source" json:"source"`
	Content    string    `db:"content" json:"content"`
	Confidence float64   `db:"confidence" json:"confidence"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
