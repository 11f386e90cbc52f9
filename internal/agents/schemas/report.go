package schemas

import "time"

// RankedInsight is one entry of the compiled insight list with its provenance
type RankedInsight struct {
	Text       string  `json:"text"`
	Agent      string  `json:"agent"` // empty for coordinator notices
	Confidence float64 `json:"confidence"`
	Notice     bool    `json:"notice"`
}

// CompiledReport is the coordinator's merged view of one run. It is never
// mutated after Compile returns.
type CompiledReport struct {
	RunID            string                  `json:"run_id"`
	OverallHealth    float64                 `json:"overall_health"`    // 0-10
	OpportunityScore float64                 `json:"opportunity_score"` // 0-10
	RiskLevel        string                  `json:"risk_level"`
	Confidence       float64                 `json:"confidence"`
	Disagreement     bool                    `json:"disagreement"`
	PerAgent         map[string]AgentResult  `json:"per_agent"`
	TopInsights      []string                `json:"top_insights"`
	Highlights       []RankedInsight         `json:"highlights"`
	ShareOfVoice     map[string]float64      `json:"share_of_voice"`
	Opportunities    []InvestmentOpportunity `json:"investment_opportunities"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

// FailedAgents returns the names of agents whose slot holds a failed result
func (r *CompiledReport) FailedAgents() []string {
	var failed []string
	for _, name := range AgentNames {
		if res, ok := r.PerAgent[name]; ok && res.Status == StatusFailed {
			failed = append(failed, name)
		}
	}
	return failed
}
