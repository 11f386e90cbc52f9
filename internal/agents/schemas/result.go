package schemas

import (
	"strings"
	"time"

	"fintelli/pkg/errors"
)

// Status is the terminal state of one agent invocation
type Status string

const (
	// StatusOK means the model output parsed against the schema
	StatusOK Status = "ok"
	// StatusFallback means the agent responded but its output was unusable
	StatusFallback Status = "fallback"
	// StatusFailed means the agent did not respond in time
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusFallback, StatusFailed:
		return true
	}
	return false
}

// Agent names
const (
	AgentSocialIntelligence = "socialIntelligence"
	AgentMarketSentiment    = "marketSentiment"
	AgentCompetitorAnalysis = "competitorAnalysis"
)

// AgentNames lists every analysis agent in report order
var AgentNames = []string{AgentSocialIntelligence, AgentMarketSentiment, AgentCompetitorAnalysis}

// SentimentAnalysis is the overall sentiment reading of an agent
type SentimentAnalysis struct {
	Overall  string   `json:"overall"` // positive|negative|neutral|mixed
	Score    float64  `json:"score"`   // [-1,1]
	Positive int      `json:"positive"`
	Negative int      `json:"negative"`
	Neutral  int      `json:"neutral"`
	Drivers  []string `json:"drivers"`
}

// InvestmentOpportunity is a segment-level opening backed by post evidence
type InvestmentOpportunity struct {
	Segment     string  `json:"segment"`
	Opportunity string  `json:"opportunity"`
	Evidence    string  `json:"evidence"`
	Confidence  float64 `json:"confidence"`
}

// HealthIndicators describe the market as a whole. Scores are on [0,1].
type HealthIndicators struct {
	MarketHealth     string                  `json:"market_health"` // strong|stable|caution|weak|unknown
	HealthScore      float64                 `json:"health_score"`
	OpportunityScore float64                 `json:"opportunity_score"`
	RiskLevel        string                  `json:"risk_level"` // low|medium|high|unknown
	GrowthSegments   []string                `json:"growth_segments"`
	RiskFactors      map[string]int          `json:"risk_factors"`
	Opportunities    []InvestmentOpportunity `json:"investment_opportunities"`
}

// CompetitorMention is the per-competitor slice of a result
type CompetitorMention struct {
	Count          int     `json:"count"`
	Sentiment      string  `json:"sentiment"`
	SentimentScore float64 `json:"sentiment_score"`
	ShareOfVoice   float64 `json:"share_of_voice"`
	Summary        string  `json:"summary"`
}

// AgentResult is the only shape an agent hands to the rest of the system.
// All five payload fields are mandatory and always serialized.
type AgentResult struct {
	AgentName          string                       `json:"agent_name"`
	Status             Status                       `json:"status"`
	SentimentAnalysis  *SentimentAnalysis           `json:"sentiment_analysis"`
	TrendingTopics     []string                     `json:"trending_topics"`
	Insights           []string                     `json:"insights"`
	HealthIndicators   *HealthIndicators            `json:"health_indicators"`
	CompetitorMentions map[string]CompetitorMention `json:"competitor_mentions"`
	Confidence         float64                      `json:"confidence"`
	CreatedAt          time.Time                    `json:"created_at"`
}

// NeutralSentiment is the empty sentiment payload
func NeutralSentiment() *SentimentAnalysis {
	return &SentimentAnalysis{Overall: "neutral", Drivers: []string{}}
}

// UnknownHealth is the empty health payload
func UnknownHealth() *HealthIndicators {
	return &HealthIndicators{
		MarketHealth:   "unknown",
		RiskLevel:      "unknown",
		GrowthSegments: []string{},
		RiskFactors:    map[string]int{},
		Opportunities:  []InvestmentOpportunity{},
	}
}

// Empty returns a result with every payload field set to its neutral value
func Empty(agentName string, status Status) AgentResult {
	return AgentResult{
		AgentName:          agentName,
		Status:             status,
		SentimentAnalysis:  NeutralSentiment(),
		TrendingTopics:     []string{},
		Insights:           []string{},
		HealthIndicators:   UnknownHealth(),
		CompetitorMentions: map[string]CompetitorMention{},
		CreatedAt:          time.Now().UTC(),
	}
}

// Failed is the synthetic result for an agent that did not respond in time
func Failed(agentName string) AgentResult {
	return Empty(agentName, StatusFailed)
}

// Clone returns a deep copy so callers can modify a result shared through the cache
func (r *AgentResult) Clone() AgentResult {
	out := *r
	if r.SentimentAnalysis != nil {
		s := *r.SentimentAnalysis
		s.Drivers = cloneStrings(r.SentimentAnalysis.Drivers)
		out.SentimentAnalysis = &s
	}
	out.TrendingTopics = cloneStrings(r.TrendingTopics)
	out.Insights = cloneStrings(r.Insights)
	if r.HealthIndicators != nil {
		h := *r.HealthIndicators
		h.GrowthSegments = cloneStrings(r.HealthIndicators.GrowthSegments)
		if r.HealthIndicators.RiskFactors != nil {
			h.RiskFactors = make(map[string]int, len(r.HealthIndicators.RiskFactors))
			for k, v := range r.HealthIndicators.RiskFactors {
				h.RiskFactors[k] = v
			}
		}
		if r.HealthIndicators.Opportunities != nil {
			h.Opportunities = append([]InvestmentOpportunity{}, r.HealthIndicators.Opportunities...)
		}
		out.HealthIndicators = &h
	}
	if r.CompetitorMentions != nil {
		out.CompetitorMentions = make(map[string]CompetitorMention, len(r.CompetitorMentions))
		for k, v := range r.CompetitorMentions {
			out.CompetitorMentions[k] = v
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

// MissingFields lists the mandatory payload fields that are nil
func (r *AgentResult) MissingFields() []string {
	var missing []string
	if r.SentimentAnalysis == nil {
		missing = append(missing, "sentiment_analysis")
	}
	if r.TrendingTopics == nil {
		missing = append(missing, "trending_topics")
	}
	if r.Insights == nil {
		missing = append(missing, "insights")
	}
	if r.HealthIndicators == nil {
		missing = append(missing, "health_indicators")
	}
	if r.CompetitorMentions == nil {
		missing = append(missing, "competitor_mentions")
	}
	return missing
}

// Normalize fills missing fields with neutral values, drops blank strings
// and clamps scores into range. It is idempotent.
func (r *AgentResult) Normalize() {
	if r.SentimentAnalysis == nil {
		r.SentimentAnalysis = NeutralSentiment()
	}
	if r.SentimentAnalysis.Overall == "" {
		r.SentimentAnalysis.Overall = "neutral"
	}
	r.SentimentAnalysis.Score = clamp(r.SentimentAnalysis.Score, -1, 1)
	r.SentimentAnalysis.Drivers = compact(r.SentimentAnalysis.Drivers)

	r.TrendingTopics = compact(r.TrendingTopics)
	r.Insights = compact(r.Insights)

	if r.HealthIndicators == nil {
		r.HealthIndicators = UnknownHealth()
	}
	h := r.HealthIndicators
	if h.MarketHealth == "" {
		h.MarketHealth = "unknown"
	}
	if h.RiskLevel == "" {
		h.RiskLevel = "unknown"
	}
	h.HealthScore = clamp(h.HealthScore, 0, 1)
	h.OpportunityScore = clamp(h.OpportunityScore, 0, 1)
	h.GrowthSegments = compact(h.GrowthSegments)
	if h.RiskFactors == nil {
		h.RiskFactors = map[string]int{}
	}
	h.Opportunities = compactOpportunities(h.Opportunities)

	if r.CompetitorMentions == nil {
		r.CompetitorMentions = map[string]CompetitorMention{}
	}
	for name, m := range r.CompetitorMentions {
		if strings.TrimSpace(name) == "" {
			delete(r.CompetitorMentions, name)
			continue
		}
		if m.Count < 0 {
			m.Count = 0
		}
		if m.Sentiment == "" {
			m.Sentiment = "neutral"
		}
		m.SentimentScore = clamp(m.SentimentScore, -1, 1)
		m.ShareOfVoice = clamp(m.ShareOfVoice, 0, 1)
		r.CompetitorMentions[name] = m
	}

	r.Confidence = clamp(r.Confidence, 0, 1)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// Validate checks the result against the mandatory schema
func (r *AgentResult) Validate() error {
	if r.AgentName == "" {
		return errors.NewValidationError("agent_name", "is required", r.AgentName)
	}
	if !r.Status.Valid() {
		return errors.NewValidationError("status", "unknown status", r.Status)
	}
	if missing := r.MissingFields(); len(missing) > 0 {
		return errors.NewValidationError(missing[0], "mandatory field missing", missing)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.NewValidationError("confidence", "must be within [0,1]", r.Confidence)
	}
	if r.Status != StatusOK && r.Confidence != 0 {
		return errors.NewValidationError("confidence", "must be 0 unless status is ok", r.Confidence)
	}
	if s := r.SentimentAnalysis.Score; s < -1 || s > 1 {
		return errors.NewValidationError("sentiment_analysis.score", "must be within [-1,1]", s)
	}
	return nil
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// compactOpportunities drops entries without a description and clamps confidences
func compactOpportunities(items []InvestmentOpportunity) []InvestmentOpportunity {
	out := make([]InvestmentOpportunity, 0, len(items))
	for _, o := range items {
		o.Opportunity = strings.TrimSpace(o.Opportunity)
		if o.Opportunity == "" {
			continue
		}
		o.Segment = strings.TrimSpace(o.Segment)
		o.Evidence = strings.TrimSpace(o.Evidence)
		o.Confidence = clamp(o.Confidence, 0, 1)
		out = append(out, o)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
