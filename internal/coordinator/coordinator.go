package coordinator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"fintelli/internal/adapters/config"
	"fintelli/internal/agents/schemas"
	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// DefaultHealth is the overall health reported when no agent produced a
// usable reading
const DefaultHealth = 7.5

var areas = map[string]string{
	schemas.AgentSocialIntelligence: "Social intelligence",
	schemas.AgentMarketSentiment:    "Market sentiment analysis",
	schemas.AgentCompetitorAnalysis: "Competitor intelligence",
}

// Coordinator merges agent results into one CompiledReport
type Coordinator struct {
	cfg     config.CoordinatorConfig
	tracker errors.Tracker
	log     *logger.Logger
	now     func() time.Time
}

// New creates a coordinator. tracker may be nil.
func New(cfg config.CoordinatorConfig, tracker errors.Tracker) *Coordinator {
	if cfg.MaxTopInsights <= 0 {
		cfg.MaxTopInsights = 10
	}
	if cfg.DisagreementPenalty <= 0 || cfg.DisagreementPenalty > 1 {
		cfg.DisagreementPenalty = 0.5
	}
	return &Coordinator{
		cfg:     cfg,
		tracker: tracker,
		log:     logger.Get().With("component", "coordinator"),
		now:     time.Now,
	}
}

// Compile is pure apart from logging and error reporting: the input map is
// not modified and the returned report shares no memory with it.
func (c *Coordinator) Compile(runID string, results map[string]schemas.AgentResult) schemas.CompiledReport {
	report := schemas.CompiledReport{
		RunID:         runID,
		PerAgent:      make(map[string]schemas.AgentResult, len(schemas.AgentNames)),
		ShareOfVoice:  map[string]float64{},
		Opportunities: []schemas.InvestmentOpportunity{},
		GeneratedAt:   c.now().UTC(),
	}

	var notices []schemas.RankedInsight
	for _, name := range agentOrder(results) {
		res, ok := results[name]
		if !ok {
			res = schemas.Failed(name)
		} else {
			res = c.sanitize(runID, name, res)
		}
		report.PerAgent[name] = res

		if res.Status != schemas.StatusOK {
			notices = append(notices, schemas.RankedInsight{
				Text:   area(name) + " unavailable this run",
				Notice: true,
			})
		}
	}

	report.Confidence = c.confidence(report.PerAgent)
	if note, ok := c.crossValidate(report.PerAgent); ok {
		report.Disagreement = true
		report.Confidence *= c.cfg.DisagreementPenalty
		notices = append(notices, schemas.RankedInsight{Text: note, Notice: true})
	}
	report.Confidence = round(report.Confidence, 3)

	report.Highlights = c.rank(report.PerAgent, notices)
	report.TopInsights = make([]string, len(report.Highlights))
	for i, h := range report.Highlights {
		report.TopInsights[i] = h.Text
	}

	c.score(&report)
	report.ShareOfVoice = shareOfVoice(report.PerAgent)
	report.Opportunities = opportunities(report.PerAgent)

	metrics.ReportConfidence.Set(report.Confidence)
	c.log.Infow("Report compiled",
		"run_id", runID,
		"confidence", report.Confidence,
		"disagreement", report.Disagreement,
		"failed_agents", report.FailedAgents(),
		"insights", len(report.TopInsights))
	return report
}

// sanitize deep-copies a result and repairs anything that breaks the schema
func (c *Coordinator) sanitize(runID, name string, in schemas.AgentResult) schemas.AgentResult {
	res := in.Clone()
	if res.AgentName == "" {
		res.AgentName = name
	}
	if !res.Status.Valid() {
		res.Status = schemas.StatusFailed
	}

	if missing := res.MissingFields(); len(missing) > 0 {
		err := errors.Wrapf(errors.ErrSchemaViolation, "agent %s result missing %s", name, strings.Join(missing, ", "))
		c.log.Errorw("Agent result violates schema", "run_id", runID, "agent", name, "missing", missing, "error", err)
		if c.tracker != nil {
			_ = c.tracker.CaptureError(context.Background(), err, map[string]string{
				"component": "coordinator",
				"agent":     name,
				"run_id":    runID,
			})
		}
	}
	res.Normalize()
	if res.Status != schemas.StatusOK {
		res.Confidence = 0
	}
	return res
}

// confidence averages ok confidences over every expected agent, so missing
// and failed agents pull the report confidence down
func (c *Coordinator) confidence(per map[string]schemas.AgentResult) float64 {
	var sum float64
	for _, res := range per {
		if res.Status == schemas.StatusOK {
			sum += res.Confidence
		}
	}
	n := len(per)
	if n < len(schemas.AgentNames) {
		n = len(schemas.AgentNames)
	}
	return sum / float64(n)
}

// crossValidate reports whether ok agents read sentiment in opposite
// directions by more than the divergence threshold
func (c *Coordinator) crossValidate(per map[string]schemas.AgentResult) (string, bool) {
	var (
		hiName, loName string
		hi, lo         = math.Inf(-1), math.Inf(1)
	)
	for _, name := range agentOrder(per) {
		res := per[name]
		if res.Status != schemas.StatusOK {
			continue
		}
		s := res.SentimentAnalysis.Score
		if s > hi {
			hi, hiName = s, name
		}
		if s < lo {
			lo, loName = s, name
		}
	}
	if hiName == "" || hiName == loName {
		return "", false
	}
	if hi < c.cfg.PolarityThreshold || lo > -c.cfg.PolarityThreshold || hi-lo <= c.cfg.DivergenceThreshold {
		return "", false
	}
	return fmt.Sprintf("Agents disagree on sentiment: %s reads %+.2f while %s reads %+.2f; treat this report with caution",
		hiName, hi, loName, lo), true
}

// rank merges agent insights with coordinator notices. Notices are always
// kept; agent insights fill the remaining slots by confidence.
func (c *Coordinator) rank(per map[string]schemas.AgentResult, notices []schemas.RankedInsight) []schemas.RankedInsight {
	seen := make(map[string]bool)
	out := make([]schemas.RankedInsight, 0, c.cfg.MaxTopInsights)

	for _, n := range notices {
		key := normalizeText(n.Text)
		if seen[key] || len(out) == c.cfg.MaxTopInsights {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}

	var candidates []schemas.RankedInsight
	for _, name := range agentOrder(per) {
		res := per[name]
		for _, text := range res.Insights {
			key := normalizeText(text)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, schemas.RankedInsight{
				Text:       text,
				Agent:      name,
				Confidence: res.Confidence,
			})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	for _, cand := range candidates {
		if len(out) == c.cfg.MaxTopInsights {
			break
		}
		out = append(out, cand)
	}
	return out
}

// score fills the 0-10 health and opportunity scores and the risk level
func (c *Coordinator) score(report *schemas.CompiledReport) {
	report.RiskLevel = "unknown"

	market, ok := report.PerAgent[schemas.AgentMarketSentiment]
	if ok && market.Status != schemas.StatusFailed && market.HealthIndicators.MarketHealth != "unknown" {
		h := market.HealthIndicators
		report.OverallHealth = round(h.HealthScore*10, 1)
		report.OpportunityScore = round(h.OpportunityScore*10, 1)
		report.RiskLevel = h.RiskLevel
		return
	}

	var sum float64
	var n int
	for _, res := range report.PerAgent {
		if res.Status == schemas.StatusFailed {
			continue
		}
		sum += res.SentimentAnalysis.Score
		n++
	}
	if n == 0 {
		report.OverallHealth = DefaultHealth
		report.OpportunityScore = DefaultHealth
		return
	}
	derived := round((sum/float64(n)+1)/2*10, 1)
	report.OverallHealth = derived
	report.OpportunityScore = derived
}

// shareOfVoice takes the competitor agent's breakdown, falling back to any
// other agent that reported mentions
func shareOfVoice(per map[string]schemas.AgentResult) map[string]float64 {
	sources := []string{schemas.AgentCompetitorAnalysis}
	for _, name := range agentOrder(per) {
		if name != schemas.AgentCompetitorAnalysis {
			sources = append(sources, name)
		}
	}

	for _, name := range sources {
		res, ok := per[name]
		if !ok || res.Status == schemas.StatusFailed || len(res.CompetitorMentions) == 0 {
			continue
		}

		total := 0
		for _, m := range res.CompetitorMentions {
			total += m.Count
		}
		out := make(map[string]float64, len(res.CompetitorMentions))
		for comp, m := range res.CompetitorMentions {
			if total > 0 {
				out[comp] = round(float64(m.Count)/float64(total), 3)
			} else {
				out[comp] = m.ShareOfVoice
			}
		}
		return out
	}
	return map[string]float64{}
}

// opportunities copies the market agent's investment opportunities, most
// confident first
func opportunities(per map[string]schemas.AgentResult) []schemas.InvestmentOpportunity {
	out := []schemas.InvestmentOpportunity{}
	market, ok := per[schemas.AgentMarketSentiment]
	if !ok || market.Status == schemas.StatusFailed || market.HealthIndicators == nil {
		return out
	}
	out = append(out, market.HealthIndicators.Opportunities...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// agentOrder lists known agents in report order followed by any extra
// names sorted, so iteration is deterministic
func agentOrder(results map[string]schemas.AgentResult) []string {
	order := append([]string{}, schemas.AgentNames...)
	var extra []string
	for name := range results {
		if _, known := areas[name]; !known {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

func area(name string) string {
	if a, ok := areas[name]; ok {
		return a
	}
	return name + " analysis"
}

func normalizeText(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!;: ")
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
