package agents

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"fintelli/internal/agents/schemas"
	"fintelli/internal/domain/post"
	"fintelli/internal/processing"
)

// segmentOpportunities describes the opening a rising segment points at
var segmentOpportunities = map[string]string{
	"mobile_money":    "Agent network expansion and lower-fee mobile money services",
	"digital_banking": "Digital banking features for first-time account holders",
	"lending":         "Digital micro-loans for small businesses",
	"savings":         "Mobile savings and digital SACCO platforms",
	"investments":     "Retail investment products distributed over mobile",
	"cross_border":    "Cross-border payment and remittance solutions",
	"payments":        "Merchant and QR payment acceptance",
	"rural_finance":   "Rural financial inclusion initiatives",
}

// maxOpportunities bounds the locally detected opportunity list
const maxOpportunities = 3

type marketSentiment struct {
	cacheTTL time.Duration
}

// NewMarketSentiment creates the agent that scores overall market health
// over an hours window
func NewMarketSentiment(deps Deps, ttl time.Duration) Agent {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return newAgent(&marketSentiment{cacheTTL: ttl}, deps)
}

func (m *marketSentiment) name() string       { return schemas.AgentMarketSentiment }
func (m *marketSentiment) template() string   { return "agents/market_sentiment" }
func (m *marketSentiment) ttl() time.Duration { return m.cacheTTL }

func (m *marketSentiment) input(req Request) string {
	return strconv.Itoa(windowHours(req))
}

func (m *marketSentiment) evidenceQuery(Request) string {
	return "fintech market growth risk mobile money digital lending"
}

// selectPosts keeps posts inside the hours window when one is given
func (m *marketSentiment) selectPosts(posts []post.Post, req Request) []post.Post {
	if req.Hours <= 0 || len(posts) == 0 {
		return posts
	}
	latest := posts[0].Timestamp
	for _, p := range posts {
		if p.Timestamp.After(latest) {
			latest = p.Timestamp
		}
	}
	window := post.LastHours(latest, time.Duration(req.Hours)*time.Hour)

	out := make([]post.Post, 0, len(posts))
	for _, p := range posts {
		if window.Contains(p.Timestamp) {
			out = append(out, p)
		}
	}
	return out
}

func (m *marketSentiment) baseline(posts []post.Post, _ Request, data *promptData) schemas.AgentResult {
	trends := processing.AnalyzeSegments(posts)
	health := processing.AssessMarketHealth(posts, trends)
	data.Segments = trends

	res := schemas.Empty(schemas.AgentMarketSentiment, schemas.StatusOK)
	res.SentimentAnalysis = sentimentOf(posts)
	res.HealthIndicators = &schemas.HealthIndicators{
		MarketHealth:     health.Status,
		HealthScore:      health.HealthScore,
		OpportunityScore: health.OpportunityScore,
		RiskLevel:        health.RiskLevel,
		GrowthSegments:   append([]string{}, health.GrowthSegments...),
		RiskFactors:      processing.CountRiskMentions(posts),
		Opportunities:    detectOpportunities(trends),
	}

	for i, t := range trends {
		if i == 5 {
			break
		}
		res.TrendingTopics = append(res.TrendingTopics, t.Segment)
	}

	res.Insights = append(res.Insights, fmt.Sprintf(
		"Market health is %s (%.1f/10) with %s risk", health.Status, health.HealthScore*10, health.RiskLevel))
	for _, seg := range health.GrowthSegments {
		res.Insights = append(res.Insights, fmt.Sprintf("%s segment is gaining momentum", seg))
	}
	if factor, n := topRisk(res.HealthIndicators.RiskFactors); n > 0 {
		res.Insights = append(res.Insights, fmt.Sprintf("Risk watch: %s raised in %d posts", factor, n))
	}
	return res
}

// merge keeps the model's health reading but fills anything it left out
// from the local computation, so health indicators are always populated
func (m *marketSentiment) merge(local, parsed schemas.AgentResult) schemas.AgentResult {
	out := parsed
	out.SentimentAnalysis = mergeSentiment(local.SentimentAnalysis, parsed.SentimentAnalysis)
	out.TrendingTopics = firstNonEmpty(parsed.TrendingTopics, local.TrendingTopics)
	out.Insights = firstNonEmpty(parsed.Insights, local.Insights)

	lh, ph := local.HealthIndicators, parsed.HealthIndicators
	h := *ph
	if h.MarketHealth == "" || h.MarketHealth == "unknown" {
		h.MarketHealth = lh.MarketHealth
	}
	if h.HealthScore == 0 {
		h.HealthScore = lh.HealthScore
	}
	if h.OpportunityScore == 0 {
		h.OpportunityScore = lh.OpportunityScore
	}
	if h.RiskLevel == "" || h.RiskLevel == "unknown" {
		h.RiskLevel = lh.RiskLevel
	}
	h.GrowthSegments = firstNonEmpty(ph.GrowthSegments, lh.GrowthSegments)
	h.RiskFactors = make(map[string]int, len(lh.RiskFactors)+len(ph.RiskFactors))
	for k, v := range ph.RiskFactors {
		h.RiskFactors[k] = v
	}
	for k, v := range lh.RiskFactors {
		h.RiskFactors[k] = v
	}
	h.Opportunities = ph.Opportunities
	if len(h.Opportunities) == 0 {
		h.Opportunities = append([]schemas.InvestmentOpportunity{}, lh.Opportunities...)
	}
	out.HealthIndicators = &h
	return out
}

func (m *marketSentiment) fallback(local schemas.AgentResult, _ Request) schemas.AgentResult {
	out := local
	out.Insights = []string{"Market sentiment model unavailable; health indicators are computed from post keywords"}
	return out
}

// detectOpportunities turns well-received segments into opportunities,
// strongest momentum first. Confidence blends segment sentiment with how
// much of the window discusses the segment.
func detectOpportunities(trends []processing.SegmentTrend) []schemas.InvestmentOpportunity {
	out := []schemas.InvestmentOpportunity{}
	for _, t := range trends {
		if len(out) == maxOpportunities {
			break
		}
		if t.Direction == "declining" || t.SentimentScore < 0.5 {
			continue
		}
		desc, ok := segmentOpportunities[t.Segment]
		if !ok {
			continue
		}
		freq := t.MentionFrequency
		if freq > 1 {
			freq = 1
		}
		out = append(out, schemas.InvestmentOpportunity{
			Segment:     t.Segment,
			Opportunity: desc,
			Evidence: fmt.Sprintf("%d posts (%.0f%%) discuss %s, sentiment %.0f%%, %s",
				t.Mentions, t.MentionFrequency*100, t.Segment, t.SentimentScore*100, t.Direction),
			Confidence: math.Round((0.6*t.SentimentScore+0.4*freq)*100) / 100,
		})
	}
	return out
}

func topRisk(factors map[string]int) (string, int) {
	names := make([]string, 0, len(factors))
	for k := range factors {
		names = append(names, k)
	}
	sort.Strings(names)

	best, n := "", 0
	for _, k := range names {
		if factors[k] > n {
			best, n = k, factors[k]
		}
	}
	return best, n
}
