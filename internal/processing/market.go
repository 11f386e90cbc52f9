package processing

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"fintelli/internal/domain/post"
)

// Segments of the market and the phrases that place a post in them
var Segments = map[string][]string{
	"mobile_money":    {"mobile money", "momo", "airtel money"},
	"digital_banking": {"digital banking", "online banking", "internet banking", "bank app"},
	"lending":         {"loan", "lending", "borrow", "credit"},
	"savings":         {"savings", "save", "sacco"},
	"investments":     {"invest", "treasury", "unit trust"},
	"cross_border":    {"remittance", "diaspora", "cross border", "international transfer"},
	"payments":        {"payment", "merchant", "pay bills", "qr"},
	"rural_finance":   {"rural", "village", "farmer", "agent network"},
}

// RiskFactors and the phrases that signal them
var RiskFactors = map[string][]string{
	"regulatory":     {"regulation", "regulator", "bank of uganda", "tax", "levy", "license"},
	"competition":    {"competitor", "competition", "switching", "cheaper alternative"},
	"technology":     {"outage", "system down", "not working", "network failure", "app crash"},
	"economic":       {"inflation", "exchange rate", "economy", "recession"},
	"security":       {"fraud", "scam", "hacked", "stolen", "phishing"},
	"adoption":       {"don't trust", "prefer cash", "illiterate", "hard to use"},
	"infrastructure": {"no agent", "electricity", "coverage", "no network"},
}

// SegmentTrend summarises how one segment is discussed in a window
type SegmentTrend struct {
	Segment          string  `json:"segment"`
	Mentions         int     `json:"mentions"`
	MentionFrequency float64 `json:"mention_frequency"`
	SentimentScore   float64 `json:"sentiment_score"` // [0,1], 0.5 neutral
	Direction        string  `json:"trend_direction"` // rising|declining|stable
	Momentum         float64 `json:"momentum"`
}

func matchesAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if containsTerm(lower, p) {
			return true
		}
	}
	return false
}

// AnalyzeSegments computes per-segment trends ordered by momentum
func AnalyzeSegments(posts []post.Post) []SegmentTrend {
	if len(posts) == 0 {
		return nil
	}

	var trends []SegmentTrend
	for segment, phrases := range Segments {
		var mentioning []post.Post
		for _, p := range posts {
			if matchesAny(strings.ToLower(p.Content), phrases) {
				mentioning = append(mentioning, p)
			}
		}
		if len(mentioning) == 0 {
			continue
		}

		score := 0.5 + SentimentDistribution(mentioning).Score()/2
		freq := float64(len(mentioning)) / float64(len(posts))

		direction := "stable"
		switch {
		case score > 0.6 && freq > 0.1:
			direction = "rising"
		case score < 0.4 && freq > 0.1:
			direction = "declining"
		}

		trends = append(trends, SegmentTrend{
			Segment:          segment,
			Mentions:         len(mentioning),
			MentionFrequency: freq,
			SentimentScore:   score,
			Direction:        direction,
			Momentum:         freq * score,
		})
	}

	sort.Slice(trends, func(i, j int) bool {
		if trends[i].Momentum != trends[j].Momentum {
			return trends[i].Momentum > trends[j].Momentum
		}
		return trends[i].Segment < trends[j].Segment
	})
	return trends
}

// CountRiskMentions returns the number of posts mentioning each risk factor
func CountRiskMentions(posts []post.Post) map[string]int {
	counts := make(map[string]int)
	for _, p := range posts {
		lower := strings.ToLower(p.Content)
		for factor, phrases := range RiskFactors {
			if matchesAny(lower, phrases) {
				counts[factor]++
			}
		}
	}
	return counts
}

// MarketHealth is the locally computed health assessment of a window
type MarketHealth struct {
	Status           string // strong|stable|caution|weak
	HealthScore      float64
	OpportunityScore float64
	RiskScore        float64
	RiskLevel        string // low|medium|high
	GrowthSegments   []string
}

// defaultRisk is assumed when no post mentions any risk factor
const defaultRisk = 0.3

// AssessMarketHealth combines sentiment, segment momentum and risk mentions:
//
//	health      = 0.5*sentiment + 0.3*momentum - 0.2*risk
//	opportunity = 0.4*sentiment + 0.4*momentum + 0.2*(1-risk)
//
// with sentiment and momentum on [0,1].
func AssessMarketHealth(posts []post.Post, trends []SegmentTrend) MarketHealth {
	sentiment := 0.5 + SentimentDistribution(posts).Score()/2

	momentum := 0.5
	if len(trends) > 0 {
		values := make([]float64, len(trends))
		for i, t := range trends {
			values[i] = t.Momentum
		}
		momentum = stat.Mean(values, nil)
	}

	risk := defaultRisk
	if len(posts) > 0 {
		riskPosts := 0
		for _, p := range posts {
			lower := strings.ToLower(p.Content)
			for _, phrases := range RiskFactors {
				if matchesAny(lower, phrases) {
					riskPosts++
					break
				}
			}
		}
		if riskPosts > 0 {
			risk = clamp01(2 * float64(riskPosts) / float64(len(posts)))
		}
	}

	health := clamp01(sentiment*0.5 + momentum*0.3 - risk*0.2)
	opportunity := clamp01(sentiment*0.4 + momentum*0.4 + (1-risk)*0.2)

	var growth []string
	for _, t := range trends {
		if t.Direction == "rising" {
			growth = append(growth, t.Segment)
			if len(growth) == 3 {
				break
			}
		}
	}

	return MarketHealth{
		Status:           healthStatus(health),
		HealthScore:      health,
		OpportunityScore: opportunity,
		RiskScore:        risk,
		RiskLevel:        RiskLevel(risk),
		GrowthSegments:   growth,
	}
}

func healthStatus(score float64) string {
	switch {
	case score >= 0.7:
		return "strong"
	case score >= 0.5:
		return "stable"
	case score >= 0.3:
		return "caution"
	default:
		return "weak"
	}
}

// RiskLevel buckets a [0,1] risk score
func RiskLevel(risk float64) string {
	switch {
	case risk < 0.34:
		return "low"
	case risk < 0.67:
		return "medium"
	default:
		return "high"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
