package schemas

import (
	"encoding/json"
	"strconv"
	"strings"

	"fintelli/pkg/errors"
)

// rawResult is the loosely typed shape models actually return
type rawResult struct {
	SentimentAnalysis  json.RawMessage `json:"sentiment_analysis"`
	TrendingTopics     json.RawMessage `json:"trending_topics"`
	Insights           json.RawMessage `json:"insights"`
	HealthIndicators   json.RawMessage `json:"health_indicators"`
	CompetitorMentions json.RawMessage `json:"competitor_mentions"`
	Confidence         json.RawMessage `json:"confidence"`
	// some models put opportunities next to health_indicators
	Opportunities json.RawMessage `json:"investment_opportunities"`
}

// ExtractJSON strips markdown fences and returns the outermost JSON object in text
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Parse decodes model output into an ok AgentResult. Unknown keys are dropped,
// missing keys get neutral values, and common shape variations are accepted.
// It fails with ErrUnparsable when no JSON object with at least one
// recognised field can be found.
func Parse(agentName, text string) (AgentResult, error) {
	body, ok := ExtractJSON(text)
	if !ok {
		return AgentResult{}, errors.Wrap(errors.ErrUnparsable, "no JSON object in output")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return AgentResult{}, errors.Wrapf(errors.ErrUnparsable, "decode: %v", err)
	}
	if raw.SentimentAnalysis == nil && raw.TrendingTopics == nil && raw.Insights == nil &&
		raw.HealthIndicators == nil && raw.CompetitorMentions == nil {
		return AgentResult{}, errors.Wrap(errors.ErrUnparsable, "no recognised fields")
	}

	res := Empty(agentName, StatusOK)
	res.SentimentAnalysis = parseSentiment(raw.SentimentAnalysis)
	res.TrendingTopics = stringList(raw.TrendingTopics, "topic", "name", "title")
	res.Insights = stringList(raw.Insights, "insight", "text", "content", "summary")
	res.HealthIndicators = parseHealth(raw.HealthIndicators)
	if len(res.HealthIndicators.Opportunities) == 0 {
		res.HealthIndicators.Opportunities = parseOpportunities(raw.Opportunities)
	}
	res.CompetitorMentions = parseCompetitors(raw.CompetitorMentions)
	if c, ok := number(raw.Confidence); ok {
		if c > 1 && c <= 100 {
			c /= 100
		}
		res.Confidence = c
	}

	res.Normalize()
	return res, nil
}

func parseSentiment(raw json.RawMessage) *SentimentAnalysis {
	out := NeutralSentiment()
	if len(raw) == 0 {
		return out
	}

	var label string
	if json.Unmarshal(raw, &label) == nil {
		out.Overall = strings.ToLower(label)
		out.Score = labelScore(out.Overall)
		return out
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return out
	}
	if s, ok := firstString(obj, "overall", "overall_sentiment", "label", "sentiment"); ok {
		out.Overall = strings.ToLower(s)
		out.Score = labelScore(out.Overall)
	}
	if v, ok := number(obj["score"]); ok {
		out.Score = v
	}
	if v, ok := number(obj["positive"]); ok {
		out.Positive = int(v)
	}
	if v, ok := number(obj["negative"]); ok {
		out.Negative = int(v)
	}
	if v, ok := number(obj["neutral"]); ok {
		out.Neutral = int(v)
	}
	for _, key := range []string{"drivers", "key_drivers", "sentiment_drivers"} {
		if d, ok := obj[key]; ok {
			out.Drivers = stringList(d, "driver", "text", "description")
			break
		}
	}
	return out
}

func parseHealth(raw json.RawMessage) *HealthIndicators {
	out := UnknownHealth()
	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return out
	}

	if s, ok := firstString(obj, "market_health", "status", "overall"); ok {
		out.MarketHealth = strings.ToLower(s)
	}
	if v, ok := number(obj["health_score"]); ok {
		out.HealthScore = unitScore(v)
	}
	if v, ok := number(obj["opportunity_score"]); ok {
		out.OpportunityScore = unitScore(v)
	}
	if s, ok := firstString(obj, "risk_level", "risk"); ok {
		out.RiskLevel = strings.ToLower(s)
	}
	if g, ok := obj["growth_segments"]; ok {
		out.GrowthSegments = stringList(g, "segment", "name")
	}
	if rf, ok := obj["risk_factors"]; ok {
		var counts map[string]float64
		if json.Unmarshal(rf, &counts) == nil {
			for k, v := range counts {
				out.RiskFactors[k] = int(v)
			}
		} else {
			for _, name := range stringList(rf, "factor", "name") {
				out.RiskFactors[name]++
			}
		}
	}
	for _, key := range []string{"investment_opportunities", "opportunities"} {
		if o, ok := obj[key]; ok {
			out.Opportunities = parseOpportunities(o)
			break
		}
	}
	return out
}

// parseOpportunities accepts a list of opportunity objects or plain strings
func parseOpportunities(raw json.RawMessage) []InvestmentOpportunity {
	out := []InvestmentOpportunity{}
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return out
	}

	for _, item := range items {
		var text string
		if json.Unmarshal(item, &text) == nil {
			out = append(out, InvestmentOpportunity{Opportunity: text})
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(item, &obj) != nil {
			continue
		}
		o := InvestmentOpportunity{}
		o.Opportunity, _ = firstString(obj, "opportunity", "description", "title")
		o.Segment, _ = firstString(obj, "segment", "sector")
		o.Evidence, _ = firstString(obj, "evidence", "rationale")
		if v, ok := number(obj["confidence"]); ok {
			if v > 1 && v <= 100 {
				v /= 100
			}
			o.Confidence = v
		}
		out = append(out, o)
	}
	return out
}

func parseCompetitors(raw json.RawMessage) map[string]CompetitorMention {
	out := map[string]CompetitorMention{}
	if len(raw) == 0 {
		return out
	}

	var byName map[string]json.RawMessage
	if json.Unmarshal(raw, &byName) == nil {
		for name, v := range byName {
			out[name] = parseMention(v)
		}
		return out
	}

	var list []map[string]json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		for _, obj := range list {
			name, ok := firstString(obj, "name", "competitor")
			if !ok {
				continue
			}
			b, _ := json.Marshal(obj)
			out[name] = parseMention(b)
		}
	}
	return out
}

func parseMention(raw json.RawMessage) CompetitorMention {
	m := CompetitorMention{Sentiment: "neutral"}
	if n, ok := number(raw); ok {
		m.Count = int(n)
		return m
	}
	var label string
	if json.Unmarshal(raw, &label) == nil {
		m.Sentiment = strings.ToLower(label)
		m.SentimentScore = labelScore(m.Sentiment)
		return m
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return m
	}
	if v, ok := number(obj["count"]); ok {
		m.Count = int(v)
	} else if v, ok := number(obj["mentions"]); ok {
		m.Count = int(v)
	}
	if s, ok := firstString(obj, "sentiment", "overall"); ok {
		m.Sentiment = strings.ToLower(s)
		m.SentimentScore = labelScore(m.Sentiment)
	}
	if v, ok := number(obj["sentiment_score"]); ok {
		m.SentimentScore = v
	}
	if v, ok := number(obj["share_of_voice"]); ok {
		m.ShareOfVoice = unitScore(v)
	}
	if s, ok := firstString(obj, "summary", "insight"); ok {
		m.Summary = s
	}
	return m
}

// stringList accepts a list of strings, a list of objects (taking the first
// string under one of keys), or a single string.
func stringList(raw json.RawMessage, keys ...string) []string {
	if len(raw) == 0 {
		return []string{}
	}

	var one string
	if json.Unmarshal(raw, &one) == nil {
		return []string{one}
	}

	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, s)
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(item, &obj) == nil {
			if s, ok := firstString(obj, keys...); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func firstString(obj map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// number reads a JSON number or a numeric string
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f, true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// unitScore maps scores given on 0-10 or 0-100 scales onto [0,1]
func unitScore(v float64) float64 {
	switch {
	case v > 10:
		return v / 100
	case v > 1:
		return v / 10
	default:
		return v
	}
}

func labelScore(label string) float64 {
	switch label {
	case "positive", "bullish":
		return 0.5
	case "negative", "bearish":
		return -0.5
	default:
		return 0
	}
}
