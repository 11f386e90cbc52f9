package agents

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fintelli/internal/agents/schemas"
	"fintelli/internal/domain/post"
	"fintelli/internal/processing"
)

type competitorAnalysis struct {
	cacheTTL    time.Duration
	competitors []string
}

// NewCompetitorAnalysis creates the agent that compares share of voice and
// sentiment across competitors. defaults is used when a request names none.
func NewCompetitorAnalysis(deps Deps, ttl time.Duration, defaults []string) Agent {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return newAgent(&competitorAnalysis{cacheTTL: ttl, competitors: defaults}, deps)
}

func (c *competitorAnalysis) name() string       { return schemas.AgentCompetitorAnalysis }
func (c *competitorAnalysis) template() string   { return "agents/competitor_analysis" }
func (c *competitorAnalysis) ttl() time.Duration { return c.cacheTTL }

// names returns the request's competitors, deduplicated and sorted so the
// cache key does not depend on list order
func (c *competitorAnalysis) names(req Request) []string {
	list := req.Competitors
	if len(list) == 0 {
		list = c.competitors
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, n := range list {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (c *competitorAnalysis) input(req Request) string {
	return strings.Join(c.names(req), ",")
}

func (c *competitorAnalysis) evidenceQuery(req Request) string {
	return strings.Join(c.names(req), " ") + " service fees reliability"
}

// selectPosts keeps posts that mention at least one competitor
func (c *competitorAnalysis) selectPosts(posts []post.Post, req Request) []post.Post {
	names := c.names(req)
	out := make([]post.Post, 0, len(posts))
	for _, p := range posts {
		for _, n := range names {
			if processing.Mentions(p.Content, n) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (c *competitorAnalysis) baseline(posts []post.Post, req Request, data *promptData) schemas.AgentResult {
	names := c.names(req)
	stats := processing.CountCompetitorMentions(posts, names)
	data.Competitors = names
	data.Mentions = stats

	res := schemas.Empty(schemas.AgentCompetitorAnalysis, schemas.StatusOK)
	res.SentimentAnalysis = sentimentOf(posts)

	for _, s := range stats {
		if s.Count == 0 {
			continue
		}
		res.CompetitorMentions[s.Name] = schemas.CompetitorMention{
			Count:          s.Count,
			Sentiment:      s.Sentiment.Label(),
			SentimentScore: s.Sentiment.Score(),
			ShareOfVoice:   s.ShareOfVoice,
			Summary:        fmt.Sprintf("%d mentions, %.0f%% share of voice", s.Count, s.ShareOfVoice*100),
		}
		res.TrendingTopics = append(res.TrendingTopics, s.Name)
	}

	if len(stats) > 0 && stats[0].Count > 0 {
		leader := stats[0]
		res.Insights = append(res.Insights, fmt.Sprintf(
			"%s leads share of voice at %.0f%% of competitor mentions", leader.Name, leader.ShareOfVoice*100))
	}
	for _, s := range stats {
		if s.Count > 0 && s.Sentiment.Label() == "negative" {
			res.Insights = append(res.Insights, fmt.Sprintf(
				"%s faces negative sentiment across %d mentions", s.Name, s.Count))
		}
	}
	return res
}

// merge keeps local counts and share of voice, taking per-competitor
// sentiment and summaries from the model where it supplied them
func (c *competitorAnalysis) merge(local, parsed schemas.AgentResult) schemas.AgentResult {
	out := parsed
	out.SentimentAnalysis = mergeSentiment(local.SentimentAnalysis, parsed.SentimentAnalysis)
	out.TrendingTopics = firstNonEmpty(parsed.TrendingTopics, local.TrendingTopics)
	out.Insights = firstNonEmpty(parsed.Insights, local.Insights)

	byName := make(map[string]schemas.CompetitorMention, len(parsed.CompetitorMentions))
	for name, m := range parsed.CompetitorMentions {
		byName[strings.ToLower(name)] = m
	}

	mentions := make(map[string]schemas.CompetitorMention, len(local.CompetitorMentions))
	for name, m := range local.CompetitorMentions {
		if pm, ok := byName[strings.ToLower(name)]; ok {
			if pm.Sentiment != "neutral" || pm.SentimentScore != 0 {
				m.Sentiment = pm.Sentiment
				m.SentimentScore = pm.SentimentScore
			}
			if strings.TrimSpace(pm.Summary) != "" {
				m.Summary = pm.Summary
			}
		}
		mentions[name] = m
	}
	out.CompetitorMentions = mentions
	return out
}

func (c *competitorAnalysis) fallback(local schemas.AgentResult, _ Request) schemas.AgentResult {
	out := local
	mentions := make(map[string]schemas.CompetitorMention, len(local.CompetitorMentions))
	for name, m := range local.CompetitorMentions {
		m.Summary = "Mention of " + name + " detected"
		mentions[name] = m
	}
	out.CompetitorMentions = mentions
	out.Insights = []string{"Competitor analysis model unavailable; showing raw mention counts"}
	return out
}
