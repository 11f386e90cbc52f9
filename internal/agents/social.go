package agents

import (
	"fmt"
	"strings"
	"time"

	"fintelli/internal/agents/schemas"
	"fintelli/internal/domain/post"
)

// trendThreshold is the share of posts a topic needs to count as trending
const trendThreshold = 0.1

type socialIntelligence struct {
	cacheTTL time.Duration
}

// NewSocialIntelligence creates the agent that reads sentiment and trending
// topics for a free-text query
func NewSocialIntelligence(deps Deps, ttl time.Duration) Agent {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return newAgent(&socialIntelligence{cacheTTL: ttl}, deps)
}

func (s *socialIntelligence) name() string       { return schemas.AgentSocialIntelligence }
func (s *socialIntelligence) template() string   { return "agents/social_intelligence" }
func (s *socialIntelligence) ttl() time.Duration { return s.cacheTTL }

func (s *socialIntelligence) input(req Request) string {
	return strings.Join(queryTerms(req.Query), " ")
}

func (s *socialIntelligence) evidenceQuery(req Request) string {
	if q := strings.TrimSpace(req.Query); q != "" {
		return q
	}
	return "fintech mobile money"
}

// selectPosts keeps posts mentioning any query term. An empty query keeps everything.
func (s *socialIntelligence) selectPosts(posts []post.Post, req Request) []post.Post {
	terms := queryTerms(req.Query)
	if len(terms) == 0 {
		return posts
	}
	out := make([]post.Post, 0, len(posts))
	for _, p := range posts {
		lower := strings.ToLower(p.Content)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (s *socialIntelligence) baseline(posts []post.Post, req Request, _ *promptData) schemas.AgentResult {
	res := schemas.Empty(schemas.AgentSocialIntelligence, schemas.StatusOK)
	res.SentimentAnalysis = sentimentOf(posts)

	freq := topicFrequencies(posts)
	for i, tc := range freq {
		if i == 5 {
			break
		}
		res.TrendingTopics = append(res.TrendingTopics, tc.Topic)
	}

	if res.SentimentAnalysis.Overall == "negative" {
		res.Insights = append(res.Insights, fmt.Sprintf(
			"Negative sentiment dominates discussion of %q (%d of %d posts negative)",
			req.Query, res.SentimentAnalysis.Negative, len(posts)))
	}
	for i, tc := range freq {
		if i == 3 {
			break
		}
		if share := float64(tc.Count) / float64(len(posts)); share > trendThreshold {
			res.Insights = append(res.Insights, fmt.Sprintf(
				"%s showing increased discussion (%d mentions)", tc.Topic, tc.Count))
		}
	}
	return res
}

func (s *socialIntelligence) merge(local, parsed schemas.AgentResult) schemas.AgentResult {
	out := parsed
	out.SentimentAnalysis = mergeSentiment(local.SentimentAnalysis, parsed.SentimentAnalysis)
	out.TrendingTopics = firstNonEmpty(parsed.TrendingTopics, local.TrendingTopics)
	out.Insights = firstNonEmpty(parsed.Insights, local.Insights)
	return out
}

func (s *socialIntelligence) fallback(local schemas.AgentResult, req Request) schemas.AgentResult {
	out := local
	subject := strings.TrimSpace(req.Query)
	if subject == "" {
		subject = "fintech"
	}
	out.Insights = []string{fmt.Sprintf(
		"Social intelligence for %q is unavailable right now; figures shown are keyword-based", subject)}
	return out
}

// queryTerms lowercases the query and drops words too short to filter on
func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}
