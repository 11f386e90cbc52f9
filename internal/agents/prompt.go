package agents

import (
	"sort"
	"strings"

	"fintelli/internal/agents/schemas"
	"fintelli/internal/domain/post"
	"fintelli/internal/processing"
	"fintelli/internal/vectorindex"
)

// maxSamples bounds how many post bodies go into one prompt
const maxSamples = 10

// promptData is the view rendered by the agent prompt templates
type promptData struct {
	Region      string
	Query       string
	Hours       int
	Competitors []string
	PostCount   int
	Samples     []string
	Local       schemas.AgentResult
	Segments    []processing.SegmentTrend
	Mentions    []processing.CompetitorStats
	Evidence    []vectorindex.Evidence
}

// samples picks the n most relevant posts, most recent first on ties
func samples(posts []post.Post, n int) []string {
	sorted := make([]post.Post, len(posts))
	copy(sorted, posts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RelevanceScore != sorted[j].RelevanceScore {
			return sorted[i].RelevanceScore > sorted[j].RelevanceScore
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]string, 0, len(sorted))
	for _, p := range sorted {
		if c := strings.TrimSpace(p.Content); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// sentimentOf summarises post labels as a sentiment payload
func sentimentOf(posts []post.Post) *schemas.SentimentAnalysis {
	d := processing.SentimentDistribution(posts)
	return &schemas.SentimentAnalysis{
		Overall:  d.Label(),
		Score:    d.Score(),
		Positive: d.Positive,
		Negative: d.Negative,
		Neutral:  d.Neutral,
		Drivers:  []string{},
	}
}

// topicCount is how often a topic was tagged on posts
type topicCount struct {
	Topic string
	Count int
}

// topicFrequencies counts post topics, most frequent first then by name
func topicFrequencies(posts []post.Post) []topicCount {
	counts := map[string]int{}
	for _, p := range posts {
		for _, t := range p.Topics {
			counts[t]++
		}
	}
	out := make([]topicCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, topicCount{Topic: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// mergeSentiment keeps the model's reading when it gave one; post counts
// always come from the local tally
func mergeSentiment(local, parsed *schemas.SentimentAnalysis) *schemas.SentimentAnalysis {
	out := *local
	if parsed != nil && (parsed.Overall != "neutral" || parsed.Score != 0 || len(parsed.Drivers) > 0) {
		out.Overall = parsed.Overall
		out.Score = parsed.Score
		out.Drivers = parsed.Drivers
	}
	return &out
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}
