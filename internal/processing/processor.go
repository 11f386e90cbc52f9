package processing

import (
	"fintelli/internal/domain/post"
)

// Result splits a batch into posts kept for analysis and posts dropped as irrelevant.
// Both sets come back with Processed set so they are not ingested again.
type Result struct {
	Relevant   []post.Post
	Irrelevant []post.Post
}

// Processor tags raw posts with cleaned content, relevance, topics and sentiment
type Processor struct{}

// NewProcessor creates a post processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Process tags every unprocessed post in the batch. Posts already processed
// are passed through untouched.
func (p *Processor) Process(posts []post.Post) Result {
	var res Result
	for _, raw := range posts {
		if raw.IsProcessed() {
			res.Relevant = append(res.Relevant, raw)
			continue
		}

		tagged := p.tag(raw)
		if tagged.RelevanceScore == 0 {
			res.Irrelevant = append(res.Irrelevant, tagged)
			continue
		}
		res.Relevant = append(res.Relevant, tagged)
	}
	return res
}

func (p *Processor) tag(raw post.Post) post.Post {
	out := raw
	cleaned := Clean(raw.Content)
	out.Processed = true

	if !IsRelevant(cleaned) {
		neutral := post.SentimentNeutral
		out.Sentiment = &neutral
		out.SentimentScore = 0
		out.Topics = []string{}
		out.RelevanceScore = 0
		return out
	}

	out.Content = cleaned
	label, score := ScoreSentiment(cleaned)
	out.Sentiment = &label
	out.SentimentScore = score
	out.Topics = TopicNames(ExtractTopics(cleaned))
	out.RelevanceScore = RelevanceScore(cleaned)
	return out
}
