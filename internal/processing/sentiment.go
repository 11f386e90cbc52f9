package processing

import (
	"strings"

	"fintelli/internal/domain/post"
)

// Lexicon tuned for East African mobile-money chatter. Terms match whole
// words, allowing plain inflections such as "delays" or "failed".
var (
	positiveTerms = []string{
		"love", "great", "good", "excellent", "easy", "fast", "convenient", "reliable",
		"happy", "best", "helpful", "affordable", "cheap", "smooth", "improved", "growth",
		"growing", "opportunity", "innovative", "amazing", "thank", "works well", "recommend",
	}
	negativeTerms = []string{
		"bad", "poor", "slow", "expensive", "fraud", "scam", "failed", "failure", "down",
		"outage", "complain", "complaint", "terrible", "worst", "hate", "stuck", "charges",
		"high fees", "not working", "frustrated", "frustrating", "frustration", "delay", "hidden", "problem", "issue", "unreliable", "stolen",
	}
)

// sentimentCutoff is the minimum |score| for a post to count as polarised
const sentimentCutoff = 0.2

// ScoreSentiment returns a lexicon score in [-1,1] and its label
func ScoreSentiment(text string) (post.Sentiment, float64) {
	lower := strings.ToLower(text)

	pos := countTerms(lower, positiveTerms)
	neg := countTerms(lower, negativeTerms)
	if pos+neg == 0 {
		return post.SentimentNeutral, 0
	}

	score := float64(pos-neg) / float64(pos+neg)
	switch {
	case score >= sentimentCutoff:
		return post.SentimentPositive, score
	case score <= -sentimentCutoff:
		return post.SentimentNegative, score
	default:
		return post.SentimentNeutral, score
	}
}

func countTerms(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		n += countTerm(lower, t)
	}
	return n
}

// Distribution counts post sentiment labels
type Distribution struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Total returns the number of labelled posts
func (d Distribution) Total() int {
	return d.Positive + d.Negative + d.Neutral
}

// Score maps the distribution onto [-1,1]: (positive - negative) / total
func (d Distribution) Score() float64 {
	total := d.Total()
	if total == 0 {
		return 0
	}
	return float64(d.Positive-d.Negative) / float64(total)
}

// Label names the polarity of Score using the same cutoff as single posts
func (d Distribution) Label() string {
	s := d.Score()
	switch {
	case s >= sentimentCutoff:
		return string(post.SentimentPositive)
	case s <= -sentimentCutoff:
		return string(post.SentimentNegative)
	default:
		return string(post.SentimentNeutral)
	}
}

// SentimentDistribution tallies labels of processed posts; untagged posts count as neutral
func SentimentDistribution(posts []post.Post) Distribution {
	var d Distribution
	for i := range posts {
		s := posts[i].Sentiment
		switch {
		case s == nil:
			d.Neutral++
		case *s == post.SentimentPositive:
			d.Positive++
		case *s == post.SentimentNegative:
			d.Negative++
		default:
			d.Neutral++
		}
	}
	return d
}
