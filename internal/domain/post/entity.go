package post

import (
	"time"

	"github.com/lib/pq"
)

// Source platforms posts are collected from
const (
	SourceTwitter  = "twitter"
	SourceReddit   = "reddit"
	SourceFacebook = "facebook"
	SourceNews     = "news"
)

// Sentiment labels assigned during post-processing
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Post is a social-media post. Sentiment and topics are set once by
// post-processing; after that the post is read-only.
type Post struct {
	ID             string         `db:"id" json:"id"`
	Source         string         `db:"source" json:"source"`
	Content        string         `db:"content" json:"content"`
	Author         string         `db:"author" json:"author"`
	URL            string         `db:"url" json:"url"`
	Timestamp      time.Time      `db:"posted_at" json:"timestamp"`
	Sentiment      *Sentiment     `db:"sentiment" json:"sentiment,omitempty"`
	SentimentScore float64        `db:"sentiment_score" json:"sentiment_score"`
	Topics         pq.StringArray `db:"topics" json:"topics"`
	RelevanceScore float64        `db:"relevance_score" json:"relevance_score"`
	EmbeddingRef   string         `db:"embedding_ref" json:"embedding_ref,omitempty"`
	Processed      bool           `db:"processed" json:"processed"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// IsProcessed reports whether post-processing already tagged this post
func (p *Post) IsProcessed() bool {
	return p.Processed && p.Sentiment != nil
}

// Window is the ingestion time range of a workflow run
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastHours returns a window ending now
func LastHours(now time.Time, d time.Duration) Window {
	return Window{From: now.Add(-d), To: now}
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Hours returns the window length in whole hours
func (w Window) Hours() int {
	return int(w.To.Sub(w.From).Hours())
}
