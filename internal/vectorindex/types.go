package vectorindex

import (
	"context"
	"time"
)

// Metadata travels with every vector and is returned verbatim by queries
type Metadata struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Topics    []string  `json:"topics"`
	Sentiment string    `json:"sentiment"`
	Timestamp time.Time `json:"timestamp"`
}

// Match is one query hit. Score is cosine similarity in [-1,1].
type Match struct {
	DocID    string
	Score    float64
	Metadata Metadata
}

// Store is the backing driver of an Index. Upsert must be idempotent on
// docID; Query returns up to k nearest entries by cosine similarity.
type Store interface {
	Upsert(ctx context.Context, docID string, embedding []float32, meta Metadata) error
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)
}
