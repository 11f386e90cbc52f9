package vectorindex

import (
	"context"
	"sort"

	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
)

// DefaultMaxK bounds query results when no limit is configured
const DefaultMaxK = 5

// Index is the similarity index used for evidence retrieval. It enforces
// result ordering and the k cap on top of whichever Store backs it.
type Index struct {
	store Store
	maxK  int
}

// NewIndex wraps store, capping every query at maxK results
func NewIndex(store Store, maxK int) *Index {
	if maxK <= 0 {
		maxK = DefaultMaxK
	}
	return &Index{store: store, maxK: maxK}
}

// MaxK returns the configured result cap
func (i *Index) MaxK() int {
	return i.maxK
}

// Upsert inserts or overwrites the entry for docID
func (i *Index) Upsert(ctx context.Context, docID string, embedding []float32, meta Metadata) error {
	if docID == "" {
		return errors.NewValidationError("doc_id", "is required", docID)
	}
	if len(embedding) == 0 {
		return errors.NewValidationError("embedding", "is empty", docID)
	}
	if meta.Topics == nil {
		meta.Topics = []string{}
	}
	return i.store.Upsert(ctx, docID, embedding, meta)
}

// Query returns at most min(k, MaxK) matches ordered by descending score,
// ties broken by most recent timestamp. An empty index yields an empty slice.
func (i *Index) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k <= 0 || k > i.maxK {
		k = i.maxK
	}
	if len(embedding) == 0 {
		return []Match{}, nil
	}

	matches, err := i.store.Query(ctx, embedding, k)
	if err != nil {
		metrics.VectorQueries.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.VectorQueries.WithLabelValues("success").Inc()

	if matches == nil {
		return []Match{}, nil
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func sortMatches(m []Match) {
	sort.SliceStable(m, func(a, b int) bool {
		if m[a].Score != m[b].Score {
			return m[a].Score > m[b].Score
		}
		ta, tb := m[a].Metadata.Timestamp, m[b].Metadata.Timestamp
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return m[a].DocID < m[b].DocID
	})
}
