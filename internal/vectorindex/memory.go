package vectorindex

import (
	"context"
	"sync"

	"gonum.org/v1/gonum/floats"
)

type memoryDoc struct {
	vector []float64
	norm   float64
	meta   Metadata
}

// MemoryStore keeps vectors in process memory and scans them on query
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory vector store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// Upsert stores or replaces the vector for docID
func (s *MemoryStore) Upsert(_ context.Context, docID string, embedding []float32, meta Metadata) error {
	v := toFloat64(embedding)
	doc := memoryDoc{vector: v, norm: floats.Norm(v, 2), meta: meta}

	s.mu.Lock()
	s.docs[docID] = doc
	s.mu.Unlock()
	return nil
}

// Query scores every stored vector of matching dimension
func (s *MemoryStore) Query(_ context.Context, embedding []float32, k int) ([]Match, error) {
	q := toFloat64(embedding)
	qNorm := floats.Norm(q, 2)

	s.mu.RLock()
	matches := make([]Match, 0, len(s.docs))
	for id, doc := range s.docs {
		if len(doc.vector) != len(q) {
			continue
		}
		score := 0.0
		if doc.norm > 0 && qNorm > 0 {
			score = floats.Dot(q, doc.vector) / (doc.norm * qNorm)
		}
		matches = append(matches, Match{DocID: id, Score: score, Metadata: doc.meta})
	}
	s.mu.RUnlock()

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len returns the number of stored documents
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
