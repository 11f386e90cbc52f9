package vectorindex

import (
	"context"
	"strings"
	"time"

	"fintelli/internal/adapters/embeddings"
	"fintelli/internal/domain/post"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// Evidence is a post retrieved as supporting material for an insight
type Evidence struct {
	DocID      string    `json:"doc_id"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Topics     []string  `json:"topics"`
	Sentiment  string    `json:"sentiment"`
	Similarity float64   `json:"similarity"`
	Timestamp  time.Time `json:"timestamp"`
}

// Searcher answers free-text queries against the index
type Searcher struct {
	index    *Index
	embedder embeddings.Provider
	log      *logger.Logger
}

// NewSearcher creates a searcher that embeds queries with embedder
func NewSearcher(index *Index, embedder embeddings.Provider) *Searcher {
	return &Searcher{
		index:    index,
		embedder: embedder,
		log:      logger.Get().With("component", "vector_search"),
	}
}

// Search returns up to k posts most similar to query. It never fails hard:
// when embedding or the store is unavailable the evidence list is empty and
// the returned error only describes the degradation.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Evidence, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Evidence{}, nil
	}

	vector, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		s.log.Warnw("Query embedding failed, returning no evidence", "error", err)
		return []Evidence{}, errors.Wrap(err, "embed query")
	}

	matches, err := s.index.Query(ctx, vector, k)
	if err != nil {
		s.log.Warnw("Vector query failed, returning no evidence", "error", err)
		return []Evidence{}, errors.NewConnectivityError("vector index", "query", err)
	}

	out := make([]Evidence, len(matches))
	for i, m := range matches {
		topics := m.Metadata.Topics
		if topics == nil {
			topics = []string{}
		}
		out[i] = Evidence{
			DocID:      m.DocID,
			Content:    m.Metadata.Content,
			Source:     m.Metadata.Source,
			Topics:     topics,
			Sentiment:  m.Metadata.Sentiment,
			Similarity: m.Score,
			Timestamp:  m.Metadata.Timestamp,
		}
	}
	return out, nil
}

// IndexPosts embeds and upserts processed posts, setting EmbeddingRef on
// each post that was indexed. It returns the number indexed.
func (s *Searcher) IndexPosts(ctx context.Context, posts []post.Post) (int, error) {
	var (
		texts []string
		idx   []int
	)
	for i := range posts {
		if posts[i].ID == "" || strings.TrimSpace(posts[i].Content) == "" {
			continue
		}
		texts = append(texts, posts[i].Content)
		idx = append(idx, i)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return 0, errors.Wrap(err, "embed posts")
	}

	indexed := 0
	for j, i := range idx {
		p := &posts[i]
		sentiment := string(post.SentimentNeutral)
		if p.Sentiment != nil {
			sentiment = string(*p.Sentiment)
		}
		meta := Metadata{
			Content:   p.Content,
			Source:    p.Source,
			Topics:    append([]string{}, p.Topics...),
			Sentiment: sentiment,
			Timestamp: p.Timestamp,
		}
		if err := s.index.Upsert(ctx, p.ID, vectors[j], meta); err != nil {
			return indexed, errors.NewConnectivityError("vector index", "upsert", err)
		}
		p.EmbeddingRef = p.ID
		indexed++
	}

	s.log.Debugw("Indexed posts", "count", indexed, "embedder", s.embedder.Name())
	return indexed, nil
}
