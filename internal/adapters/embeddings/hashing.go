package embeddings

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashingProvider is a deterministic bag-of-words embedder. Each token and
// adjacent token pair is hashed into a signed bucket and the vector is
// L2-normalised, so texts sharing words have positive cosine similarity.
// It needs no network and is used in development and tests.
type HashingProvider struct {
	dims int
}

// NewHashingProvider creates a hashing embedder with dims buckets
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = 256
	}
	return &HashingProvider{dims: dims}
}

// GenerateEmbedding embeds one text
func (h *HashingProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

// GenerateBatchEmbeddings embeds texts in order
func (h *HashingProvider) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

// Dimensions returns the number of buckets
func (h *HashingProvider) Dimensions() int {
	return h.dims
}

// Name identifies the embedder
func (h *HashingProvider) Name() string {
	return "hashing"
}

func (h *HashingProvider) vector(text string) []float32 {
	v := make([]float32, h.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (h *HashingProvider) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dims)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
