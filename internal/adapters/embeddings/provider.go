package embeddings

import "context"

// Provider turns text into embedding vectors for the vector index
type Provider interface {
	// GenerateEmbedding embeds a single text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateBatchEmbeddings embeds texts in order, one vector per text
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length produced by this provider
	Dimensions() int

	// Name identifies the model; stored alongside vectors so a model switch
	// never mixes incompatible embeddings
	Name() string
}
