package embeddings

import (
	"fintelli/internal/adapters/config"
	"fintelli/pkg/errors"
)

// Supported providers
const (
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

// NewProvider creates the embedding provider selected in config
func NewProvider(cfg config.EmbeddingsConfig, apiKey string) (Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, cfg.Model, cfg.Timeout)
	case ProviderHashing:
		return NewHashingProvider(cfg.Dimensions), nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput,
			"unsupported embedding provider: %s", cfg.Provider)
	}
}
