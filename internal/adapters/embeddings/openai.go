package embeddings

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// maxBatchInputs is the number of texts sent per embeddings request
const maxBatchInputs = 256

// OpenAIProvider embeds post text with the OpenAI embeddings API
type OpenAIProvider struct {
	client     openai.Client
	model      openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
	log        *logger.Logger
}

// NewOpenAIProvider creates an OpenAI embedding provider
func NewOpenAIProvider(apiKey string, model string, timeout time.Duration, opts ...option.RequestOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	return &OpenAIProvider{
		client:     client,
		model:      openai.EmbeddingModel(model),
		dimensions: dimensionsOf(model),
		timeout:    timeout,
		log:        logger.Get().With("component", "openai_embeddings", "model", model),
	}, nil
}

// GenerateEmbedding embeds one text
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "text cannot be empty")
	}

	vectors, err := p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateBatchEmbeddings embeds texts in chunks of maxBatchInputs
func (p *OpenAIProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "texts cannot be empty")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchInputs {
		end := start + maxBatchInputs
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]
		vectors, err := p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: chunk}, len(chunk))
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (p *OpenAIProvider) embed(ctx context.Context, input openai.EmbeddingNewParamsInputUnion, expected int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	response, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: input,
		Model: p.model,
	})
	metrics.RecordCompletion("openai_embeddings", err)
	if err != nil {
		return nil, errors.Wrap(errors.ErrExternal, err.Error())
	}
	if len(response.Data) != expected {
		return nil, errors.Wrapf(errors.ErrExternal, "expected %d embeddings, got %d", expected, len(response.Data))
	}

	vectors := make([][]float32, len(response.Data))
	for _, data := range response.Data {
		if int(data.Index) >= len(vectors) {
			return nil, errors.Wrapf(errors.ErrExternal, "embedding index %d out of range", data.Index)
		}
		v := make([]float32, len(data.Embedding))
		for j, val := range data.Embedding {
			v[j] = float32(val)
		}
		vectors[data.Index] = v
	}

	p.log.Debugw("Generated embeddings",
		"batch_size", expected,
		"tokens_used", response.Usage.TotalTokens)

	return vectors, nil
}

// Dimensions returns the dimensionality of embeddings
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Name returns the embedding model name
func (p *OpenAIProvider) Name() string {
	return string(p.model)
}

func dimensionsOf(model string) int {
	switch model {
	case openai.EmbeddingModelTextEmbedding3Large:
		return 3072
	default:
		return 1536
	}
}
