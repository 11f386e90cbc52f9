package ai

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"

	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// GeminiCompletion calls Gemini with a JSON response schema so the model
// output already has the agent result shape.
type GeminiCompletion struct {
	client      *genai.Client
	model       string
	temperature float32
	schema      *genai.Schema
	timeout     time.Duration
	log         *logger.Logger
}

var _ CompletionService = (*GeminiCompletion)(nil)

// NewGeminiCompletion creates a Gemini completion driver. schema may be nil
// for free-form JSON output.
func NewGeminiCompletion(ctx context.Context, apiKey, model string, temperature float64, timeout time.Duration, schema *genai.Schema) (*GeminiCompletion, error) {
	if apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "gemini API key not configured")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}

	return &GeminiCompletion{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		schema:      schema,
		timeout:     timeout,
		log:         logger.Get().With("component", "gemini_completion", "model", model),
	}, nil
}

// Name returns the provider name
func (c *GeminiCompletion) Name() ProviderName {
	return ProviderNameGoogle
}

// Complete generates content for prompt and returns the response text
func (c *GeminiCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(c.temperature),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if c.schema != nil {
		cfg.ResponseSchema = c.schema
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	metrics.RecordCompletion(string(ProviderNameGoogle), err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errors.Wrap(errors.ErrTimeout, "gemini completion")
		}
		return "", errors.Wrapf(errors.ErrExternal, "gemini: %v", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.Wrap(errors.ErrExternal, "gemini returned no text")
	}

	c.log.Debugw("Completion received", "duration", time.Since(start))
	return text, nil
}
