package ai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// systemPrompt frames every completion as structured market analysis
const systemPrompt = "You are a fintech market analyst covering East Africa. " +
	"Answer with a single JSON object and nothing else."

// OpenAICompletion calls the OpenAI chat completions API
type OpenAICompletion struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	log         *logger.Logger
}

var _ CompletionService = (*OpenAICompletion)(nil)

// NewOpenAICompletion creates an OpenAI completion driver
func NewOpenAICompletion(apiKey, model string, temperature float64, timeout time.Duration, opts ...option.RequestOption) (*OpenAICompletion, error) {
	if apiKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "openai API key not configured")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAICompletion{
		client:      client,
		model:       model,
		temperature: temperature,
		timeout:     timeout,
		log:         logger.Get().With("component", "openai_completion", "model", model),
	}, nil
}

// Name returns the provider name
func (c *OpenAICompletion) Name() ProviderName {
	return ProviderNameOpenAI
}

// Complete sends prompt as a single user turn and returns the first choice
func (c *OpenAICompletion) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	})
	metrics.RecordCompletion(string(ProviderNameOpenAI), err)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrap(errors.ErrExternal, "openai returned no choices")
	}

	c.log.Debugw("Completion received",
		"duration", time.Since(start),
		"total_tokens", resp.Usage.TotalTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errors.Wrapf(errors.ErrRateLimitExceeded, "openai: %s", apiErr.Message)
		case apiErr.StatusCode >= 500:
			return errors.Wrapf(errors.ErrUnavailable, "openai (%d): %s", apiErr.StatusCode, apiErr.Message)
		default:
			return errors.Wrapf(errors.ErrExternal, "openai (%d): %s", apiErr.StatusCode, apiErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrTimeout, "openai completion")
	}
	return errors.Wrap(err, "openai completion")
}
