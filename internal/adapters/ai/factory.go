package ai

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"fintelli/internal/adapters/config"
	"fintelli/pkg/errors"
	"fintelli/pkg/logger"
)

// NewCompletionService builds the configured completion driver behind a rate
// limiter. The limiter is shared through Redis when rdb is non-nil. schema is
// only used by the Gemini driver.
func NewCompletionService(ctx context.Context, cfg config.AIConfig, rdb *redis.Client, keyPrefix string, schema *genai.Schema) (CompletionService, error) {
	var (
		svc CompletionService
		err error
	)

	switch ProviderName(strings.ToLower(cfg.Provider)) {
	case ProviderNameOpenAI:
		svc, err = NewOpenAICompletion(cfg.OpenAIKey, cfg.OpenAIModel, cfg.Temperature, cfg.Timeout)
	case ProviderNameGoogle:
		svc, err = NewGeminiCompletion(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.Temperature, cfg.Timeout, schema)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown AI provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	limiter := newLimiter(svc.Name(), cfg.RequestsPerMin, rdb, keyPrefix)
	logger.Get().Infow("Completion service ready",
		"provider", svc.Name(),
		"requests_per_minute", limiter.Limit(),
		"distributed_limit", rdb != nil)

	return WithRateLimit(svc, limiter), nil
}

func newLimiter(provider ProviderName, reqPerMinute int, rdb *redis.Client, keyPrefix string) RateLimiter {
	if reqPerMinute <= 0 {
		return NewNoOpLimiter()
	}
	if rdb != nil {
		return NewRedisRateLimiter(rdb, keyPrefix, provider, float64(reqPerMinute), 0)
	}
	return NewLocalLimiter(provider, float64(reqPerMinute), 0)
}
