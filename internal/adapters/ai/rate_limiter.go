package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"fintelli/internal/metrics"
	"fintelli/pkg/errors"
)

// RateLimiter throttles completion requests to a provider
type RateLimiter interface {
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error

	// Limit returns the configured rate in requests per minute, -1 if unlimited
	Limit() float64
}

// LocalLimiter is an in-process token bucket, suitable for a single replica
type LocalLimiter struct {
	limiter      *rate.Limiter
	provider     ProviderName
	reqPerMinute float64
}

// NewLocalLimiter creates a limiter allowing reqPerMinute with a burst of
// 10% of the per-minute rate (at least 1).
func NewLocalLimiter(provider ProviderName, reqPerMinute float64, burst int) *LocalLimiter {
	if burst <= 0 {
		burst = int(reqPerMinute / 10)
		if burst < 1 {
			burst = 1
		}
	}
	return &LocalLimiter{
		limiter:      rate.NewLimiter(rate.Limit(reqPerMinute/60.0), burst),
		provider:     provider,
		reqPerMinute: reqPerMinute,
	}
}

// Wait blocks until a token is available
func (l *LocalLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return &RateLimitError{Provider: l.provider, Limit: l.reqPerMinute, Err: err}
	}
	return nil
}

// Allow reports whether a request may proceed now, consuming a token if so
func (l *LocalLimiter) Allow() bool {
	return l.limiter.Allow()
}

// Limit returns requests per minute
func (l *LocalLimiter) Limit() float64 {
	return l.reqPerMinute
}

// NoOpLimiter never blocks
type NoOpLimiter struct{}

// NewNoOpLimiter creates a no-op rate limiter
func NewNoOpLimiter() *NoOpLimiter {
	return &NoOpLimiter{}
}

// Wait returns immediately
func (l *NoOpLimiter) Wait(ctx context.Context) error {
	return nil
}

// Limit returns -1 to indicate unlimited
func (l *NoOpLimiter) Limit() float64 {
	return -1
}

// RateLimitError wraps rate limit related errors with provider context
type RateLimitError struct {
	Provider ProviderName
	Limit    float64
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error for provider %s (limit: %.0f req/min): %v", e.Provider, e.Limit, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Is lets callers match any limiter failure against ErrRateLimitExceeded
func (e *RateLimitError) Is(target error) bool {
	return target == errors.ErrRateLimitExceeded
}

// rateLimited gates every completion through a limiter
type rateLimited struct {
	next    CompletionService
	limiter RateLimiter
}

// WithRateLimit wraps next so each Complete call first waits on limiter
func WithRateLimit(next CompletionService, limiter RateLimiter) CompletionService {
	if limiter == nil {
		return next
	}
	return &rateLimited{next: next, limiter: limiter}
}

func (r *rateLimited) Name() ProviderName {
	return r.next.Name()
}

func (r *rateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		metrics.CompletionCalls.WithLabelValues(string(r.next.Name()), "rate_limited").Inc()
		return "", err
	}
	return r.next.Complete(ctx, prompt)
}
