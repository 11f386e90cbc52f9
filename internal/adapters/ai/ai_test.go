package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/openai/openai-go/v3/option"
	"github.com/redis/go-redis/v9"

	"fintelli/internal/adapters/config"
	"fintelli/pkg/errors"
)

type stubCompletion struct {
	calls atomic.Int32
}

func (s *stubCompletion) Name() ProviderName { return ProviderNameOpenAI }

func (s *stubCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	return `{"confidence":0.5}`, nil
}

func TestLocalLimiter_Burst(t *testing.T) {
	limiter := NewLocalLimiter(ProviderNameOpenAI, 60, 2)

	if !limiter.Allow() {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow() {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow() {
		t.Error("Third request should be denied")
	}
	if limiter.Limit() != 60 {
		t.Errorf("Limit() = %v, want 60", limiter.Limit())
	}
}

func TestLocalLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLocalLimiter(ProviderNameOpenAI, 6, 1)
	_ = limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	if err == nil {
		t.Fatal("Expected error once the bucket is empty")
	}
	if !errors.Is(err, errors.ErrRateLimitExceeded) {
		t.Errorf("Expected ErrRateLimitExceeded, got: %v", err)
	}
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) || rlErr.Provider != ProviderNameOpenAI {
		t.Errorf("Expected RateLimitError for openai, got: %v", err)
	}
}

func TestNoOpLimiter(t *testing.T) {
	limiter := NewNoOpLimiter()
	for i := 0; i < 100; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("NoOp limiter returned error: %v", err)
		}
	}
	if limiter.Limit() != -1 {
		t.Errorf("Limit() = %v, want -1", limiter.Limit())
	}
}

func TestWithRateLimit_BlocksWhenExhausted(t *testing.T) {
	stub := &stubCompletion{}
	svc := WithRateLimit(stub, NewLocalLimiter(ProviderNameOpenAI, 1, 1))

	if _, err := svc.Complete(context.Background(), "a"); err != nil {
		t.Fatalf("First completion should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := svc.Complete(ctx, "b"); !errors.Is(err, errors.ErrRateLimitExceeded) {
		t.Fatalf("Expected rate limit error, got: %v", err)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("Underlying service called %d times, want 1", got)
	}
	if svc.Name() != ProviderNameOpenAI {
		t.Errorf("Name() = %s", svc.Name())
	}
}

func TestWithRateLimit_NilLimiter(t *testing.T) {
	stub := &stubCompletion{}
	if svc := WithRateLimit(stub, nil); svc != CompletionService(stub) {
		t.Error("Expected the service to be returned unwrapped")
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRateLimiter_SharedBucket(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	frozen := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	a := NewRedisRateLimiter(client, "test:", ProviderNameOpenAI, 60, 2)
	b := NewRedisRateLimiter(client, "test:", ProviderNameOpenAI, 60, 2)
	a.now = func() time.Time { return frozen }
	b.now = func() time.Time { return frozen }

	if !a.Allow(ctx) {
		t.Error("First request should be allowed")
	}
	if !b.Allow(ctx) {
		t.Error("Second request from another replica should be allowed")
	}
	if a.Allow(ctx) {
		t.Error("Third request should be denied, bucket is shared")
	}

	// one second at 1 token/s refills one token
	later := frozen.Add(time.Second)
	a.now = func() time.Time { return later }
	if !a.Allow(ctx) {
		t.Error("Request after refill should be allowed")
	}

	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !b.Allow(ctx) {
		t.Error("Request after reset should be allowed")
	}
}

func TestRedisRateLimiter_WaitCancelled(t *testing.T) {
	client := newTestRedis(t)
	limiter := NewRedisRateLimiter(client, "test:", ProviderNameGoogle, 1, 1)
	frozen := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return frozen }

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("First wait should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := limiter.Wait(ctx)
	if !errors.Is(err, errors.ErrRateLimitExceeded) {
		t.Fatalf("Expected rate limit error, got: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected wrapped deadline error, got: %v", err)
	}
}

func TestNewCompletionService(t *testing.T) {
	ctx := context.Background()

	svc, err := NewCompletionService(ctx, config.AIConfig{
		Provider:       "openai",
		OpenAIKey:      "sk-test",
		OpenAIModel:    "gpt-4o-mini",
		RequestsPerMin: 60,
		Timeout:        time.Second,
	}, nil, "", nil)
	if err != nil {
		t.Fatalf("NewCompletionService failed: %v", err)
	}
	if svc.Name() != ProviderNameOpenAI {
		t.Errorf("Name() = %s, want openai", svc.Name())
	}
	if _, ok := svc.(*rateLimited); !ok {
		t.Errorf("Expected rate limited wrapper, got %T", svc)
	}

	if _, err := NewCompletionService(ctx, config.AIConfig{Provider: "openai"}, nil, "", nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Missing key should be invalid input, got: %v", err)
	}
	if _, err := NewCompletionService(ctx, config.AIConfig{Provider: "claude"}, nil, "", nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Unknown provider should be invalid input, got: %v", err)
	}
	if _, err := NewCompletionService(ctx, config.AIConfig{Provider: "gemini"}, nil, "", nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Missing gemini key should be invalid input, got: %v", err)
	}
}

func TestNewLimiter(t *testing.T) {
	if _, ok := newLimiter(ProviderNameOpenAI, 0, nil, "").(*NoOpLimiter); !ok {
		t.Error("Zero rate should disable limiting")
	}
	if _, ok := newLimiter(ProviderNameOpenAI, 60, nil, "").(*LocalLimiter); !ok {
		t.Error("Expected local limiter without redis")
	}
	if _, ok := newLimiter(ProviderNameOpenAI, 60, newTestRedis(t), "x:").(*RedisRateLimiter); !ok {
		t.Error("Expected redis limiter with a client")
	}
}

func TestOpenAICompletion_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "  {\"confidence\": 0.8}  "}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompletion("sk-test", "gpt-4o-mini", 0.2, 5*time.Second,
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewOpenAICompletion failed: %v", err)
	}

	out, err := c.Complete(context.Background(), "analyse mobile money")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"confidence": 0.8}` {
		t.Errorf("Complete() = %q", out)
	}
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("request model = %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("expected system and user messages, got %v", body["messages"])
	}
}

func TestOpenAICompletion_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_error"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompletion("sk-test", "", 0.2, 5*time.Second,
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("NewOpenAICompletion failed: %v", err)
	}

	_, err = c.Complete(context.Background(), "x")
	if !errors.Is(err, errors.ErrRateLimitExceeded) {
		t.Fatalf("Expected ErrRateLimitExceeded, got: %v", err)
	}
}

func TestOpenAICompletion_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream"}}`))
	}))
	defer srv.Close()

	c, _ := NewOpenAICompletion("sk-test", "", 0.2, 5*time.Second,
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))

	_, err := c.Complete(context.Background(), "x")
	if !errors.Is(err, errors.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got: %v", err)
	}
}
