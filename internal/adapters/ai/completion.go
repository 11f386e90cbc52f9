package ai

import "context"

// ProviderName identifies a completion backend
type ProviderName string

const (
	ProviderNameOpenAI ProviderName = "openai"
	ProviderNameGoogle ProviderName = "gemini"
)

// CompletionService turns a prompt into model text. Implementations may fail
// with connectivity, timeout or rate-limit errors; callers treat every failure
// the same way.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() ProviderName
}
