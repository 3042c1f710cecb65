package ai

import (
	"context"
	"errors"
)

// ErrNoAI is returned by NoopProvider and NoopImageGenerator.
var ErrNoAI = errors.New("AI provider not configured; set ai.provider and an API key with 'klara config set'")

// NoopProvider is used when no AI provider is configured.
// IsAvailable always returns false and Complete returns ErrNoAI, which lets
// the Writer fall back to templates instead of failing the fix.
type NoopProvider struct{}

func (n *NoopProvider) Name() string                       { return "none" }
func (n *NoopProvider) IsAvailable(_ context.Context) bool { return false }

func (n *NoopProvider) Complete(_ context.Context, _ CompletionRequest) (string, error) {
	return "", ErrNoAI
}

// NoopImageGenerator is used when no image provider has credentials.
type NoopImageGenerator struct{}

func (NoopImageGenerator) Name() string { return "none" }

func (NoopImageGenerator) GenerateImage(_ context.Context, _ string) (*GeneratedImage, error) {
	return nil, ErrNoAI
}
