// Package ai generates product copy and product images.
package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

// AIProvider abstracts calls to a language model.
// To add a new provider:
//  1. Create a file in internal/ai/ (e.g. mymodel.go)
//  2. Implement AIProvider
//  3. Register in newSingle()
type AIProvider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "ollama").
	Name() string

	// IsAvailable verifies the provider is reachable and configured.
	IsAvailable(ctx context.Context) bool

	// Complete returns the model's answer to req as trimmed plain text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is one prompt round-trip.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// New returns the configured AIProvider.
// If no provider or API key is set, it returns a NoopProvider; callers fall
// back to templates. If fallback providers are configured, returns a
// ChainProvider that tries them in order with circuit breaker protection.
func New(cfg config.AIConfig) (AIProvider, error) {
	primary, err := newSingle(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Fallback) == 0 {
		return primary, nil
	}

	chain := []AIProvider{primary}
	for _, fallbackProvider := range cfg.Fallback {
		p, err := newSingle(fallbackProvider, cfg)
		if err != nil {
			slog.Warn("ai: failed to create fallback provider, skipping", "provider", fallbackProvider, "error", err)
			continue
		}
		chain = append(chain, p)
	}

	if len(chain) == 1 {
		return primary, nil
	}

	return NewChain(chain), nil
}

func timeoutFrom(cfg config.AIConfig, def time.Duration) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return def
}
