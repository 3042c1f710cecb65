package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

const (
	anthropicBaseURL       = "https://api.anthropic.com/v1"
	anthropicVersionHeader = "2023-06-01"
	anthropicDefaultModel  = "claude-sonnet-4-6"
)

// AnthropicProvider implements AIProvider using the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey       string
	model        string
	baseURL      string
	client       *http.Client
	debug        bool
	debugPrompts bool
}

// NewAnthropic creates an AnthropicProvider from cfg. ai.model is only used
// when it does not name an OpenAI model.
func NewAnthropic(cfg config.AIConfig) *AnthropicProvider {
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = anthropicDefaultModel
	}
	return &AnthropicProvider{
		apiKey:       cfg.AnthropicKey,
		model:        model,
		baseURL:      anthropicBaseURL,
		client:       &http.Client{Timeout: timeoutFrom(cfg, 90*time.Second)},
		debug:        isDebug(),
		debugPrompts: isDebugPrompts(),
	}
}

func (c *AnthropicProvider) Name() string { return "anthropic" }

func (c *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req) // #nosec G107 -- baseURL is a package constant
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one message and joins the text blocks of the reply.
func (c *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}
	if c.debug {
		slog.Info("Anthropic request", "model", c.model, "max_tokens", maxTokens, "prompt_chars", len(req.Prompt))
		if c.debugPrompts {
			slog.Info("Anthropic prompt body", "prompt", req.Prompt)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq) // #nosec G107 -- baseURL is a package constant
	if err != nil {
		return "", fmt.Errorf("calling Anthropic API: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Provider: "anthropic", Status: resp.StatusCode, Message: truncateForError(apiErrorMessage(respBody), 300)}
	}

	var out anthropicResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing API response: %w", err)
	}
	if out.Error != nil {
		return "", &APIError{Provider: "anthropic", Status: resp.StatusCode, Message: out.Error.Message}
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("Anthropic returned no text")
	}
	return text, nil
}

func (c *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)
}
