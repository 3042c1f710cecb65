package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/models"
)

type stubProvider struct {
	name  string
	calls int
	reply string
	err   error
}

func (s *stubProvider) Name() string                       { return s.name }
func (s *stubProvider) IsAvailable(_ context.Context) bool { return s.err == nil }
func (s *stubProvider) Complete(_ context.Context, _ CompletionRequest) (string, error) {
	s.calls++
	return s.reply, s.err
}

func snowboard() *models.Product {
	return &models.Product{
		ID:          "p1",
		Title:       "The Complete Snowboard",
		ProductType: "Snowboard",
		Vendor:      "Snowboard Vendor",
		Tags:        []string{"Premium", "Winter"},
	}
}

func TestChainFailsOverAndTripsOnAuth(t *testing.T) {
	bad := &stubProvider{name: "openai", err: &APIError{Provider: "openai", Status: http.StatusUnauthorized, Message: "bad key"}}
	good := &stubProvider{name: "ollama", reply: "ok"}
	chain := NewChain([]AIProvider{bad, good})

	out, err := chain.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	name, fallback := chain.CurrentProvider()
	assert.Equal(t, "ollama", name)
	assert.True(t, fallback)

	// The auth failure opened the circuit, so the first provider is skipped.
	_, err = chain.Complete(context.Background(), CompletionRequest{Prompt: "again"})
	require.NoError(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 2, good.calls)
}

func TestChainSkipsUnconfiguredWithoutTripping(t *testing.T) {
	chain := NewChain([]AIProvider{&NoopProvider{}, &stubProvider{name: "b", err: errors.New("status 400")}})
	_, err := chain.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.True(t, chain.breakers["none"].allow())
}

func TestOpenAICompleteRetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, `{"error":{"message":"Please try again in 5ms."}}`, http.StatusTooManyRequests)
			return
		}
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, 40, req.MaxTokens)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Hello  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.AIConfig{OpenAIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := p.Complete(context.Background(), CompletionRequest{Prompt: "hi", MaxTokens: 40})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
	assert.EqualValues(t, 2, hits.Load())
}

func TestOpenAICompleteReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.AIConfig{OpenAIKey: "sk-bad", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Incorrect API key", apiErr.Message)
	assert.True(t, isAuthError(err))
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersionHeader, r.Header.Get("anthropic-version"))
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, anthropicDefaultModel, req.Model)
		assert.Equal(t, defaultSystemPrompt, req.System)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":" Warm "},{"type":"text","text":"mug "}]}`))
	}))
	defer srv.Close()

	p := NewAnthropic(config.AIConfig{AnthropicKey: "sk-ant-test", Model: "gpt-4o-mini"})
	p.baseURL = srv.URL
	out, err := p.Complete(context.Background(), CompletionRequest{Prompt: "describe"})
	require.NoError(t, err)
	assert.Equal(t, "Warm mug", out)
}

func TestNewSelectsAnthropicOnlyWithKey(t *testing.T) {
	p, err := New(config.AIConfig{Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, "none", p.Name())

	p, err = New(config.AIConfig{Provider: "anthropic", AnthropicKey: "sk-ant"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = New(config.AIConfig{Provider: "gemini"})
	assert.Error(t, err)
}

func TestOpenAIImageGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		var req openAIImageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dall-e-3", req.Model)
		assert.Equal(t, "1024x1024", req.Size)
		assert.Equal(t, 1, req.N)
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img.example/x.png","revised_prompt":"rp"}]}`))
	}))
	defer srv.Close()

	gen, err := NewImageGenerator(config.AIConfig{OpenAIKey: "sk", BaseURL: srv.URL})
	require.NoError(t, err)
	img, err := gen.GenerateImage(context.Background(), "a snowboard")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/x.png", img.URL)
	assert.Equal(t, "rp", img.RevisedPrompt)
	assert.Equal(t, "openai", img.Provider)
}

func TestStabilityImageGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req stabilityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.TextPrompts, 2)
		assert.Equal(t, -1.0, req.TextPrompts[1].Weight)
		assert.Equal(t, 30, req.Steps)
		_, _ = w.Write([]byte(`{"artifacts":[{"base64":"aGVsbG8=","finishReason":"SUCCESS"}]}`))
	}))
	defer srv.Close()

	gen, err := NewImageGenerator(config.AIConfig{ImageProvider: "stability", StabilityAPIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	img, err := gen.GenerateImage(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", img.URL)
}

func TestNewImageGeneratorWithoutKeysIsNoop(t *testing.T) {
	gen, err := NewImageGenerator(config.AIConfig{})
	require.NoError(t, err)
	_, err = gen.GenerateImage(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoAI)

	_, err = NewImageGenerator(config.AIConfig{ImageProvider: "midjourney"})
	assert.Error(t, err)
}

func TestBuildImagePrompt(t *testing.T) {
	prompt, style := BuildImagePrompt(snowboard(), models.StyleStudio)
	assert.Equal(t, "Studio", style)
	assert.True(t, strings.HasPrefix(prompt, "snowboard, Complete Snowboard, Premium, professional product photography"), prompt)
	assert.True(t, strings.HasSuffix(prompt, "Product-focused, commercial photography style."))

	empty := &models.Product{Title: "A B"}
	prompt, style = BuildImagePrompt(empty, "")
	assert.Equal(t, "Studio", style)
	assert.True(t, strings.HasPrefix(prompt, "product, "))
}

func TestWriterFallsBackToTemplates(t *testing.T) {
	w := NewWriter(nil)
	ctx := context.Background()

	title, err := w.SEOTitle(ctx, snowboard())
	require.NoError(t, err)
	assert.Equal(t, "template", title.Provider)
	assert.LessOrEqual(t, len([]rune(title.Text)), MaxSEOTitleLen)
	assert.Contains(t, title.Text, "The Complete Snowboard")

	desc, err := w.Description(ctx, snowboard())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(desc.Text, "<p>The Snowboard Vendor The Complete Snowboard is a snowboard"))

	meta, err := w.SEODescription(ctx, snowboard())
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(meta.Text)), MaxSEODescriptionLen)

	alt, err := w.AltText(ctx, snowboard(), 1)
	require.NoError(t, err)
	assert.Equal(t, "The Complete Snowboard snowboard, view 2", alt.Text)
}

func TestWriterCleansModelOutput(t *testing.T) {
	long := `"` + strings.Repeat("word ", 40) + `"`
	w := NewWriter(&stubProvider{name: "openai", reply: long})
	g, err := w.SEOTitle(context.Background(), snowboard())
	require.NoError(t, err)
	assert.Equal(t, "openai", g.Provider)
	assert.LessOrEqual(t, len(g.Text), MaxSEOTitleLen)
	assert.False(t, strings.HasPrefix(g.Text, `"`))
}

func TestWriterSKU(t *testing.T) {
	ctx := context.Background()

	g, err := NewWriter(nil).SKU(ctx, snowboard(), 0)
	require.NoError(t, err)
	assert.Equal(t, "template", g.Provider)
	assert.Equal(t, "SNO-THEC-001", g.Text)

	g, err = NewWriter(&stubProvider{name: "anthropic", reply: "SKU: snb comp_01!"}).SKU(ctx, snowboard(), 2)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", g.Provider)
	assert.Equal(t, "SNB-COMP-01", g.Text)

	g, err = NewWriter(&stubProvider{name: "openai", reply: "???"}).SKU(ctx, snowboard(), 1)
	require.NoError(t, err)
	assert.Equal(t, "template", g.Provider, "unusable output falls back")
	assert.Equal(t, "SNO-THEC-002", g.Text)

	assert.Equal(t, "ITEM-001", templateSKU(&models.Product{Title: "!!"}, 0))
	assert.Len(t, normalizeSKU(strings.Repeat("AB", 40)), MaxSKULen)
}

func TestWriterPropagatesProviderErrors(t *testing.T) {
	w := NewWriter(&stubProvider{name: "openai", err: &APIError{Provider: "openai", Status: 500, Message: "boom"}})
	_, err := w.SEODescription(context.Background(), snowboard())
	assert.Error(t, err)
}

func TestWriterOptions(t *testing.T) {
	w := NewWriter(&stubProvider{name: "openai", reply: "Sure!\n{\"options\": [\"a\", \" \", \"b\"]}"})
	opts, err := w.Options(context.Background(), snowboard(), models.IssueMissingSEOTitle)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, opts)

	opts, err = NewWriter(nil).Options(context.Background(), snowboard(), models.IssueMissingAltText)
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	_, err = w.Options(context.Background(), snowboard(), models.IssueOutOfStock)
	assert.Error(t, err)
}

func TestOpenAIRetryDelay(t *testing.T) {
	assert.Equal(t, 3*time.Second, openAIRetryDelay("3", "", 1))
	assert.Equal(t, 250*time.Millisecond, openAIRetryDelay("", "Please try again in 250ms.", 1))
	assert.Equal(t, 8*time.Second, openAIRetryDelay("", "", 10))
}
