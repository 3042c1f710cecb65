package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

const defaultStabilityURL = "https://api.stability.ai/v1/generation/stable-diffusion-xl-1024-v1-0/text-to-image"

const stabilityNegativePrompt = "people, faces, logos, text, watermarks, blurry, low quality"

// StabilityImageGenerator calls the Stability AI text-to-image endpoint.
type StabilityImageGenerator struct {
	apiKey   string
	endpoint string
	client   *http.Client
	debug    bool
}

// NewStability creates a StabilityImageGenerator from cfg. BaseURL, when set,
// replaces the endpoint.
func NewStability(cfg config.AIConfig) *StabilityImageGenerator {
	endpoint := defaultStabilityURL
	if cfg.ImageProvider == "stability" && cfg.BaseURL != "" {
		endpoint = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &StabilityImageGenerator{
		apiKey:   cfg.StabilityAPIKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeoutFrom(cfg, 120*time.Second)},
		debug:    isDebugPrompts(),
	}
}

func (s *StabilityImageGenerator) Name() string { return "stability" }

type stabilityPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type stabilityRequest struct {
	TextPrompts []stabilityPrompt `json:"text_prompts"`
	CfgScale    int               `json:"cfg_scale"`
	Height      int               `json:"height"`
	Width       int               `json:"width"`
	Steps       int               `json:"steps"`
	Samples     int               `json:"samples"`
}

type stabilityResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

func (s *StabilityImageGenerator) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	body, err := json.Marshal(stabilityRequest{
		TextPrompts: []stabilityPrompt{
			{Text: prompt, Weight: 1},
			{Text: stabilityNegativePrompt, Weight: -1},
		},
		CfgScale: 7,
		Height:   1024,
		Width:    1024,
		Steps:    30,
		Samples:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling stability request: %w", err)
	}
	if s.debug {
		logPrompt("stability", prompt)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Stability API: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading Stability response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "stability", Status: resp.StatusCode, Message: truncateForError(apiErrorMessage(data), 300)}
	}

	var out stabilityResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing Stability response: %w", err)
	}
	if len(out.Artifacts) == 0 || out.Artifacts[0].Base64 == "" {
		return nil, fmt.Errorf("Stability returned no image")
	}
	return &GeneratedImage{
		URL:      "data:image/png;base64," + out.Artifacts[0].Base64,
		Provider: s.Name(),
	}, nil
}
