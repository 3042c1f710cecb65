package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/models"
)

// GeneratedImage is the result of one text-to-image call. URL is either a
// remote https URL or a data: URL carrying the image bytes.
type GeneratedImage struct {
	URL           string
	RevisedPrompt string
	Provider      string
}

// ImageGenerator produces product images from a prompt.
type ImageGenerator interface {
	Name() string
	GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error)
}

// NewImageGenerator returns the configured generator, or a
// NoopImageGenerator when the chosen provider has no credentials.
func NewImageGenerator(cfg config.AIConfig) (ImageGenerator, error) {
	switch cfg.ImageProvider {
	case "", "openai":
		if cfg.OpenAIKey == "" {
			return NoopImageGenerator{}, nil
		}
		p, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		model := cfg.ImageModel
		if model == "" {
			model = "dall-e-3"
		}
		return &OpenAIImageGenerator{provider: p, model: model}, nil
	case "stability":
		if cfg.StabilityAPIKey == "" {
			return NoopImageGenerator{}, nil
		}
		return NewStability(cfg), nil
	case "none":
		return NoopImageGenerator{}, nil
	default:
		return nil, fmt.Errorf("unsupported image provider %q (supported: openai, stability)", cfg.ImageProvider)
	}
}

// StylePreset pairs a display name with the prompt suffix for a style.
type StylePreset struct {
	Name   string
	Prompt string
}

var stylePresets = map[models.ImageStyle]StylePreset{
	models.StyleStudio: {
		Name:   "Studio",
		Prompt: "professional product photography, clean white background, studio lighting, high quality, centered composition",
	},
	models.StyleLifestyle: {
		Name:   "Lifestyle",
		Prompt: "lifestyle product photography, natural setting, soft natural lighting, in use context, high quality",
	},
	models.StyleFlatlay: {
		Name:   "Flat Lay",
		Prompt: "flat lay product photography, top-down view, styled arrangement, neutral background, high quality",
	},
	models.StylePromotional: {
		Name:   "Promotional",
		Prompt: "promotional product photography, vibrant colors, dynamic composition, eye-catching, commercial quality",
	},
}

// Styles lists the presets in display order.
func Styles() []models.ImageStyle {
	return []models.ImageStyle{
		models.StyleStudio,
		models.StyleLifestyle,
		models.StyleFlatlay,
		models.StylePromotional,
	}
}

// Preset returns the preset for style, falling back to studio.
func Preset(style models.ImageStyle) StylePreset {
	if p, ok := stylePresets[style]; ok {
		return p
	}
	return stylePresets[models.StyleStudio]
}

const imagePromptSuffix = ". No people, no faces, no brand logos, no text, no watermarks. Product-focused, commercial photography style."

// BuildImagePrompt describes p for an image model. The subject is the
// product type, up to three meaningful title words and the first short tag.
func BuildImagePrompt(p *models.Product, style models.ImageStyle) (prompt, styleName string) {
	preset := Preset(style)
	var parts []string
	if pt := strings.TrimSpace(p.ProductType); pt != "" {
		parts = append(parts, strings.ToLower(pt))
	}
	var words []string
	for _, w := range strings.Fields(p.Title) {
		if len(w) > 3 {
			words = append(words, w)
		}
		if len(words) == 3 {
			break
		}
	}
	if len(words) > 0 {
		parts = append(parts, strings.Join(words, " "))
	}
	if tag := p.FirstTag(); len(tag) > 2 && len(tag) < 20 {
		parts = append(parts, tag)
	}
	subject := strings.Join(parts, ", ")
	if subject == "" {
		subject = "product"
	}
	return subject + ", " + preset.Prompt + imagePromptSuffix, preset.Name
}

// OpenAIImageGenerator calls the images endpoint of an OpenAI-compatible API.
type OpenAIImageGenerator struct {
	provider *OpenAIProvider
	model    string
}

func (g *OpenAIImageGenerator) Name() string { return "openai" }

type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Quality        string `json:"quality"`
	ResponseFormat string `json:"response_format"`
}

type openAIImageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (g *OpenAIImageGenerator) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	body, err := json.Marshal(openAIImageRequest{
		Model:          g.model,
		Prompt:         prompt,
		N:              1,
		Size:           "1024x1024",
		Quality:        "standard",
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling image request: %w", err)
	}
	if g.provider.debugPrompts {
		logPrompt("openai images", prompt)
	}
	respBody, err := g.provider.post(ctx, "/images/generations", body)
	if err != nil {
		return nil, err
	}
	var resp openAIImageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing image response: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, fmt.Errorf("OpenAI returned no image")
	}
	return &GeneratedImage{
		URL:           resp.Data[0].URL,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
		Provider:      g.Name(),
	}, nil
}
