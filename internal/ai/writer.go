package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/CosmoTheDev/klara-agent/models"
)

// Length limits for generated copy.
const (
	MaxSEOTitleLen       = 60
	MaxSEODescriptionLen = 155
	MaxAltTextLen        = 125
	MaxSKULen            = 24
)

// Generated is a piece of copy plus where it came from. Provider is
// "template" when no model produced the text.
type Generated struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Prompt   string `json:"-"`
}

// Writer produces product copy with an AIProvider and falls back to
// deterministic templates when no provider is configured.
type Writer struct {
	provider AIProvider
	logger   *slog.Logger
}

// NewWriter wraps provider. A nil provider behaves like NoopProvider.
func NewWriter(provider AIProvider) *Writer {
	if provider == nil {
		provider = &NoopProvider{}
	}
	return &Writer{provider: provider, logger: slog.Default()}
}

// Provider returns the wrapped text provider.
func (w *Writer) Provider() AIProvider { return w.provider }

// Description writes a 2-3 sentence product description as HTML.
func (w *Writer) Description(ctx context.Context, p *models.Product) (*Generated, error) {
	prompt := fmt.Sprintf(`Write a product description for an online store.

%s
Write a compelling 2-3 sentence product description that:
- Describes what this product actually IS based on its name
- Highlights key benefits or features a customer would care about
- Sounds natural, professional, and specific to THIS product
- Does NOT use generic filler phrases

Return ONLY the description text, no quotes, no preamble.`, productFacts(p, true))

	g, err := w.generate(ctx, prompt, 300, 0, func() string { return templateDescription(p) })
	if err != nil {
		return nil, err
	}
	g.Text = "<p>" + htmlEscaper.Replace(g.Text) + "</p>"
	return g, nil
}

// SEOTitle writes a page title of at most MaxSEOTitleLen characters.
func (w *Writer) SEOTitle(ctx context.Context, p *models.Product) (*Generated, error) {
	prompt := fmt.Sprintf(`Write an SEO page title for this product:

%s
Requirements:
- Maximum 60 characters total
- Must include the product name or a clear version of it
- Should be descriptive and search-friendly
- NO generic phrases like "Shop Now" or "Buy Online" or "| Store Name"

Return ONLY the title text, nothing else.`, productFacts(p, false))

	return w.generate(ctx, prompt, 50, MaxSEOTitleLen, func() string { return templateSEOTitle(p) })
}

// SEODescription writes a meta description of at most MaxSEODescriptionLen characters.
func (w *Writer) SEODescription(ctx context.Context, p *models.Product) (*Generated, error) {
	prompt := fmt.Sprintf(`Write a meta description for this product page:

%s
Requirements:
- Maximum 155 characters
- Describe what THIS specific product is
- Make it compelling for search results
- Be specific, not generic

Return ONLY the meta description text, nothing else.`, productFacts(p, false))

	return w.generate(ctx, prompt, 100, MaxSEODescriptionLen, func() string { return templateSEODescription(p) })
}

// AltText writes alt text for the image at index (zero based).
func (w *Writer) AltText(ctx context.Context, p *models.Product, index int) (*Generated, error) {
	prompt := fmt.Sprintf(`Write image alt text for a product photo:

%sImage number: %d

Requirements:
- Under 125 characters
- Describe what the image likely shows (product photo)
- Be specific to this product
- Good for accessibility

Return ONLY the alt text, nothing else.`, productFacts(p, false), index+1)

	return w.generate(ctx, prompt, 50, MaxAltTextLen, func() string { return templateAltText(p, index) })
}

// SKU writes a stock keeping unit for the variant at index (zero based).
// The result only holds uppercase letters, digits and hyphens.
func (w *Writer) SKU(ctx context.Context, p *models.Product, index int) (*Generated, error) {
	variant := ""
	if index >= 0 && index < len(p.Variants) && !models.IsBlank(p.Variants[index].Title) {
		variant = fmt.Sprintf("Variant: %s\n", p.Variants[index].Title)
	}
	prompt := fmt.Sprintf(`Generate a SKU (stock keeping unit) code for this product:

%s%s
Requirements:
- 8-12 characters
- Use uppercase letters and numbers only
- Should be memorable and relate to the product
- Format like: CAT-PROD-001 or BRAND-ITEM

Return ONLY the SKU code, nothing else.`, productFacts(p, false), variant)

	g, err := w.generate(ctx, prompt, 30, 0, func() string { return templateSKU(p, index) })
	if err != nil {
		return nil, err
	}
	g.Text = normalizeSKU(g.Text)
	if g.Text == "" {
		g.Text, g.Provider = templateSKU(p, index), "template"
	}
	return g, nil
}

// Options asks for three alternative texts for a text issue type so a
// merchant can pick one. Without a model it returns a single template.
func (w *Writer) Options(ctx context.Context, p *models.Product, issue models.IssueType) ([]string, error) {
	var ask, fallback string
	switch issue {
	case models.IssueMissingDescription:
		ask = `Generate 3 DIFFERENT product descriptions:
1. SHORT: A brief, punchy 1-sentence description
2. DETAILED: A comprehensive 2-3 sentence description with features
3. STORYTELLING: An engaging description that connects emotionally`
		fallback = templateDescription(p)
	case models.IssueMissingSEODescription:
		ask = `Generate 3 DIFFERENT meta descriptions (each 120-155 characters):
1. BENEFIT-FOCUSED: Highlights what the customer gets
2. KEYWORD-RICH: Optimized for search engines
3. ACTION-ORIENTED: Includes a call to action`
		fallback = templateSEODescription(p)
	case models.IssueMissingSEOTitle:
		ask = `Generate 3 DIFFERENT SEO page titles (each at most 60 characters, no "Shop Now"):
1. NAME-FIRST: Leads with the product name
2. CATEGORY: Names the product type
3. BRAND: Includes the brand`
		fallback = templateSEOTitle(p)
	case models.IssueMissingAltText:
		ask = `Generate 3 DIFFERENT alt texts (each under 125 characters):
1. DESCRIPTIVE: Describes the product visually
2. CONTEXTUAL: Describes how the product might be used
3. SIMPLE: Just the product name and type`
		fallback = templateAltText(p, 0)
	default:
		return nil, fmt.Errorf("no text options for issue type %q", issue)
	}

	prompt := fmt.Sprintf(`%s
%s

Format your response as JSON only, no other text:
{"options": ["option1", "option2", "option3"]}`, productFacts(p, false), ask)

	text, err := w.provider.Complete(ctx, CompletionRequest{Prompt: prompt, MaxTokens: 500})
	if err != nil {
		if errors.Is(err, ErrNoAI) {
			return []string{fallback}, nil
		}
		return nil, err
	}
	options := parseOptions(text)
	if len(options) == 0 {
		w.logger.Warn("ai: options response had no usable JSON", "provider", w.provider.Name())
		return []string{fallback}, nil
	}
	return options, nil
}

func (w *Writer) generate(ctx context.Context, prompt string, maxTokens, limit int, fallback func() string) (*Generated, error) {
	text, err := w.provider.Complete(ctx, CompletionRequest{Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		if !errors.Is(err, ErrNoAI) {
			return nil, err
		}
		return &Generated{Text: clip(fallback(), limit), Provider: "template", Prompt: prompt}, nil
	}
	text = clip(cleanCompletion(text), limit)
	if text == "" {
		return &Generated{Text: clip(fallback(), limit), Provider: "template", Prompt: prompt}, nil
	}
	return &Generated{Text: text, Provider: w.provider.Name(), Prompt: prompt}, nil
}

func productFacts(p *models.Product, withTags bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Product Name: %s\n", p.Title)
	if p.Vendor != "" {
		fmt.Fprintf(&sb, "Brand: %s\n", p.Vendor)
	}
	if p.ProductType != "" {
		fmt.Fprintf(&sb, "Category: %s\n", p.ProductType)
	}
	if withTags && len(p.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(p.Tags, ", "))
	}
	return sb.String()
}

var optionsJSON = regexp.MustCompile(`(?s)\{.*\}`)

func parseOptions(text string) []string {
	m := optionsJSON.FindString(text)
	if m == "" {
		return nil
	}
	var parsed struct {
		Options []string `json:"options"`
	}
	if err := json.Unmarshal([]byte(m), &parsed); err != nil {
		return nil
	}
	out := parsed.Options[:0]
	for _, o := range parsed.Options {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// cleanCompletion strips wrapping quotes and a leading label a model
// sometimes adds despite instructions.
func cleanCompletion(s string) string {
	s = strings.TrimSpace(s)
	for _, label := range []string{"Title:", "Meta description:", "Alt text:", "Description:", "SKU:"} {
		if len(s) > len(label) && strings.EqualFold(s[:len(label)], label) {
			s = strings.TrimSpace(s[len(label):])
		}
	}
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}

// clip cuts s to at most limit runes on a word boundary when possible.
func clip(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-")
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func templateDescription(p *models.Product) string {
	subject := p.Title
	if p.Vendor != "" {
		subject = p.Vendor + " " + p.Title
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "The %s", subject)
	if p.ProductType != "" {
		fmt.Fprintf(&sb, " is a %s", strings.ToLower(p.ProductType))
	} else {
		sb.WriteString(" is a product")
	}
	sb.WriteString(" made to be used and enjoyed every day.")
	if len(p.Tags) > 0 {
		n := min(len(p.Tags), 3)
		fmt.Fprintf(&sb, " Great for %s.", strings.ToLower(strings.Join(p.Tags[:n], ", ")))
	}
	return sb.String()
}

func templateSEOTitle(p *models.Product) string {
	title := strings.TrimSpace(p.Title)
	if p.ProductType != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(p.ProductType)) {
		candidate := title + " | " + p.ProductType
		if len([]rune(candidate)) <= MaxSEOTitleLen {
			return candidate
		}
	}
	if p.Vendor != "" {
		candidate := title + " by " + p.Vendor
		if len([]rune(candidate)) <= MaxSEOTitleLen {
			return candidate
		}
	}
	return title
}

func templateSEODescription(p *models.Product) string {
	desc := models.PlainText(p.DescriptionHTML)
	if len([]rune(desc)) >= 50 {
		return desc
	}
	s := "Discover the " + p.Title
	if p.Vendor != "" {
		s += " from " + p.Vendor
	}
	if p.ProductType != "" {
		s += ", a quality " + strings.ToLower(p.ProductType)
	}
	return s + ". Order online today."
}

// normalizeSKU uppercases s and keeps letters, digits and single hyphens.
func normalizeSKU(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
			dash = false
		case r == '-' || r == ' ' || r == '_' || r == '/':
			if sb.Len() > 0 && !dash {
				sb.WriteByte('-')
				dash = true
			}
		}
		if sb.Len() >= MaxSKULen {
			break
		}
	}
	return strings.Trim(sb.String(), "-")
}

// templateSKU builds CAT-PROD-NNN from the product type (or brand), the
// title and the variant position.
func templateSKU(p *models.Product, index int) string {
	prefix := func(s string, n int) string {
		s = strings.ReplaceAll(normalizeSKU(s), "-", "")
		if len(s) > n {
			s = s[:n]
		}
		return s
	}
	parts := make([]string, 0, 3)
	cat := prefix(p.ProductType, 3)
	if cat == "" {
		cat = prefix(p.Vendor, 3)
	}
	if cat != "" {
		parts = append(parts, cat)
	}
	if name := prefix(p.Title, 4); name != "" {
		parts = append(parts, name)
	} else {
		parts = append(parts, "ITEM")
	}
	parts = append(parts, fmt.Sprintf("%03d", max(index, 0)+1))
	return strings.Join(parts, "-")
}

func templateAltText(p *models.Product, index int) string {
	s := p.Title
	if p.ProductType != "" {
		s += " " + strings.ToLower(p.ProductType)
	}
	if index > 0 {
		return fmt.Sprintf("%s, view %d", s, index+1)
	}
	return s + " product photo"
}
