package actions

import (
	"context"
	"strings"

	"github.com/CosmoTheDev/klara-agent/internal/ai"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/imagesource"
	"github.com/CosmoTheDev/klara-agent/models"
)

func (d *Dispatcher) fixSEO(ctx context.Context, p *models.Product, a models.FixSEO) (*change, error) {
	for _, f := range a.Fields {
		if f != models.SEOFieldTitle && f != models.SEOFieldDescription {
			return nil, invalid("unknown SEO field %q", f)
		}
	}
	ch := &change{
		mutation: catalog.Mutation{ProductID: p.ID},
		before:   &models.Snapshot{ProductID: p.ID},
		metadata: map[string]string{},
	}
	if a.Wants(models.SEOFieldTitle) {
		ch.before.SEOTitle = models.StringPtr(p.SEO.Title)
		title := strings.TrimSpace(a.Title)
		if title == "" {
			g, err := d.writer.SEOTitle(ctx, p)
			if err != nil {
				return ch, &GenerationError{Provider: providerName(d.writer), Err: err}
			}
			title = g.Text
			ch.metadata["title_provider"] = g.Provider
		}
		ch.mutation.SEOTitle = models.StringPtr(title)
	}
	if a.Wants(models.SEOFieldDescription) {
		ch.before.SEODescription = models.StringPtr(p.SEO.Description)
		desc := strings.TrimSpace(a.Description)
		if desc == "" {
			g, err := d.writer.SEODescription(ctx, p)
			if err != nil {
				return ch, &GenerationError{Provider: providerName(d.writer), Err: err}
			}
			desc = g.Text
			ch.metadata["description_provider"] = g.Provider
		}
		ch.mutation.SEODescription = models.StringPtr(desc)
	}
	return ch, nil
}

func (d *Dispatcher) improveDescription(ctx context.Context, p *models.Product, a models.ImproveDescription) (*change, error) {
	ch := &change{
		mutation: catalog.Mutation{ProductID: p.ID},
		before:   &models.Snapshot{ProductID: p.ID, DescriptionHTML: models.StringPtr(p.DescriptionHTML)},
		metadata: map[string]string{},
	}
	body := strings.TrimSpace(a.DescriptionHTML)
	if body == "" {
		g, err := d.writer.Description(ctx, p)
		if err != nil {
			return ch, &GenerationError{Provider: providerName(d.writer), Err: err}
		}
		body = g.Text
		ch.metadata["provider"] = g.Provider
		ch.metadata["prompt"] = g.Prompt
	}
	ch.mutation.DescriptionHTML = models.StringPtr(body)
	return ch, nil
}

func (d *Dispatcher) fixAltText(ctx context.Context, p *models.Product, a models.FixAltText) (*change, error) {
	if a.ImageID == "" {
		return nil, invalid("%s: image id is required", a.Kind())
	}
	index := -1
	for i, img := range p.Images {
		if img.ID == a.ImageID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, invalid("image %s does not belong to product %s", a.ImageID, p.ID)
	}
	ch := &change{
		mutation: catalog.Mutation{ProductID: p.ID},
		before: &models.Snapshot{
			ProductID: p.ID,
			ImageID:   a.ImageID,
			AltText:   models.StringPtr(p.Images[index].AltText),
		},
		metadata: map[string]string{"image_id": a.ImageID},
	}
	alt := strings.TrimSpace(a.AltText)
	if alt == "" {
		g, err := d.writer.AltText(ctx, p, index)
		if err != nil {
			return ch, &GenerationError{Provider: providerName(d.writer), Err: err}
		}
		alt = g.Text
		ch.metadata["provider"] = g.Provider
	}
	ch.mutation.ImageAlt = &catalog.ImageAlt{ImageID: a.ImageID, AltText: alt}
	return ch, nil
}

func (d *Dispatcher) fixSKU(ctx context.Context, p *models.Product, a models.FixSKU) (*change, error) {
	if a.VariantID == "" {
		return nil, invalid("%s: variant id is required", a.Kind())
	}
	index := -1
	for i, v := range p.Variants {
		if v.ID == a.VariantID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, invalid("variant %s does not belong to product %s", a.VariantID, p.ID)
	}
	ch := &change{
		mutation: catalog.Mutation{ProductID: p.ID},
		before: &models.Snapshot{
			ProductID: p.ID,
			VariantID: a.VariantID,
			SKU:       models.StringPtr(p.Variants[index].SKU),
		},
		metadata: map[string]string{"variant_id": a.VariantID},
	}
	sku := strings.TrimSpace(a.SKU)
	if sku == "" {
		g, err := d.writer.SKU(ctx, p, index)
		if err != nil {
			return ch, &GenerationError{Provider: providerName(d.writer), Err: err}
		}
		sku = g.Text
		ch.metadata["provider"] = g.Provider
	}
	ch.mutation.VariantSKU = &catalog.VariantSKU{VariantID: a.VariantID, SKU: sku}
	return ch, nil
}

func (d *Dispatcher) fixImageAI(ctx context.Context, p *models.Product, a models.FixImageAI) (*change, error) {
	prompt, styleName := ai.BuildImagePrompt(p, a.Style)
	if strings.TrimSpace(a.Prompt) != "" {
		prompt = a.Prompt
	}
	style := a.Style
	if style == "" {
		style = models.StyleStudio
	}
	ch := &change{
		mutation: catalog.Mutation{ProductID: p.ID},
		before:   imagesBefore(p),
		metadata: map[string]string{
			"provider": d.images.Name(),
			"prompt":   prompt,
			"style":    string(style),
		},
	}

	img, err := d.images.GenerateImage(ctx, prompt)
	if err != nil {
		return ch, &GenerationError{Provider: d.images.Name(), Err: err}
	}
	if img.RevisedPrompt != "" {
		ch.metadata["revised_prompt"] = img.RevisedPrompt
	}
	data, err := d.fetch(ctx, img.URL)
	if err != nil {
		return ch, err
	}
	ch.mutation.AppendImages = []catalog.NewImage{{
		Data:        data.Data,
		ContentType: data.ContentType,
		AltText:     p.Title + " - " + styleName + " product photo",
		SourceURL:   sourceURL(img.URL),
	}}
	return ch, nil
}

func (d *Dispatcher) fixImageStock(ctx context.Context, p *models.Product, a models.FixImageStock) (*change, error) {
	ch := &change{
		mutation: catalog.Mutation{ProductID: p.ID},
		before:   imagesBefore(p),
		metadata: map[string]string{},
	}

	photo := imagesource.Photo{URL: a.PhotoURL, Provider: "direct"}
	if a.PhotoURL == "" {
		if d.stock == nil {
			return ch, &FetchError{Err: imagesource.ErrNoProviders}
		}
		query := strings.TrimSpace(a.Query)
		if query == "" {
			query = imagesource.SearchQuery(p)
		}
		ch.metadata["query"] = query
		photos, err := d.stock.Search(ctx, query, 1)
		if err != nil {
			return ch, &FetchError{Err: err}
		}
		if len(photos) == 0 {
			return ch, &FetchError{Err: ErrNoStockResults}
		}
		photo = photos[0]
		d.stock.TrackDownload(ctx, photo)
	}
	ch.metadata["provider"] = photo.Provider
	ch.metadata["photo_url"] = photo.URL
	if photo.Photographer != "" {
		ch.metadata["photographer"] = photo.Photographer
	}
	if photo.PhotographerURL != "" {
		ch.metadata["photographer_url"] = photo.PhotographerURL
	}

	data, err := d.fetch(ctx, photo.URL)
	if err != nil {
		return ch, err
	}
	alt := photo.Description
	if alt == "" || alt == ch.metadata["query"] {
		alt = p.Title
	}
	ch.mutation.AppendImages = []catalog.NewImage{{
		Data:        data.Data,
		ContentType: data.ContentType,
		AltText:     alt,
		SourceURL:   photo.URL,
	}}
	return ch, nil
}

func (d *Dispatcher) fetch(ctx context.Context, url string) (*imagesource.Image, error) {
	if d.fetcher == nil {
		return nil, &FetchError{URL: sourceURL(url), Err: imagesource.ErrNotImage}
	}
	img, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: sourceURL(url), Err: err}
	}
	return img, nil
}

func imagesBefore(p *models.Product) *models.Snapshot {
	return &models.Snapshot{ProductID: p.ID, Images: append([]models.Image{}, p.Images...)}
}

// sourceURL keeps data: URLs out of history and logs.
func sourceURL(u string) string {
	if strings.HasPrefix(u, "data:") {
		if i := strings.IndexByte(u, ','); i > 0 {
			return u[:i] + ",..."
		}
	}
	return u
}

func providerName(w ContentWriter) string {
	if aw, ok := w.(*ai.Writer); ok {
		return aw.Provider().Name()
	}
	return "writer"
}
