// Package scan inspects catalog entities and reports data-quality findings.
package scan

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/CosmoTheDev/klara-agent/models"
)

const (
	DefaultMinDescriptionLength = 100
	DefaultMinSEOTitleLength    = 30
	defaultVariantTitle         = "Default Title"
)

// Thresholds tunes the length checks. Zero values fall back to the defaults.
type Thresholds struct {
	MinDescriptionLength int
	MinSEOTitleLength    int
}

// Entity is a *models.Product or a *models.Collection (values are accepted too).
type Entity interface{}

// Detector evaluates the detection rules. It holds no state between calls and
// is safe for concurrent use.
type Detector struct {
	minDescription int
	minSEOTitle    int
}

// NewDetector returns a Detector using t.
func NewDetector(t Thresholds) *Detector {
	d := &Detector{minDescription: t.MinDescriptionLength, minSEOTitle: t.MinSEOTitleLength}
	if d.minDescription <= 0 {
		d.minDescription = DefaultMinDescriptionLength
	}
	if d.minSEOTitle <= 0 {
		d.minSEOTitle = DefaultMinSEOTitleLength
	}
	return d
}

// Detect dispatches on the entity kind. Unsupported entities are logged and
// yield no findings.
func (d *Detector) Detect(entity Entity) []models.Finding {
	switch e := entity.(type) {
	case *models.Product:
		return d.DetectProduct(e)
	case models.Product:
		return d.DetectProduct(&e)
	case *models.Collection:
		return d.DetectCollection(e)
	case models.Collection:
		return d.DetectCollection(&e)
	default:
		slog.Warn("scan: unsupported entity", "type", fmt.Sprintf("%T", entity))
		return nil
	}
}

// DetectProduct applies every product rule independently.
func (d *Detector) DetectProduct(p *models.Product) []models.Finding {
	if p == nil {
		return nil
	}
	var out []models.Finding
	add := func(f models.Finding) {
		if f.EntityType == "" {
			f.EntityType = models.EntityProduct
			f.EntityID = p.ID
		}
		if f.Title == "" {
			f.Title = p.Title
		}
		f.ID = findingID(f.IssueType, f.EntityID)
		out = append(out, f)
	}

	if d.descriptionTooShort(p.DescriptionHTML) {
		add(models.Finding{
			IssueType:      models.IssueMissingDescription,
			AutonomyType:   models.AutonomyDescriptionFix,
			ProposedAction: models.ImproveDescription{ProductID: p.ID},
		})
	}
	if models.IsBlank(p.SEO.Description) {
		add(models.Finding{
			IssueType:      models.IssueMissingSEODescription,
			AutonomyType:   models.AutonomySEOFix,
			ProposedAction: models.FixSEO{ProductID: p.ID, Fields: []models.SEOField{models.SEOFieldDescription}},
		})
	}
	if models.IsBlank(p.SEO.Title) || utf8.RuneCountInString(strings.TrimSpace(p.SEO.Title)) < d.minSEOTitle {
		add(models.Finding{
			IssueType:      models.IssueMissingSEOTitle,
			AutonomyType:   models.AutonomySEOFix,
			ProposedAction: models.FixSEO{ProductID: p.ID, Fields: []models.SEOField{models.SEOFieldTitle}},
		})
	}
	if models.IsBlank(p.ProductType) {
		add(models.Finding{IssueType: models.IssueMissingProductType})
	}
	if models.IsBlank(p.Vendor) {
		add(models.Finding{IssueType: models.IssueMissingVendor})
	}
	if p.FirstTag() == "" {
		add(models.Finding{IssueType: models.IssueMissingTags})
	}

	switch len(p.Images) {
	case 0:
		// A human picks the image; the action is only a suggestion.
		add(models.Finding{
			IssueType:      models.IssueMissingImages,
			ProposedAction: models.FixImageAI{ProductID: p.ID},
		})
	case 1:
		add(models.Finding{IssueType: models.IssueLowImageCount})
	}
	for _, img := range p.Images {
		if !models.IsBlank(img.AltText) {
			continue
		}
		add(models.Finding{
			EntityType:     models.EntityImage,
			EntityID:       img.ID,
			ParentID:       p.ID,
			IssueType:      models.IssueMissingAltText,
			AutonomyType:   models.AutonomySEOFix,
			ProposedAction: models.FixAltText{ProductID: p.ID, ImageID: img.ID},
			Title:          fmt.Sprintf("Image in %q", p.Title),
		})
	}

	for _, v := range p.Variants {
		title := variantTitle(p.Title, v.Title)
		if models.IsBlank(v.SKU) {
			// Proposed for review only; no autonomy group covers SKUs.
			add(models.Finding{
				EntityType:     models.EntityVariant,
				EntityID:       v.ID,
				ParentID:       p.ID,
				IssueType:      models.IssueMissingSKU,
				ProposedAction: models.FixSKU{ProductID: p.ID, VariantID: v.ID},
				Title:          title,
			})
		}
		if !hasPrice(v.Price) {
			add(models.Finding{
				EntityType: models.EntityVariant,
				EntityID:   v.ID,
				ParentID:   p.ID,
				IssueType:  models.IssueMissingPrice,
				Title:      title,
			})
		}
	}

	if p.TotalInventory == 0 && strings.EqualFold(strings.TrimSpace(p.Status), models.ProductStatusActive) {
		add(models.Finding{IssueType: models.IssueOutOfStock})
	}
	if len(p.CollectionIDs) == 0 {
		add(models.Finding{IssueType: models.IssueNotInCollection})
	}
	return out
}

// DetectCollection aggregates every imageless member into a single bulk finding.
func (d *Detector) DetectCollection(c *models.Collection) []models.Finding {
	if c == nil {
		return nil
	}
	var ids []string
	for i := range c.Products {
		if !c.Products[i].HasImages() {
			ids = append(ids, c.Products[i].ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return []models.Finding{{
		ID:             findingID(models.IssueCollectionMissingImages, c.ID),
		EntityType:     models.EntityCollection,
		EntityID:       c.ID,
		IssueType:      models.IssueCollectionMissingImages,
		AutonomyType:   models.AutonomyImageFix,
		ProposedAction: models.BulkFixImagesAI{ProductIDs: ids},
		Title:          c.Title,
	}}
}

// DetectAll runs the detector over a whole catalog, products first.
func (d *Detector) DetectAll(products []models.Product, collections []models.Collection) []models.Finding {
	var out []models.Finding
	for i := range products {
		out = append(out, d.DetectProduct(&products[i])...)
	}
	for i := range collections {
		out = append(out, d.DetectCollection(&collections[i])...)
	}
	return out
}

func (d *Detector) descriptionTooShort(html string) bool {
	if models.IsBlankHTML(html) {
		return true
	}
	return utf8.RuneCountInString(models.PlainText(html)) < d.minDescription
}

func findingID(t models.IssueType, entityID string) string {
	return string(t) + ":" + entityID
}

func variantTitle(product, variant string) string {
	if models.IsBlank(variant) || variant == defaultVariantTitle {
		return product
	}
	return product + " - " + variant
}

// hasPrice reports whether raw parses to a positive amount.
func hasPrice(raw string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return err == nil && v > 0
}
