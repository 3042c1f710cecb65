package scan

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/models"
)

// completeProduct passes every rule.
func completeProduct() models.Product {
	return models.Product{
		ID:              "gid://shop/Product/1",
		Title:           "Linen Shirt",
		DescriptionHTML: "<p>" + strings.Repeat("Breathable washed linen. ", 6) + "</p>",
		ProductType:     "Shirts",
		Vendor:          "Acme",
		Status:          models.ProductStatusActive,
		Tags:            []string{"summer"},
		SEO: models.SEO{
			Title:       "Linen Shirt - breathable summer wear",
			Description: "A washed linen shirt.",
		},
		TotalInventory: 4,
		Images: []models.Image{
			{ID: "img-1", URL: "https://cdn.example/1.jpg", AltText: "Front"},
			{ID: "img-2", URL: "https://cdn.example/2.jpg", AltText: "Back"},
		},
		Variants:      []models.Variant{{ID: "var-1", Title: "Default Title", SKU: "LS-1", Price: "39.00"}},
		CollectionIDs: []string{"col-1"},
	}
}

func issueTypes(fs []models.Finding) []models.IssueType {
	out := make([]models.IssueType, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.IssueType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestCompleteProductHasNoFindings(t *testing.T) {
	p := completeProduct()
	assert.Empty(t, NewDetector(Thresholds{}).DetectProduct(&p))
}

func TestNoImagesIsManualOnly(t *testing.T) {
	p := completeProduct()
	p.Images = nil

	got := NewDetector(Thresholds{}).DetectProduct(&p)
	require.Len(t, got, 1)
	f := got[0]
	assert.Equal(t, models.IssueMissingImages, f.IssueType)
	assert.Equal(t, models.SeverityCritical, f.Info().Severity)
	assert.Equal(t, models.CategoryImages, f.Info().Category)
	assert.Equal(t, models.AutonomyNone, f.AutonomyType)
}

func TestSingleImageWithoutAltText(t *testing.T) {
	p := completeProduct()
	p.Images = []models.Image{{ID: "img-1", URL: "https://cdn.example/1.jpg", AltText: "   "}}

	got := NewDetector(Thresholds{}).DetectProduct(&p)
	want := []models.IssueType{models.IssueLowImageCount, models.IssueMissingAltText}
	if diff := cmp.Diff(want, issueTypes(got)); diff != "" {
		t.Fatalf("issue types mismatch (-want +got):\n%s", diff)
	}
	for _, f := range got {
		assert.Equal(t, models.SeverityMedium, f.Info().Severity)
		if f.IssueType == models.IssueMissingAltText {
			assert.Equal(t, models.EntityImage, f.EntityType)
			assert.Equal(t, "img-1", f.EntityID)
			assert.Equal(t, p.ID, f.ParentID)
			assert.Equal(t, p.ID, f.ProductID())
		}
	}
}

func TestEmptyProductSurfacesEveryDefect(t *testing.T) {
	p := models.Product{
		ID:              "p",
		DescriptionHTML: "<br>",
		Status:          "active",
		Tags:            []string{" ", ""},
		Variants:        []models.Variant{{ID: "v1", Price: "0"}, {ID: "v2", SKU: "X", Price: "abc"}},
	}
	got := NewDetector(Thresholds{}).DetectProduct(&p)
	want := []models.IssueType{
		models.IssueMissingDescription,
		models.IssueMissingImages,
		models.IssueMissingPrice,
		models.IssueMissingPrice,
		models.IssueMissingProductType,
		models.IssueMissingSEODescription,
		models.IssueMissingSEOTitle,
		models.IssueMissingSKU,
		models.IssueMissingTags,
		models.IssueMissingVendor,
		models.IssueNotInCollection,
		models.IssueOutOfStock,
	}
	if diff := cmp.Diff(want, issueTypes(got)); diff != "" {
		t.Fatalf("issue types mismatch (-want +got):\n%s", diff)
	}
	for _, f := range got {
		if f.IssueType == models.IssueMissingSKU {
			assert.Equal(t, models.FixSKU{ProductID: "p", VariantID: "v1"}, f.ProposedAction)
			assert.Equal(t, models.AutonomyNone, f.AutonomyType, "SKUs are never fixed unattended")
		}
	}
}

func TestLengthThresholds(t *testing.T) {
	p := completeProduct()
	p.DescriptionHTML = "<p>Short body.</p>"
	p.SEO.Title = "Linen"

	got := NewDetector(Thresholds{}).DetectProduct(&p)
	assert.Equal(t, []models.IssueType{models.IssueMissingDescription, models.IssueMissingSEOTitle}, issueTypes(got))

	relaxed := NewDetector(Thresholds{MinDescriptionLength: 5, MinSEOTitleLength: 3})
	assert.Empty(t, relaxed.DetectProduct(&p))
}

func TestDetectionIsDeterministic(t *testing.T) {
	p := completeProduct()
	p.SEO = models.SEO{}
	d := NewDetector(Thresholds{})

	first := d.Detect(&p)
	second := d.Detect(p)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, "missing_seo_title:"+p.ID, second[len(second)-1].ID)
}

func TestCollectionAggregatesImagelessProducts(t *testing.T) {
	withImage := completeProduct()
	a := completeProduct()
	a.ID, a.Images = "a", nil
	b := completeProduct()
	b.ID, b.Images = "b", nil

	c := models.Collection{ID: "col-9", Title: "Summer", Products: []models.Product{a, withImage, b}}
	got := NewDetector(Thresholds{}).Detect(&c)
	require.Len(t, got, 1)

	f := got[0]
	assert.Equal(t, "collection_missing_images:col-9", f.ID)
	assert.Equal(t, models.AutonomyImageFix, f.AutonomyType)
	assert.True(t, f.IsBulk())
	assert.False(t, f.Persistable())
	assert.Equal(t, models.BulkFixImagesAI{ProductIDs: []string{"a", "b"}}, f.ProposedAction)

	c.Products = []models.Product{withImage}
	assert.Empty(t, NewDetector(Thresholds{}).Detect(c))
}

func TestUnsupportedEntity(t *testing.T) {
	assert.Nil(t, NewDetector(Thresholds{}).Detect("not an entity"))
	assert.Nil(t, NewDetector(Thresholds{}).DetectProduct(nil))
}
