package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIssueInfoFallback(t *testing.T) {
	info := LookupIssueInfo("made_up_issue")
	assert.False(t, info.Known)
	assert.Equal(t, CategoryOther, info.Category)
	assert.Equal(t, SeverityLow, info.Severity)

	info = LookupIssueInfo(IssueMissingImages)
	assert.True(t, info.Known)
	assert.Equal(t, CategoryImages, info.Category)
	assert.Equal(t, SeverityCritical, info.Severity)
}

func TestTaxonomyIsComplete(t *testing.T) {
	for _, it := range AllIssueTypes() {
		info := LookupIssueInfo(it)
		assert.True(t, info.Known, it)
		assert.NotEmpty(t, info.Title, it)
	}
	assert.True(t, LookupIssueInfo(IssueMissingAltText).AITextFixable)
	assert.False(t, LookupIssueInfo(IssueOutOfStock).AITextFixable)
}

func TestNeedsImageStrategy(t *testing.T) {
	assert.True(t, IssueMissingImages.NeedsImageStrategy())
	assert.True(t, IssueLowImageCount.NeedsImageStrategy())
	assert.False(t, IssueMissingAltText.NeedsImageStrategy(), "same category, text remedy")
	assert.False(t, IssueMissingSKU.NeedsImageStrategy())
}

func TestSeverityDeduction(t *testing.T) {
	assert.Equal(t, 10, SeverityCritical.Deduction())
	assert.Equal(t, 5, SeverityHigh.Deduction())
	assert.Equal(t, 2, SeverityMedium.Deduction())
	assert.Equal(t, 1, SeverityLow.Deduction())
	assert.Equal(t, 1, SeverityLevel("bogus").Deduction())
	assert.Equal(t, SeverityMedium, MapSeverity(" Moderate "))
}

func TestBlankHTML(t *testing.T) {
	assert.True(t, IsBlankHTML(""))
	assert.True(t, IsBlankHTML("  <br> "))
	assert.True(t, IsBlankHTML("<p>\n</p>"))
	assert.False(t, IsBlankHTML("<p>Soft cotton</p>"))
	assert.Equal(t, "Soft cotton tee", PlainText("<p>Soft  cotton</p><br>tee"))
}

func TestActionEnvelope(t *testing.T) {
	in := BulkFixImagesAI{ProductIDs: []string{"p1", "p2"}, Style: StyleFlatlay}
	data, err := MarshalAction(in)
	require.NoError(t, err)

	out, err := UnmarshalAction(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	sku, err := ParseAction(ActionFixSKU, json.RawMessage(`{"product_id":"p1","variant_id":"v1"}`))
	require.NoError(t, err)
	assert.Equal(t, FixSKU{ProductID: "p1", VariantID: "v1"}, sku)
	assert.Equal(t, []string{"p1"}, sku.Targets())

	_, err = ParseAction("DELETE_PRODUCT", nil)
	assert.ErrorIs(t, err, ErrUnknownActionKind)
}

func TestFindingJSONCarriesDerivedFields(t *testing.T) {
	f := Finding{
		ID:             "missing_seo_title:p1",
		EntityType:     EntityProduct,
		EntityID:       "p1",
		IssueType:      IssueMissingSEOTitle,
		AutonomyType:   AutonomySEOFix,
		ProposedAction: FixSEO{ProductID: "p1", Fields: []SEOField{SEOFieldTitle}},
	}
	data, err := json.Marshal(f)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "medium", got["severity"])
	assert.Equal(t, "Content & SEO", got["category"])
	action := got["proposed_action"].(map[string]any)
	assert.Equal(t, "FIX_SEO", action["kind"])
}

func TestSnapshotIsEmpty(t *testing.T) {
	var nilSnap *Snapshot
	assert.True(t, nilSnap.IsEmpty())
	assert.True(t, (&Snapshot{ProductID: "p1"}).IsEmpty())
	assert.False(t, (&Snapshot{SEOTitle: StringPtr("")}).IsEmpty())
	assert.False(t, (&Snapshot{VariantID: "v1", SKU: StringPtr("")}).IsEmpty())
}
