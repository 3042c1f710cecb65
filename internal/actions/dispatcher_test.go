package actions

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/internal/ai"
	"github.com/CosmoTheDev/klara-agent/internal/autonomy"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/database"
	"github.com/CosmoTheDev/klara-agent/internal/history"
	"github.com/CosmoTheDev/klara-agent/internal/imagesource"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/internal/notify"
	"github.com/CosmoTheDev/klara-agent/internal/preferences"
	"github.com/CosmoTheDev/klara-agent/models"
)

const shop = "demo.shop"

type fakeGenerator struct {
	err     error
	prompts []string
}

func (g *fakeGenerator) Name() string { return "fake" }
func (g *fakeGenerator) GenerateImage(_ context.Context, prompt string) (*ai.GeneratedImage, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return &ai.GeneratedImage{URL: "https://img.example/gen.png", Provider: "fake"}, nil
}

type fakeFetcher struct {
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*imagesource.Image, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &imagesource.Image{Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg", Width: 1, Height: 1}, nil
}

type fakeStock struct {
	photos  []imagesource.Photo
	tracked []string
}

func (s *fakeStock) Search(_ context.Context, _ string, _ int) ([]imagesource.Photo, error) {
	return s.photos, nil
}

func (s *fakeStock) TrackDownload(_ context.Context, p imagesource.Photo) {
	s.tracked = append(s.tracked, p.ID)
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, e notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

type fixture struct {
	d        *Dispatcher
	repo     *catalog.MemoryStore
	ledger   *history.Ledger
	issues   *issues.Store
	prefs    *preferences.SQLStore
	db       database.DB
	gen      *fakeGenerator
	fetcher  *fakeFetcher
	stock    *fakeStock
	notifier *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "actions.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	repo := catalog.NewMemoryStore(catalog.Snapshot{Products: []models.Product{
		{
			ID:          "p1",
			Title:       "The Complete Snowboard",
			ProductType: "Snowboard",
			Vendor:      "Snowboard Vendor",
			Status:      "ACTIVE",
			SEO:         models.SEO{Title: "old"},
			Images:      []models.Image{{ID: "p1/image-1", URL: "https://img/1.jpg"}},
		},
		{ID: "p2", Title: "Wax Kit", Status: "ACTIVE", Variants: []models.Variant{{ID: "p2/variant-1", Title: "Default"}}},
		{ID: "p3", Title: "Goggles", Status: "ACTIVE"},
	}})
	f := &fixture{
		repo:     repo,
		ledger:   history.NewLedger(db, repo),
		issues:   issues.NewStore(db),
		prefs:    preferences.NewSQLStore(db),
		db:       db,
		gen:      &fakeGenerator{},
		fetcher:  &fakeFetcher{},
		stock:    &fakeStock{},
		notifier: &captureNotifier{},
	}
	f.d = New(Deps{
		Repo:     repo,
		History:  f.ledger,
		Issues:   f.issues,
		Prefs:    f.prefs,
		Writer:   ai.NewWriter(nil),
		Images:   f.gen,
		Stock:    f.stock,
		Fetcher:  f.fetcher,
		Notifier: f.notifier,
	})
	return f
}

func (f *fixture) saveIssue(t *testing.T, fd models.Finding) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := f.issues.Save(ctx, shop, []models.Finding{fd})
	require.NoError(t, err)
	list, err := f.issues.List(ctx, shop, issues.Filter{IssueType: fd.IssueType})
	require.NoError(t, err)
	for _, iss := range list {
		if iss.EntityID == fd.EntityID {
			return iss.ID
		}
	}
	t.Fatalf("issue %s not saved", fd.ID)
	return 0
}

func TestDispatchFixSEOWritesHistoryAndMarksIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	issueID := f.saveIssue(t, models.Finding{ID: "missing_seo_title:p1", EntityType: models.EntityProduct, EntityID: "p1", IssueType: models.IssueMissingSEOTitle})

	out, err := f.d.Dispatch(ctx, Request{
		Shop:    shop,
		IssueID: &issueID,
		Action:  models.FixSEO{ProductID: "p1", Fields: []models.SEOField{models.SEOFieldTitle}},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "old", *out.Before.SEOTitle)
	assert.Nil(t, out.Before.SEODescription)
	assert.Equal(t, "template", out.Metadata["title_provider"])

	p, err := f.repo.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, *out.After.SEOTitle, p.SEO.Title)
	assert.NotEqual(t, "old", p.SEO.Title)

	iss, err := f.issues.Get(ctx, issueID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFixed, iss.Status)

	entry, err := f.ledger.Get(ctx, out.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, &issueID, entry.IssueID)
	assert.Equal(t, models.SourceManual, entry.Source)

	// The recorded snapshot is enough to undo.
	require.NoError(t, f.ledger.Undo(ctx, out.HistoryID))
	p, err = f.repo.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "old", p.SEO.Title)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notify.EventFixApplied, f.notifier.events[0].Type)
	assert.Equal(t, "medium", f.notifier.events[0].Severity)
}

func TestDispatchUnknownActionHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.d.Dispatch(ctx, Request{Shop: shop})
	assert.ErrorIs(t, err, ErrUnknownAction)
	var nilPtr *models.FixSEO
	_, err = f.d.Dispatch(ctx, Request{Shop: shop, Action: nilPtr})
	assert.ErrorIs(t, err, ErrUnknownAction)

	list, err := f.ledger.List(ctx, shop, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDispatchAcceptsPointerActions(t *testing.T) {
	f := newFixture(t)
	out, err := f.d.Dispatch(context.Background(), Request{Shop: shop, Action: &models.ImproveDescription{ProductID: "p2", DescriptionHTML: "<p>Wax it.</p>"}})
	require.NoError(t, err)
	assert.Equal(t, "<p>Wax it.</p>", *out.After.DescriptionHTML)
	assert.Equal(t, "", *out.Before.DescriptionHTML)
}

func TestValidationFailuresWriteNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixSEO{}})
	assert.ErrorIs(t, err, ErrInvalidAction)
	_, err = f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixImageAI{ProductID: "p1", Style: "NEON"}})
	assert.ErrorIs(t, err, ErrInvalidAction)
	_, err = f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixAltText{ProductID: "p1", ImageID: "nope"}})
	assert.ErrorIs(t, err, ErrInvalidAction)
	_, err = f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixSEO{ProductID: "missing"}})
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	list, err := f.ledger.List(ctx, shop, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestImageAIAppendsNormalisedImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixImageAI{ProductID: "p2", Style: models.StyleFlatlay}, Source: models.SourceAutonomous})
	require.NoError(t, err)
	assert.Equal(t, "fake", out.Metadata["provider"])
	assert.Equal(t, "FLATLAY", out.Metadata["style"])
	assert.Contains(t, out.Metadata["prompt"], "flat lay product photography")
	assert.Equal(t, []string{"https://img.example/gen.png"}, f.fetcher.urls)

	p, err := f.repo.Product(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, p.Images, 1)
	assert.Equal(t, "Wax Kit - Flat Lay product photo", p.Images[0].AltText)

	// Image additions are recorded but cannot be undone.
	assert.ErrorIs(t, f.ledger.Undo(ctx, out.HistoryID), history.ErrRestoreUnsupported)
}

func TestTypedFailuresAreRecorded(t *testing.T) {
	ctx := context.Background()

	t.Run("generation", func(t *testing.T) {
		f := newFixture(t)
		f.gen.err = errors.New("quota exceeded")
		out, err := f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixImageAI{ProductID: "p2"}})
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.False(t, out.Success)
		assert.Empty(t, f.fetcher.urls)

		entry, err := f.ledger.Get(ctx, out.HistoryID)
		require.NoError(t, err)
		assert.False(t, entry.Success)
		assert.Contains(t, entry.ErrorMessage, "quota exceeded")
		assert.ErrorIs(t, f.ledger.Undo(ctx, out.HistoryID), history.ErrNoBackup)
	})

	t.Run("fetch", func(t *testing.T) {
		f := newFixture(t)
		f.fetcher.err = imagesource.ErrTooLarge
		out, err := f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixImageAI{ProductID: "p2"}})
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.ErrorIs(t, err, imagesource.ErrTooLarge)
		assert.NotZero(t, out.HistoryID)
		p, _ := f.repo.Product(ctx, "p2")
		assert.Empty(t, p.Images)
	})

	t.Run("mutation", func(t *testing.T) {
		f := newFixture(t)
		issueID := f.saveIssue(t, models.Finding{ID: "missing_description:p2", EntityType: models.EntityProduct, EntityID: "p2", IssueType: models.IssueMissingDescription})
		f.repo.RejectFn = func(m catalog.Mutation) *catalog.RejectedError {
			return &catalog.RejectedError{ProductID: m.ProductID, Errors: []catalog.UserError{{Field: "body_html", Message: "too long"}}}
		}
		out, err := f.d.Dispatch(ctx, Request{Shop: shop, IssueID: &issueID, Action: models.ImproveDescription{ProductID: "p2"}})
		var mutErr *MutationError
		require.ErrorAs(t, err, &mutErr)
		var rej *catalog.RejectedError
		assert.ErrorAs(t, err, &rej)
		assert.False(t, out.Success)

		iss, err := f.issues.Get(ctx, issueID)
		require.NoError(t, err)
		assert.Equal(t, models.IssueStatusOpen, iss.Status)
		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, notify.EventFixFailed, f.notifier.events[0].Type)
	})
}

func TestStockFixUsesFirstHitAndAttribution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stock.photos = []imagesource.Photo{
		{ID: "u1", URL: "https://unsplash/u1.jpg", Provider: imagesource.ProviderUnsplash, Photographer: "Ann", Description: "white wax kit"},
		{ID: "x2", URL: "https://pexels/x2.jpg", Provider: imagesource.ProviderPexels},
	}
	out, err := f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixImageStock{ProductID: "p2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, f.stock.tracked)
	assert.Equal(t, "Ann", out.Metadata["photographer"])
	assert.Equal(t, "product", out.Metadata["query"])

	p, _ := f.repo.Product(ctx, "p2")
	require.Len(t, p.Images, 1)
	assert.Equal(t, "white wax kit", p.Images[0].AltText)

	f.stock.photos = nil
	_, err = f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixImageStock{ProductID: "p3"}})
	assert.ErrorIs(t, err, ErrNoStockResults)
}

func TestBulkContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.err = nil

	out, err := f.d.Dispatch(ctx, Request{Shop: shop, Action: models.BulkFixImagesAI{ProductIDs: []string{"p2", "ghost", "p3"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	assert.False(t, out.Success)
	require.Len(t, out.Items, 3)
	assert.True(t, out.Items[0].Success)
	assert.False(t, out.Items[1].Success)
	assert.True(t, out.Items[2].Success)

	list, err := f.ledger.List(ctx, shop, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, e := range list {
		assert.Nil(t, e.IssueID)
	}
}

func TestFixIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	altID := f.saveIssue(t, models.Finding{ID: "missing_alt_text:p1/image-1", EntityType: models.EntityImage, EntityID: "p1/image-1", ParentID: "p1", IssueType: models.IssueMissingAltText})
	out, err := f.d.FixIssue(ctx, shop, altID, FixOptions{Value: "Snowboard on snow"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFixAltText, out.Action)
	p, _ := f.repo.Product(ctx, "p1")
	assert.Equal(t, "Snowboard on snow", p.Images[0].AltText)

	_, err = f.d.FixIssue(ctx, shop, altID, FixOptions{})
	assert.ErrorIs(t, err, ErrAlreadyFixed)

	stockID := f.saveIssue(t, models.Finding{ID: "out_of_stock:p2", EntityType: models.EntityProduct, EntityID: "p2", IssueType: models.IssueOutOfStock})
	_, err = f.d.FixIssue(ctx, shop, stockID, FixOptions{})
	assert.ErrorIs(t, err, ErrManualOnly)

	imgID := f.saveIssue(t, models.Finding{ID: "missing_images:p3", EntityType: models.EntityProduct, EntityID: "p3", IssueType: models.IssueMissingImages})
	_, err = f.d.FixIssue(ctx, shop, imgID, FixOptions{})
	assert.ErrorIs(t, err, ErrManualOnly)
	out, err = f.d.FixIssue(ctx, shop, imgID, FixOptions{ImageStrategy: "ai"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFixImageAI, out.Action)

	_, err = f.d.FixIssue(ctx, shop, 424242, FixOptions{})
	assert.ErrorIs(t, err, issues.ErrNotFound)
}

func TestFixIssueGeneratesSKU(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	skuID := f.saveIssue(t, models.Finding{ID: "missing_sku:p2/variant-1", EntityType: models.EntityVariant, EntityID: "p2/variant-1", ParentID: "p2", IssueType: models.IssueMissingSKU})
	out, err := f.d.FixIssue(ctx, shop, skuID, FixOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFixSKU, out.Action)
	assert.Equal(t, "template", out.Metadata["provider"])
	assert.Equal(t, "", *out.Before.SKU)
	assert.Equal(t, "WAXK-001", *out.After.SKU)

	p, err := f.repo.Product(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "WAXK-001", p.Variants[0].SKU)
	iss, err := f.issues.Get(ctx, skuID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFixed, iss.Status)

	require.NoError(t, f.ledger.Undo(ctx, out.HistoryID))
	p, err = f.repo.Product(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, p.Variants[0].SKU)

	_, err = f.d.Dispatch(ctx, Request{Shop: shop, Action: models.FixSKU{ProductID: "p2", VariantID: "nope"}})
	assert.ErrorIs(t, err, ErrInvalidAction)
	out, err = f.d.Dispatch(ctx, Request{Shop: shop, Action: &models.FixSKU{ProductID: "p2", VariantID: "p2/variant-1", SKU: "WAX-KIT-01"}})
	require.NoError(t, err)
	assert.Equal(t, "WAX-KIT-01", *out.After.SKU)
}

func TestFixIssueUsesStoredImageStrategy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	imgID := f.saveIssue(t, models.Finding{ID: "missing_images:p3", EntityType: models.EntityProduct, EntityID: "p3", IssueType: models.IssueMissingImages})

	_, err := f.d.FixIssue(ctx, shop, imgID, FixOptions{Source: models.SourceManual})
	assert.ErrorIs(t, err, ErrManualOnly, "no strategy stored yet")

	require.NoError(t, f.prefs.Set(ctx, shop, preferences.KeyImageFixStrategy, preferences.StrategyAI))
	out, err := f.d.FixIssue(ctx, shop, imgID, FixOptions{Source: models.SourceManual})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFixImageAI, out.Action)
	entry, err := f.ledger.Get(ctx, out.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePreference, entry.Source)

	// An explicit strategy wins over the stored one, and alt text never
	// consults the preference.
	lowID := f.saveIssue(t, models.Finding{ID: "low_image_count:p1", EntityType: models.EntityProduct, EntityID: "p1", IssueType: models.IssueLowImageCount})
	out, err = f.d.FixIssue(ctx, shop, lowID, FixOptions{ImageStrategy: "stock", PhotoURL: "https://photos.example/p1.jpg"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFixImageStock, out.Action)
	entry, err = f.ledger.Get(ctx, out.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceManual, entry.Source)

	altID := f.saveIssue(t, models.Finding{ID: "missing_alt_text:p1/image-1", EntityType: models.EntityImage, EntityID: "p1/image-1", ParentID: "p1", IssueType: models.IssueMissingAltText})
	out, err = f.d.FixIssue(ctx, shop, altID, FixOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFixAltText, out.Action)
}

// An image finding with the AI preference and autonomy on is applied
// unattended, counted once, and leaves an undoable-by-type history entry.
func TestAutonomousImageFixEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	prefs := preferences.NewSQLStore(f.db)
	require.NoError(t, prefs.Set(ctx, shop, preferences.KeyImageFixStrategy, preferences.StrategyAI))

	finding := models.Finding{
		ID:             "missing_images:p3",
		EntityType:     models.EntityProduct,
		EntityID:       "p3",
		IssueType:      models.IssueMissingImages,
		AutonomyType:   models.AutonomyImageFix,
		ProposedAction: models.FixImageAI{ProductID: "p3"},
	}
	action, err := preferences.Resolve(ctx, prefs, shop, finding)
	require.NoError(t, err)
	require.Equal(t, models.FixImageAI{ProductID: "p3"}, action)

	session := autonomy.NewSession(true)
	policy := autonomy.NewPolicy(autonomy.DefaultRules())
	require.True(t, policy.Evaluate(finding, session))
	assert.Equal(t, 1, session.AppliedCount())

	out, err := f.d.Dispatch(ctx, Request{Shop: shop, Action: action, Source: models.SourceAutonomous})
	require.NoError(t, err)

	entry, err := f.ledger.Get(ctx, out.HistoryID)
	require.NoError(t, err)
	assert.True(t, entry.Success)
	assert.False(t, entry.Undone)
	assert.Equal(t, models.SourceAutonomous, entry.Source)
	assert.Equal(t, models.ActionFixImageAI, entry.Action)
}
