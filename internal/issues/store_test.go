package issues

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/database"
	"github.com/CosmoTheDev/klara-agent/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "issues.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewStore(db)
}

func finding(t models.IssueType, entity string) models.Finding {
	return models.Finding{
		ID:         string(t) + ":" + entity,
		EntityType: models.EntityProduct,
		EntityID:   entity,
		IssueType:  t,
		Title:      "Product " + entity,
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	fs := []models.Finding{
		finding(models.IssueMissingImages, "p1"),
		finding(models.IssueMissingVendor, "p1"),
		{ID: "collection_missing_images:c1", EntityType: models.EntityCollection, EntityID: "c1", IssueType: models.IssueCollectionMissingImages},
	}

	sum, err := s.Save(ctx, "shop", fs)
	require.NoError(t, err)
	assert.Equal(t, &SaveSummary{Present: 2, Introduced: 2}, sum)

	sum, err = s.Save(ctx, "shop", fs)
	require.NoError(t, err)
	assert.Equal(t, &SaveSummary{Present: 2}, sum)

	list, err := s.List(ctx, "shop", Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, iss := range list {
		assert.Equal(t, models.IssueStatusOpen, iss.Status)
		assert.NotEmpty(t, iss.Explanation)
	}

	other, err := s.List(ctx, "other", Filter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReopenOnRedetect(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	fs := []models.Finding{finding(models.IssueMissingSEOTitle, "p1")}
	_, err := s.Save(ctx, "shop", fs)
	require.NoError(t, err)

	list, err := s.List(ctx, "shop", Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID

	require.NoError(t, s.MarkFixed(ctx, id))
	iss, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFixed, iss.Status)

	sum, err := s.Save(ctx, "shop", fs)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reopened)

	iss, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusOpen, iss.Status, "reopened in place, not duplicated")
	assert.Equal(t, models.SeverityMedium, iss.Severity())
}

func TestGetAndMarkFixedUnknownID(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.MarkFixed(context.Background(), 999), ErrNotFound)
	assert.ErrorIs(t, s.Reopen(context.Background(), 999), ErrNotFound)
}

func TestFindOpenAndReopen(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Save(ctx, "shop", []models.Finding{
		finding(models.IssueMissingImages, "p1"),
		finding(models.IssueMissingVendor, "p1"),
	})
	require.NoError(t, err)

	iss, err := s.FindOpen(ctx, "shop", "p1", models.IssueMissingImages)
	require.NoError(t, err)
	assert.Equal(t, models.IssueMissingImages, iss.IssueType)

	_, err = s.FindOpen(ctx, "other", "p1", models.IssueMissingImages)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindOpen(ctx, "shop", "p2", models.IssueMissingImages)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.MarkFixed(ctx, iss.ID))
	_, err = s.FindOpen(ctx, "shop", "p1", models.IssueMissingImages)
	assert.ErrorIs(t, err, ErrNotFound, "fixed issues are not open")

	require.NoError(t, s.Reopen(ctx, iss.ID))
	again, err := s.FindOpen(ctx, "shop", "p1", models.IssueMissingImages)
	require.NoError(t, err)
	assert.Equal(t, iss.ID, again.ID)
}

func TestHealthScore(t *testing.T) {
	open := func(t models.IssueType) models.Issue {
		return models.Issue{IssueType: t, Status: models.IssueStatusOpen}
	}
	list := []models.Issue{
		open(models.IssueMissingImages),      // critical 10
		open(models.IssueMissingDescription), // high 5
		open(models.IssueMissingTags),        // medium 2
		open(models.IssueMissingVendor),      // low 1
		open("legacy_issue"),                 // unknown counts as low
		{IssueType: models.IssueMissingPrice, Status: models.IssueStatusFixed},
	}
	assert.Equal(t, 81, HealthScore(list))

	// One more critical strictly lowers the score.
	more := append(append([]models.Issue{}, list...), open(models.IssueMissingPrice))
	assert.Equal(t, 71, HealthScore(more))

	// Fixing never lowers it.
	fixed := append([]models.Issue{}, more...)
	fixed[0].Status = models.IssueStatusFixed
	assert.Equal(t, 81, HealthScore(fixed))

	var many []models.Issue
	for i := 0; i < 20; i++ {
		many = append(many, open(models.IssueMissingImages))
	}
	assert.Equal(t, 0, HealthScore(many))
	assert.Equal(t, 100, HealthScore(nil))
}

func TestHealthAndTop(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Save(ctx, "shop", []models.Finding{
		finding(models.IssueMissingVendor, "p1"),
		finding(models.IssueMissingImages, "p1"),
		finding(models.IssueMissingSEOTitle, "p2"),
	})
	require.NoError(t, err)

	h, err := s.Health(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, 100-1-10-2, h.Score)
	assert.Equal(t, 3, h.Open)
	assert.Equal(t, 1, h.ByCategory[models.CategoryImages])
	assert.Equal(t, 1, h.BySeverity[models.SeverityCritical])

	top, err := s.Top(ctx, "shop", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, models.IssueMissingImages, top[0].IssueType)
	assert.Equal(t, models.IssueMissingSEOTitle, top[1].IssueType)
}
