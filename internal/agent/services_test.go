package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/database"
	"github.com/CosmoTheDev/klara-agent/internal/history"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/internal/notify"
	"github.com/CosmoTheDev/klara-agent/models"
)

func newTestServices(t *testing.T) (*Services, *catalog.MemoryStore, *captureNotifier) {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "svc.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	mug := product("mug", "Enamel Mug", 1)
	mug.SEO.Title = ""
	repo := catalog.NewMemoryStore(catalog.Snapshot{
		Products:    []models.Product{product("tent", "Trail Tent", 1), mug},
		Collections: []catalog.CollectionRef{{ID: "col-1", Title: "Camping", ProductIDs: []string{"tent", "mug"}}},
	})

	cfg := &config.Config{Shop: config.ShopConfig{Domain: shop}}
	cfg.Autonomy.MaxPerRun = 5
	capture := &captureNotifier{}
	svc, err := NewServices(cfg, db, repo, capture)
	require.NoError(t, err)
	return svc, repo, capture
}

func TestNewServicesWithoutProviders(t *testing.T) {
	svc, _, _ := newTestServices(t)
	assert.Equal(t, shop, svc.Shop)
	assert.Equal(t, "none", svc.Writer.Provider().Name())
	assert.Equal(t, "none", svc.Images.Name())
	assert.False(t, svc.Stock.Configured())
	assert.False(t, svc.Notifier.IsAnyConfigured())
	assert.False(t, svc.Orchestrator.Session().Stats().Enabled)
}

func TestServicesFixUndoAndRuns(t *testing.T) {
	svc, repo, capture := newTestServices(t)
	ctx := context.Background()

	res, err := svc.Orchestrator.Scan(ctx, ScanOptions{Trigger: "cli"})
	require.NoError(t, err)
	require.NotNil(t, res.Health)

	open, err := svc.Issues.List(ctx, shop, issues.Filter{Status: models.IssueStatusOpen, IssueType: models.IssueMissingSEOTitle})
	require.NoError(t, err)
	require.Len(t, open, 1)

	out, err := svc.Dispatcher.FixIssue(ctx, shop, open[0].ID, actions.FixOptions{})
	require.NoError(t, err)
	require.True(t, out.Success)
	p, err := repo.Product(ctx, "mug")
	require.NoError(t, err)
	assert.NotEmpty(t, p.SEO.Title, "template copy fills the title without a provider")

	entry, err := svc.Undo(ctx, out.HistoryID)
	require.NoError(t, err)
	assert.True(t, entry.Undone)
	p, err = repo.Product(ctx, "mug")
	require.NoError(t, err)
	assert.Empty(t, p.SEO.Title)
	assert.Contains(t, capture.types(), notify.EventFixUndone)

	// The issue the fix closed is open again without waiting for a scan.
	iss, err := svc.Issues.Get(ctx, open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusOpen, iss.Status)
	health, err := svc.Issues.Health(ctx, shop)
	require.NoError(t, err)
	assert.Zero(t, health.Fixed)

	_, err = svc.Undo(ctx, out.HistoryID)
	var ue *history.UndoError
	require.True(t, errors.As(err, &ue))
	assert.ErrorIs(t, err, history.ErrAlreadyUndone)

	runs, err := svc.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "cli", runs[0].TriggerSource)
	assert.Equal(t, 2, runs[0].Products)
}
