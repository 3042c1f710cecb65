package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/models"
)

func TestRenderIssuesOrdersBySeverity(t *testing.T) {
	out := RenderIssues([]models.Issue{
		{ID: 1, IssueType: models.IssueMissingTags, EntityID: "p1", Status: models.IssueStatusOpen},
		{ID: 2, IssueType: models.IssueMissingImages, EntityID: "p2", Status: models.IssueStatusOpen},
	})
	// missing_images is critical, missing_tags medium.
	assert.Less(t, strings.Index(out, "missing_images"), strings.Index(out, "missing_tags"))
	assert.Contains(t, out, "p1")
	assert.Contains(t, out, "p2")
}

func TestRenderEmptyStates(t *testing.T) {
	assert.Contains(t, RenderIssues(nil), "No issues")
	assert.Contains(t, RenderHistory(nil), "No fixes")
	assert.Contains(t, RenderRuns(nil), "klara scan")
	assert.Empty(t, RenderOutcome(nil))
}

func TestRenderHistoryShowsStatus(t *testing.T) {
	now := time.Now()
	out := RenderHistory([]models.FixHistoryEntry{
		{ID: 7, Action: models.ActionFixSEO, ProductID: "mug", Source: models.SourceManual, Success: true, CreatedAt: now},
		{ID: 8, Action: models.ActionFixAltText, ProductID: "tent", Source: models.SourceAutonomous, Success: true, Undone: true, CreatedAt: now},
		{ID: 9, Action: models.ActionFixImageAI, ProductID: "lamp", Source: models.SourcePreference, CreatedAt: now},
	})
	assert.Contains(t, out, "applied")
	assert.Contains(t, out, "undone")
	assert.Contains(t, out, "failed")
}

func TestRenderOutcomeIncludesItemsAndUndoHint(t *testing.T) {
	out := RenderOutcome(&actions.Outcome{
		Action:  models.ActionBulkFixImagesAI,
		Success: false,
		Items: []actions.Outcome{
			{Action: models.ActionFixImageAI, ProductID: "lamp", Success: true, HistoryID: 3},
			{Action: models.ActionFixImageAI, ProductID: "stove", Error: "generation failed"},
		},
	})
	assert.Contains(t, out, "klara undo 3")
	assert.Contains(t, out, "generation failed")
}

func TestRenderHealth(t *testing.T) {
	out := RenderHealth("demo.shop", &issues.Health{
		Score:      72,
		Open:       4,
		Fixed:      1,
		BySeverity: map[models.SeverityLevel]int{models.SeverityHigh: 3, models.SeverityLow: 1},
		ByCategory: map[models.Category]int{models.CategoryImages: 3, models.CategoryContent: 1},
	})
	assert.Contains(t, out, "72")
	assert.Contains(t, out, "demo.shop")
	assert.Contains(t, out, string(models.CategoryImages))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
