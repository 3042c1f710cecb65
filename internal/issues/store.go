// Package issues persists findings as durable issues and scores store health.
package issues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/database"
	"github.com/CosmoTheDev/klara-agent/models"
)

// ErrNotFound is returned when an issue id does not exist.
var ErrNotFound = errors.New("issue not found")

const issueColumns = `id, shop, entity_type, entity_id, parent_id, issue_type, title, explanation, status, created_at, updated_at`

// Store reads and writes the issues table.
type Store struct {
	db database.DB
}

func NewStore(db database.DB) *Store { return &Store{db: db} }

// SaveSummary counts what a Save did.
type SaveSummary struct {
	Present    int `json:"present"`
	Introduced int `json:"introduced"`
	Reopened   int `json:"reopened"`
}

// Save materialises findings for shop. New defects are inserted as open,
// fixed ones that reappear are reopened, and open ones are touched.
// Collection-level findings are skipped. Saving the same findings twice
// creates no duplicates.
func (s *Store) Save(ctx context.Context, shop string, findings []models.Finding) (*SaveSummary, error) {
	var existing []models.Issue
	if err := s.db.Select(ctx, &existing,
		`SELECT id, entity_id, issue_type, status FROM issues WHERE shop = ?`, shop); err != nil {
		return nil, fmt.Errorf("loading issues: %w", err)
	}
	byKey := make(map[string]models.Issue, len(existing))
	for _, iss := range existing {
		byKey[keyFor(iss.EntityID, iss.IssueType)] = iss
	}

	now := time.Now().UTC()
	summary := &SaveSummary{}
	seen := make(map[string]struct{}, len(findings))
	for _, f := range findings {
		if !f.Persistable() {
			continue
		}
		k := keyFor(f.EntityID, f.IssueType)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		summary.Present++

		prev, ok := byKey[k]
		if !ok {
			row := models.Issue{
				Shop:        shop,
				EntityType:  string(f.EntityType),
				EntityID:    f.EntityID,
				ParentID:    f.ParentID,
				IssueType:   f.IssueType,
				Title:       f.Title,
				Explanation: f.Info().Impact,
				Status:      models.IssueStatusOpen,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			// Upsert keeps a concurrent scan from tripping the unique key.
			if err := s.db.Upsert(ctx, "issues", row, []string{"shop", "entity_id", "issue_type"}, "created_at"); err != nil {
				return nil, fmt.Errorf("saving issue %s: %w", f.ID, err)
			}
			summary.Introduced++
			continue
		}

		if strings.EqualFold(prev.Status, models.IssueStatusFixed) {
			summary.Reopened++
			slog.Debug("issues: defect reappeared, reopening", "id", prev.ID, "type", f.IssueType, "entity", f.EntityID)
		}
		if err := s.db.Exec(ctx,
			`UPDATE issues SET status = ?, title = ?, updated_at = ? WHERE id = ?`,
			models.IssueStatusOpen, f.Title, now, prev.ID); err != nil {
			return nil, fmt.Errorf("refreshing issue %d: %w", prev.ID, err)
		}
	}
	return summary, nil
}

// Get loads one issue by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.Issue, error) {
	var iss models.Issue
	err := s.db.Get(ctx, &iss, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading issue %d: %w", id, err)
	}
	return &iss, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status    string
	IssueType models.IssueType
	Limit     int
}

// List returns the shop's issues, most recently updated first.
func (s *Store) List(ctx context.Context, shop string, f Filter) ([]models.Issue, error) {
	q := `SELECT ` + issueColumns + ` FROM issues WHERE shop = ?`
	args := []interface{}{shop}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.IssueType != "" {
		q += ` AND issue_type = ?`
		args = append(args, f.IssueType)
	}
	q += ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	var out []models.Issue
	if err := s.db.Select(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	return out, nil
}

// MarkFixed flips an issue to fixed. Callers only do this after a successful mutation.
func (s *Store) MarkFixed(ctx context.Context, id int64) error {
	n, err := s.db.ExecAffected(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`,
		models.IssueStatusFixed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking issue %d fixed: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Reopen flips an issue back to open, for when the fix that closed it was undone.
func (s *Store) Reopen(ctx context.Context, id int64) error {
	n, err := s.db.ExecAffected(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`,
		models.IssueStatusOpen, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reopening issue %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// FindOpen returns the open issue of type t on entityID, or ErrNotFound.
func (s *Store) FindOpen(ctx context.Context, shop, entityID string, t models.IssueType) (*models.Issue, error) {
	var iss models.Issue
	err := s.db.Get(ctx, &iss,
		`SELECT `+issueColumns+` FROM issues WHERE shop = ? AND entity_id = ? AND issue_type = ? AND status = ?`,
		shop, entityID, t, models.IssueStatusOpen)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s issue on %s: %w", t, entityID, err)
	}
	return &iss, nil
}

func keyFor(entityID string, t models.IssueType) string {
	return entityID + "|" + string(t)
}
