// Package history records every attempted fix and reverses supported ones.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/database"
	"github.com/CosmoTheDev/klara-agent/models"
)

// UndoError wraps the reason an undo was refused. Reason is one of the
// package sentinels and matches with errors.Is.
type UndoError struct {
	EntryID int64
	Reason  error
}

func (e *UndoError) Error() string {
	return fmt.Sprintf("undo history entry %d: %v", e.EntryID, e.Reason)
}

func (e *UndoError) Unwrap() error { return e.Reason }

const historyColumns = `id, shop, issue_id, product_id, action, source, before_state, after_state, metadata, success, error_message, undone, undone_at, created_at`

type historyRow struct {
	ID           int64      `db:"id"`
	Shop         string     `db:"shop"`
	IssueID      *int64     `db:"issue_id"`
	ProductID    string     `db:"product_id"`
	Action       string     `db:"action"`
	Source       string     `db:"source"`
	BeforeState  string     `db:"before_state"`
	AfterState   string     `db:"after_state"`
	Metadata     string     `db:"metadata"`
	Success      bool       `db:"success"`
	ErrorMessage string     `db:"error_message"`
	Undone       bool       `db:"undone"`
	UndoneAt     *time.Time `db:"undone_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

func toRow(e *models.FixHistoryEntry) (historyRow, error) {
	before, err := marshalJSON(e.Before)
	if err != nil {
		return historyRow{}, fmt.Errorf("encoding before state: %w", err)
	}
	after, err := marshalJSON(e.After)
	if err != nil {
		return historyRow{}, fmt.Errorf("encoding after state: %w", err)
	}
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return historyRow{}, fmt.Errorf("encoding metadata: %w", err)
	}
	return historyRow{
		ID:           e.ID,
		Shop:         e.Shop,
		IssueID:      e.IssueID,
		ProductID:    e.ProductID,
		Action:       string(e.Action),
		Source:       e.Source,
		BeforeState:  before,
		AfterState:   after,
		Metadata:     meta,
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
		Undone:       e.Undone,
		UndoneAt:     e.UndoneAt,
		CreatedAt:    e.CreatedAt,
	}, nil
}

func (r historyRow) entry() (*models.FixHistoryEntry, error) {
	e := &models.FixHistoryEntry{
		ID:           r.ID,
		Shop:         r.Shop,
		IssueID:      r.IssueID,
		ProductID:    r.ProductID,
		Action:       models.ActionKind(r.Action),
		Source:       r.Source,
		Success:      r.Success,
		ErrorMessage: r.ErrorMessage,
		Undone:       r.Undone,
		UndoneAt:     r.UndoneAt,
		CreatedAt:    r.CreatedAt,
	}
	if err := unmarshalJSON(r.BeforeState, &e.Before); err != nil {
		return nil, fmt.Errorf("decoding before state of entry %d: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.AfterState, &e.After); err != nil {
		return nil, fmt.Errorf("decoding after state of entry %d: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.Metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata of entry %d: %w", r.ID, err)
	}
	return e, nil
}

// Ledger stores fix history in the fix_history table.
type Ledger struct {
	db     database.DB
	repo   catalog.Repository
	logger *slog.Logger
}

// NewLedger returns a Ledger. repo is the mutation path Undo restores
// through; it may be nil for read-only use.
func NewLedger(db database.DB, repo catalog.Repository) *Ledger {
	return &Ledger{db: db, repo: repo, logger: slog.Default()}
}

// Record appends e and returns its id. CreatedAt defaults to now.
func (l *Ledger) Record(ctx context.Context, e *models.FixHistoryEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Source == "" {
		e.Source = models.SourceManual
	}
	e.ID = 0
	row, err := toRow(e)
	if err != nil {
		return 0, err
	}
	id, err := l.db.Insert(ctx, "fix_history", row)
	if err != nil {
		return 0, fmt.Errorf("recording fix history: %w", err)
	}
	e.ID = id
	return id, nil
}

// Get loads one entry.
func (l *Ledger) Get(ctx context.Context, id int64) (*models.FixHistoryEntry, error) {
	var row historyRow
	err := l.db.Get(ctx, &row, `SELECT `+historyColumns+` FROM fix_history WHERE id = ?`, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading history entry %d: %w", id, err)
	}
	return row.entry()
}

// List returns the shop's most recent entries, newest first.
func (l *Ledger) List(ctx context.Context, shop string, limit int) ([]models.FixHistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []historyRow
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	q := fmt.Sprintf(`SELECT %s FROM fix_history WHERE shop = ? ORDER BY created_at DESC, id DESC LIMIT %d`, historyColumns, limit)
	if err := l.db.Select(ctx, &rows, q, shop); err != nil {
		return nil, fmt.Errorf("listing fix history: %w", err)
	}
	out := make([]models.FixHistoryEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// Undo reverts entry id through the repository and marks it undone.
// Refusals are *UndoError; a failing repository mutation is returned
// wrapped and leaves the entry undoable.
func (l *Ledger) Undo(ctx context.Context, id int64) error {
	e, err := l.Get(ctx, id)
	if errors.Is(err, ErrEntryNotFound) {
		return &UndoError{EntryID: id, Reason: ErrEntryNotFound}
	}
	if err != nil {
		return err
	}
	if e.Undone {
		return &UndoError{EntryID: id, Reason: ErrAlreadyUndone}
	}
	if !e.Success || e.Before.IsEmpty() {
		return &UndoError{EntryID: id, Reason: ErrNoBackup}
	}
	m, err := Restore(e.Action, e.Before)
	if err != nil {
		return &UndoError{EntryID: id, Reason: err}
	}
	if l.repo == nil {
		return fmt.Errorf("undo history entry %d: no catalog repository configured", id)
	}

	// Claim the entry first so two overlapping undos cannot both mutate.
	n, err := l.db.ExecAffected(ctx,
		`UPDATE fix_history SET undone = ?, undone_at = ? WHERE id = ? AND undone = ?`,
		true, time.Now().UTC(), id, false)
	if err != nil {
		return fmt.Errorf("marking history entry %d undone: %w", id, err)
	}
	if n == 0 {
		return &UndoError{EntryID: id, Reason: ErrAlreadyUndone}
	}

	if _, err := l.repo.Apply(ctx, m); err != nil {
		if rerr := l.db.Exec(ctx,
			`UPDATE fix_history SET undone = ?, undone_at = NULL WHERE id = ?`, false, id); rerr != nil {
			l.logger.Error("history: releasing undo claim failed", "id", id, "error", rerr)
		}
		return fmt.Errorf("undo history entry %d: restoring product %s: %w", id, m.ProductID, err)
	}
	l.logger.Info("history: fix undone", "id", id, "action", e.Action, "product", e.ProductID)
	return nil
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, into interface{}) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), into)
}
