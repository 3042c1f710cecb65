package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/database"
)

// Run statuses.
const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("scan run not found")

// ScanRun is one row of scan_runs.
type ScanRun struct {
	ID            int64      `json:"id"              db:"id"`
	RunID         string     `json:"run_id"          db:"run_id"`
	Shop          string     `json:"shop"            db:"shop"`
	Status        string     `json:"status"          db:"status"`
	TriggerSource string     `json:"trigger_source"  db:"trigger_source"`
	Products      int        `json:"products"        db:"products"`
	Collections   int        `json:"collections"     db:"collections"`
	Findings      int        `json:"findings"        db:"findings"`
	AutoApplied   int        `json:"auto_applied"    db:"auto_applied"`
	ErrorMessage  string     `json:"error_message"   db:"error_message"`
	StartedAt     time.Time  `json:"started_at"      db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"     db:"finished_at"`
}

const runColumns = `id, run_id, shop, status, trigger_source, products, collections, findings, auto_applied, error_message, started_at, finished_at`

func startRun(ctx context.Context, db database.DB, r *ScanRun) error {
	id, err := db.Insert(ctx, "scan_runs", *r)
	if err != nil {
		return fmt.Errorf("recording scan run: %w", err)
	}
	r.ID = id
	return nil
}

func finishRun(ctx context.Context, db database.DB, r *ScanRun) error {
	now := time.Now().UTC()
	r.FinishedAt = &now
	return db.Exec(ctx,
		`UPDATE scan_runs SET status = ?, products = ?, collections = ?, findings = ?, auto_applied = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		r.Status, r.Products, r.Collections, r.Findings, r.AutoApplied, r.ErrorMessage, now, r.ID)
}

// ListRuns returns the shop's most recent scan runs, newest first.
func ListRuns(ctx context.Context, db database.DB, shop string, limit int) ([]ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []ScanRun
	err := db.Select(ctx, &out,
		`SELECT `+runColumns+` FROM scan_runs WHERE shop = ? ORDER BY started_at DESC, id DESC LIMIT ?`, shop, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return out, nil
}

// GetRun loads one run by its run id.
func GetRun(ctx context.Context, db database.DB, runID string) (*ScanRun, error) {
	var r ScanRun
	err := db.Get(ctx, &r, `SELECT `+runColumns+` FROM scan_runs WHERE run_id = ?`, runID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading scan run %s: %w", runID, err)
	}
	return &r, nil
}
