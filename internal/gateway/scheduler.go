package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/CosmoTheDev/klara-agent/internal/database"
)

var (
	// ErrScheduleNotFound is returned for an unknown schedule id.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrInvalidSchedule is returned for a missing name or a bad cron expression.
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// Scheduler loads scan_schedules and registers them with robfig/cron. When a
// schedule fires it calls triggerFn and records last_run_at. Scheduled scans
// only detect and persist; fixes stay with the merchant.
type Scheduler struct {
	db        database.DB
	cron      *cron.Cron
	triggerFn func(Schedule)
	broadcast func(SSEEvent)

	mu      sync.Mutex
	entries map[int64]cron.EntryID // schedule DB id → cron entry id
}

func newScheduler(db database.DB, triggerFn func(Schedule), broadcast func(SSEEvent)) *Scheduler {
	return &Scheduler{
		db:        db,
		cron:      cron.New(),
		triggerFn: triggerFn,
		broadcast: broadcast,
		entries:   make(map[int64]cron.EntryID),
	}
}

// Start loads all enabled schedules from the DB and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	var schedules []Schedule
	if err := s.db.Select(ctx, &schedules,
		`SELECT `+scheduleColumns+` FROM scan_schedules WHERE enabled = ?`, true,
	); err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	for _, sched := range schedules {
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: skipping schedule with invalid expression",
				"id", sched.ID, "name", sched.Name, "expr", sched.Expr, "error", err)
		}
	}

	s.cron.Start()
	slog.Info("scheduler: started", "schedules_loaded", len(schedules))
	return nil
}

// Stop halts the cron runner and waits for running jobs.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// register adds a schedule to the running cron instance.
func (s *Scheduler) register(sched Schedule) error {
	entryID, err := s.cron.AddFunc(sched.Expr, func() {
		if err := s.runSchedule(context.Background(), sched, "schedule.fired"); err != nil {
			slog.Warn("scheduler: firing schedule failed",
				"id", sched.ID, "name", sched.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.Expr, err)
	}
	s.mu.Lock()
	s.entries[sched.ID] = entryID
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) unregister(id int64) {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

// validate checks the name and that expr is parseable by robfig/cron.
func validate(sched Schedule) error {
	if strings.TrimSpace(sched.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if _, err := cron.ParseStandard(strings.TrimSpace(sched.Expr)); err != nil {
		return fmt.Errorf("%w: expression %q: %v", ErrInvalidSchedule, sched.Expr, err)
	}
	return nil
}

// Add validates, persists, and registers a new schedule. Returns the new DB id.
func (s *Scheduler) Add(ctx context.Context, sched Schedule) (int64, error) {
	if err := validate(sched); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	sched.ID = 0
	sched.LastRunAt = nil
	sched.CreatedAt = now
	sched.UpdatedAt = now

	id, err := s.db.Insert(ctx, "scan_schedules", sched)
	if err != nil {
		return 0, err
	}
	sched.ID = id
	if sched.Enabled {
		if err := s.register(sched); err != nil {
			slog.Warn("scheduler: persisted but could not register schedule",
				"id", id, "error", err)
		}
	}
	return id, nil
}

// Get loads one schedule.
func (s *Scheduler) Get(ctx context.Context, id int64) (*Schedule, error) {
	var sched Schedule
	err := s.db.Get(ctx, &sched, `SELECT `+scheduleColumns+` FROM scan_schedules WHERE id = ?`, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading schedule %d: %w", id, err)
	}
	return &sched, nil
}

// Update validates, persists, and re-registers an existing schedule.
func (s *Scheduler) Update(ctx context.Context, id int64, sched Schedule) (*Schedule, error) {
	if err := validate(sched); err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.db.Exec(ctx,
		`UPDATE scan_schedules SET name = ?, description = ?, expr = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		sched.Name, sched.Description, sched.Expr, sched.Enabled, now, id,
	); err != nil {
		return nil, err
	}
	s.unregister(id)

	sched.ID = id
	sched.Shop = existing.Shop
	sched.CreatedAt = existing.CreatedAt
	sched.UpdatedAt = now
	sched.LastRunAt = existing.LastRunAt
	if sched.Enabled {
		if err := s.register(sched); err != nil {
			return nil, err
		}
	}
	return &sched, nil
}

// Delete removes a schedule from cron and the DB.
func (s *Scheduler) Delete(ctx context.Context, id int64) error {
	s.unregister(id)
	n, err := s.db.ExecAffected(ctx, "DELETE FROM scan_schedules WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrScheduleNotFound, id)
	}
	return nil
}

// List returns all schedules ordered by id.
func (s *Scheduler) List(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	err := s.db.Select(ctx, &out, `SELECT `+scheduleColumns+` FROM scan_schedules ORDER BY id`)
	return out, err
}

// TriggerNow fires the schedule immediately regardless of its expression.
func (s *Scheduler) TriggerNow(ctx context.Context, id int64) error {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.runSchedule(ctx, *sched, "schedule.triggered")
}

func (s *Scheduler) runSchedule(ctx context.Context, sched Schedule, eventType string) error {
	if err := s.db.Exec(ctx,
		"UPDATE scan_schedules SET last_run_at = ? WHERE id = ?", time.Now().UTC(), sched.ID,
	); err != nil {
		return err
	}
	s.triggerFn(sched)
	payload := map[string]any{"id": sched.ID, "name": sched.Name}
	if eventType == "schedule.triggered" {
		payload["manual"] = true
	}
	s.broadcast(SSEEvent{Type: eventType, Payload: payload})
	return nil
}
