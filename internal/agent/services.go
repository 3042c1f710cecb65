package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
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
	"github.com/CosmoTheDev/klara-agent/internal/scan"
	"github.com/CosmoTheDev/klara-agent/models"
)

// Services is everything the CLI and the gateway share, built once from config.
type Services struct {
	Shop         string
	Repo         catalog.Repository
	Issues       *issues.Store
	Prefs        *preferences.SQLStore
	Ledger       *history.Ledger
	Writer       *ai.Writer
	Images       ai.ImageGenerator
	Stock        *imagesource.Stock
	Dispatcher   *actions.Dispatcher
	Notifier     *notify.Dispatcher
	Orchestrator *Orchestrator

	db     database.DB
	// events reaches the configured channels plus any extra notifiers.
	events notify.Notifier
}

// NewServices wires the stack from cfg. Extra notifiers (the gateway's SSE
// feed) receive every event alongside the configured channels.
func NewServices(cfg *config.Config, db database.DB, repo catalog.Repository, extra ...notify.Notifier) (*Services, error) {
	if repo == nil {
		var err error
		if repo, err = catalog.New(cfg.Shop); err != nil {
			return nil, fmt.Errorf("opening catalog: %w", err)
		}
	}
	provider, err := ai.New(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("initialising AI provider: %w", err)
	}
	images, err := ai.NewImageGenerator(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("initialising image generator: %w", err)
	}
	rules, err := autonomy.LoadRules(cfg.Autonomy.RulesFile)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Shop:     cfg.Shop.Domain,
		Repo:     repo,
		Issues:   issues.NewStore(db),
		Prefs:    preferences.NewSQLStore(db),
		Ledger:   history.NewLedger(db, repo),
		Writer:   ai.NewWriter(provider),
		Images:   images,
		Stock:    imagesource.NewStock(cfg.Images),
		Notifier: notify.NewDispatcher(cfg.Notify),
		db:       db,
	}
	var notifier notify.Notifier = s.Notifier
	if len(extra) > 0 {
		notifier = append(notify.Fanout{s.Notifier}, extra...)
	}
	s.events = notifier

	deps := actions.Deps{
		Repo:     repo,
		History:  s.Ledger,
		Issues:   s.Issues,
		Prefs:    s.Prefs,
		Writer:   s.Writer,
		Images:   images,
		Fetcher:  imagesource.NewFetcher(cfg.Images),
		Notifier: notifier,
	}
	if s.Stock.Configured() {
		deps.Stock = s.Stock
	}
	s.Dispatcher = actions.New(deps)

	s.Orchestrator = NewOrchestrator(s.Shop, cfg.Autonomy.MaxPerRun, Deps{
		DB:   db,
		Repo: repo,
		Detector: scan.NewDetector(scan.Thresholds{
			MinDescriptionLength: cfg.Scan.MinDescriptionLength,
			MinSEOTitleLength:    cfg.Scan.MinSEOTitleLength,
		}),
		Issues:     s.Issues,
		Prefs:      s.Prefs,
		Policy:     autonomy.NewPolicy(rules),
		Sessions:   autonomy.NewRegistry(cfg.Autonomy.Enabled),
		Dispatcher: s.Dispatcher,
		Notifier:   notifier,
	})

	slog.Debug("agent: services ready",
		"shop", s.Shop,
		"catalog", repo.Name(),
		"ai", s.Writer.Provider().Name(),
		"images", images.Name(),
		"stock", s.Stock.Configured(),
		"notify", s.Notifier.IsAnyConfigured(),
	)
	return s, nil
}

// Undo reverses a fix history entry, reopens the issue it closed and
// announces it.
func (s *Services) Undo(ctx context.Context, id int64) (*models.FixHistoryEntry, error) {
	if err := s.Ledger.Undo(ctx, id); err != nil {
		return nil, err
	}
	entry, err := s.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.IssueID != nil {
		if err := s.Issues.Reopen(ctx, *entry.IssueID); err != nil {
			// The catalog is already restored; the next scan reopens it anyway.
			slog.Warn("agent: reopening undone issue failed", "issue", *entry.IssueID, "error", err)
		}
	}
	slog.Info("agent: fix undone", "history", id, "action", entry.Action, "product", entry.ProductID)
	s.events.Notify(ctx, notify.Event{
		Type:  notify.EventFixUndone,
		Title: fmt.Sprintf("%s undone for %s", entry.Action, entry.ProductID),
		Shop:  entry.Shop,
		Metadata: map[string]any{
			"history_id": id,
			"action":     string(entry.Action),
		},
	})
	return entry, nil
}

// Runs lists the shop's recorded scan runs, newest first.
func (s *Services) Runs(ctx context.Context, limit int) ([]ScanRun, error) {
	return ListRuns(ctx, s.db, s.Shop, limit)
}

// Notify sends evt through the same channels fixes use.
func (s *Services) Notify(ctx context.Context, evt notify.Event) { s.events.Notify(ctx, evt) }
