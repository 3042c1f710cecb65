// Package agent runs the scan pipeline: detect defects, persist them as
// issues, and let the autonomy policy fix what it may.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/autonomy"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/database"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/internal/notify"
	"github.com/CosmoTheDev/klara-agent/internal/preferences"
	"github.com/CosmoTheDev/klara-agent/internal/scan"
	"github.com/CosmoTheDev/klara-agent/models"
)

// ErrScanInProgress is returned when a scan for the same shop is already running.
var ErrScanInProgress = errors.New("a scan is already in progress")

// Deps wires an Orchestrator. Everything except Notifier is required.
type Deps struct {
	DB         database.DB
	Repo       catalog.Repository
	Detector   *scan.Detector
	Issues     *issues.Store
	Prefs      preferences.Store
	Policy     *autonomy.Policy
	Sessions   *autonomy.Registry
	Dispatcher *actions.Dispatcher
	Notifier   notify.Notifier
}

// Orchestrator coordinates the detect → persist → resolve → evaluate →
// dispatch pipeline for one shop.
type Orchestrator struct {
	deps      Deps
	shop      string
	maxPerRun int
	triggerCh chan struct{}

	mu               sync.Mutex
	activeScanCancel context.CancelFunc
	pendingTrigger   *TriggerRequest
}

// ScanOptions controls a single scan.
type ScanOptions struct {
	// Autofix lets the autonomy policy apply fixes after detection.
	Autofix bool
	// Trigger names what started the scan ("cli", "api", "schedule").
	Trigger string
}

// TriggerRequest is queued by Trigger for the background loop.
type TriggerRequest struct {
	Autofix bool
	Trigger string
}

// Result reports one completed scan.
type Result struct {
	RunID       string              `json:"run_id"`
	Shop        string              `json:"shop"`
	Products    int                 `json:"products"`
	Collections int                 `json:"collections"`
	Findings    []models.Finding    `json:"findings"`
	Saved       *issues.SaveSummary `json:"saved"`
	Applied     []actions.Outcome   `json:"applied,omitempty"`
	Failed      int                 `json:"failed"`
	Paused      bool                `json:"paused"`
	Session     *autonomy.Stats     `json:"session,omitempty"`
	Health      *issues.Health      `json:"health,omitempty"`
	Duration    time.Duration       `json:"duration"`
}

// NewOrchestrator creates an Orchestrator for shop.
func NewOrchestrator(shop string, maxPerRun int, deps Deps) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = (*notify.Dispatcher)(nil)
	}
	return &Orchestrator{
		deps:      deps,
		shop:      shop,
		maxPerRun: maxPerRun,
		triggerCh: make(chan struct{}, 1),
	}
}

// Shop returns the shop domain this orchestrator scans.
func (o *Orchestrator) Shop() string { return o.shop }

// Session returns the shop's autonomy session.
func (o *Orchestrator) Session() *autonomy.Session { return o.deps.Sessions.Session(o.shop) }

// Trigger requests a scan from the background loop. If one is already
// queued the newer request replaces it.
func (o *Orchestrator) Trigger(req TriggerRequest) {
	o.mu.Lock()
	cp := req
	o.pendingTrigger = &cp
	o.mu.Unlock()
	select {
	case o.triggerCh <- struct{}{}:
	default:
	}
}

// StopCurrentScan cancels the running scan, if any.
func (o *Orchestrator) StopCurrentScan() bool {
	o.mu.Lock()
	cancel := o.activeScanCancel
	o.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Running reports whether a scan is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeScanCancel != nil
}

// Run serves triggers until ctx is cancelled. Scan errors are logged.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("agent: orchestrator starting", "shop", o.shop, "catalog", o.deps.Repo.Name())
	for {
		select {
		case <-ctx.Done():
			slog.Info("agent: orchestrator received shutdown signal")
			return nil
		case <-o.triggerCh:
		}
		req := o.consumePendingTrigger()
		if req == nil {
			continue
		}
		if _, err := o.Scan(ctx, ScanOptions{Autofix: req.Autofix, Trigger: req.Trigger}); err != nil && ctx.Err() == nil {
			slog.Error("agent: triggered scan failed", "shop", o.shop, "trigger", req.Trigger, "error", err)
		}
	}
}

func (o *Orchestrator) consumePendingTrigger() *TriggerRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	req := o.pendingTrigger
	o.pendingTrigger = nil
	return req
}

// Scan runs the whole pipeline once and records it in scan_runs.
func (o *Orchestrator) Scan(ctx context.Context, opts ScanOptions) (*Result, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.activeScanCancel != nil {
		o.mu.Unlock()
		cancel()
		return nil, ErrScanInProgress
	}
	o.activeScanCancel = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.activeScanCancel = nil
		o.mu.Unlock()
	}()

	if opts.Trigger == "" {
		opts.Trigger = "cli"
	}
	started := time.Now()
	run := &ScanRun{
		RunID:         uuid.NewString(),
		Shop:          o.shop,
		Status:        RunRunning,
		TriggerSource: opts.Trigger,
		StartedAt:     started.UTC(),
	}
	if err := startRun(scanCtx, o.deps.DB, run); err != nil {
		return nil, err
	}
	slog.Info("agent: scan started", "run", run.RunID, "shop", o.shop, "trigger", opts.Trigger, "autofix", opts.Autofix)

	res, err := o.scan(scanCtx, run, opts)
	if err != nil {
		run.Status = RunFailed
		run.ErrorMessage = err.Error()
	} else {
		run.Status = RunDone
		res.Duration = time.Since(started)
	}
	// Record the outcome even when the scan context was cancelled.
	if ferr := finishRun(context.WithoutCancel(ctx), o.deps.DB, run); ferr != nil {
		slog.Error("agent: finishing scan run failed", "run", run.RunID, "error", ferr)
	}

	if err != nil {
		slog.Warn("agent: scan failed", "run", run.RunID, "shop", o.shop, "error", err)
		o.deps.Notifier.Notify(ctx, notify.Event{
			Type:     notify.EventScanFailed,
			Title:    "Scan failed for " + o.shop,
			Body:     err.Error(),
			Shop:     o.shop,
			Metadata: map[string]any{"run_id": run.RunID, "trigger": opts.Trigger},
		})
		return nil, err
	}

	slog.Info("agent: scan complete",
		"run", run.RunID,
		"products", res.Products,
		"findings", len(res.Findings),
		"applied", len(res.Applied),
		"paused", res.Paused,
		"duration", res.Duration.Round(time.Millisecond),
	)
	evt := notify.Event{
		Type:  notify.EventScanCompleted,
		Title: fmt.Sprintf("Scan complete for %s: %d findings", o.shop, len(res.Findings)),
		Shop:  o.shop,
		Metadata: map[string]any{
			"run_id":       run.RunID,
			"findings":     len(res.Findings),
			"auto_applied": len(res.Applied),
		},
	}
	if res.Health != nil {
		evt.Metadata["health_score"] = res.Health.Score
	}
	o.deps.Notifier.Notify(ctx, evt)
	return res, nil
}

func (o *Orchestrator) scan(ctx context.Context, run *ScanRun, opts ScanOptions) (*Result, error) {
	products, err := o.deps.Repo.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	collections, err := o.deps.Repo.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading collections: %w", err)
	}
	run.Products = len(products)
	run.Collections = len(collections)

	findings := o.deps.Detector.DetectAll(products, collections)
	run.Findings = len(findings)

	saved, err := o.deps.Issues.Save(ctx, o.shop, findings)
	if err != nil {
		return nil, err
	}
	res := &Result{
		RunID:       run.RunID,
		Shop:        o.shop,
		Products:    len(products),
		Collections: len(collections),
		Findings:    findings,
		Saved:       saved,
	}

	if opts.Autofix {
		if err := o.autofix(ctx, findings, res); err != nil {
			return nil, err
		}
		run.AutoApplied = len(res.Applied)
		stats := o.Session().Stats()
		res.Session = &stats
	}

	health, err := o.deps.Issues.Health(ctx, o.shop)
	if err != nil {
		slog.Warn("agent: computing health failed", "shop", o.shop, "error", err)
	} else {
		res.Health = health
	}
	return res, nil
}

// autofix walks the findings in detection order. Each finding gets the
// shop's preferred remedy or its proposed one, and is dispatched only when
// the policy allows it. Dispatch failures are logged and the loop goes on.
func (o *Orchestrator) autofix(ctx context.Context, findings []models.Finding, res *Result) error {
	session := o.Session()
	issueIDs, err := o.openIssueIDs(ctx)
	if err != nil {
		return err
	}

	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return err
		}
		action, source := o.remedyFor(ctx, f)
		if action == nil {
			continue
		}

		decision := o.deps.Policy.EvaluateBounded(f, session, o.maxPerRun)
		if decision.Paused {
			res.Paused = true
			o.deps.Notifier.Notify(ctx, notify.Event{
				Type:     notify.EventAutonomyPaused,
				Title:    "Automatic fixes paused for " + o.shop,
				Body:     fmt.Sprintf("The run ceiling of %d automatic fixes was reached. Remaining issues need review.", o.maxPerRun),
				Shop:     o.shop,
				Metadata: map[string]any{"session": session.ID(), "applied": session.AppliedCount()},
			})
			break
		}
		if !decision.Applied {
			continue
		}

		req := actions.Request{Shop: o.shop, Action: action, Source: source}
		if id, ok := issueIDs[issueKey(f.EntityID, f.IssueType)]; ok {
			req.IssueID = &id
		}
		out, err := o.deps.Dispatcher.Dispatch(ctx, req)
		if err != nil {
			res.Failed++
			slog.Warn("agent: automatic fix failed", "finding", f.ID, "action", action.Kind(), "error", err)
			continue
		}
		res.Applied = append(res.Applied, *out)
	}
	return nil
}

// remedyFor prefers the shop's stored strategy and falls back to the
// finding's own proposal when the finding belongs to an autonomy group.
func (o *Orchestrator) remedyFor(ctx context.Context, f models.Finding) (models.Action, string) {
	action, err := preferences.Resolve(ctx, o.deps.Prefs, o.shop, f)
	if err != nil {
		slog.Warn("agent: resolving preference failed, using proposed remedy", "finding", f.ID, "error", err)
	}
	if action != nil {
		return action, models.SourcePreference
	}
	if f.AutonomyType == models.AutonomyNone || f.ProposedAction == nil {
		return nil, ""
	}
	if err == nil && f.AutonomyType == models.AutonomyImageFix {
		if _, set, _ := o.deps.Prefs.Get(ctx, o.shop, preferences.KeyImageFixStrategy); set {
			// A stored strategy with no remedy for this finding wins over the proposal.
			return nil, ""
		}
	}
	return f.ProposedAction, models.SourceAutonomous
}

func (o *Orchestrator) openIssueIDs(ctx context.Context) (map[string]int64, error) {
	list, err := o.deps.Issues.List(ctx, o.shop, issues.Filter{Status: models.IssueStatusOpen})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(list))
	for _, iss := range list {
		out[issueKey(iss.EntityID, iss.IssueType)] = iss.ID
	}
	return out, nil
}

func issueKey(entityID string, t models.IssueType) string {
	return entityID + "|" + string(t)
}
