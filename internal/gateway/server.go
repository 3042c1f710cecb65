// Package gateway is the long-running control plane: REST endpoints for
// issues, fixes, history and preferences, an SSE event stream, and
// cron-triggered detection scans.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/config"
	"github.com/CosmoTheDev/klara-agent/internal/database"
)

const defaultPort = 6090

// Gateway is the long-running daemon that combines:
//   - the agent Orchestrator (serving scan triggers)
//   - a cron Scheduler (triggering detection scans on schedule)
//   - a REST + SSE HTTP server (control plane for merchants)
type Gateway struct {
	cfg         *config.Config
	configPath  string
	logDir      string
	db          database.DB
	svc         *agent.Services
	scheduler   *Scheduler
	broadcaster *Broadcaster

	mu            sync.RWMutex
	running       bool
	lastTriggerAt string
	startedAt     time.Time
}

// New creates a Gateway. A nil repo opens the catalog configured in cfg.
// Call Start to begin serving.
func New(cfg *config.Config, db database.DB, repo catalog.Repository) (*Gateway, error) {
	b := newBroadcaster()
	svc, err := agent.NewServices(cfg, db, repo, b)
	if err != nil {
		return nil, err
	}
	gw := &Gateway{
		cfg:         cfg,
		db:          db,
		logDir:      "logs",
		svc:         svc,
		broadcaster: b,
		startedAt:   time.Now(),
	}
	gw.scheduler = newScheduler(db, gw.triggerSchedule, b.send)
	return gw, nil
}

// SetConfigPath stores the CLI-resolved config path for GET /api/config.
func (gw *Gateway) SetConfigPath(path string) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.configPath = path
}

// SetLogDir stores the CLI-resolved log directory so log APIs read the same files being written.
func (gw *Gateway) SetLogDir(path string) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if path == "" {
		path = "logs"
	}
	gw.logDir = path
}

func (gw *Gateway) triggerSchedule(sched Schedule) {
	if sched.Shop != "" && sched.Shop != gw.svc.Shop {
		slog.Warn("gateway: ignoring schedule for another shop",
			"id", sched.ID, "name", sched.Name, "shop", sched.Shop)
		return
	}
	gw.trigger(agent.TriggerRequest{Trigger: "schedule"})
}

// trigger wakes the orchestrator and broadcasts a scan.triggered event.
func (gw *Gateway) trigger(req agent.TriggerRequest) {
	gw.svc.Orchestrator.Trigger(req)
	now := time.Now().UTC().Format(time.RFC3339)
	gw.mu.Lock()
	gw.lastTriggerAt = now
	gw.mu.Unlock()
	gw.broadcaster.send(SSEEvent{Type: "scan.triggered", Payload: map[string]any{
		"at":      now,
		"trigger": req.Trigger,
		"autofix": req.Autofix,
	}})
}

// Start runs the gateway until ctx is cancelled. It:
//  1. Loads and starts the cron scheduler
//  2. Starts the orchestrator in a background goroutine
//  3. Starts a stats ticker that broadcasts Status every 5s via SSE
//  4. Binds the HTTP server (blocks until shutdown)
func (gw *Gateway) Start(ctx context.Context) error {
	port := gw.cfg.Gateway.Port
	if port == 0 {
		port = defaultPort
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	// 1. Start scheduler.
	if err := gw.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	// 2. Run orchestrator in background.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		gw.mu.Lock()
		gw.running = true
		gw.mu.Unlock()

		if err := gw.svc.Orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("gateway: orchestrator error", "error", err)
		}

		gw.mu.Lock()
		gw.running = false
		gw.mu.Unlock()
		gw.broadcaster.send(SSEEvent{Type: "agent.stopped"})
	}()

	// 3. Stats ticker.
	go func() {
		defer wg.Done()
		gw.runStatsTicker(ctx)
	}()

	// 4. HTTP server.
	srv := &http.Server{
		Addr:              addr,
		Handler:           buildHandler(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shut down HTTP server when ctx is cancelled.
	go func() {
		<-ctx.Done()
		gw.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr, "shop", gw.svc.Shop)
	gw.broadcaster.send(SSEEvent{
		Type:    "gateway.started",
		Payload: map[string]string{"addr": "http://" + addr},
	})

	err := srv.ListenAndServe()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// runStatsTicker broadcasts a "status.update" SSE event every 5 seconds.
func (gw *Gateway) runStatsTicker(ctx context.Context) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			gw.broadcaster.send(SSEEvent{Type: "status.update", Payload: gw.currentStatus(ctx)})
		}
	}
}

func (gw *Gateway) currentStatus(ctx context.Context) Status {
	gw.mu.RLock()
	s := Status{
		Shop:          gw.svc.Shop,
		Catalog:       gw.svc.Repo.Name(),
		Running:       gw.running,
		LastTriggerAt: gw.lastTriggerAt,
		UptimeSeconds: int64(time.Since(gw.startedAt).Seconds()),
	}
	gw.mu.RUnlock()
	s.Scanning = gw.svc.Orchestrator.Running()
	if h, err := gw.svc.Issues.Health(ctx, gw.svc.Shop); err == nil {
		s.OpenIssues = h.Open
		s.HealthScore = h.Score
	} else {
		slog.Debug("gateway: health for status failed", "error", err)
	}
	return s
}
