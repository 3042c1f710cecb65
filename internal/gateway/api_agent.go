package gateway

import (
	"fmt"
	"net/http"

	"github.com/CosmoTheDev/klara-agent/internal/agent"
)

// scanTriggerRequest is the body for POST /api/scan. Autofix lets the
// autonomy policy apply fixes during the run.
type scanTriggerRequest struct {
	Autofix bool `json:"autofix"`
}

type autonomyRequest struct {
	Enabled *bool `json:"enabled"`
}

func (gw *Gateway) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	var req scanTriggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if gw.svc.Orchestrator.Running() {
		writeDomainError(w, agent.ErrScanInProgress)
		return
	}
	gw.trigger(agent.TriggerRequest{Autofix: req.Autofix, Trigger: "api"})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "scan triggered",
		"autofix": req.Autofix,
	})
}

func (gw *Gateway) handleStopScan(w http.ResponseWriter, r *http.Request) {
	stopped := gw.svc.Orchestrator.StopCurrentScan()
	if stopped {
		gw.broadcaster.send(SSEEvent{Type: "scan.stopping"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

func (gw *Gateway) handleListScans(w http.ResponseWriter, r *http.Request) {
	runs, err := gw.svc.Runs(r.Context(), parseLimit(r, 20, 200))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []agent.ScanRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (gw *Gateway) handleGetScan(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := agent.GetRun(r.Context(), gw.db, runID)
	if err == nil && run.Shop != gw.svc.Shop {
		err = fmt.Errorf("%w: %s", agent.ErrRunNotFound, runID)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (gw *Gateway) autonomyStatus() map[string]any {
	return map[string]any{
		"session":     gw.svc.Orchestrator.Session().Stats(),
		"max_per_run": gw.cfg.Autonomy.MaxPerRun,
	}
}

func (gw *Gateway) handleAutonomy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gw.autonomyStatus())
}

// handleSetAutonomy toggles autonomy for the live session only; the
// configured default applies again after a restart.
func (gw *Gateway) handleSetAutonomy(w http.ResponseWriter, r *http.Request) {
	var req autonomyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	gw.svc.Orchestrator.Session().SetEnabled(*req.Enabled)
	status := gw.autonomyStatus()
	gw.broadcaster.send(SSEEvent{Type: "autonomy.updated", Payload: status})
	writeJSON(w, http.StatusOK, status)
}

// handleResetAutonomy starts a fresh session, clearing counters and the
// pause latch.
func (gw *Gateway) handleResetAutonomy(w http.ResponseWriter, r *http.Request) {
	gw.svc.Orchestrator.Session().Reset()
	status := gw.autonomyStatus()
	gw.broadcaster.send(SSEEvent{Type: "autonomy.reset", Payload: status})
	writeJSON(w, http.StatusOK, status)
}
