package gateway

import (
	"encoding/json"
	"net/http"
)

// scheduleRequest is the body for POST/PUT /api/schedules.
type scheduleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Expr        string `json:"expr"`
	Enabled     bool   `json:"enabled"`
}

func (req scheduleRequest) schedule() Schedule {
	return Schedule{
		Name:        req.Name,
		Description: req.Description,
		Expr:        req.Expr,
		Enabled:     req.Enabled,
	}
}

func (gw *Gateway) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := gw.scheduler.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if schedules == nil {
		schedules = []Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (gw *Gateway) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sched := req.schedule()
	sched.Shop = gw.svc.Shop
	id, err := gw.scheduler.Add(r.Context(), sched)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	created, err := gw.scheduler.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "schedule.created", Payload: map[string]any{"id": id}})
	writeJSON(w, http.StatusCreated, created)
}

func (gw *Gateway) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := gw.scheduler.Update(r.Context(), id, req.schedule())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "schedule.updated", Payload: map[string]any{"id": id}})
	writeJSON(w, http.StatusOK, updated)
}

func (gw *Gateway) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := gw.scheduler.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "schedule.deleted", Payload: map[string]any{"id": id}})
	w.WriteHeader(http.StatusNoContent)
}

func (gw *Gateway) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := gw.scheduler.TriggerNow(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}
