package gateway

import (
	"fmt"
	"net/http"

	"github.com/CosmoTheDev/klara-agent/internal/history"
	"github.com/CosmoTheDev/klara-agent/models"
)

func (gw *Gateway) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := gw.svc.Ledger.List(r.Context(), gw.svc.Shop, parseLimit(r, 20, 500))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []models.FixHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// loadEntry resolves {id} to a history entry of the gateway's shop.
func (gw *Gateway) loadEntry(w http.ResponseWriter, r *http.Request) (*models.FixHistoryEntry, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	e, err := gw.svc.Ledger.Get(r.Context(), id)
	if err == nil && e.Shop != gw.svc.Shop {
		err = fmt.Errorf("%w: %d", history.ErrEntryNotFound, id)
	}
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return e, true
}

func (gw *Gateway) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	e, ok := gw.loadEntry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (gw *Gateway) handleUndo(w http.ResponseWriter, r *http.Request) {
	e, ok := gw.loadEntry(w, r)
	if !ok {
		return
	}
	undone, err := gw.svc.Undo(r.Context(), e.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, undone)
}
