package gateway

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/CosmoTheDev/klara-agent/internal/preferences"
)

type preferenceRequest struct {
	Value string `json:"value"`
}

// prefKey reads {key} and rejects keys the store does not know.
func prefKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.ToUpper(strings.TrimSpace(r.PathValue("key")))
	if !slices.Contains(preferences.Keys(), key) {
		writeDomainError(w, fmt.Errorf("%w: %q", preferences.ErrUnknownKey, key))
		return "", false
	}
	return key, true
}

func (gw *Gateway) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	all, err := gw.svc.Prefs.All(r.Context(), gw.svc.Shop)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	keys := preferences.Keys()
	slices.Sort(keys)
	writeJSON(w, http.StatusOK, map[string]any{
		"shop":        gw.svc.Shop,
		"preferences": all,
		"keys":        keys,
	})
}

func (gw *Gateway) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	key, ok := prefKey(w, r)
	if !ok {
		return
	}
	value, set, err := gw.svc.Prefs.Get(r.Context(), gw.svc.Shop, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value, "set": set})
}

func (gw *Gateway) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	key, ok := prefKey(w, r)
	if !ok {
		return
	}
	var req preferenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := preferences.Normalize(key, req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := gw.svc.Prefs.Set(r.Context(), gw.svc.Shop, key, value); err != nil {
		writeDomainError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "preference.updated", Payload: map[string]any{"key": key, "value": value}})
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value, "set": true})
}

func (gw *Gateway) handleDeletePreference(w http.ResponseWriter, r *http.Request) {
	key, ok := prefKey(w, r)
	if !ok {
		return
	}
	if err := gw.svc.Prefs.Clear(r.Context(), gw.svc.Shop, key); err != nil {
		writeDomainError(w, err)
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "preference.updated", Payload: map[string]any{"key": key, "cleared": true}})
	w.WriteHeader(http.StatusNoContent)
}
