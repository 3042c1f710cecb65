package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/agent"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/history"
	"github.com/CosmoTheDev/klara-agent/internal/imagesource"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/internal/preferences"
	"github.com/CosmoTheDev/klara-agent/models"
)

// --- HTTP response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads an optional JSON body into v. An empty body is not an error.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathID extracts a numeric path parameter by name from the request.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return 0, fmt.Errorf("missing path parameter %q", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// parseLimit reads ?limit=, clamped to [1, maxLimit].
func parseLimit(r *http.Request, def, maxLimit int) int {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var (
		fetchErr    *actions.FetchError
		genErr      *actions.GenerationError
		mutationErr *actions.MutationError
	)
	switch {
	case errors.Is(err, issues.ErrNotFound),
		errors.Is(err, history.ErrEntryNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, agent.ErrRunNotFound),
		errors.Is(err, ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, actions.ErrAlreadyFixed),
		errors.Is(err, history.ErrAlreadyUndone),
		errors.Is(err, history.ErrNoBackup),
		errors.Is(err, history.ErrRestoreUnsupported),
		errors.Is(err, agent.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, actions.ErrManualOnly),
		errors.Is(err, actions.ErrNoStockResults):
		return http.StatusUnprocessableEntity
	case errors.Is(err, actions.ErrInvalidAction),
		errors.Is(err, actions.ErrUnknownAction),
		errors.Is(err, models.ErrUnknownActionKind),
		errors.Is(err, preferences.ErrUnknownKey),
		errors.Is(err, preferences.ErrInvalidValue),
		errors.Is(err, ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, imagesource.ErrNoProviders):
		return http.StatusServiceUnavailable
	case errors.As(err, &fetchErr), errors.As(err, &genErr), errors.As(err, &mutationErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// writeOutcome reports a dispatch result. A failed fix that still produced
// an outcome (and a history row) carries both the error and the outcome.
func writeOutcome(w http.ResponseWriter, outcome *actions.Outcome, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, outcome)
	case outcome == nil:
		writeDomainError(w, err)
	default:
		writeJSON(w, errorStatus(err), map[string]any{"error": err.Error(), "outcome": outcome})
	}
}

