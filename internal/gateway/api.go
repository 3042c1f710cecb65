package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/config"
)

// buildHandler wires all REST and SSE routes onto a new ServeMux.
// Uses Go 1.22+ method-prefixed patterns ("GET /path", "POST /path").
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", gw.handleRoot)
	mux.HandleFunc("GET /health", gw.handleLiveness)
	mux.HandleFunc("GET /api/status", gw.handleStatus)

	// Store health and issues
	mux.HandleFunc("GET /api/health", gw.handleStoreHealth)
	mux.HandleFunc("GET /api/issues", gw.handleListIssues)
	mux.HandleFunc("GET /api/issues/top", gw.handleTopIssues)
	mux.HandleFunc("GET /api/issues/{id}", gw.handleGetIssue)
	mux.HandleFunc("GET /api/issues/{id}/options", gw.handleIssueOptions)
	mux.HandleFunc("POST /api/issues/{id}/fix", gw.handleFixIssue)

	// Actions and stock photos
	mux.HandleFunc("POST /api/actions", gw.handleDispatchAction)
	mux.HandleFunc("GET /api/stock-images", gw.handleStockImages)

	// Fix history
	mux.HandleFunc("GET /api/history", gw.handleListHistory)
	mux.HandleFunc("GET /api/history/{id}", gw.handleGetHistory)
	mux.HandleFunc("POST /api/history/{id}/undo", gw.handleUndo)

	// Preferences
	mux.HandleFunc("GET /api/preferences", gw.handleListPreferences)
	mux.HandleFunc("GET /api/preferences/{key}", gw.handleGetPreference)
	mux.HandleFunc("PUT /api/preferences/{key}", gw.handlePutPreference)
	mux.HandleFunc("DELETE /api/preferences/{key}", gw.handleDeletePreference)

	// Scans and autonomy
	mux.HandleFunc("POST /api/scan", gw.handleTriggerScan)
	mux.HandleFunc("POST /api/scan/stop", gw.handleStopScan)
	mux.HandleFunc("GET /api/scans", gw.handleListScans)
	mux.HandleFunc("GET /api/scans/{run_id}", gw.handleGetScan)
	mux.HandleFunc("GET /api/autonomy", gw.handleAutonomy)
	mux.HandleFunc("PUT /api/autonomy", gw.handleSetAutonomy)
	mux.HandleFunc("POST /api/autonomy/reset", gw.handleResetAutonomy)

	// Schedules
	mux.HandleFunc("GET /api/schedules", gw.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", gw.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", gw.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", gw.handleDeleteSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/trigger", gw.handleTriggerSchedule)

	// Config, logs, events
	mux.HandleFunc("GET /api/config", gw.handleGetConfig)
	mux.HandleFunc("GET /api/logs", gw.handleLogs)
	mux.HandleFunc("GET /events", gw.handleEvents)

	return mux
}

// --- handlers ---

func (gw *Gateway) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (gw *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "klara gateway",
		"status":  "running",
		"shop":    gw.svc.Shop,
		"message": "Gateway is up. REST/SSE API available here.",
		"endpoints": []string{
			"GET /health",
			"GET /api/status",
			"GET /api/health",
			"GET /api/issues",
			"POST /api/issues/{id}/fix",
			"POST /api/actions",
			"GET /api/history",
			"POST /api/history/{id}/undo",
			"GET /api/preferences",
			"POST /api/scan",
			"GET /api/scans",
			"GET /api/autonomy",
			"GET /api/schedules",
			"GET /events",
		},
	})
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gw.currentStatus(r.Context()))
}

func (gw *Gateway) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	gw.mu.RLock()
	cfgCopy := config.Redacted(*gw.cfg)
	cfgPath := gw.configPath
	gw.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   cfgPath,
		"config": cfgCopy,
	})
}

type logFileEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	ModTime string `json:"mod_time"`
}

type logsResponse struct {
	LogDir       string         `json:"log_dir"`
	SelectedFile string         `json:"selected_file,omitempty"`
	Tail         int            `json:"tail"`
	Files        []logFileEntry `json:"files"`
	Lines        []string       `json:"lines"`
}

func (gw *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fileName := strings.TrimSpace(q.Get("file"))
	tail := 200
	if raw := strings.TrimSpace(q.Get("tail")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		if n > 5000 {
			n = 5000
		}
		tail = n
	}

	gw.mu.RLock()
	logDir := gw.logDir
	gw.mu.RUnlock()

	files, err := listLogFiles(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, logsResponse{
				LogDir: logDir, Tail: tail, Files: []logFileEntry{}, Lines: []string{},
			})
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("listing logs: %v", err))
		return
	}

	if fileName == "" && len(files) > 0 {
		fileName = files[0].Name
	}
	if fileName != "" {
		clean := filepath.Base(fileName)
		if clean != fileName || strings.Contains(fileName, "..") {
			writeError(w, http.StatusBadRequest, "invalid file name")
			return
		}
	}

	var lines []string
	if fileName != "" {
		lines, err = tailFileLines(filepath.Join(logDir, fileName), tail)
		if err != nil {
			if os.IsNotExist(err) {
				writeError(w, http.StatusNotFound, "log file not found")
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("reading log file: %v", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, logsResponse{
		LogDir:       logDir,
		SelectedFile: fileName,
		Tail:         tail,
		Files:        files,
		Lines:        lines,
	})
}

// listLogFiles returns *.log files with gateway.log first, then newest first.
func listLogFiles(dir string) ([]logFileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type row struct {
		logFileEntry
		mod time.Time
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rows = append(rows, row{
			logFileEntry: logFileEntry{
				Name:    e.Name(),
				Size:    info.Size(),
				ModTime: info.ModTime().UTC().Format(time.RFC3339),
			},
			mod: info.ModTime(),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Name == "gateway.log" {
			return true
		}
		if rows[j].Name == "gateway.log" {
			return false
		}
		return rows[i].mod.After(rows[j].mod)
	})
	out := make([]logFileEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.logFileEntry)
	}
	return out, nil
}

func tailFileLines(path string, tail int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := []string{}
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) <= tail {
		return lines, nil
	}
	return lines[len(lines)-tail:], nil
}

// handleEvents streams SSE to the client. Each frame carries an id, the event
// type and a JSON SSEEvent. Clients resuming with Last-Event-ID first receive
// the buffered frames they missed.
func (gw *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	ch, backlog := gw.broadcaster.subscribe(lastID)
	defer gw.broadcaster.unsubscribe(ch)

	// The connected frame has no id so it never moves the client's cursor.
	connected, _ := json.Marshal(SSEEvent{Type: "connected", Payload: gw.currentStatus(r.Context())})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
	for _, frame := range backlog {
		_, _ = w.Write(frame)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
