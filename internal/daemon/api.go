// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/monitor"
	"github.com/ksyq12/agent-watch/internal/store"
)

// API serves the daemon's HTTP endpoints.
type API struct {
	engine *monitor.Engine
	logDir string
	token  string
	logger *slog.Logger
}

// NewAPI creates a new API handler. If token is non-empty, all
// endpoints require Bearer auth.
func NewAPI(engine *monitor.Engine, logDir, token string, logger *slog.Logger) *API {
	return &API{engine: engine, logDir: logDir, token: token, logger: logger}
}

// Handler returns the HTTP handler for the daemon API.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("POST /api/start", a.handleStart)
	mux.HandleFunc("POST /api/stop", a.handleStop)
	mux.HandleFunc("POST /api/analyze", a.handleAnalyze)
	mux.HandleFunc("GET /api/sessions", a.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", a.handleSessionEvents)
	mux.HandleFunc("GET /api/sessions/{id}/summary", a.handleSessionSummary)
	mux.HandleFunc("GET /api/sessions/{id}/chart", a.handleSessionChart)
	mux.HandleFunc("GET /api/sessions/{id}/search", a.handleSessionSearch)
	mux.HandleFunc("GET /api/events", a.handleEventStream)
	mux.Handle("GET /metrics", monitor.MetricsHandler())
	return http.MaxBytesHandler(mux, 1<<20) // 1MB limit
}

func (a *API) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if a.token == "" {
		return true // No auth configured.
	}
	auth := r.Header.Get("Authorization")
	expected := "Bearer " + a.token
	if auth == "" || subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}
	return true
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}

	status := map[string]any{"active": a.engine.IsActive()}
	if id, err := a.engine.SessionID(); err == nil {
		status["session_id"] = id
	}
	if agents, err := a.engine.MonitoredAgents(); err == nil {
		items := make([]map[string]any, 0, len(agents))
		for _, agent := range agents {
			items = append(items, map[string]any{
				"pid":  agent.PID,
				"name": agent.Name,
				"path": agent.Path,
			})
		}
		status["agents"] = items
	}
	writeJSON(w, http.StatusOK, status)
}

type startReq struct {
	Process string `json:"process"`
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}

	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid body: %v", err),
		})
		return
	}
	if req.Process == "" {
		req.Process = "agent-watch"
	}

	id, err := a.engine.StartSession(req.Process)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, monitor.ErrAlreadyActive):
			status = http.StatusConflict
		case errors.Is(err, monitor.ErrNoAgents):
			status = http.StatusPreconditionFailed
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	a.logger.Info("daemon-api: session started", "session_id", id, "process", req.Process)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

type stopReq struct {
	ExitCode int `json:"exit_code"`
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}

	var req stopReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid body: %v", err),
		})
		return
	}

	if err := a.engine.StopSession(req.ExitCode); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, monitor.ErrNotActive) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	a.logger.Info("daemon-api: session stopped", "exit_code", req.ExitCode)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

type analyzeReq struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}

	var req analyzeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid body: %v", err),
		})
		return
	}
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "command is required"})
		return
	}

	level, reason := a.engine.Analyze(req.Command, req.Args)
	writeJSON(w, http.StatusOK, map[string]any{
		"command":    req.Command,
		"risk_level": level.String(),
		"reason":     reason,
		"alert":      level >= event.High,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}

	sessions, err := store.ListSessions(a.logDir)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	items := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, map[string]any{
			"session_id": s.SessionID,
			"path":       s.Path,
			"start_time": s.StartTime.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

// sessionEvents loads the events of the session named in the path, or
// writes a 404 and returns false.
func (a *API) sessionEvents(w http.ResponseWriter, r *http.Request) ([]event.Event, bool) {
	id := r.PathValue("id")

	sessions, err := store.ListSessions(a.logDir)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	for _, s := range sessions {
		if s.SessionID != id {
			continue
		}
		events, err := store.ReadEvents(s.Path)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return nil, false
		}
		return events, true
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown session %q", id)})
	return nil, false
}

func (a *API) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}
	events, ok := a.sessionEvents(w, r)
	if !ok {
		return
	}

	// since=N serves pollers that remember how many events they have
	// already consumed; next_index is the value to pass on the next
	// poll.
	if r.URL.Query().Has("since") {
		since := queryInt(r, "since", 0)
		writeJSON(w, http.StatusOK, map[string]any{
			"total":      len(events),
			"next_index": len(events),
			"events":     store.Latest(events, since),
		})
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)
	page := store.Paginate(events, offset, limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(events),
		"offset": offset,
		"events": page,
	})
}

func (a *API) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}
	events, ok := a.sessionEvents(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.Summarize(events))
}

func (a *API) handleSessionChart(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}
	events, ok := a.sessionEvents(w, r)
	if !ok {
		return
	}
	bucket := queryInt(r, "bucket", 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"points": store.Chart(events, bucket),
	})
}

func (a *API) handleSessionSearch(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}
	events, ok := a.sessionEvents(w, r)
	if !ok {
		return
	}

	f := store.Filter{
		Query: r.URL.Query().Get("q"),
		Type:  event.Type(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("risk"); raw != "" {
		level, err := event.ParseRiskLevel(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		f.Risk = &level
	}
	if raw := r.URL.Query().Get("start_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_ms"})
			return
		}
		f.StartMS = &ms
	}
	if raw := r.URL.Query().Get("end_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_ms"})
			return
		}
		f.EndMS = &ms
	}

	matches := store.Search(events, f)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(matches),
		"events": matches,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
