// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package daemon

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/monitor"
	"github.com/ksyq12/agent-watch/internal/procfs"
	"github.com/ksyq12/agent-watch/internal/store"
)

type fakeSource struct {
	procs []procfs.Process
}

func (f *fakeSource) Processes() ([]procfs.Process, error) {
	return f.procs, nil
}

func (f *fakeSource) Connections(pid uint32, tcp, udp bool) ([]procfs.Connection, error) {
	return nil, nil
}

func newTestServer(t *testing.T, token string) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Monitoring.TrackChildren = false

	engine := monitor.New(monitor.Options{
		Config: cfg,
		Source: &fakeSource{procs: []procfs.Process{
			{PID: 42, PPID: 1, Name: "claude", Path: "/usr/local/bin/claude"},
		}},
		Console: &bytes.Buffer{},
		LogDir:  dir,
	})

	api := NewAPI(engine, dir, token, slog.Default())
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, dir
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestStatusIdle(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["active"])
	assert.NotContains(t, body, "session_id")
}

func TestStartStopFlow(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/start", map[string]string{"process": "claude"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := decodeBody(t, resp)["session_id"].(string)
	assert.NotEmpty(t, id)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, id, body["session_id"])
	agents := body["agents"].([]any)
	require.Len(t, agents, 1)
	assert.Equal(t, "claude", agents[0].(map[string]any)["name"])

	resp = postJSON(t, srv.URL+"/api/start", map[string]string{"process": "claude"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/stop", map[string]int{"exit_code": 0})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/stop", map[string]int{"exit_code": 0})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestStartWithoutAgents(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Monitoring.TrackChildren = false

	engine := monitor.New(monitor.Options{
		Config:  cfg,
		Source:  &fakeSource{},
		Console: &bytes.Buffer{},
		LogDir:  dir,
	})
	srv := httptest.NewServer(NewAPI(engine, dir, "", slog.Default()).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/start", map[string]string{})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	resp.Body.Close()
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/analyze", map[string]any{
		"command": "rm", "args": []string{"-rf", "/"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "critical", body["risk_level"])
	assert.Equal(t, true, body["alert"])
	assert.NotEmpty(t, body["reason"])

	resp = postJSON(t, srv.URL+"/api/analyze", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func writeSessionFixture(t *testing.T, dir string) (string, []event.Event) {
	t.Helper()
	logger, err := store.NewSessionLogger(dir, "")
	require.NoError(t, err)
	require.NoError(t, logger.WriteHeader("claude", 42))

	events := []event.Event{
		event.NewCommand("ls", []string{"-la"}, "claude", 42, event.Low),
		event.NewCommand("sudo", []string{"rm"}, "claude", 42, event.High),
		event.NewFileAccess("/home/u/.env", event.FileRead, "claude", 42, event.Critical),
	}
	for _, e := range events {
		require.NoError(t, logger.Write(e))
	}
	require.NoError(t, logger.Close())
	return logger.SessionID(), events
}

func TestSessionQueries(t *testing.T) {
	srv, dir := newTestServer(t, "")
	id, _ := writeSessionFixture(t, dir)

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].(map[string]any)["session_id"])

	resp, err = http.Get(srv.URL + "/api/sessions/" + id + "?offset=1&limit=1")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(3), body["total"])
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "sudo", events[0].(map[string]any)["command"])

	resp, err = http.Get(srv.URL + "/api/sessions/" + id + "/summary")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(3), body["total_events"])
	assert.Equal(t, float64(1), body["critical_count"])

	resp, err = http.Get(srv.URL + "/api/sessions/" + id + "/search?risk=high")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(1), body["total"])

	resp, err = http.Get(srv.URL + "/api/sessions/" + id + "/search?q=env")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(1), body["total"])

	resp, err = http.Get(srv.URL + "/api/sessions/" + id + "/chart")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	points := body["points"].([]any)
	require.Len(t, points, 1)
	assert.Equal(t, float64(3), points[0].(map[string]any)["total"])
}

func TestSessionEventsSince(t *testing.T) {
	srv, dir := newTestServer(t, "")
	id, _ := writeSessionFixture(t, dir)

	resp, err := http.Get(srv.URL + "/api/sessions/" + id + "?since=1")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(3), body["next_index"])
	events := body["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "sudo", events[0].(map[string]any)["command"])

	// A poller that is fully caught up gets an empty page.
	resp, err = http.Get(srv.URL + "/api/sessions/" + id + "?since=3")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Empty(t, body["events"])
	assert.Equal(t, float64(3), body["next_index"])
}

func TestSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/sessions/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "go_goroutines")
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=7&bad=oops", nil)
	assert.Equal(t, 7, queryInt(req, "limit", 0))
	assert.Equal(t, 3, queryInt(req, "missing", 3))
	assert.Equal(t, 5, queryInt(req, "bad", 5))
}
