// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package monitor

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/procfs"
	"github.com/ksyq12/agent-watch/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	procs []procfs.Process
	conns map[uint32][]procfs.Connection
}

func (f *fakeSource) Processes() ([]procfs.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	procs := make([]procfs.Process, len(f.procs))
	copy(procs, f.procs)
	return procs, nil
}

func (f *fakeSource) Connections(pid uint32, tcp, udp bool) ([]procfs.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[pid], nil
}

func (f *fakeSource) addProcess(p procfs.Process) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = append(f.procs, p)
}

func agentSource() *fakeSource {
	return &fakeSource{procs: []procfs.Process{
		{PID: 42, PPID: 1, Name: "claude", Path: "/usr/local/bin/claude"},
	}}
}

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Monitoring.TrackChildren = false
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config, src Source) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e := New(Options{
		Config:  cfg,
		Source:  src,
		Console: &bytes.Buffer{},
		LogDir:  dir,
	})
	return e, dir
}

func TestSessionLifecycle(t *testing.T) {
	e, dir := newTestEngine(t, quietConfig(), agentSource())

	assert.False(t, e.IsActive())
	_, err := e.MonitoredAgents()
	assert.ErrorIs(t, err, ErrNotActive)

	id, err := e.StartSession("claude")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, e.IsActive())

	gotID, err := e.SessionID()
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	agents, err := e.MonitoredAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "claude", agents[0].Name)

	require.NoError(t, e.Submit(event.NewCommand("ls", nil, "claude", 42, event.Low)))
	require.NoError(t, e.Submit(event.NewCommand("sudo", []string{"apt"}, "claude", 42, event.High)))

	require.NoError(t, e.StopSession(0))
	assert.False(t, e.IsActive())

	sessions, err := store.ListSessions(dir)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	events, err := store.ReadEvents(sessions[0].Path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ls", events[0].Command)
	assert.Equal(t, "sudo", events[1].Command)

	raw, err := os.ReadFile(sessions[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "session_end")
	assert.Contains(t, string(raw), `"exit_code":0`)
}

func TestStartTwiceFails(t *testing.T) {
	e, _ := newTestEngine(t, quietConfig(), agentSource())

	_, err := e.StartSession("claude")
	require.NoError(t, err)
	defer e.StopSession(0)

	_, err = e.StartSession("claude")
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestStopWithoutStart(t *testing.T) {
	e, _ := newTestEngine(t, quietConfig(), agentSource())
	assert.ErrorIs(t, e.StopSession(0), ErrNotActive)
}

func TestNoAgentsDetected(t *testing.T) {
	src := &fakeSource{procs: []procfs.Process{
		{PID: 10, PPID: 1, Name: "bash", Path: "/bin/bash"},
	}}
	e, _ := newTestEngine(t, quietConfig(), src)

	_, err := e.StartSession("claude")
	assert.ErrorIs(t, err, ErrNoAgents)
	assert.False(t, e.IsActive())

	// A failed start must allow a later retry once an agent appears.
	src.procs = agentSource().procs
	_, err = e.StartSession("claude")
	require.NoError(t, err)
	require.NoError(t, e.StopSession(0))
}

func TestSubmitWithoutSession(t *testing.T) {
	e, _ := newTestEngine(t, quietConfig(), agentSource())
	err := e.Submit(event.NewCommand("ls", nil, "claude", 42, event.Low))
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestSQLiteMirror(t *testing.T) {
	cfg := quietConfig()
	cfg.Logging.SQLiteEnabled = true

	dir := t.TempDir()
	dbPath := dir + "/events.db"
	e := New(Options{
		Config:  cfg,
		Source:  agentSource(),
		Console: &bytes.Buffer{},
		LogDir:  dir,
		DBPath:  dbPath,
	})

	id, err := e.StartSession("claude")
	require.NoError(t, err)
	require.NoError(t, e.Submit(event.NewCommand("git", []string{"push"}, "claude", 42, event.Medium)))
	require.NoError(t, e.StopSession(0))

	db, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()

	events, err := db.QueryEvents(store.EventQuery{SessionID: id})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "git", events[0].Command)
}

func TestChildTrackingFeedsSession(t *testing.T) {
	src := agentSource()
	cfg := quietConfig()
	cfg.Monitoring.TrackChildren = true
	cfg.Monitoring.TrackingPollMS = 5

	e, dir := newTestEngine(t, cfg, src)
	_, err := e.StartSession("claude")
	require.NoError(t, err)

	src.addProcess(procfs.Process{PID: 43, PPID: 42, Name: "rg", Path: "/usr/bin/rg"})
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.StopSession(0))

	sessions, err := store.ListSessions(dir)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	events, err := store.ReadEvents(sessions[0].Path)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, event.TypeProcess, events[0].Type)
	assert.Equal(t, uint32(43), events[0].ProcPID)
}

func TestConsoleOutput(t *testing.T) {
	var console bytes.Buffer
	e := New(Options{
		Config:  quietConfig(),
		Source:  agentSource(),
		Console: &console,
		LogDir:  t.TempDir(),
	})

	_, err := e.StartSession("claude")
	require.NoError(t, err)
	require.NoError(t, e.Submit(event.NewCommand("rm", []string{"-rf", "/tmp/x"}, "claude", 42, event.High)))
	require.NoError(t, e.StopSession(0))

	out := console.String()
	assert.Contains(t, out, "rm -rf /tmp/x")
	assert.Contains(t, out, "ALERT")
}

func TestAnalyze(t *testing.T) {
	cfg := quietConfig()
	cfg.Alerts.CustomHighRisk = []string{"terraform destroy"}
	e, _ := newTestEngine(t, cfg, agentSource())

	level, reason := e.Analyze("rm", []string{"-rf", "/"})
	assert.Equal(t, event.Critical, level)
	assert.NotEmpty(t, reason)

	level, _ = e.Analyze("terraform", []string{"destroy"})
	assert.Equal(t, event.High, level)

	level, reason = e.Analyze("ls", nil)
	assert.Equal(t, event.Low, level)
	assert.Empty(t, reason)
}

func TestFormatterPretty(t *testing.T) {
	f := NewFormatter(FormatPretty)

	e := event.NewCommand("sudo", []string{"rm"}, "claude", 1, event.High)
	line := f.Render(e)
	assert.Contains(t, line, "🟠")
	assert.Contains(t, line, "sudo rm")
	assert.Contains(t, line, "⚠️  ALERT")

	f.Timestamps = false
	low := event.NewCommand("ls", nil, "claude", 1, event.Low)
	assert.Equal(t, "🟢  ls", f.Render(low))
}

func TestFormatterPrettyDetails(t *testing.T) {
	f := &Formatter{Format: FormatPretty}
	ppid := uint32(7)

	tests := []struct {
		name string
		e    event.Event
		want string
	}{
		{"file", event.NewFileAccess("/x/.env", event.FileRead, "c", 1, event.Critical), "[read] /x/.env"},
		{"net", event.NewNetwork("github.com", 443, "tcp", "c", 1, event.Medium), "[net] github.com:443 (tcp)"},
		{"proc", event.NewProcessStart("rg", 9, &ppid, event.Low), "[proc] start pid:9 ppid:7"},
		{"session", event.NewSessionStart("c", 1), "[session] start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, f.Render(tt.e), tt.want)
		})
	}
}

func TestFormatterCompact(t *testing.T) {
	f := NewFormatter(FormatCompact)
	e := event.NewCommand("rm", []string{"-rf", "/"}, "claude", 1, event.Critical)

	line := f.Render(e)
	assert.Contains(t, line, "[CRIT]")
	assert.Contains(t, line, "rm -rf /")
	assert.NotContains(t, line, "🔴")
}

func TestFormatterJSON(t *testing.T) {
	f := NewFormatter(FormatJSON)
	e := event.NewCommand("ls", nil, "claude", 1, event.Low)

	line := f.Render(e)
	assert.True(t, strings.HasPrefix(line, "{"))
	assert.Contains(t, line, `"command":"ls"`)
	assert.Contains(t, line, `"risk_level":"low"`)
}

func TestFormatterMinLevel(t *testing.T) {
	f := NewFormatter(FormatCompact)
	f.MinLevel = event.High

	var buf bytes.Buffer
	require.NoError(t, f.Log(&buf, event.NewCommand("ls", nil, "c", 1, event.Low)))
	assert.Zero(t, buf.Len())

	require.NoError(t, f.Log(&buf, event.NewCommand("sudo", nil, "c", 1, event.High)))
	assert.Contains(t, buf.String(), "sudo")
}

func TestParseFormat(t *testing.T) {
	for s, want := range map[string]Format{
		"pretty":  FormatPretty,
		"json":    FormatJSON,
		"compact": FormatCompact,
		"":        FormatPretty,
	} {
		got, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestSessionWithoutPersistence(t *testing.T) {
	cfg := quietConfig()
	cfg.Logging.Enabled = false

	dir := t.TempDir()
	console := &bytes.Buffer{}
	e := New(Options{
		Config:  cfg,
		Source:  agentSource(),
		Console: console,
		LogDir:  dir,
	})

	id, err := e.StartSession("claude")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, e.Submit(event.NewCommand("ls", nil, "claude", 42, event.Low)))
	require.NoError(t, e.StopSession(0))

	sessions, err := store.ListSessions(dir)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Contains(t, console.String(), "ls")
}

func TestStartSessionConcurrent(t *testing.T) {
	e, _ := newTestEngine(t, quietConfig(), agentSource())

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.StartSession("claude")
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyActive)
		}
	}
	assert.Equal(t, 1, won)
	require.NoError(t, e.StopSession(0))
}

// gatedSource blocks the first process table read until released, so a
// test can stop the session while a scan is still in flight.
type gatedSource struct {
	*fakeSource
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSource) Processes() ([]procfs.Process, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.fakeSource.Processes()
}

func TestStopDeliversFinalScanEvents(t *testing.T) {
	src := &gatedSource{
		fakeSource: &fakeSource{procs: []procfs.Process{
			{PID: 42, PPID: 1, Name: "claude", Path: "/usr/local/bin/claude"},
			{PID: 43, PPID: 42, Name: "rg", Path: "/usr/bin/rg"},
		}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := config.Default()
	cfg.Monitoring.TrackChildren = true
	cfg.Monitoring.TrackingPollMS = 5

	e, dir := newTestEngine(t, cfg, src)
	_, err := e.WrapSession("claude", 42)
	require.NoError(t, err)

	<-src.entered

	stopped := make(chan error, 1)
	go func() { stopped <- e.StopSession(0) }()
	close(src.release)
	require.NoError(t, <-stopped)

	sessions, err := store.ListSessions(dir)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	events, err := store.ReadEvents(sessions[0].Path)
	require.NoError(t, err)
	var found bool
	for _, ev := range events {
		if ev.Type == event.TypeProcess && ev.ProcPID == 43 {
			found = true
		}
	}
	assert.True(t, found, "child seen by the scan in flight during stop must reach the log")

	raw, err := os.ReadFile(sessions[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "session_end")
}

func TestWrapSession(t *testing.T) {
	e, dir := newTestEngine(t, quietConfig(), &fakeSource{})

	id, err := e.WrapSession("my-agent", 1234)
	require.NoError(t, err)

	agents, err := e.MonitoredAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, uint32(1234), agents[0].PID)
	assert.Equal(t, "my-agent", agents[0].Name)

	require.NoError(t, e.StopSession(0))

	sessions, err := store.ListSessions(dir)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].SessionID)
}
