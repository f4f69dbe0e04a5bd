// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksyq12/agent-watch/internal/event"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteCreatesParentDir(t *testing.T) {
	s := openTestStore(t)
	assert.FileExists(t, s.Path())
}

func TestSQLiteWriteAndQuery(t *testing.T) {
	s := openTestStore(t)

	e := event.NewCommand("rm", []string{"-rf", "dir"}, "bash", 42, event.High)
	require.NoError(t, s.WriteEvent("sess-1", e))

	got, err := s.QueryEvents(EventQuery{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, "rm", got[0].Command)
	assert.Equal(t, []string{"-rf", "dir"}, got[0].Args)
	assert.Equal(t, event.High, got[0].RiskLevel)
	assert.True(t, got[0].Alert)
}

func TestSQLiteQueryFilters(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	events := []event.Event{
		event.NewCommand("ls", nil, "bash", 1, event.Low),
		event.NewCommand("sudo", nil, "bash", 1, event.High),
		event.NewNetwork("api.anthropic.com", 443, "tcp", "pid:1", 1, event.Medium),
	}
	for i := range events {
		events[i].Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.WriteEvent("sess-1", events[i]))
	}

	high := event.High
	got, err := s.QueryEvents(EventQuery{Risk: &high})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sudo", got[0].Command)

	got, err = s.QueryEvents(EventQuery{Type: event.TypeNetwork})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "api.anthropic.com", got[0].Host)

	start := base.Add(30 * time.Second)
	got, err = s.QueryEvents(EventQuery{Start: &start})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryEvents(EventQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ls", got[0].Command, "ascending timestamp order")

	n, err := s.EventCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	start := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteSessionHeader("sess-001", "claude", 5678, start))
	require.NoError(t, s.WriteSessionFooter("sess-001", start.Add(time.Hour)))

	var process string
	var endTime string
	err := s.db.QueryRow(`SELECT process_name, end_time FROM sessions WHERE session_id = ?`, "sess-001").
		Scan(&process, &endTime)
	require.NoError(t, err)
	assert.Equal(t, "claude", process)
	assert.Equal(t, "2026-08-26T11:00:00Z", endTime)
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteEvent("sess-1", event.NewCommand("ls", nil, "bash", 1, event.Low)))
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.EventCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
