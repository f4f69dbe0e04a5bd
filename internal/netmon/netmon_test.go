// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package netmon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/procfs"
)

type fakeSource struct {
	conns map[uint32][]procfs.Connection
}

func (f *fakeSource) Connections(pid uint32, tcp, udp bool) ([]procfs.Connection, error) {
	conns, ok := f.conns[pid]
	if !ok {
		return nil, fmt.Errorf("pid %d: no such process", pid)
	}
	return conns, nil
}

func drain(ch <-chan event.Event) []event.Event {
	var events []event.Event
	for {
		select {
		case e := <-ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestScanEmitsNewConnections(t *testing.T) {
	source := &fakeSource{conns: map[uint32][]procfs.Connection{
		42: {{Host: "198.51.100.7", Port: 443, Protocol: "tcp"}},
	}}
	m := New(DefaultConfig(42), source, nil)

	out := make(chan event.Event, 16)
	m.scan(context.Background(), out)

	events := drain(out)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, event.TypeNetwork, e.Type)
	assert.Equal(t, "198.51.100.7", e.Host)
	assert.Equal(t, uint16(443), e.Port)
	assert.Equal(t, "pid:42", e.Process)
	assert.Equal(t, event.High, e.RiskLevel)
	assert.True(t, e.Alert)
}

func TestScanReportsEachConnectionOnce(t *testing.T) {
	source := &fakeSource{conns: map[uint32][]procfs.Connection{
		42: {{Host: "198.51.100.7", Port: 443, Protocol: "tcp"}},
	}}
	m := New(DefaultConfig(42), source, nil)

	out := make(chan event.Event, 16)
	m.scan(context.Background(), out)
	m.scan(context.Background(), out)

	assert.Len(t, drain(out), 1)
}

func TestClearSeenResetsDeduplication(t *testing.T) {
	source := &fakeSource{conns: map[uint32][]procfs.Connection{
		42: {{Host: "198.51.100.7", Port: 443, Protocol: "tcp"}},
	}}
	m := New(DefaultConfig(42), source, nil)

	out := make(chan event.Event, 16)
	m.scan(context.Background(), out)
	m.ClearSeen()
	m.scan(context.Background(), out)

	assert.Len(t, drain(out), 2)
}

func TestAllowedHostIsMedium(t *testing.T) {
	source := &fakeSource{conns: map[uint32][]procfs.Connection{
		42: {{Host: "api.anthropic.com", Port: 443, Protocol: "tcp"}},
	}}
	m := New(DefaultConfig(42), source, nil)

	out := make(chan event.Event, 16)
	m.scan(context.Background(), out)

	events := drain(out)
	require.Len(t, events, 1)
	assert.Equal(t, event.Medium, events[0].RiskLevel)
	assert.False(t, events[0].Alert)
}

func TestAddAndRemovePID(t *testing.T) {
	source := &fakeSource{conns: map[uint32][]procfs.Connection{
		42: {{Host: "a.example.com", Port: 443, Protocol: "tcp"}},
		43: {{Host: "b.example.com", Port: 443, Protocol: "tcp"}},
	}}
	m := New(DefaultConfig(42), source, nil)
	m.AddPID(43)

	out := make(chan event.Event, 16)
	m.scan(context.Background(), out)
	assert.Len(t, drain(out), 2)

	m.RemovePID(43)
	m.ClearSeen()
	m.scan(context.Background(), out)
	events := drain(out)
	require.Len(t, events, 1)
	assert.Equal(t, uint32(42), events[0].PID)
}

func TestMissingProcessIsSkipped(t *testing.T) {
	source := &fakeSource{conns: map[uint32][]procfs.Connection{}}
	m := New(DefaultConfig(42), source, nil)

	out := make(chan event.Event, 16)
	m.scan(context.Background(), out)
	assert.Empty(t, drain(out))
}

func TestSeenCacheRotation(t *testing.T) {
	c := newSeenCache(2)

	k1 := connKey{pid: 1, host: "a", port: 1, protocol: "tcp"}
	k2 := connKey{pid: 1, host: "b", port: 2, protocol: "tcp"}
	k3 := connKey{pid: 1, host: "c", port: 3, protocol: "tcp"}

	c.insert(k1)
	c.insert(k2)
	// Third insert exceeds the bound and rotates generations.
	c.insert(k3)

	assert.True(t, c.contains(k1))
	assert.True(t, c.contains(k2))
	assert.True(t, c.contains(k3))
	assert.Empty(t, c.current)

	// The next rotation discards the first generation.
	k4 := connKey{pid: 1, host: "d", port: 4, protocol: "tcp"}
	k5 := connKey{pid: 1, host: "e", port: 5, protocol: "tcp"}
	k6 := connKey{pid: 1, host: "f", port: 6, protocol: "tcp"}
	c.insert(k4)
	c.insert(k5)
	c.insert(k6)

	assert.False(t, c.contains(k1))
	assert.True(t, c.contains(k4))
}

func TestUnlimitedCacheNeverRotates(t *testing.T) {
	c := newSeenCache(0)
	for i := 0; i < 100; i++ {
		c.insert(connKey{pid: uint32(i), host: "h", port: 1, protocol: "tcp"})
	}
	assert.Len(t, c.current, 100)
	assert.Empty(t, c.previous)
}

func TestStopJoinsTheLoop(t *testing.T) {
	source := &fakeSource{conns: map[uint32][]procfs.Connection{
		42: {{Host: "198.51.100.7", Port: 443, Protocol: "tcp"}},
	}}
	m := New(DefaultConfig(42), source, nil)

	out := make(chan event.Event, 16)
	m.Start(context.Background(), out)

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("no event before timeout")
	}

	m.Stop()
	m.Stop()
	assert.False(t, m.Running())
}
