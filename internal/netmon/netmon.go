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

// Package netmon polls the socket tables of tracked processes and
// reports each remote endpoint once, scored against the host
// allowlist.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ksyq12/agent-watch/internal/detect"
	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/procfs"
)

const (
	// DefaultPollInterval between socket table scans.
	DefaultPollInterval = time.Second
	// DefaultMaxSeen bounds the seen-connection cache before it rotates.
	DefaultMaxSeen = 10_000
)

// ConnectionSource supplies per-process socket tables.
type ConnectionSource interface {
	Connections(pid uint32, tcp, udp bool) ([]procfs.Connection, error)
}

// Config controls the monitor.
type Config struct {
	// RootPID seeds the tracked PID set.
	RootPID uint32
	// PollInterval between scans.
	PollInterval time.Duration
	// TrackTCP and TrackUDP select which socket tables are read.
	TrackTCP bool
	TrackUDP bool
	// MaxSeen bounds the seen cache; 0 means unlimited.
	MaxSeen int
}

// DefaultConfig returns the standard settings for a root process.
func DefaultConfig(rootPID uint32) Config {
	return Config{
		RootPID:      rootPID,
		PollInterval: DefaultPollInterval,
		TrackTCP:     true,
		TrackUDP:     true,
		MaxSeen:      DefaultMaxSeen,
	}
}

type connKey struct {
	pid      uint32
	host     string
	port     uint16
	protocol string
}

// seenCache holds two generations of connection keys. When the current
// generation exceeds the bound it becomes the previous one; rotating
// instead of clearing avoids a flood of duplicate events right after
// the reset.
type seenCache struct {
	current  map[connKey]bool
	previous map[connKey]bool
	maxSize  int
}

func newSeenCache(maxSize int) *seenCache {
	return &seenCache{
		current:  make(map[connKey]bool),
		previous: make(map[connKey]bool),
		maxSize:  maxSize,
	}
}

func (c *seenCache) contains(k connKey) bool {
	return c.current[k] || c.previous[k]
}

func (c *seenCache) insert(k connKey) {
	c.current[k] = true
	if c.maxSize > 0 && len(c.current) > c.maxSize {
		c.previous = c.current
		c.current = make(map[connKey]bool)
	}
}

func (c *seenCache) clear() {
	c.current = make(map[connKey]bool)
	c.previous = make(map[connKey]bool)
}

// Monitor scans socket tables for new outbound connections.
type Monitor struct {
	cfg       Config
	source    ConnectionSource
	allowlist *detect.NetworkAllowlist

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	pids    map[uint32]bool
	seen    *seenCache
	running bool
}

// New returns a monitor for the given config. A nil allowlist gets the
// default host list.
func New(cfg Config, source ConnectionSource, allowlist *detect.NetworkAllowlist) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if allowlist == nil {
		allowlist = detect.DefaultNetworkAllowlist()
	}
	pids := make(map[uint32]bool)
	if cfg.RootPID != 0 {
		pids[cfg.RootPID] = true
	}
	return &Monitor{
		cfg:       cfg,
		source:    source,
		allowlist: allowlist,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		pids:      pids,
		seen:      newSeenCache(cfg.MaxSeen),
	}
}

// AddPID adds a process to the scan set.
func (m *Monitor) AddPID(pid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pids[pid] = true
}

// RemovePID drops a process from the scan set.
func (m *Monitor) RemovePID(pid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pids, pid)
}

// ClearSeen forgets all previously reported connections.
func (m *Monitor) ClearSeen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen.clear()
}

// Running reports whether the poll loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start launches the poll loop. Each scan reads the socket tables of
// every tracked PID and emits one event per previously unseen remote
// endpoint. The loop compensates for scan time so the interval stays
// steady, and never closes out.
func (m *Monitor) Start(ctx context.Context, out chan<- event.Event) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		defer func() {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
		}()

		for {
			start := time.Now()
			m.scan(ctx, out)

			remaining := m.cfg.PollInterval - time.Since(start)
			if remaining < 0 {
				remaining = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-time.After(remaining):
			}
		}
	}()
}

// SignalStop asks the poll loop to exit after the scan in progress.
func (m *Monitor) SignalStop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Stop signals the loop started by Start and blocks until it has
// exited. Events from the final scan are delivered before Stop
// returns, provided the consumer keeps reading until then.
func (m *Monitor) Stop() {
	m.SignalStop()
	<-m.done
}

func (m *Monitor) scan(ctx context.Context, out chan<- event.Event) {
	m.mu.Lock()
	pids := make([]uint32, 0, len(m.pids))
	for pid := range m.pids {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		conns, err := m.source.Connections(pid, m.cfg.TrackTCP, m.cfg.TrackUDP)
		if err != nil {
			// Exited processes drop out of the socket tables; anything
			// else is worth a debug line.
			slog.Debug("netmon: read connections", "pid", pid, "error", err)
			continue
		}

		for _, conn := range conns {
			key := connKey{pid: pid, host: conn.Host, port: conn.Port, protocol: conn.Protocol}

			m.mu.Lock()
			if m.seen.contains(key) {
				m.mu.Unlock()
				continue
			}
			m.seen.insert(key)
			m.mu.Unlock()

			level := m.allowlist.RiskLevel(detect.Connection{
				Host:     conn.Host,
				Port:     conn.Port,
				Protocol: conn.Protocol,
			})
			e := event.NewNetwork(conn.Host, conn.Port, conn.Protocol,
				fmt.Sprintf("pid:%d", pid), pid, level)

			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}
