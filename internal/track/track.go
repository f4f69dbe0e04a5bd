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

// Package track follows the process tree rooted at the wrapped agent.
// It polls the process table, reports children as they start and exit,
// and scores each new child's command name.
package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/procfs"
	"github.com/ksyq12/agent-watch/internal/risk"
)

const (
	// DefaultPollInterval between process table scans.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxDepth limits how far below the root the tree is walked.
	DefaultMaxDepth = 10
)

// ProcessLister supplies process table snapshots.
type ProcessLister interface {
	Processes() ([]procfs.Process, error)
}

// Config controls the tracker.
type Config struct {
	// RootPID is the process whose descendants are tracked.
	RootPID uint32
	// PollInterval between scans.
	PollInterval time.Duration
	// MaxDepth bounds the walk below the root; 0 means unlimited.
	MaxDepth int
}

// TrackedProcess is a child process currently alive under the root.
type TrackedProcess struct {
	PID        uint32
	PPID       uint32
	Name       string
	Path       string
	DetectedAt time.Time
	RiskLevel  event.RiskLevel
}

// Tracker polls the process table and emits process start and exit
// events for descendants of the root PID.
type Tracker struct {
	cfg    Config
	procs  ProcessLister
	scorer *risk.Scorer

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	tracked map[uint32]TrackedProcess
}

// New returns a tracker for the given root process. A nil scorer gets
// the default rule table.
func New(cfg Config, procs ProcessLister, scorer *risk.Scorer) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if scorer == nil {
		scorer = risk.NewScorer()
	}
	return &Tracker{
		cfg:     cfg,
		procs:   procs,
		scorer:  scorer,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		tracked: make(map[uint32]TrackedProcess),
	}
}

// Start launches the polling loop. Events are sent to out until ctx is
// cancelled; the loop never closes out, since the channel is shared
// with other producers.
func (t *Tracker) Start(ctx context.Context, out chan<- event.Event) {
	go func() {
		defer close(t.done)

		ticker := time.NewTicker(t.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.scan(ctx, out)
			}
		}
	}()
}

// SignalStop asks the poll loop to exit after the scan in progress.
func (t *Tracker) SignalStop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Stop signals the loop started by Start and blocks until it has
// exited. Events from the final scan are delivered before Stop
// returns, provided the consumer keeps reading until then.
func (t *Tracker) Stop() {
	t.SignalStop()
	<-t.done
}

// Tracked returns a snapshot of the live descendants.
func (t *Tracker) Tracked() []TrackedProcess {
	t.mu.Lock()
	defer t.mu.Unlock()
	procs := make([]TrackedProcess, 0, len(t.tracked))
	for _, p := range t.tracked {
		procs = append(procs, p)
	}
	return procs
}

// IsTracked reports whether pid is a live descendant of the root.
func (t *Tracker) IsTracked(pid uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tracked[pid]
	return ok
}

// TrackedPIDs returns the root PID plus all live descendant PIDs.
func (t *Tracker) TrackedPIDs() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pids := make([]uint32, 0, len(t.tracked)+1)
	pids = append(pids, t.cfg.RootPID)
	for pid := range t.tracked {
		pids = append(pids, pid)
	}
	return pids
}

func (t *Tracker) scan(ctx context.Context, out chan<- event.Event) {
	table, err := t.procs.Processes()
	if err != nil {
		slog.Debug("track: process table scan failed", "error", err)
		return
	}

	byPID := make(map[uint32]procfs.Process, len(table))
	children := make(map[uint32][]uint32, len(table))
	for _, p := range table {
		if p.PID == 0 {
			continue
		}
		byPID[p.PID] = p
		children[p.PPID] = append(children[p.PPID], p.PID)
	}

	descendants := t.descendants(children)

	t.mu.Lock()
	var started []TrackedProcess
	for pid := range descendants {
		if _, ok := t.tracked[pid]; ok {
			continue
		}
		p := byPID[pid]
		level, _ := t.scorer.Score(p.Name, nil)
		tp := TrackedProcess{
			PID:        p.PID,
			PPID:       p.PPID,
			Name:       p.Name,
			Path:       p.Path,
			DetectedAt: time.Now().UTC(),
			RiskLevel:  level,
		}
		t.tracked[pid] = tp
		started = append(started, tp)
	}

	var exited []TrackedProcess
	for pid, tp := range t.tracked {
		if !descendants[pid] {
			delete(t.tracked, pid)
			exited = append(exited, tp)
		}
	}
	t.mu.Unlock()

	for _, tp := range started {
		ppid := tp.PPID
		send(ctx, out, event.NewProcessStart(tp.Name, tp.PID, &ppid, tp.RiskLevel))
	}
	for _, tp := range exited {
		ppid := tp.PPID
		send(ctx, out, event.NewProcessExit(tp.Name, tp.PID, &ppid))
	}
}

// descendants walks the parent-to-children map breadth first from the
// root, honoring the depth bound.
func (t *Tracker) descendants(children map[uint32][]uint32) map[uint32]bool {
	found := make(map[uint32]bool)

	type frame struct {
		pid   uint32
		depth int
	}
	queue := []frame{{pid: t.cfg.RootPID, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if t.cfg.MaxDepth > 0 && cur.depth >= t.cfg.MaxDepth {
			continue
		}
		for _, child := range children[cur.pid] {
			if found[child] {
				continue
			}
			found[child] = true
			queue = append(queue, frame{pid: child, depth: cur.depth + 1})
		}
	}
	return found
}

func send(ctx context.Context, out chan<- event.Event, e event.Event) {
	select {
	case out <- e:
	case <-ctx.Done():
	}
}
