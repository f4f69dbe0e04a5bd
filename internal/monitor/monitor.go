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

// Package monitor runs monitoring sessions. The engine detects agent
// processes, starts the observation subsystems, funnels their events
// through a single writer and persists them to the session log.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/detect"
	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/fswatch"
	"github.com/ksyq12/agent-watch/internal/netmon"
	"github.com/ksyq12/agent-watch/internal/notify"
	"github.com/ksyq12/agent-watch/internal/procfs"
	"github.com/ksyq12/agent-watch/internal/risk"
	"github.com/ksyq12/agent-watch/internal/store"
	"github.com/ksyq12/agent-watch/internal/track"
)

// Sentinel errors for session lifecycle misuse.
var (
	ErrAlreadyActive = errors.New("monitor: session already active")
	ErrNotActive     = errors.New("monitor: no active session")
	ErrNoAgents      = errors.New("monitor: no AI agents detected")
)

const eventBufferSize = 256

type sessionState int

const (
	stateIdle sessionState = iota
	stateStarting
	stateActive
	stateStopping
)

func (s sessionState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateActive:
		return "active"
	case stateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Source supplies process and socket tables. *procfs.Inspector is the
// production implementation.
type Source interface {
	Processes() ([]procfs.Process, error)
	Connections(pid uint32, tcp, udp bool) ([]procfs.Connection, error)
}

// Options configures an Engine. Zero-value fields get production
// defaults.
type Options struct {
	Config config.Config
	// Source overrides the /proc reader.
	Source Source
	// Console receives formatted event lines; defaults to stdout.
	Console io.Writer
	// Formatter overrides the console formatter built from the config.
	Formatter *Formatter
	// Notifier overrides the webhook notifier built from the config.
	Notifier notify.Notifier
	// LogDir overrides the session log directory.
	LogDir string
	// DBPath overrides the SQLite mirror path.
	DBPath string
}

// Engine manages at most one monitoring session at a time.
type Engine struct {
	opts      Options
	scorer    *risk.Scorer
	files     *detect.SensitiveFiles
	allowlist *detect.NetworkAllowlist
	formatter *Formatter
	notifier  notify.Notifier

	mu   sync.Mutex
	st   sessionState
	sess *session
}

// producer is an event source the session must signal and join before
// the writer is allowed to drain.
type producer interface {
	SignalStop()
	Stop()
}

type session struct {
	id     string
	agents []detect.Agent
	logger *store.SessionLogger
	db     *store.SQLiteStore

	events     chan event.Event
	cancel     context.CancelFunc
	producers  []producer
	stopWriter chan struct{}
	writerDone chan struct{}
}

// New creates an engine from the options.
func New(opts Options) *Engine {
	cfg := opts.Config

	scorer := risk.NewScorer()
	scorer.AddCustomHighRisk(cfg.Alerts.CustomHighRisk...)

	files := detect.DefaultSensitiveFiles()
	if len(cfg.Monitoring.SensitivePatterns) > 0 {
		files = detect.NewSensitiveFiles(cfg.Monitoring.SensitivePatterns)
	}

	allowlist := detect.DefaultNetworkAllowlist()
	if len(cfg.Monitoring.NetworkAllowlist) > 0 {
		allowlist = detect.NewNetworkAllowlist(cfg.Monitoring.NetworkAllowlist, nil)
	}

	formatter := opts.Formatter
	if formatter == nil {
		format, err := ParseFormat(cfg.General.DefaultFormat)
		if err != nil {
			slog.Warn("monitor: bad output format, using pretty", "error", err)
		}
		formatter = NewFormatter(format)
	}

	notifier := opts.Notifier
	if notifier == nil && cfg.Notifications.Enabled && cfg.Notifications.WebhookURL != "" {
		minLevel, err := event.ParseRiskLevel(cfg.Notifications.MinRiskLevel)
		if err != nil {
			minLevel = event.High
		}
		notifier = notify.NewNotifier(cfg.Notifications.WebhookURL, minLevel)
	}

	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	return &Engine{
		opts:      opts,
		scorer:    scorer,
		files:     files,
		allowlist: allowlist,
		formatter: formatter,
		notifier:  notifier,
	}
}

// Scorer exposes the engine's command scorer.
func (e *Engine) Scorer() *risk.Scorer { return e.scorer }

// Analyze scores a command line without an active session.
func (e *Engine) Analyze(command string, args []string) (event.RiskLevel, string) {
	return e.scorer.Score(command, args)
}

// IsActive reports whether a session is running.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st == stateActive
}

// MonitoredAgents returns the agents of the active session.
func (e *Engine) MonitoredAgents() ([]detect.Agent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != stateActive || e.sess == nil {
		return nil, ErrNotActive
	}
	agents := make([]detect.Agent, len(e.sess.agents))
	copy(agents, e.sess.agents)
	return agents, nil
}

// SessionID returns the active session identifier.
func (e *Engine) SessionID() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != stateActive || e.sess == nil {
		return "", ErrNotActive
	}
	return e.sess.id, nil
}

// Submit feeds an externally produced event, such as a command seen by
// the PTY wrapper, into the active session.
func (e *Engine) Submit(ev event.Event) error {
	e.mu.Lock()
	if e.st != stateActive || e.sess == nil {
		e.mu.Unlock()
		return ErrNotActive
	}
	s := e.sess
	e.mu.Unlock()

	select {
	case s.events <- ev:
		return nil
	case <-s.stopWriter:
		return ErrNotActive
	}
}

// StartSession detects running agents and begins observing them. The
// returned session ID names the log file. Only one session may be
// active; starting from any other state fails with ErrAlreadyActive.
func (e *Engine) StartSession(processName string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st != stateIdle {
		return "", fmt.Errorf("%w: engine is %s", ErrAlreadyActive, e.st)
	}
	e.st = stateStarting

	id, err := e.startLocked(processName, nil)
	if err != nil {
		e.st = stateIdle
		return "", err
	}

	e.st = stateActive
	setSessionActive(true)
	setMonitoredAgents(len(e.sess.agents))
	return id, nil
}

// WrapSession begins a session rooted at a process the caller already
// spawned, such as the PTY-wrapped agent. Agent detection is skipped;
// the given pid is the sole monitored root.
func (e *Engine) WrapSession(processName string, rootPID uint32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st != stateIdle {
		return "", fmt.Errorf("%w: engine is %s", ErrAlreadyActive, e.st)
	}
	e.st = stateStarting

	roots := []detect.Agent{{PID: rootPID, Name: processName}}
	id, err := e.startLocked(processName, roots)
	if err != nil {
		e.st = stateIdle
		return "", err
	}

	e.st = stateActive
	setSessionActive(true)
	setMonitoredAgents(len(e.sess.agents))
	return id, nil
}

// startLocked builds the session. A nil agents slice means scan the
// process table; an explicit slice is trusted as-is.
func (e *Engine) startLocked(processName string, agents []detect.Agent) (string, error) {
	cfg := e.opts.Config

	source := e.opts.Source
	if source == nil {
		inspector, err := procfs.New()
		if err != nil {
			return "", fmt.Errorf("monitor: open /proc: %w", err)
		}
		source = inspector
	}

	logDir := e.opts.LogDir
	if logDir == "" {
		dir, err := cfg.Logging.EffectiveLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	start := time.Now().UTC()
	id := store.NewSessionID(start)

	// Logging.Enabled=false keeps the session in memory only: events
	// still reach the console, metrics and notifier.
	var logger *store.SessionLogger
	if cfg.Logging.Enabled {
		var err error
		logger, err = store.NewSessionLogger(logDir, id)
		if err != nil {
			return "", fmt.Errorf("monitor: create session logger: %w", err)
		}
		if err := logger.WriteHeader(processName, uint32(os.Getpid())); err != nil {
			_ = logger.Close()
			return "", fmt.Errorf("monitor: write session header: %w", err)
		}
	}

	closeLogger := func() {
		if logger != nil {
			_ = logger.Close()
		}
	}

	if agents == nil {
		scanned, err := detect.NewAgentScanner(source).Scan()
		if err != nil {
			closeLogger()
			return "", fmt.Errorf("monitor: scan for agents: %w", err)
		}
		if len(scanned) == 0 {
			closeLogger()
			return "", ErrNoAgents
		}
		agents = scanned
	}

	var db *store.SQLiteStore
	if cfg.Logging.SQLiteEnabled {
		dbPath := e.opts.DBPath
		if dbPath == "" {
			p, err := config.DefaultDBPath()
			if err != nil {
				closeLogger()
				return "", err
			}
			dbPath = p
		}
		var err error
		db, err = store.OpenSQLite(dbPath)
		if err != nil {
			closeLogger()
			return "", fmt.Errorf("monitor: open sqlite mirror: %w", err)
		}
		if err := db.WriteSessionHeader(id, processName, uint32(os.Getpid()), start); err != nil {
			slog.Warn("monitor: sqlite session header", "error", err)
		}
	}

	events := make(chan event.Event, eventBufferSize)
	runCtx, cancel := context.WithCancel(context.Background())

	s := &session{
		id:         id,
		agents:     agents,
		logger:     logger,
		db:         db,
		events:     events,
		cancel:     cancel,
		stopWriter: make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	if cfg.Monitoring.TrackChildren {
		for _, agent := range agents {
			tracker := track.New(track.Config{
				RootPID:      agent.PID,
				PollInterval: cfg.Monitoring.TrackingPoll(),
				MaxDepth:     track.DefaultMaxDepth,
			}, source, e.scorer)
			tracker.Start(runCtx, events)
			s.producers = append(s.producers, tracker)
		}
	}

	if cfg.Monitoring.NetEnabled {
		nmCfg := netmon.DefaultConfig(agents[0].PID)
		nmCfg.PollInterval = cfg.Monitoring.NetPoll()
		nm := netmon.New(nmCfg, source, e.allowlist)
		for _, agent := range agents[1:] {
			nm.AddPID(agent.PID)
		}
		nm.Start(runCtx, events)
		s.producers = append(s.producers, nm)
	}

	if cfg.Monitoring.FSEnabled {
		paths := cfg.Monitoring.WatchPaths
		if len(paths) == 0 {
			if home, err := os.UserHomeDir(); err == nil {
				paths = []string{home}
			}
		}
		if len(paths) > 0 {
			watcher := fswatch.New(fswatch.Config{
				Paths:    paths,
				Debounce: cfg.Monitoring.FSDebounce(),
			}, e.files)
			if err := watcher.Start(runCtx, events); err != nil {
				slog.Warn("monitor: filesystem watcher failed to start", "error", err)
			} else {
				s.producers = append(s.producers, watcher)
			}
		}
	}

	go e.writeLoop(s)

	e.sess = s
	return s.id, nil
}

// writeLoop is the single consumer of the unified event channel. After
// stopWriter closes it drains whatever is already buffered and exits.
func (e *Engine) writeLoop(s *session) {
	defer close(s.writerDone)

	for {
		select {
		case ev := <-s.events:
			e.handleEvent(s, ev)
		case <-s.stopWriter:
			for {
				select {
				case ev := <-s.events:
					e.handleEvent(s, ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) handleEvent(s *session, ev event.Event) {
	if s.logger != nil {
		if err := s.logger.Write(ev); err != nil {
			slog.Warn("monitor: write event", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.WriteEvent(s.id, ev); err != nil {
			slog.Warn("monitor: sqlite write event", "error", err)
		}
	}

	recordEvent(string(ev.Type), ev.RiskLevel.String(), ev.Alert)

	if err := e.formatter.Log(e.opts.Console, ev); err != nil {
		slog.Debug("monitor: console output", "error", err)
	}

	if e.notifier != nil && ev.Alert {
		if err := e.notifier.Send(ev); err != nil {
			slog.Warn("monitor: send notification", "error", err)
		}
	}
}

// StopSession shuts the subsystems down, drains the event channel and
// writes the session footer with the given exit code.
func (e *Engine) StopSession(exitCode int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st != stateActive || e.sess == nil {
		return fmt.Errorf("%w: engine is %s", ErrNotActive, e.st)
	}
	e.st = stateStopping

	s := e.sess
	e.sess = nil

	// Two-phase stop: signal every producer, then join each one. The
	// writer keeps consuming throughout, so events from a final scan
	// land in the channel instead of being dropped. Only once no
	// producer is left does the writer drain and exit.
	for _, p := range s.producers {
		p.SignalStop()
	}
	for _, p := range s.producers {
		p.Stop()
	}
	s.cancel()

	close(s.stopWriter)
	<-s.writerDone

	if s.logger != nil {
		if err := s.logger.WriteFooter(&exitCode); err != nil {
			slog.Warn("monitor: write session footer", "error", err)
		}
		if err := s.logger.Close(); err != nil {
			slog.Warn("monitor: close session logger", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.WriteSessionFooter(s.id, time.Now().UTC()); err != nil {
			slog.Warn("monitor: sqlite session footer", "error", err)
		}
		if err := s.db.Close(); err != nil {
			slog.Warn("monitor: close sqlite mirror", "error", err)
		}
	}

	e.st = stateIdle
	setSessionActive(false)
	setMonitoredAgents(0)
	return nil
}
