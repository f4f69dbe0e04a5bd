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

// Package store persists monitoring sessions. Each session is one
// append-only JSONL file named session-{id}.jsonl, framed by a header
// and footer metadata line, with an optional SQLite mirror for
// indexed queries.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ksyq12/agent-watch/internal/event"
)

const (
	sessionFilePrefix = "session-"
	sessionFileSuffix = ".jsonl"

	// flushEvery bounds how many events may sit in the write buffer
	// before they are forced to disk.
	flushEvery = 10
)

// metaSessionStart and metaSessionEnd tag the header and footer lines.
const (
	metaSessionStart = "session_start"
	metaSessionEnd   = "session_end"
)

// SessionLogger writes one monitoring session to a JSONL file.
type SessionLogger struct {
	mu sync.Mutex

	sessionID  string
	start      time.Time
	path       string
	file       *os.File
	w          *bufio.Writer
	eventCount int
	unflushed  int
	closed     bool
	logger     *slog.Logger
}

// NewSessionID derives a session identifier from t with a random
// suffix. The timestamp prefix makes file names sort chronologically.
func NewSessionID(t time.Time) string {
	return fmt.Sprintf("%s-%s", t.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// NewSessionLogger creates the session file in dir. An empty sessionID
// derives one from the start time.
func NewSessionLogger(dir, sessionID string) (*SessionLogger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create log dir: %w", err)
	}

	start := time.Now().UTC()
	if sessionID == "" {
		sessionID = NewSessionID(start)
	}

	path := filepath.Join(dir, sessionFilePrefix+sessionID+sessionFileSuffix)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open session file: %w", err)
	}

	return &SessionLogger{
		sessionID: sessionID,
		start:     start,
		path:      path,
		file:      file,
		w:         bufio.NewWriter(file),
		logger:    slog.Default(),
	}, nil
}

// SessionID returns the session identifier.
func (l *SessionLogger) SessionID() string { return l.sessionID }

// Start returns the session start time.
func (l *SessionLogger) Start() time.Time { return l.start }

// Path returns the session file path.
func (l *SessionLogger) Path() string { return l.path }

// EventCount returns the number of events written so far.
func (l *SessionLogger) EventCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventCount
}

type sessionHeader struct {
	SessionID    string `json:"session_id"`
	SessionStart string `json:"session_start"`
	Process      string `json:"process"`
	PID          uint32 `json:"pid"`
	Type         string `json:"type"`
}

type sessionFooter struct {
	SessionID  string `json:"session_id"`
	SessionEnd string `json:"session_end"`
	EventCount int    `json:"event_count"`
	ExitCode   *int   `json:"exit_code"`
	Type       string `json:"type"`
}

// WriteHeader writes the session metadata line. It is flushed
// immediately so a crashed session still identifies itself.
func (l *SessionLogger) WriteHeader(process string, pid uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLineLocked(sessionHeader{
		SessionID:    l.sessionID,
		SessionStart: l.start.Format(time.RFC3339),
		Process:      process,
		PID:          pid,
		Type:         metaSessionStart,
	}, true)
}

// WriteFooter writes the session end marker with the final event count
// and the wrapped process exit code, if known.
func (l *SessionLogger) WriteFooter(exitCode *int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLineLocked(sessionFooter{
		SessionID:  l.sessionID,
		SessionEnd: time.Now().UTC().Format(time.RFC3339),
		EventCount: l.eventCount,
		ExitCode:   exitCode,
		Type:       metaSessionEnd,
	}, true)
}

// Write appends one event. The buffer is flushed every flushEvery
// events so a crash loses at most a handful of lines.
func (l *SessionLogger) Write(e event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("store: write on closed session")
	}
	if err := l.writeLineLocked(e, false); err != nil {
		return err
	}

	l.eventCount++
	l.unflushed++
	if l.unflushed >= flushEvery {
		if err := l.w.Flush(); err != nil {
			return fmt.Errorf("store: flush session: %w", err)
		}
		l.unflushed = 0
	}

	l.logger.Debug("store: wrote event",
		"event_id", e.ID,
		"event_count", l.eventCount,
		"file", l.path,
	)
	return nil
}

// Flush forces buffered lines to disk.
func (l *SessionLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("store: flush session: %w", err)
	}
	l.unflushed = 0
	return nil
}

// Close flushes and closes the session file.
func (l *SessionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("store: close flush: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("store: close session file: %w", err)
	}
	return nil
}

func (l *SessionLogger) writeLineLocked(v any, flush bool) error {
	if l.closed {
		return fmt.Errorf("store: write on closed session")
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal line: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("store: write line: %w", err)
	}
	if flush {
		if err := l.w.Flush(); err != nil {
			return fmt.Errorf("store: flush line: %w", err)
		}
		l.unflushed = 0
	}
	return nil
}
