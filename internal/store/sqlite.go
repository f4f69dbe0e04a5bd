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

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ksyq12/agent-watch/internal/event"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	timestamp TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data TEXT NOT NULL,
	process TEXT NOT NULL,
	pid INTEGER NOT NULL,
	risk_level TEXT NOT NULL,
	alert INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_risk ON events(risk_level);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	process_name TEXT,
	pid INTEGER,
	start_time TEXT,
	end_time TEXT
);`

// SQLiteStore mirrors session events into a SQLite database for
// indexed queries across sessions.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// EventQuery narrows a SQLite query. Zero values leave the dimension
// unconstrained.
type EventQuery struct {
	SessionID string
	Risk      *event.RiskLevel
	Type      event.Type
	Start     *time.Time
	End       *time.Time
	Limit     int
}

// OpenSQLite opens or creates the database at path. The file is
// pre-created with owner-only permissions; some environments refuse to
// let SQLite create new files under $HOME but allow opening existing
// ones.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: precreate sqlite db %s: %w", path, err)
	}
	_ = f.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// WriteSessionHeader records a session start.
func (s *SQLiteStore) WriteSessionHeader(sessionID, process string, pid uint32, start time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions (session_id, process_name, pid, start_time) VALUES (?, ?, ?, ?)`,
		sessionID, process, pid, start.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: write session header: %w", err)
	}
	return nil
}

// WriteSessionFooter records a session end.
func (s *SQLiteStore) WriteSessionFooter(sessionID string, end time.Time) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET end_time = ? WHERE session_id = ?`,
		end.UTC().Format(time.RFC3339), sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: write session footer: %w", err)
	}
	return nil
}

// WriteEvent inserts one event, keeping the full JSON payload next to
// the indexed columns.
func (s *SQLiteStore) WriteEvent(sessionID string, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: marshal event: %w", err)
	}

	var session any
	if sessionID != "" {
		session = sessionID
	}
	_, err = s.db.Exec(
		`INSERT INTO events (id, session_id, timestamp, event_type, event_data, process, pid, risk_level, alert)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, session, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Type), string(data),
		e.Process, e.PID, e.RiskLevel.String(), boolToInt(e.Alert),
	)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// QueryEvents returns matching events ordered by timestamp ascending.
func (s *SQLiteStore) QueryEvents(q EventQuery) ([]event.Event, error) {
	sqlText := `SELECT event_data FROM events WHERE 1=1`
	var args []any

	if q.SessionID != "" {
		sqlText += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	if q.Risk != nil {
		sqlText += ` AND risk_level = ?`
		args = append(args, q.Risk.String())
	}
	if q.Type != "" {
		sqlText += ` AND event_type = ?`
		args = append(args, string(q.Type))
	}
	if q.Start != nil {
		sqlText += ` AND timestamp >= ?`
		args = append(args, q.Start.UTC().Format(time.RFC3339Nano))
	}
	if q.End != nil {
		sqlText += ` AND timestamp <= ?`
		args = append(args, q.End.UTC().Format(time.RFC3339Nano))
	}

	sqlText += ` ORDER BY timestamp ASC`
	if q.Limit > 0 {
		sqlText += ` LIMIT ` + strconv.Itoa(q.Limit)
	}

	rows, err := s.db.Query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan event row: %w", err)
		}
		var e event.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("store: decode event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate event rows: %w", err)
	}
	return events, nil
}

// EventCount returns the total number of stored events.
func (s *SQLiteStore) EventCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
