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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ksyq12/agent-watch/internal/event"
)

// SessionInfo describes one session log file.
type SessionInfo struct {
	SessionID string
	Path      string
	StartTime time.Time
}

// ReadEvents reads all events from a session file. Header and footer
// metadata lines are skipped; malformed lines are skipped with a
// warning so one corrupt line never hides the rest of the session.
func ReadEvents(path string) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, ok := parseEventLine([]byte(line))
		if ok {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return events, nil
}

// ReadEventsFromOffset reads events from path starting at a byte
// offset and returns the new offset. A truncated file resets the
// offset to zero; a partial trailing line is left unconsumed so it can
// be re-read once the writer completes it.
func ReadEventsFromOffset(path string, offset int64) ([]event.Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("store: stat %s: %w", path, err)
	}
	if offset > info.Size() {
		offset = 0
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("store: seek %s: %w", path, err)
	}

	reader := bufio.NewReader(f)
	cursor := offset
	events := make([]event.Event, 0, 8)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, cursor, fmt.Errorf("store: read line: %w", err)
		}

		// EOF with no data left.
		if line == "" && errors.Is(err, io.EOF) {
			return events, cursor, nil
		}

		// Partial line without a newline stays unconsumed.
		if !strings.HasSuffix(line, "\n") {
			return events, cursor, nil
		}

		cursor += int64(len(line))
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if errors.Is(err, io.EOF) {
				return events, cursor, nil
			}
			continue
		}

		if e, ok := parseEventLine([]byte(trimmed)); ok {
			events = append(events, e)
		}

		if errors.Is(err, io.EOF) {
			return events, cursor, nil
		}
	}
}

// CountEvents returns the number of events in a session file.
func CountEvents(path string) (int, error) {
	events, err := ReadEvents(path)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// ListSessions returns the session files in dir, newest first. The
// timestamp prefix in the filename makes the path ordering
// chronological.
func ListSessions(dir string) ([]SessionInfo, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, sessionFilePrefix+"*"+sessionFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		id := strings.TrimSuffix(strings.TrimPrefix(name, sessionFilePrefix), sessionFileSuffix)

		var start time.Time
		if info, err := os.Stat(path); err == nil {
			start = info.ModTime().UTC()
		}

		sessions = append(sessions, SessionInfo{
			SessionID: id,
			Path:      path,
			StartTime: start,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Path > sessions[j].Path
	})
	return sessions, nil
}

// parseEventLine decodes one JSONL line, filtering session metadata
// and anything that does not look like an event.
func parseEventLine(line []byte) (event.Event, bool) {
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &meta); err != nil {
		slog.Warn("store: skipping invalid session line", "error", err)
		return event.Event{}, false
	}
	if meta.Type == metaSessionStart || meta.Type == metaSessionEnd {
		return event.Event{}, false
	}

	var e event.Event
	if err := json.Unmarshal(line, &e); err != nil {
		slog.Warn("store: skipping invalid event line", "error", err)
		return event.Event{}, false
	}
	return e, true
}
