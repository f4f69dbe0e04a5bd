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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ksyq12/agent-watch/internal/event"
)

const defaultTailPoll = 250 * time.Millisecond

// TailEvent carries one tailed event or a tailer error.
type TailEvent struct {
	Event event.Event
	Err   error
}

// Tailer follows a session file and streams events as they are
// appended. When a newer session file appears in the same directory it
// switches to it, so a long-lived consumer survives session rollover.
type Tailer struct {
	path       string
	newWatcher func() (*fsnotify.Watcher, error)
	pollEvery  time.Duration
}

// NewTailer tails the session file at path.
func NewTailer(path string) *Tailer {
	return &Tailer{
		path:       path,
		newWatcher: fsnotify.NewWatcher,
		pollEvery:  defaultTailPoll,
	}
}

// Start begins tailing until ctx is cancelled. The returned channel is
// closed when the tailer stops.
func (t *Tailer) Start(ctx context.Context) <-chan TailEvent {
	out := make(chan TailEvent, 128)

	go func() {
		defer close(out)
		if strings.TrimSpace(t.path) == "" {
			out <- TailEvent{Err: errors.New("store: tail path is empty")}
			return
		}

		dir := filepath.Dir(t.path)
		watcher, err := t.newWatcher()
		if err != nil {
			out <- TailEvent{Err: fmt.Errorf("store: create file watcher: %w", err)}
			return
		}
		defer watcher.Close()

		if err := watcher.Add(dir); err != nil {
			out <- TailEvent{Err: fmt.Errorf("store: watch session directory %s: %w", dir, err)}
			return
		}

		_ = watcher.Add(t.path)

		offset := int64(0)
		offset = t.publishAvailable(out, offset)

		ticker := time.NewTicker(t.pollEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				offset = t.publishAvailable(out, offset)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				cleanName := filepath.Clean(evt.Name)
				cleanPath := filepath.Clean(t.path)

				// A new session file in the directory becomes the tail target.
				if evt.Has(fsnotify.Create) && strings.HasSuffix(cleanName, sessionFileSuffix) && cleanName != cleanPath {
					t.path = cleanName
					cleanPath = cleanName
					_ = watcher.Add(t.path)
					offset = 0
				}

				if cleanName != cleanPath {
					continue
				}
				if evt.Has(fsnotify.Create) {
					_ = watcher.Add(t.path)
					offset = 0
				}
				if evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
					offset = 0
					continue
				}
				if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Chmod) {
					offset = t.publishAvailable(out, offset)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					continue
				}
				out <- TailEvent{Err: fmt.Errorf("store: watcher error: %w", err)}
			}
		}
	}()

	return out
}

func (t *Tailer) publishAvailable(out chan<- TailEvent, offset int64) int64 {
	newEvents, newOffset, err := ReadEventsFromOffset(t.path, offset)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		out <- TailEvent{Err: err}
		return offset
	}

	for _, e := range newEvents {
		out <- TailEvent{Event: e}
	}

	return newOffset
}
