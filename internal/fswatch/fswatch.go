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

// Package fswatch turns filesystem notifications into audit events.
// Watched directories are walked recursively; changes under sensitive
// paths are escalated to Critical.
package fswatch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ksyq12/agent-watch/internal/detect"
	"github.com/ksyq12/agent-watch/internal/event"
)

// DefaultDebounce is the window in which repeated changes to the same
// path with the same action are collapsed into one event.
const DefaultDebounce = 100 * time.Millisecond

// sweepEvery bounds how many insertions may pass between sweeps of
// expired debounce entries, so the map does not grow with every path
// a long session ever touched.
const sweepEvery = 256

// Config controls the watcher.
type Config struct {
	// Paths to watch. An empty list makes Start a no-op.
	Paths []string
	// Debounce window for repeated events.
	Debounce time.Duration
}

// Watcher observes the configured paths and emits file access events.
type Watcher struct {
	cfg      Config
	detector *detect.SensitiveFiles

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu         sync.Mutex
	lastSeen   map[string]time.Time
	sinceSweep int
	running    bool
}

// New returns a watcher. A nil detector gets the default sensitive
// file patterns.
func New(cfg Config, detector *detect.SensitiveFiles) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if detector == nil {
		detector = detect.DefaultSensitiveFiles()
	}
	return &Watcher{
		cfg:      cfg,
		detector: detector,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// Running reports whether the watch loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start begins watching and sends events to out until ctx is
// cancelled. With no configured paths it returns nil without starting
// anything. The out channel is never closed; it is shared with other
// producers.
func (w *Watcher) Start(ctx context.Context, out chan<- event.Event) error {
	if len(w.cfg.Paths) == 0 {
		close(w.done)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, path := range w.cfg.Paths {
		if err := addRecursive(watcher, path); err != nil {
			slog.Warn("fswatch: watch path", "path", path, "error", err)
		}
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		defer watcher.Close()
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				w.handle(ctx, watcher, evt, out)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("fswatch: watcher error", "error", err)
			}
		}
	}()
	return nil
}

// SignalStop asks the watch loop to exit after the event in flight.
func (w *Watcher) SignalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Stop signals the loop started by Start and blocks until it has
// exited.
func (w *Watcher) Stop() {
	w.SignalStop()
	<-w.done
}

func (w *Watcher) handle(ctx context.Context, watcher *fsnotify.Watcher, evt fsnotify.Event, out chan<- event.Event) {
	action, ok := opToAction(evt.Op)
	if !ok {
		return
	}

	// New directories join the watch set so nested changes are seen.
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			_ = watcher.Add(evt.Name)
		}
	}

	if w.debounced(evt.Name, action) {
		return
	}

	level := event.Low
	if w.detector.IsSensitive(evt.Name) {
		level = event.Critical
	}

	e := event.NewFileAccess(evt.Name, action, "fswatch", uint32(os.Getpid()), level)
	select {
	case out <- e:
	case <-ctx.Done():
	}
}

// debounced records the sighting and reports whether an identical one
// was already emitted inside the debounce window.
func (w *Watcher) debounced(path string, action event.FileAction) bool {
	key := path + "\x00" + string(action)
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastSeen[key]; ok && now.Sub(last) < w.cfg.Debounce {
		return true
	}
	w.lastSeen[key] = now

	w.sinceSweep++
	if w.sinceSweep >= sweepEvery {
		w.sinceSweep = 0
		for k, last := range w.lastSeen {
			if now.Sub(last) >= w.cfg.Debounce {
				delete(w.lastSeen, k)
			}
		}
	}
	return false
}

func opToAction(op fsnotify.Op) (event.FileAction, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return event.FileCreate, true
	case op.Has(fsnotify.Write):
		return event.FileWrite, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return event.FileDelete, true
	case op.Has(fsnotify.Chmod):
		return event.FileChmod, true
	default:
		return "", false
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				slog.Debug("fswatch: add directory", "path", path, "error", err)
			}
		}
		return nil
	})
}
