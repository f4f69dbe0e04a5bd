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

// Package daemon serves the local HTTP API: session control, queries
// over the persisted session logs, a websocket stream of live events
// and Prometheus metrics.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ksyq12/agent-watch/internal/monitor"
)

// DefaultAddr is the loopback listen address.
const DefaultAddr = "127.0.0.1:7381"

const shutdownTimeout = 5 * time.Second

// Config holds the daemon configuration.
type Config struct {
	// Addr is the listen address; defaults to DefaultAddr.
	Addr string

	// Token enables Bearer auth on all API endpoints when non-empty.
	Token string

	// LogDir is the session log directory served by the query endpoints.
	LogDir string

	// Engine runs monitoring sessions.
	Engine *monitor.Engine

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Daemon is the HTTP server.
type Daemon struct {
	cfg    Config
	logger *slog.Logger
	srv    *http.Server
}

// New creates a daemon. The engine and log directory are required.
func New(cfg Config) (*Daemon, error) {
	if cfg.Engine == nil {
		return nil, errors.New("daemon: engine is required")
	}
	if cfg.LogDir == "" {
		return nil, errors.New("daemon: log directory is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	api := NewAPI(cfg.Engine, cfg.LogDir, cfg.Token, cfg.Logger)
	return &Daemon{
		cfg:    cfg,
		logger: cfg.Logger,
		srv: &http.Server{
			Addr:        cfg.Addr,
			Handler:     api.Handler(),
			ReadTimeout: 10 * time.Second,
			// No write timeout: the websocket stream stays open.
		},
	}, nil
}

// Addr returns the configured listen address.
func (d *Daemon) Addr() string { return d.cfg.Addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("daemon: listening", "addr", d.cfg.Addr)
		errCh <- d.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("daemon: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("daemon: shutdown: %w", err)
	}
	return nil
}
