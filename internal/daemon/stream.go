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

package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/notify"
	"github.com/ksyq12/agent-watch/internal/store"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// The daemon binds to loopback only, so cross-origin browser pages on
// the same machine are allowed to connect.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is one frame of the live event stream.
type wsEvent struct {
	Event   event.Event `json:"event"`
	Summary string      `json:"summary"`
}

// handleEventStream upgrades to a websocket and streams events from
// the newest session log as they are appended. When a new session
// starts the stream follows it.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if !a.checkAuth(w, r) {
		return
	}

	sessions, err := store.ListSessions(a.logDir)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(sessions) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sessions recorded yet"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("daemon-api: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	tail := store.NewTailer(sessions[0].Path).Start(ctx)

	// Reader pump: consume control frames and detect the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case te, ok := <-tail:
			if !ok {
				return
			}
			if te.Err != nil {
				a.logger.Warn("daemon-api: event stream", "error", te.Err)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(wsEvent{Event: te.Event, Summary: notify.Summarize(te.Event)}); err != nil {
				return
			}
		}
	}
}
