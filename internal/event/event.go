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

// Package event defines the monitoring event model shared by all
// subsystems: commands, file accesses, network connections, process
// lifecycle and session boundaries, each carrying a risk level.
package event

import (
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type discriminates the event payload. Serialized as the "type" field.
type Type string

const (
	TypeCommand    Type = "command"
	TypeFileAccess Type = "file_access"
	TypeNetwork    Type = "network"
	TypeProcess    Type = "process"
	TypeSession    Type = "session"
)

// FileAction describes what happened to a watched file.
type FileAction string

const (
	FileRead   FileAction = "read"
	FileWrite  FileAction = "write"
	FileDelete FileAction = "delete"
	FileCreate FileAction = "create"
	FileChmod  FileAction = "chmod"
)

// ProcessAction describes a process lifecycle transition.
type ProcessAction string

const (
	ProcessStart ProcessAction = "start"
	ProcessExit  ProcessAction = "exit"
	ProcessFork  ProcessAction = "fork"
)

// SessionAction marks a session boundary event.
type SessionAction string

const (
	SessionStart SessionAction = "start"
	SessionEnd   SessionAction = "end"
)

// Event is a single observation captured during a monitoring session.
// The type-specific fields are populated according to Type; everything
// else is omitted from the JSON encoding.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`

	// Command fields.
	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
	ExitCode *int     `json:"exit_code,omitempty"`

	// FileAccess fields.
	Path       string     `json:"path,omitempty"`
	FileAction FileAction `json:"action,omitempty"`

	// Network fields.
	Host     string `json:"host,omitempty"`
	Port     uint16 `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`

	// Process fields. ProcPID is the subject of the lifecycle event,
	// which may differ from PID when a parent reports on a child.
	ProcPID    uint32        `json:"proc_pid,omitempty"`
	ProcPPID   *uint32       `json:"ppid,omitempty"`
	ProcAction ProcessAction `json:"proc_action,omitempty"`

	// Session fields.
	SessionAction SessionAction `json:"session_action,omitempty"`

	// Common envelope.
	Process   string    `json:"process"`
	PID       uint32    `json:"pid"`
	RiskLevel RiskLevel `json:"risk_level"`
	Alert     bool      `json:"alert"`
}

// NewID returns a new ULID event identifier.
func NewID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err == nil {
		return id.String()
	}

	slog.Error("event: generate event id", "error", err)
	return ulid.Make().String()
}

// New creates an event envelope with a fresh ID, the current UTC time
// and the alert flag derived from the risk level.
func New(typ Type, process string, pid uint32, risk RiskLevel) Event {
	return Event{
		ID:        NewID(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Process:   process,
		PID:       pid,
		RiskLevel: risk,
		Alert:     risk >= High,
	}
}

// NewCommand creates a command execution event.
func NewCommand(command string, args []string, process string, pid uint32, risk RiskLevel) Event {
	e := New(TypeCommand, process, pid, risk)
	e.Command = command
	e.Args = args
	return e
}

// NewFileAccess creates a file access event.
func NewFileAccess(path string, action FileAction, process string, pid uint32, risk RiskLevel) Event {
	e := New(TypeFileAccess, process, pid, risk)
	e.Path = path
	e.FileAction = action
	return e
}

// NewNetwork creates a network connection event.
func NewNetwork(host string, port uint16, protocol string, process string, pid uint32, risk RiskLevel) Event {
	e := New(TypeNetwork, process, pid, risk)
	e.Host = host
	e.Port = port
	e.Protocol = protocol
	return e
}

// NewProcessStart creates a process start event for pid under ppid.
func NewProcessStart(process string, pid uint32, ppid *uint32, risk RiskLevel) Event {
	e := New(TypeProcess, process, pid, risk)
	e.ProcPID = pid
	e.ProcPPID = ppid
	e.ProcAction = ProcessStart
	return e
}

// NewProcessExit creates a process exit event.
func NewProcessExit(process string, pid uint32, ppid *uint32) Event {
	e := New(TypeProcess, process, pid, Low)
	e.ProcPID = pid
	e.ProcPPID = ppid
	e.ProcAction = ProcessExit
	return e
}

// NewSessionStart creates a session start boundary event.
func NewSessionStart(process string, pid uint32) Event {
	e := New(TypeSession, process, pid, Low)
	e.SessionAction = SessionStart
	return e
}

// NewSessionEnd creates a session end boundary event.
func NewSessionEnd(process string, pid uint32) Event {
	e := New(TypeSession, process, pid, Low)
	e.SessionAction = SessionEnd
	return e
}
