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

// Package wrapper runs the monitored agent inside a pseudo-terminal.
// The agent keeps its interactive behavior while every output line is
// inspected for shell commands, which are sanitized, scored and
// emitted as events.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"

	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/risk"
	"github.com/ksyq12/agent-watch/internal/sanitize"
)

const (
	defaultCols = 80
	defaultRows = 24

	stdinBufSize  = 1024
	outputBufSize = 4096
)

// Config describes the process to wrap.
type Config struct {
	Command string
	Args    []string
	// Dir is the working directory; empty inherits.
	Dir string
	// Env entries are appended to the current environment.
	Env []string
	// Cols and Rows size the pseudo-terminal.
	Cols uint16
	Rows uint16
	// Stdin and Stdout default to the process's own streams.
	Stdin  io.Reader
	Stdout io.Writer
}

// Wrapper spawns and observes an agent process.
type Wrapper struct {
	cfg    Config
	scorer *risk.Scorer
}

// Session is a running wrapped process.
type Session struct {
	cmd    *exec.Cmd
	master *os.File
	pid    uint32

	outputDone chan struct{}

	closeOnce sync.Once
}

// New returns a wrapper for cfg. A nil scorer gets the default rule
// table.
func New(cfg Config, scorer *risk.Scorer) *Wrapper {
	if cfg.Cols == 0 {
		cfg.Cols = defaultCols
	}
	if cfg.Rows == 0 {
		cfg.Rows = defaultRows
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if scorer == nil {
		scorer = risk.NewScorer()
	}
	return &Wrapper{cfg: cfg, scorer: scorer}
}

// Start spawns the process in a PTY and begins forwarding I/O. Command
// events detected in the output are sent to out until the process
// exits or ctx is cancelled.
func (w *Wrapper) Start(ctx context.Context, out chan<- event.Event) (*Session, error) {
	if w.cfg.Command == "" {
		return nil, errors.New("wrapper: command is empty")
	}

	cmd := exec.Command(w.cfg.Command, w.cfg.Args...)
	cmd.Dir = w.cfg.Dir
	if len(w.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), w.cfg.Env...)
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: w.cfg.Rows,
		Cols: w.cfg.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("wrapper: start %s in pty: %w", w.cfg.Command, err)
	}

	s := &Session{
		cmd:        cmd,
		master:     master,
		pid:        uint32(cmd.Process.Pid),
		outputDone: make(chan struct{}),
	}

	// Forward stdin into the PTY. The goroutine exits on stdin EOF or
	// when the master side closes after process exit.
	go func() {
		buf := make([]byte, stdinBufSize)
		for {
			n, err := w.cfg.Stdin.Read(buf)
			if n > 0 {
				if _, werr := master.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Mirror output and scan completed lines for commands.
	go func() {
		defer close(s.outputDone)

		buf := make([]byte, outputBufSize)
		var lineBuf strings.Builder
		for {
			n, err := master.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if _, werr := w.cfg.Stdout.Write(chunk); werr != nil {
					slog.Debug("wrapper: mirror output", "error", werr)
				}

				lineBuf.Write(chunk)
				pending := lineBuf.String()
				for {
					idx := strings.IndexByte(pending, '\n')
					if idx < 0 {
						break
					}
					line := pending[:idx]
					pending = pending[idx+1:]
					w.inspectLine(ctx, line, s.pid, out)
				}
				lineBuf.Reset()
				lineBuf.WriteString(pending)
			}
			if err != nil {
				// EIO is the normal end of a Linux PTY.
				return
			}
		}
	}()

	return s, nil
}

// PID returns the wrapped process id.
func (s *Session) PID() uint32 { return s.pid }

// Wait blocks until the process exits and returns its exit code. The
// PTY master is closed after the output drain finishes.
func (s *Session) Wait() (int, error) {
	err := s.cmd.Wait()

	<-s.outputDone
	s.closeOnce.Do(func() { _ = s.master.Close() })

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wrapper: wait: %w", err)
	}
	return 0, nil
}

// Signal forwards sig to the wrapped process.
func (s *Session) Signal(sig os.Signal) error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(sig)
}

// InheritSize resizes the PTY to match the controlling terminal.
func (s *Session) InheritSize() error {
	return pty.InheritSize(os.Stdin, s.master)
}

// Kill terminates the wrapped process.
func (s *Session) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Resize changes the PTY dimensions.
func (s *Session) Resize(cols, rows uint16) error {
	return pty.Setsize(s.master, &pty.Winsize{Rows: rows, Cols: cols})
}

func (w *Wrapper) inspectLine(ctx context.Context, line string, pid uint32, out chan<- event.Event) {
	command, args, ok := detectCommand(line)
	if !ok {
		return
	}

	args = sanitize.Args(args)
	level, _ := w.scorer.Score(command, args)

	select {
	case out <- event.NewCommand(command, args, w.cfg.Command, pid, level):
	case <-ctx.Done():
	}
}

// RunSimple executes the command without a PTY, inheriting the
// standard streams. One command event for the invocation itself is
// emitted before it runs. Used when no terminal is available.
func (w *Wrapper) RunSimple(ctx context.Context, out chan<- event.Event) (int, error) {
	if w.cfg.Command == "" {
		return -1, errors.New("wrapper: command is empty")
	}

	cmd := exec.CommandContext(ctx, w.cfg.Command, w.cfg.Args...)
	cmd.Dir = w.cfg.Dir
	if len(w.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), w.cfg.Env...)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = w.cfg.Stdout
	cmd.Stderr = os.Stderr

	args := sanitize.Args(w.cfg.Args)
	level, reason := w.scorer.Score(w.cfg.Command, args)
	if out != nil {
		select {
		case out <- event.NewCommand(w.cfg.Command, args, w.cfg.Command, uint32(os.Getpid()), level):
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	if level >= event.High && reason != "" {
		slog.Warn("wrapper: high risk command", "command", w.cfg.Command, "reason", reason)
	}

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wrapper: run %s: %w", w.cfg.Command, err)
	}
	return 0, nil
}

// detectCommand extracts a shell command from an output line by
// looking for common prompt markers. The "> " marker is only honored
// at the start of the line or after whitespace, since it doubles as
// the redirection operator.
func detectCommand(line string) (string, []string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") {
		return "", nil, false
	}

	var rest string
	if pos := strings.LastIndex(line, "$ "); pos >= 0 {
		rest = line[pos+2:]
	} else if pos := strings.LastIndex(line, "% "); pos >= 0 {
		rest = line[pos+2:]
	} else if pos := strings.LastIndex(line, "> "); pos >= 0 {
		if pos != 0 && !isSpace(line[pos-1]) {
			return "", nil, false
		}
		rest = line[pos+2:]
	} else {
		return "", nil, false
	}

	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return "", nil, false
	}
	return parts[0], parts[1:], true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
