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

// Package procfs exposes the process table and per-process socket
// tables read from /proc. It is the only package that touches the
// kernel's procfs layout; everything above it works with plain structs.
package procfs

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// Process is one row of the system process table.
type Process struct {
	PID  uint32
	PPID uint32
	Name string
	Path string
}

// Connection is an established remote endpoint owned by a process.
type Connection struct {
	Host     string
	Port     uint16
	Protocol string
}

// TCP connection states from include/net/tcp_states.h.
const (
	tcpEstablished = 1
	tcpSynSent     = 2
	tcpSynRecv     = 3
)

// Inspector reads process and socket information from a proc mount.
type Inspector struct {
	fs procfs.FS
}

// New returns an Inspector over the default /proc mount.
func New() (*Inspector, error) {
	return NewAt(procfs.DefaultMountPoint)
}

// NewAt returns an Inspector over an alternate proc mount, used by
// tests with a synthetic tree.
func NewAt(mountPoint string) (*Inspector, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("procfs: open %s: %w", mountPoint, err)
	}
	return &Inspector{fs: fs}, nil
}

// Processes returns a snapshot of the process table. Processes that
// exit mid-scan are silently skipped; their /proc entries vanish
// between the directory listing and the stat read.
func (in *Inspector) Processes() ([]Process, error) {
	procs, err := in.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("procfs: list processes: %w", err)
	}

	table := make([]Process, 0, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		name, err := p.Comm()
		if err != nil {
			name = stat.Comm
		}
		path, _ := p.Executable()

		table = append(table, Process{
			PID:  uint32(p.PID),
			PPID: uint32(stat.PPID),
			Name: name,
			Path: path,
		})
	}
	return table, nil
}

// Connections returns the established remote endpoints held by pid.
// Loopback and unspecified peers are excluded, as are sockets without
// a remote port. A missing process yields an error; the caller treats
// that as the process having exited.
func (in *Inspector) Connections(pid uint32, tcp, udp bool) ([]Connection, error) {
	proc, err := in.fs.Proc(int(pid))
	if err != nil {
		return nil, fmt.Errorf("procfs: pid %d: %w", pid, err)
	}

	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		return nil, fmt.Errorf("procfs: fds for pid %d: %w", pid, err)
	}

	inodes := make(map[uint64]bool)
	for _, target := range targets {
		if ino, ok := socketInode(target); ok {
			inodes[ino] = true
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	var conns []Connection
	if tcp {
		for _, table := range []func() (procfs.NetTCP, error){in.fs.NetTCP, in.fs.NetTCP6} {
			lines, err := table()
			if err != nil {
				continue
			}
			for _, line := range lines {
				if !inodes[line.Inode] || !activeTCPState(line.St) {
					continue
				}
				if conn, ok := remoteEndpoint(line.RemAddr, line.RemPort, "tcp"); ok {
					conns = append(conns, conn)
				}
			}
		}
	}
	if udp {
		for _, table := range []func() (procfs.NetUDP, error){in.fs.NetUDP, in.fs.NetUDP6} {
			lines, err := table()
			if err != nil {
				continue
			}
			for _, line := range lines {
				if !inodes[line.Inode] {
					continue
				}
				if conn, ok := remoteEndpoint(line.RemAddr, line.RemPort, "udp"); ok {
					conns = append(conns, conn)
				}
			}
		}
	}
	return conns, nil
}

func activeTCPState(st uint64) bool {
	return st == tcpEstablished || st == tcpSynSent || st == tcpSynRecv
}

func remoteEndpoint(remAddr net.IP, remPort uint64, protocol string) (Connection, bool) {
	if remPort == 0 {
		return Connection{}, false
	}
	if remAddr.IsLoopback() || remAddr.IsUnspecified() {
		return Connection{}, false
	}
	return Connection{
		Host:     remAddr.String(),
		Port:     uint16(remPort),
		Protocol: protocol,
	}, true
}

// socketInode extracts N from an fd target of the form "socket:[N]".
func socketInode(target string) (uint64, bool) {
	const prefix = "socket:["
	if !strings.HasPrefix(target, prefix) || !strings.HasSuffix(target, "]") {
		return 0, false
	}
	ino, err := strconv.ParseUint(target[len(prefix):len(target)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return ino, true
}
