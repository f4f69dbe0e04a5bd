// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package procfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc builds a synthetic proc tree with one process: pid 42,
// named claude, holding a tcp socket to 93.184.216.34:443 (inode
// 12345) and a loopback socket to 127.0.0.1:8080 (inode 12346).
func fakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	pidDir := filepath.Join(root, "42")
	require.NoError(t, os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755))

	statLine := "42 (claude) S 1 42 42 0 -1 4194304 100 0 0 0 2 1 0 0 20 0 1 0 1000 10000000 500 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0 0 0 0 0 0 0 0 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "stat"), []byte(statLine), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "comm"), []byte("claude\n"), 0o644))
	require.NoError(t, os.Symlink("/usr/local/bin/claude", filepath.Join(pidDir, "exe")))
	require.NoError(t, os.Symlink("socket:[12345]", filepath.Join(pidDir, "fd", "3")))
	require.NoError(t, os.Symlink("socket:[12346]", filepath.Join(pidDir, "fd", "4")))
	require.NoError(t, os.Symlink("/dev/null", filepath.Join(pidDir, "fd", "0")))

	netDir := filepath.Join(root, "net")
	require.NoError(t, os.MkdirAll(netDir, 0o755))

	// 93.184.216.34 little-endian is 22D8B85D; 0x01BB is port 443.
	tcp := "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n" +
		"   0: 0100007F:A3E2 22D8B85D:01BB 01 00000000:00000000 00:00000000 00000000  1000        0 12345 1 0000000000000000 100 0 0 10 0\n" +
		"   1: 0100007F:B1C4 0100007F:1F90 01 00000000:00000000 00:00000000 00000000  1000        0 12346 1 0000000000000000 100 0 0 10 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(netDir, "tcp"), []byte(tcp), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(netDir, "tcp6"),
		[]byte("  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(netDir, "udp"),
		[]byte("  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode ref pointer drops\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(netDir, "udp6"),
		[]byte("  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode ref pointer drops\n"), 0o644))

	return root
}

func TestProcesses(t *testing.T) {
	in, err := NewAt(fakeProc(t))
	require.NoError(t, err)

	table, err := in.Processes()
	require.NoError(t, err)
	require.Len(t, table, 1)

	p := table[0]
	assert.Equal(t, uint32(42), p.PID)
	assert.Equal(t, uint32(1), p.PPID)
	assert.Equal(t, "claude", p.Name)
	assert.Equal(t, "/usr/local/bin/claude", p.Path)
}

func TestConnectionsSkipLoopback(t *testing.T) {
	in, err := NewAt(fakeProc(t))
	require.NoError(t, err)

	conns, err := in.Connections(42, true, true)
	require.NoError(t, err)
	require.Len(t, conns, 1)

	assert.Equal(t, "93.184.216.34", conns[0].Host)
	assert.Equal(t, uint16(443), conns[0].Port)
	assert.Equal(t, "tcp", conns[0].Protocol)
}

func TestConnectionsTCPDisabled(t *testing.T) {
	in, err := NewAt(fakeProc(t))
	require.NoError(t, err)

	conns, err := in.Connections(42, false, true)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestConnectionsMissingPID(t *testing.T) {
	in, err := NewAt(fakeProc(t))
	require.NoError(t, err)

	_, err = in.Connections(9999, true, true)
	assert.Error(t, err)
}

func TestSocketInode(t *testing.T) {
	ino, ok := socketInode("socket:[12345]")
	assert.True(t, ok)
	assert.Equal(t, uint64(12345), ino)

	_, ok = socketInode("/dev/null")
	assert.False(t, ok)
	_, ok = socketInode("socket:[x]")
	assert.False(t, ok)
}
