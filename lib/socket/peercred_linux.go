// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"net"

	"golang.org/x/sys/unix"
)

// Peer identifies the process on the other end of a unix socket.
type Peer struct {
	PID int32
	UID uint32
	GID uint32
}

// peerCredentials reads SO_PEERCRED from a unix connection. Callers
// only log the result: trust comes from both hosts sharing the
// machine, not from this check.
func peerCredentials(conn net.Conn) (Peer, bool) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return Peer{}, false
	}
	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return Peer{}, false
	}

	var credentials *unix.Ucred
	var credentialsErr error
	if err := rawConn.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credentialsErr != nil {
		return Peer{}, false
	}
	return Peer{PID: credentials.Pid, UID: credentials.Uid, GID: credentials.Gid}, true
}
