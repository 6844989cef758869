// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package socket

import "net"

// Peer identifies the process on the other end of a unix socket.
type Peer struct {
	PID int32
	UID uint32
	GID uint32
}

func peerCredentials(net.Conn) (Peer, bool) { return Peer{}, false }
