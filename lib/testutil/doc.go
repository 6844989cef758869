// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory for unix sockets:
// sun_path is limited to 108 bytes and t.TempDir() paths under some
// runners exceed it.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests that wait on a goroutine fail instead of hanging.
//
// [UniqueID] returns process-unique identifiers for application ids,
// cookie values and similar test inputs.
//
// All helpers call t.Fatalf on failure.
package testutil
