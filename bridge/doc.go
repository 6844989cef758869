// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge forwards loopback TCP connections to the endpoint's
// unix socket.
//
// The consumer host may run in another network namespace or container
// where the responder's socket path is not visible. The responder then
// starts a [Forwarder] on a TCP address and advertises tcp://host:port
// as its endpoint, which envelope-mode tokens carry to the consumer.
// Each accepted connection is copied in both directions with half-close
// propagation, so the one-call-per-connection protocol of lib/socket
// works unchanged over TCP.
package bridge
