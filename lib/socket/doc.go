// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package socket implements the request/response protocol the
// responder serves its boundary operations on.
//
// Every connection carries exactly one call: the client writes one CBOR
// map containing an "action" field plus action-specific fields, the
// server writes one [Response], and the connection closes. CBOR is
// self-delimiting, so no framing is needed. One call per connection
// keeps the server free of per-connection state: nothing about a
// consumer outlives the call it made.
//
// [Server] listens on a unix socket. Consumers in another network
// namespace reach it through the TCP forwarder in package bridge, so
// [Client] dials either "unix://" or "tcp://" endpoints.
//
// Failed calls carry a short machine-readable code next to the message
// (see [Server.Classify] and [CallError]); the consumer maps codes back
// to its own error values.
package socket
