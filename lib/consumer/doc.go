// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package consumer is the initiator host's side of the bridge.
//
// A [Bridge] reads a token from the side channel ([HeaderSource] for
// forwarded HTTP requests, [EnvSource] for CGI-style variables),
// decodes it, and returns a [Handle] that performs boundary calls
// against the responder. A missing or unreadable token yields an
// error matching [ErrBridgeUnavailable]; callers are expected to carry
// on without bridged state.
//
// A Handle is valid only for the request whose token produced it.
// Do not keep one beyond a single logical operation.
package consumer
