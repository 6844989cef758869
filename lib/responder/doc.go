// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package responder assembles the responder host from configuration.
//
// A [Responder] owns the handle table, the registry, the session
// manager, the lifecycle adapter and the endpoint server, and serves
// HTTP in front of the legacy upstream:
//
//	client -> session middleware -> lifecycle adapter -> legacy upstream
//	                                                      |
//	legacy code -> consumer.Bridge -> endpoint socket <---+
//
// Run starts everything in order and tears it down in reverse when
// its context is cancelled. Shutdown releases every reference, so the
// live reference count returns to zero.
package responder
