// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle ties boundary proxies to HTTP requests.
//
// The [Adapter] is middleware that walks each request through
// Idle -> ProxyPublished -> Released. Requests the [Classifier] marks
// as legacy get a transient store proxy over the session and a
// transient container proxy over a fresh request scope. Both are
// minted in the handle table, encoded as tokens, and written to the
// side-channel request headers that travel with the request to the
// initiator host. At request end both references are released and the
// request scope is disposed whether or not the initiator host ever
// used them. Teardown never fails the request: errors and panics are
// logged and counted.
//
// Inbound copies of the side-channel headers are always removed, so a
// client can never hand the initiator host a token of its choosing.
//
// [Application] publishes the application-wide shared container proxy
// in the registry at startup and revokes it at shutdown.
package lifecycle
