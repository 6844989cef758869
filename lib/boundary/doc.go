// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package boundary implements the responder side of the bridge: the
// proxies the initiator host operates on and the handle table that
// names them.
//
// A [Proxy] wraps one target, either a key/value [Store] or a
// dependency [Container], reached through a resolver that is invoked
// on every operation. Store proxies support Push and Pull of prefixed
// keys; container proxies support the Resolve variants. A proxy never
// caches its target, so once the resolver reports the target gone
// every call fails with [ErrTargetUnavailable] instead of returning
// stale data.
//
// The [Table] maps random non-zero handles to proxies with explicit
// reference counts. Minting returns the single owner release path;
// boundary calls take short-lived references with [Table.Acquire].
// Nothing expires on its own: an entry lives until every reference is
// released.
//
// Only plain data crosses the boundary. [CheckTransferable] defines
// what that means and [Export] converts resolved services that
// implement [Exporter].
package boundary
