// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session keeps the responder's per-client key/value state.
//
// A [Manager] maps a session cookie to a [Store]. Every request that
// passes through [Manager.Middleware] has a store attached to its
// context, created on first contact, so a bridged request always has
// session state for the initiator host to read and write. Stores that
// go unused for longer than the idle timeout are dropped by
// [Manager.Sweep].
package session
