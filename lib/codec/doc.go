// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration used on both sides of
// the boundary.
//
// Two things are CBOR-encoded: the request/response messages on the
// endpoint socket (see lib/socket) and the body of a serialized-envelope
// token (see package token). Both sides of a boundary call must agree
// on exactly how values map to bytes, so every package goes through
// this one configuration instead of building its own fxamacker modes.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): the
// same envelope always produces the same bytes, which keeps envelope
// checksums stable. time.Time values are written with the standard
// date/time tag so they decode back to time.Time on the far side
// rather than collapsing to a bare integer.
//
// For buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For sockets:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Struct fields on wire types use `cbor` tags. Values typed as any
// decode maps as map[string]any, never map[any]any, so a pulled session
// snapshot can be handed directly to code that expects string keys.
package codec
