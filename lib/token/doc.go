// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package token converts references to responder-side proxies into
// printable tokens and back.
//
// A token travels over the side channel (request headers or CGI
// variables) from the responder host to the initiator host. Two
// encodings exist and a deployment picks one at startup with [New]:
//
//   - [ModeHandle]: the token is the proxy's handle as 16 uppercase
//     hex digits. Both hosts share a machine and agree on the
//     endpoint out of band.
//   - [ModeEnvelope]: the token is a base64, raw-deflate compressed,
//     BLAKE3-checksummed CBOR envelope that also carries the endpoint,
//     the proxy scope, and the mint time. Used when the initiator host
//     reaches the responder over TCP.
//
// An empty or zero token decodes to [ErrAbsent]: a request that was
// never bridged is not an error. Every other unreadable token yields a
// [*DecodeError] naming the stage that failed. Decoding never panics.
package token
