// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/clock"
)

// MaxTokenLength is the longest token either codec produces or
// accepts. Header values beyond this are routinely truncated by
// intermediaries.
const MaxTokenLength = 4096

// Handle identifies one proxy in the responder's handle table. Zero
// means no reference.
type Handle uint64

// String renders the handle the way [ModeHandle] tokens carry it.
func (h Handle) String() string {
	return fmt.Sprintf("%016X", uint64(h))
}

// Scope records which lifetime class a proxy belongs to.
type Scope uint8

const (
	// ScopeUnknown is reported when the token does not carry a scope.
	ScopeUnknown Scope = iota
	// ScopeTransient proxies live for one request.
	ScopeTransient
	// ScopeShared proxies live for the application.
	ScopeShared
)

func (s Scope) String() string {
	switch s {
	case ScopeUnknown:
		return "unknown"
	case ScopeTransient:
		return "transient"
	case ScopeShared:
		return "shared"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// Reference is the decoded content of a token.
type Reference struct {
	Handle Handle

	// Endpoint is where boundary calls for this handle are served, as
	// "unix:///path" or "tcp://host:port".
	Endpoint string

	Scope Scope

	// MintedAt is zero for handle-mode tokens.
	MintedAt time.Time
}

// Token is the printable form of a Reference.
type Token string

// Mode names a token encoding.
type Mode string

const (
	ModeHandle   Mode = "handle"
	ModeEnvelope Mode = "envelope"
)

// ParseMode validates a mode name from configuration.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case ModeHandle, ModeEnvelope:
		return Mode(name), nil
	default:
		return "", fmt.Errorf("token: unknown encoding %q (want %q or %q)", name, ModeHandle, ModeEnvelope)
	}
}

// Codec encodes and decodes tokens in one mode. Implementations are
// safe for concurrent use.
type Codec interface {
	Mode() Mode
	Encode(Reference) (Token, error)
	Decode(Token) (Reference, error)
}

// New returns the codec for mode. endpoint is the responder's boundary
// call address: handle tokens take it as the implied endpoint and
// envelope tokens embed it when the reference has none of its own.
func New(mode Mode, endpoint string) (Codec, error) {
	switch mode {
	case ModeHandle:
		return NewHandleCodec(endpoint), nil
	case ModeEnvelope:
		return NewEnvelopeCodec(endpoint, clock.Real()), nil
	default:
		return nil, fmt.Errorf("token: unknown encoding %q", mode)
	}
}

var (
	// ErrAbsent means the token was empty or named the zero handle.
	ErrAbsent = errors.New("token: no reference present")

	// ErrTokenTooLarge is returned by Encode when the token would
	// exceed MaxTokenLength.
	ErrTokenTooLarge = errors.New("token: encoded token exceeds maximum length")

	// ErrZeroHandle is returned by Encode for a reference without a handle.
	ErrZeroHandle = errors.New("token: cannot encode the zero handle")
)

// IsAbsent reports whether err means no token was present.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrAbsent)
}

// DecodeError reports a token that is present but unreadable.
type DecodeError struct {
	Mode Mode

	// Stage is the decoding step that failed: "length", "hex",
	// "base64", "inflate", "cbor", "checksum", "version", "scope", or
	// "handle".
	Stage string

	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("token: malformed %s token at %s: %v", e.Mode, e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
