// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/registry"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

// Action names.
const (
	ActionPull    = "pull"
	ActionPush    = "push"
	ActionResolve = "resolve"
	ActionRelease = "release"
	ActionLookup  = "lookup"
	ActionStatus  = "status"
)

// Error codes carried in failed responses.
const (
	CodeTargetUnavailable = "target_unavailable"
	CodeResolverNotReady  = "resolver_not_ready"
	CodeServiceNotFound   = "service_not_found"
	CodeWrongTarget       = "wrong_target"
	CodeUnsupportedValue  = "unsupported_value"
	CodeNotFound          = "not_found"
	CodeInvalidRequest    = "invalid_request"
)

// Resolve modes.
const (
	ModeRequired = "required"
	ModeOptional = "optional"
	ModeNamed    = "named"
	ModeOwned    = "owned"
)

type PullRequest struct {
	Handle token.Handle `cbor:"handle"`
}

type PullResponse struct {
	Items map[string]any `cbor:"items"`
}

type PushRequest struct {
	Handle token.Handle   `cbor:"handle"`
	Items  map[string]any `cbor:"items"`
}

type PushResponse = boundary.PushResult

type ResolveRequest struct {
	Handle  token.Handle `cbor:"handle"`
	Service string       `cbor:"service"`
	Mode    string       `cbor:"mode"`
	Name    string       `cbor:"name,omitempty"`
}

// ResolveResponse carries the exported value. Owned is the child
// handle of an owned resolution, zero otherwise.
type ResolveResponse struct {
	Present bool         `cbor:"present"`
	Value   any          `cbor:"value,omitempty"`
	Owned   token.Handle `cbor:"owned,omitempty"`
}

type ReleaseRequest struct {
	Handle token.Handle `cbor:"handle"`
}

type LookupRequest struct {
	Application string `cbor:"application"`
}

type LookupResponse struct {
	Token token.Token `cbor:"token"`
}

type StatusResponse struct {
	Live        int              `cbor:"live"`
	ByScope     map[string]int   `cbor:"by_scope"`
	Outstanding int              `cbor:"outstanding"`
	Registry    []registry.Entry `cbor:"registry"`
}
