// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/hostbridge/lib/token"
)

// State is a request's position in the bridge lifecycle.
type State int

const (
	StateIdle State = iota
	StatePublished
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePublished:
		return "proxy-published"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Request is the bridge state of one HTTP request.
type Request struct {
	ID string

	// SessionToken and ComponentToken are the tokens written to the
	// side channel, empty when not published.
	SessionToken   token.Token
	ComponentToken token.Token

	// ended flips before teardown starts so proxy resolvers stop
	// handing out the request's targets.
	ended atomic.Bool

	mu        sync.Mutex
	state     State
	resources []resource
	dispose   func() error
}

type resource struct {
	name    string
	release func()
}

// State returns the current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Bridged reports whether any token was published for the request.
func (r *Request) Bridged() bool {
	return r.SessionToken != "" || r.ComponentToken != ""
}

func (r *Request) record(name string, release func()) {
	r.mu.Lock()
	r.resources = append(r.resources, resource{name: name, release: release})
	r.mu.Unlock()
}

type contextKey struct{}

// FromContext returns the bridge state Begin attached to a request
// context.
func FromContext(ctx context.Context) (*Request, bool) {
	request, ok := ctx.Value(contextKey{}).(*Request)
	return request, ok
}
