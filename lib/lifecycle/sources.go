// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"fmt"
	"net/http"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/container"
	"github.com/bureau-foundation/hostbridge/lib/session"
)

// RequestService is the service key under which ContainerScopes
// provides the current *http.Request to the request scope.
const RequestService = "net/http.Request"

// SessionStores reads the store session.Manager.Middleware attached to
// the request. The session middleware must run before the adapter.
func SessionStores() SessionSource {
	return func(r *http.Request) (boundary.Store, error) {
		store, ok := session.FromContext(r.Context())
		if !ok {
			return nil, fmt.Errorf("no session attached to request: %w", boundary.ErrResolverNotReady)
		}
		return store, nil
	}
}

// ContainerScopes opens a child scope of c for each request, with the
// request itself provided as RequestService.
func ContainerScopes(c *container.Container) ScopeSource {
	return func(r *http.Request) (boundary.Container, func() error, error) {
		scope := c.BeginScope()
		if err := scope.Provide(RequestService, r); err != nil {
			scope.Dispose()
			return nil, nil, err
		}
		return scope, scope.Dispose, nil
	}
}
