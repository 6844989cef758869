// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/registry"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

// ApplicationOptions configures an Application.
type ApplicationOptions struct {
	// ID is the correlation id the shared proxy is published under.
	ID string

	Registry *registry.Registry
	Table    *boundary.Table
	Codec    token.Codec

	// Root is the application-lifetime container.
	Root boundary.Container

	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Application owns the shared container proxy for the lifetime of the
// process.
type Application struct {
	options ApplicationOptions
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewApplication validates options.
func NewApplication(options ApplicationOptions) (*Application, error) {
	switch {
	case options.ID == "":
		return nil, errors.New("lifecycle: application id is required")
	case options.Registry == nil, options.Table == nil, options.Codec == nil, options.Root == nil:
		return nil, errors.New("lifecycle: application needs a registry, table, codec and root container")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Application{options: options, logger: logger}, nil
}

// Start mints the shared container proxy and publishes its token.
// Calling Start on a started application does nothing.
func (a *Application) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	root := a.options.Root
	proxy := boundary.NewContainerProxy(token.ScopeShared, func() (boundary.Container, error) {
		return root, nil
	}, boundary.Options{Logger: a.logger, Metrics: a.options.Metrics})

	handle, release, err := a.options.Table.Mint(proxy)
	if err != nil {
		return fmt.Errorf("lifecycle: minting application proxy: %w", err)
	}
	tok, err := a.options.Codec.Encode(token.Reference{Handle: handle, Scope: token.ScopeShared})
	if err != nil {
		release()
		return fmt.Errorf("lifecycle: encoding application token: %w", err)
	}
	if err := a.options.Registry.Publish(a.options.ID, tok, registry.ReleaseFunc(release)); err != nil {
		release()
		return fmt.Errorf("lifecycle: publishing application token: %w", err)
	}

	a.started = true
	a.logger.Info("application proxy published", "application", a.options.ID, "handle", handle)
	return nil
}

// Shutdown revokes the published token, releasing the shared proxy.
// Calling it again, or before Start, does nothing.
func (a *Application) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	a.started = false
	a.options.Registry.Revoke(a.options.ID)
	a.logger.Info("application proxy revoked", "application", a.options.ID)
}
