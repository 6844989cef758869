// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
)

// Lifetime controls how instances are shared.
type Lifetime int

const (
	PerDependency Lifetime = iota
	PerScope
	Singleton
)

func (l Lifetime) String() string {
	switch l {
	case PerDependency:
		return "per-dependency"
	case PerScope:
		return "per-scope"
	case Singleton:
		return "singleton"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// Factory creates one instance. scope resolves dependencies; for
// singletons it is the root scope.
type Factory func(scope *Scope) (any, error)

// Registration describes one service.
type Registration struct {
	// Service is the key the service is resolved by, for example
	// "Foo.Bar" or "greeting.Greeter".
	Service string

	// FullName is the declared full type name, used when a caller asks
	// by a name other than the key. Defaults to Service.
	FullName string

	// Name distinguishes keyed registrations of the same service.
	Name string

	Lifetime Lifetime
	Factory  Factory

	// Release, if set, runs when the scope owning an instance is
	// disposed.
	Release func(instance any) error
}

var (
	// ErrNotRegistered matches boundary.ErrServiceNotFound.
	ErrNotRegistered = fmt.Errorf("container: %w", boundary.ErrServiceNotFound)

	// ErrScopeDisposed matches boundary.ErrTargetUnavailable.
	ErrScopeDisposed = fmt.Errorf("container: scope disposed: %w", boundary.ErrTargetUnavailable)
)

type serviceKey struct {
	service string
	name    string
}

// Builder collects registrations.
type Builder struct {
	logger        *slog.Logger
	registrations []Registration
}

// NewBuilder returns an empty builder. logger receives disposal
// failures; nil means slog.Default().
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Register adds a registration. Problems are reported by Build.
func (b *Builder) Register(registration Registration) *Builder {
	b.registrations = append(b.registrations, registration)
	return b
}

// Build validates the registrations and returns the container.
func (b *Builder) Build() (*Container, error) {
	var errs []error
	registrations := make(map[serviceKey]*Registration, len(b.registrations))

	for i := range b.registrations {
		registration := b.registrations[i]
		if registration.Service == "" {
			errs = append(errs, fmt.Errorf("registration %d: service is required", i))
			continue
		}
		if registration.Factory == nil {
			errs = append(errs, fmt.Errorf("registration %q: factory is required", registration.Service))
			continue
		}
		if registration.Lifetime < PerDependency || registration.Lifetime > Singleton {
			errs = append(errs, fmt.Errorf("registration %q: invalid %s", registration.Service, registration.Lifetime))
			continue
		}
		if registration.FullName == "" {
			registration.FullName = registration.Service
		}
		key := serviceKey{service: registration.Service, name: registration.Name}
		if _, duplicate := registrations[key]; duplicate {
			errs = append(errs, fmt.Errorf("registration %q (name %q) is registered twice", key.service, key.name))
			continue
		}
		registrations[key] = &registration
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("container: %w", err)
	}

	descriptors := make([]boundary.ServiceDescriptor, 0, len(registrations))
	for key, registration := range registrations {
		descriptors = append(descriptors, boundary.ServiceDescriptor{
			Service:  key.service,
			FullName: registration.FullName,
			Name:     key.name,
		})
	}
	sort.Slice(descriptors, func(i, j int) bool {
		if descriptors[i].Service != descriptors[j].Service {
			return descriptors[i].Service < descriptors[j].Service
		}
		return descriptors[i].Name < descriptors[j].Name
	})

	c := &Container{
		logger:        b.logger,
		registrations: registrations,
		descriptors:   descriptors,
	}
	c.root = newScope(c, nil)
	return c, nil
}

// Container holds the validated registrations and the root scope.
type Container struct {
	logger        *slog.Logger
	registrations map[serviceKey]*Registration
	descriptors   []boundary.ServiceDescriptor
	root          *Scope
}

// Root returns the application-lifetime scope.
func (c *Container) Root() *Scope { return c.root }

// BeginScope opens a child of the root scope.
func (c *Container) BeginScope() *Scope { return c.root.BeginScope() }

// Dispose disposes the root scope and everything beneath it.
func (c *Container) Dispose() error { return c.root.Dispose() }

func (c *Container) lookup(service, name string) (*Registration, bool) {
	registration, ok := c.registrations[serviceKey{service: service, name: name}]
	return registration, ok
}
