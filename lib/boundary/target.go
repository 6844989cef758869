// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

// Store is the key/value collaborator behind a store proxy. The
// session store is the usual implementation. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Remove(key string)
	Keys() []string
}

// ServiceDescriptor describes one registered service.
type ServiceDescriptor struct {
	// Service is the key the container resolves by.
	Service string

	// FullName is the declared full type name of the service, which
	// may differ from Service when a concrete type is registered
	// under an interface name.
	FullName string

	// Name is set for named registrations.
	Name string
}

// Container is the dependency container collaborator behind a
// container proxy. Resolution must be safe for concurrent use: the
// application-wide proxy is shared by every request.
type Container interface {
	// KnowsType reports an exact match for a service key.
	KnowsType(service string) bool

	Services() []ServiceDescriptor

	ResolveRequired(service string) (any, error)

	// ResolveOptional reports false when nothing is registered.
	ResolveOptional(service string) (any, bool, error)

	ResolveNamed(name, service string) (any, error)

	// ResolveOwned returns the value with the action that releases
	// everything resolved along with it.
	ResolveOwned(service string) (any, func(), error)
}

// StoreResolver returns the current store for a proxy. It returns
// ErrResolverNotReady while no store exists yet and
// ErrTargetUnavailable once the store is gone for good.
type StoreResolver func() (Store, error)

// ContainerResolver is the container counterpart of StoreResolver.
type ContainerResolver func() (Container, error)
