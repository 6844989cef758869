// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
)

// Scope resolves services and owns the instances it created. Safe for
// concurrent use.
type Scope struct {
	container *Container
	parent    *Scope

	mu          sync.Mutex
	disposed    bool
	instances   map[serviceKey]any
	provided    map[string]any
	disposables []disposable
	children    map[*Scope]struct{}
}

type disposable struct {
	service  string
	instance any
	release  func(any) error
}

var _ boundary.Container = (*Scope)(nil)

func newScope(c *Container, parent *Scope) *Scope {
	return &Scope{
		container: c,
		parent:    parent,
		instances: make(map[serviceKey]any),
		provided:  make(map[string]any),
		children:  make(map[*Scope]struct{}),
	}
}

// BeginScope opens a child scope. A child of a disposed scope starts
// out disposed.
func (s *Scope) BeginScope() *Scope {
	child := newScope(s.container, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		child.disposed = true
		return child
	}
	s.children[child] = struct{}{}
	return child
}

// Provide makes value resolvable as service in this scope and its
// children. Provided values are not released on disposal.
func (s *Scope) Provide(service string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrScopeDisposed
	}
	s.provided[service] = value
	return nil
}

// Disposed reports whether Dispose has run.
func (s *Scope) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose disposes child scopes, then releases this scope's instances
// in reverse creation order. Every release runs even if an earlier one
// fails; failures are joined. A second call is a no-op.
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	children := make([]*Scope, 0, len(s.children))
	for child := range s.children {
		children = append(children, child)
	}
	s.children = nil
	disposables := s.disposables
	s.disposables = nil
	s.instances = nil
	s.mu.Unlock()

	var errs []error
	for _, child := range children {
		if err := child.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(disposables) - 1; i >= 0; i-- {
		if err := runRelease(disposables[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if s.parent != nil {
		s.parent.mu.Lock()
		if s.parent.children != nil {
			delete(s.parent.children, s)
		}
		s.parent.mu.Unlock()
	}
	return errors.Join(errs...)
}

func runRelease(d disposable) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("container: releasing %s panicked: %v", d.service, recovered)
		}
	}()
	if releaseErr := d.release(d.instance); releaseErr != nil {
		return fmt.Errorf("container: releasing %s: %w", d.service, releaseErr)
	}
	return nil
}

func (s *Scope) root() *Scope {
	scope := s
	for scope.parent != nil {
		scope = scope.parent
	}
	return scope
}

// findProvided searches this scope and its ancestors.
func (s *Scope) findProvided(service string) (any, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		scope.mu.Lock()
		value, ok := scope.provided[service]
		scope.mu.Unlock()
		if ok {
			return value, true
		}
	}
	return nil, false
}

func (s *Scope) resolve(service, name string) (any, error) {
	if s.Disposed() {
		return nil, ErrScopeDisposed
	}
	if name == "" {
		if value, ok := s.findProvided(service); ok {
			return value, nil
		}
	}

	registration, ok := s.container.lookup(service, name)
	if !ok {
		if name != "" {
			return nil, fmt.Errorf("%w: %s named %q", ErrNotRegistered, service, name)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, service)
	}

	switch registration.Lifetime {
	case Singleton:
		return s.root().shared(registration)
	case PerScope:
		return s.shared(registration)
	default:
		return s.create(registration)
	}
}

// shared returns the instance this scope holds for registration,
// creating it if needed. The factory runs outside the lock; if two
// callers race, the first stored instance wins and the other is
// released.
func (s *Scope) shared(registration *Registration) (any, error) {
	key := serviceKey{service: registration.Service, name: registration.Name}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrScopeDisposed
	}
	if instance, ok := s.instances[key]; ok {
		s.mu.Unlock()
		return instance, nil
	}
	s.mu.Unlock()

	instance, err := registration.Factory(s)
	if err != nil {
		return nil, fmt.Errorf("container: creating %s: %w", registration.Service, err)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.discard(registration, instance)
		return nil, ErrScopeDisposed
	}
	if existing, ok := s.instances[key]; ok {
		s.mu.Unlock()
		s.discard(registration, instance)
		return existing, nil
	}
	s.instances[key] = instance
	if registration.Release != nil {
		s.disposables = append(s.disposables, disposable{registration.Service, instance, registration.Release})
	}
	s.mu.Unlock()
	return instance, nil
}

func (s *Scope) create(registration *Registration) (any, error) {
	instance, err := registration.Factory(s)
	if err != nil {
		return nil, fmt.Errorf("container: creating %s: %w", registration.Service, err)
	}
	if registration.Release == nil {
		return instance, nil
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.discard(registration, instance)
		return nil, ErrScopeDisposed
	}
	s.disposables = append(s.disposables, disposable{registration.Service, instance, registration.Release})
	s.mu.Unlock()
	return instance, nil
}

func (s *Scope) discard(registration *Registration, instance any) {
	if registration.Release == nil {
		return
	}
	if err := runRelease(disposable{registration.Service, instance, registration.Release}); err != nil {
		s.container.logger.Warn("releasing discarded instance failed", "service", registration.Service, "error", err)
	}
}

// Resolve is ResolveRequired for Go callers.
func (s *Scope) Resolve(service string) (any, error) {
	return s.resolve(service, "")
}

// KnowsType reports whether service is registered or provided under
// exactly that key.
func (s *Scope) KnowsType(service string) bool {
	if _, ok := s.container.lookup(service, ""); ok {
		return true
	}
	_, ok := s.findProvided(service)
	return ok
}

// Services lists registered services followed by values provided in
// this scope chain.
func (s *Scope) Services() []boundary.ServiceDescriptor {
	descriptors := append([]boundary.ServiceDescriptor(nil), s.container.descriptors...)

	var provided []string
	seen := make(map[string]bool)
	for scope := s; scope != nil; scope = scope.parent {
		scope.mu.Lock()
		for service := range scope.provided {
			if !seen[service] {
				seen[service] = true
				provided = append(provided, service)
			}
		}
		scope.mu.Unlock()
	}
	sort.Strings(provided)
	for _, service := range provided {
		descriptors = append(descriptors, boundary.ServiceDescriptor{Service: service, FullName: service})
	}
	return descriptors
}

func (s *Scope) ResolveRequired(service string) (any, error) {
	return s.resolve(service, "")
}

// ResolveOptional reports false when service is neither registered
// nor provided. A registered service whose dependencies are missing is
// still an error.
func (s *Scope) ResolveOptional(service string) (any, bool, error) {
	if !s.KnowsType(service) {
		return nil, false, nil
	}
	value, err := s.resolve(service, "")
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Scope) ResolveNamed(name, service string) (any, error) {
	return s.resolve(service, name)
}

// ResolveOwned resolves service in a new child scope. The returned
// release disposes that scope, releasing the value and everything
// created alongside it.
func (s *Scope) ResolveOwned(service string) (any, func(), error) {
	child := s.BeginScope()
	value, err := child.resolve(service, "")
	if err != nil {
		child.Dispose()
		return nil, nil, err
	}
	release := func() {
		if err := child.Dispose(); err != nil {
			s.container.logger.Warn("releasing owned service failed", "service", service, "error", err)
		}
	}
	return value, release, nil
}
