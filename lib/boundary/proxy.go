// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

// Kind distinguishes store proxies from container proxies.
type Kind uint8

const (
	KindStore Kind = iota + 1
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "store"
	case KindContainer:
		return "container"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Options configures a proxy.
type Options struct {
	// Prefix namespaces every key a store proxy reads or writes.
	Prefix string

	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Proxy is the remotely callable wrapper around one target. Methods
// are safe for concurrent use.
type Proxy struct {
	kind      Kind
	scope     token.Scope
	store     StoreResolver
	container ContainerResolver
	prefix    string
	logger    *slog.Logger
	metrics   *metrics.Collectors

	mu       sync.Mutex
	released bool
	owned    map[*Owned]struct{}
}

// NewStoreProxy returns a proxy over the store resolver returns.
func NewStoreProxy(scope token.Scope, resolver StoreResolver, options Options) *Proxy {
	proxy := newProxy(KindStore, scope, options)
	proxy.store = resolver
	return proxy
}

// NewContainerProxy returns a proxy over the container resolver
// returns.
func NewContainerProxy(scope token.Scope, resolver ContainerResolver, options Options) *Proxy {
	proxy := newProxy(KindContainer, scope, options)
	proxy.container = resolver
	return proxy
}

func newProxy(kind Kind, scope token.Scope, options Options) *Proxy {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		kind:    kind,
		scope:   scope,
		prefix:  options.Prefix,
		logger:  logger,
		metrics: options.Metrics,
		owned:   make(map[*Owned]struct{}),
	}
}

func (p *Proxy) Kind() Kind         { return p.kind }
func (p *Proxy) Scope() token.Scope { return p.scope }
func (p *Proxy) Prefix() string     { return p.prefix }

// Released reports whether Release has been called.
func (p *Proxy) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Release disconnects the proxy and releases every owned value it
// handed out that is still outstanding. Calling it again is a no-op.
func (p *Proxy) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	outstanding := make([]*Owned, 0, len(p.owned))
	for owned := range p.owned {
		outstanding = append(outstanding, owned)
	}
	p.mu.Unlock()

	for _, owned := range outstanding {
		owned.Release()
	}
}

func (p *Proxy) resolveStore() (Store, error) {
	if p.kind != KindStore {
		return nil, fmt.Errorf("%w: %s proxy has no store", ErrWrongTarget, p.kind)
	}
	if p.Released() {
		return nil, ErrTargetUnavailable
	}
	store, err := p.store()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrResolverNotReady
	}
	return store, nil
}

func (p *Proxy) resolveContainer() (Container, error) {
	if p.kind != KindContainer {
		return nil, fmt.Errorf("%w: %s proxy has no container", ErrWrongTarget, p.kind)
	}
	if p.Released() {
		return nil, ErrTargetUnavailable
	}
	container, err := p.container()
	if err != nil {
		return nil, err
	}
	if container == nil {
		return nil, ErrResolverNotReady
	}
	return container, nil
}

// SkippedValue records one entry Push did not write.
type SkippedValue struct {
	Key    string `cbor:"key"`
	Type   string `cbor:"type"`
	Reason string `cbor:"reason"`
}

// PushResult reports what Push wrote.
type PushResult struct {
	Written int            `cbor:"written"`
	Skipped []SkippedValue `cbor:"skipped,omitempty"`
}

// Push writes every item into the store under the proxy's prefix, in
// [Canonical] form. Values that cannot cross the boundary are skipped and reported in
// the result; they never fail the push.
func (p *Proxy) Push(items map[string]any) (PushResult, error) {
	store, err := p.resolveStore()
	if err != nil {
		return PushResult{}, err
	}

	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var result PushResult
	for _, key := range keys {
		value := items[key]
		if err := CheckTransferable(value); err != nil {
			var unsupported *UnsupportedValueError
			skipped := SkippedValue{Key: key, Type: fmt.Sprintf("%T", value), Reason: err.Error()}
			if errors.As(err, &unsupported) {
				skipped.Type = unsupported.Type
			}
			result.Skipped = append(result.Skipped, skipped)
			p.metrics.ValueSkipped()
			p.logger.Debug("skipping value that cannot cross the boundary",
				"key", key,
				"type", skipped.Type,
				"error", err,
			)
			continue
		}
		store.Set(p.prefix+key, Canonical(value))
		result.Written++
	}
	return result, nil
}

// Pull returns a snapshot of every prefixed store entry with the
// prefix removed. Entries holding values that cannot cross the
// boundary are left out.
func (p *Proxy) Pull() (map[string]any, error) {
	store, err := p.resolveStore()
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]any)
	for _, key := range store.Keys() {
		if !strings.HasPrefix(key, p.prefix) {
			continue
		}
		value, ok := store.Get(key)
		if !ok {
			continue
		}
		if err := CheckTransferable(value); err != nil {
			p.metrics.ValueSkipped()
			p.logger.Debug("not pulling value that cannot cross the boundary", "key", key, "error", err)
			continue
		}
		snapshot[strings.TrimPrefix(key, p.prefix)] = Canonical(value)
	}
	return snapshot, nil
}

// serviceFor maps a requested type name to a service key: an exact
// match first, then the first registered service whose declared full
// name matches.
func serviceFor(container Container, typeName string) (string, bool) {
	if container.KnowsType(typeName) {
		return typeName, true
	}
	for _, descriptor := range container.Services() {
		if descriptor.FullName == typeName {
			return descriptor.Service, true
		}
	}
	return "", false
}

// Resolve returns the service registered for typeName. No match is
// ErrServiceNotFound.
func (p *Proxy) Resolve(typeName string) (any, error) {
	container, err := p.resolveContainer()
	if err != nil {
		return nil, err
	}
	service, ok := serviceFor(container, typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, typeName)
	}
	return container.ResolveRequired(service)
}

// ResolveOptional is Resolve with an absent result instead of
// ErrServiceNotFound.
func (p *Proxy) ResolveOptional(typeName string) (any, bool, error) {
	container, err := p.resolveContainer()
	if err != nil {
		return nil, false, err
	}
	service, ok := serviceFor(container, typeName)
	if !ok {
		return nil, false, nil
	}
	return container.ResolveOptional(service)
}

// ResolveNamed resolves the registration of typeName keyed by name.
func (p *Proxy) ResolveNamed(name, typeName string) (any, error) {
	container, err := p.resolveContainer()
	if err != nil {
		return nil, err
	}
	service, ok := serviceFor(container, typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s named %q", ErrServiceNotFound, typeName, name)
	}
	return container.ResolveNamed(name, service)
}

// ResolveOwned resolves typeName together with everything it depends
// on. The caller must Release the result; releasing the proxy does so
// for any owned value still outstanding.
func (p *Proxy) ResolveOwned(typeName string) (*Owned, error) {
	container, err := p.resolveContainer()
	if err != nil {
		return nil, err
	}
	service, ok := serviceFor(container, typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, typeName)
	}
	value, release, err := container.ResolveOwned(service)
	if err != nil {
		return nil, err
	}

	owned := &Owned{Value: value, Service: service, parent: p, release: release}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		owned.Release()
		return nil, ErrTargetUnavailable
	}
	p.owned[owned] = struct{}{}
	p.mu.Unlock()

	return owned, nil
}

// OutstandingOwned counts owned values not yet released.
func (p *Proxy) OutstandingOwned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owned)
}

func (p *Proxy) forget(owned *Owned) {
	p.mu.Lock()
	delete(p.owned, owned)
	p.mu.Unlock()
}
