// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

// ReleaseFunc drops one reference. Calling it more than once is a
// no-op.
type ReleaseFunc func()

// TableOptions configures a Table.
type TableOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Table maps handles to proxies and to owned values handed out across
// the boundary. Each entry carries a reference count: one for its
// owner plus one per in-flight call. New calls are refused as soon as
// the owner releases; the entry itself, and the proxy behind it, go
// away when the last reference is dropped.
type Table struct {
	logger  *slog.Logger
	metrics *metrics.Collectors

	mu      sync.Mutex
	entries map[token.Handle]*entry
	closed  bool
}

type entry struct {
	handle token.Handle
	scope  token.Scope

	// Exactly one of proxy and owned is set.
	proxy *Proxy
	owned *Owned

	refs    int
	revoked bool
	removed bool
}

func (e *entry) label() string {
	if e.owned != nil {
		return "owned"
	}
	return e.scope.String()
}

func (e *entry) release() {
	if e.proxy != nil {
		e.proxy.Release()
	} else {
		e.owned.Release()
	}
}

// NewTable returns an empty handle table.
func NewTable(options TableOptions) *Table {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		logger:  logger,
		metrics: options.Metrics,
		entries: make(map[token.Handle]*entry),
	}
}

// Mint registers proxy under a fresh handle with a reference count of
// one. The returned ReleaseFunc is the owner's release path.
func (t *Table) Mint(proxy *Proxy) (token.Handle, ReleaseFunc, error) {
	return t.insert(&entry{proxy: proxy, scope: proxy.Scope()})
}

// MintOwned registers an owned value under a fresh handle. The entry
// disappears when the value is released by any path, including
// release of the proxy that produced it.
func (t *Table) MintOwned(owned *Owned) (token.Handle, ReleaseFunc, error) {
	scope := token.ScopeUnknown
	if owned.parent != nil {
		scope = owned.parent.Scope()
	}
	handle, release, err := t.insert(&entry{owned: owned, scope: scope})
	if err != nil {
		return 0, nil, err
	}
	owned.onRelease(func() { t.detach(handle) })
	return handle, release, nil
}

func (t *Table) insert(e *entry) (token.Handle, ReleaseFunc, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, nil, ErrTableClosed
	}
	handle, err := t.newHandleLocked()
	if err != nil {
		t.mu.Unlock()
		return 0, nil, err
	}
	e.handle = handle
	e.refs = 1
	t.entries[handle] = e
	t.mu.Unlock()

	t.metrics.ReferenceMinted(e.label())
	t.logger.Debug("reference minted", "handle", handle, "scope", e.label())

	var once sync.Once
	return handle, func() { once.Do(func() { t.revoke(e) }) }, nil
}

func (t *Table) newHandleLocked() (token.Handle, error) {
	var buffer [8]byte
	for {
		if _, err := rand.Read(buffer[:]); err != nil {
			return 0, fmt.Errorf("boundary: generating handle: %w", err)
		}
		handle := token.Handle(binary.BigEndian.Uint64(buffer[:]))
		if handle == 0 {
			continue
		}
		if _, taken := t.entries[handle]; taken {
			continue
		}
		return handle, nil
	}
}

// Acquire takes a reference on the proxy behind handle for the
// duration of one boundary call. Unknown and revoked handles report
// ErrTargetUnavailable; handles of owned values report ErrWrongTarget.
func (t *Table) Acquire(handle token.Handle) (*Proxy, ReleaseFunc, error) {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if !ok || e.revoked {
		t.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: handle %s", ErrTargetUnavailable, handle)
	}
	if e.proxy == nil {
		t.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: handle %s names an owned value", ErrWrongTarget, handle)
	}
	e.refs++
	t.mu.Unlock()

	var once sync.Once
	return e.proxy, func() { once.Do(func() { t.unref(e) }) }, nil
}

// ReleaseOwned drops the owner reference of an owned value's handle.
// Unknown handles are a no-op so a double release never fails.
func (t *Table) ReleaseOwned(handle token.Handle) error {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	if e.owned == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: handle %s names a proxy", ErrWrongTarget, handle)
	}
	t.mu.Unlock()

	t.revoke(e)
	return nil
}

// revoke drops the owner reference.
func (t *Table) revoke(e *entry) {
	t.mu.Lock()
	if e.revoked {
		t.mu.Unlock()
		return
	}
	e.revoked = true
	t.mu.Unlock()
	t.unref(e)
}

func (t *Table) unref(e *entry) {
	t.mu.Lock()
	e.refs--
	if e.refs > 0 || e.removed {
		t.mu.Unlock()
		return
	}
	e.removed = true
	delete(t.entries, e.handle)
	t.mu.Unlock()

	e.release()
	t.metrics.ReferenceReleased(e.label())
	t.logger.Debug("reference released", "handle", e.handle, "scope", e.label())
}

// detach removes an owned entry whose value was released elsewhere.
func (t *Table) detach(handle token.Handle) {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if !ok || e.removed {
		t.mu.Unlock()
		return
	}
	e.revoked = true
	e.removed = true
	delete(t.entries, handle)
	t.mu.Unlock()

	t.metrics.ReferenceReleased(e.label())
}

// Live counts entries that have not been removed.
func (t *Table) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// LiveByScope counts live entries per scope. Owned values count under
// the scope of the proxy that produced them.
func (t *Table) LiveByScope() map[token.Scope]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[token.Scope]int)
	for _, e := range t.entries {
		counts[e.scope]++
	}
	return counts
}

// Close releases every entry regardless of outstanding references and
// refuses further Mint calls. Later release calls for those entries
// are no-ops.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	remaining := make([]*entry, 0, len(t.entries))
	for handle, e := range t.entries {
		e.revoked = true
		e.removed = true
		remaining = append(remaining, e)
		delete(t.entries, handle)
	}
	t.mu.Unlock()

	for _, e := range remaining {
		e.release()
		t.metrics.ReferenceReleased(e.label())
	}
	if len(remaining) > 0 {
		t.logger.Info("handle table closed", "released", len(remaining))
	}
}
