// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry publishes application-lifetime tokens under
// correlation ids so the initiator host can find the shared container
// proxy without a per-request side channel.
//
// The registry is process-wide state with an explicit lifecycle:
// created at application start, [Registry.Close]d at shutdown, and
// injected wherever it is needed. One mutex guards it and is never
// held across a boundary call.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/clock"
	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

var (
	// ErrNotFound is returned by Lookup for an id with no live entry.
	ErrNotFound = errors.New("registry: no reference published under that id")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("registry: closed")
)

// ReleaseFunc releases the reference behind a published token.
type ReleaseFunc func()

// Options configures a Registry.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Entry describes one publication.
type Entry struct {
	ID          string    `cbor:"id"`
	PublishedAt time.Time `cbor:"published_at"`
}

type record struct {
	token       token.Token
	release     ReleaseFunc
	publishedAt time.Time
}

// Registry maps correlation ids to tokens.
type Registry struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Collectors

	mu      sync.Mutex
	entries map[string]record
	closed  bool
}

// New returns an empty registry.
func New(options Options) *Registry {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Registry{
		clock:   options.Clock,
		logger:  options.Logger,
		metrics: options.Metrics,
		entries: make(map[string]record),
	}
}

// Publish records tok under id. An entry already published under id is
// replaced and its release runs, so republishing never leaks the
// earlier reference. release may be nil.
func (r *Registry) Publish(id string, tok token.Token, release ReleaseFunc) error {
	if id == "" {
		return errors.New("registry: empty correlation id")
	}
	if tok == "" {
		return fmt.Errorf("registry: empty token for %q", id)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	previous, replaced := r.entries[id]
	r.entries[id] = record{token: tok, release: once(release), publishedAt: r.clock.Now()}
	size := len(r.entries)
	r.mu.Unlock()

	r.metrics.RegistrySize(size)
	if replaced {
		r.logger.Info("registry entry replaced", "id", id)
		runRelease(previous.release)
	} else {
		r.logger.Info("registry entry published", "id", id)
	}
	return nil
}

// Lookup returns the token published under id.
func (r *Registry) Lookup(id string) (token.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return entry.token, nil
}

// Revoke releases the reference published under id, then removes the
// entry. It reports whether an entry existed.
func (r *Registry) Revoke(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	runRelease(entry.release)

	r.mu.Lock()
	// A Publish may have replaced the entry while the release ran;
	// only remove what was released.
	current, stillThere := r.entries[id]
	if stillThere && current.token == entry.token && current.publishedAt.Equal(entry.publishedAt) {
		delete(r.entries, id)
	}
	size := len(r.entries)
	r.mu.Unlock()

	r.metrics.RegistrySize(size)
	r.logger.Info("registry entry revoked", "id", id)
	return true
}

// Entries returns every publication sorted by id.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.entries))
	for id, entry := range r.entries {
		entries = append(entries, Entry{ID: id, PublishedAt: entry.publishedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Close revokes every entry and refuses further publications. A second
// call is a no-op.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	remaining := r.entries
	r.entries = make(map[string]record)
	r.mu.Unlock()

	for _, entry := range remaining {
		runRelease(entry.release)
	}
	r.metrics.RegistrySize(0)
	if len(remaining) > 0 {
		r.logger.Info("registry closed", "revoked", len(remaining))
	}
}

// once makes release safe to call from racing Revoke and Close.
func once(release ReleaseFunc) ReleaseFunc {
	if release == nil {
		return nil
	}
	var guard sync.Once
	return func() { guard.Do(release) }
}

func runRelease(release ReleaseFunc) {
	if release != nil {
		release()
	}
}
