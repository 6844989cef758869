// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/hostbridge/lib/clock"
)

// Options configures a Manager.
type Options struct {
	// CookieName is the session cookie. Default: HOSTBRIDGE_SESSION
	CookieName string

	// IdleTimeout is how long an unused session survives. Default: 20m
	IdleTimeout time.Duration

	// Secure marks the cookie Secure.
	Secure bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager owns every live session.
type Manager struct {
	cookieName  string
	idleTimeout time.Duration
	secure      bool
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Store
}

// NewManager returns an empty manager.
func NewManager(options Options) *Manager {
	if options.CookieName == "" {
		options.CookieName = "HOSTBRIDGE_SESSION"
	}
	if options.IdleTimeout <= 0 {
		options.IdleTimeout = 20 * time.Minute
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Manager{
		cookieName:  options.CookieName,
		idleTimeout: options.IdleTimeout,
		secure:      options.Secure,
		clock:       options.Clock,
		logger:      options.Logger,
		sessions:    make(map[string]*Store),
	}
}

// Attach returns the session named by the request's cookie, or starts
// a new one and sets the cookie on w. Expired and unknown ids start a
// new session rather than reviving the old id.
func (m *Manager) Attach(w http.ResponseWriter, r *http.Request) *Store {
	now := m.clock.Now()

	if cookie, err := r.Cookie(m.cookieName); err == nil {
		m.mu.RLock()
		store, ok := m.sessions[cookie.Value]
		m.mu.RUnlock()
		if ok && now.Sub(store.LastAccess()) < m.idleTimeout {
			store.touch(now)
			return store
		}
	}

	store := newStore(uuid.NewString(), now)
	m.mu.Lock()
	m.sessions[store.id] = store
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    store.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	m.logger.Debug("session started", "session", store.id)
	return store
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.sessions[id]
	return store, ok
}

// Len returns the number of sessions held, expired or not.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for at least the idle timeout and returns
// how many were dropped.
func (m *Manager) Sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, store := range m.sessions {
		if now.Sub(store.LastAccess()) >= m.idleTimeout {
			delete(m.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		m.logger.Debug("idle sessions dropped", "count", dropped, "remaining", len(m.sessions))
	}
	return dropped
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

type contextKey struct{}

// WithStore returns a copy of ctx carrying store.
func WithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, contextKey{}, store)
}

// FromContext returns the store attached by Middleware.
func FromContext(ctx context.Context) (*Store, bool) {
	store, ok := ctx.Value(contextKey{}).(*Store)
	return store, ok
}

// Middleware attaches a session to every request.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := m.Attach(w, r)
		next.ServeHTTP(w, r.WithContext(WithStore(r.Context(), store)))
	})
}
