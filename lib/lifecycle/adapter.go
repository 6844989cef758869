// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

// Classifier reports whether a request needs the bridge.
type Classifier func(*http.Request) bool

// ExtensionClassifier matches requests whose path ends in one of
// extensions, compared case-insensitively. With no arguments it
// matches ".asp".
func ExtensionClassifier(extensions ...string) Classifier {
	if len(extensions) == 0 {
		extensions = []string{".asp"}
	}
	wanted := make(map[string]bool, len(extensions))
	for _, extension := range extensions {
		wanted[strings.ToLower(extension)] = true
	}
	return func(r *http.Request) bool {
		return wanted[strings.ToLower(path.Ext(r.URL.Path))]
	}
}

// HeaderClassifier matches requests carrying a non-empty header name,
// for front ends that mark legacy traffic themselves.
func HeaderClassifier(name string) Classifier {
	return func(r *http.Request) bool {
		return r.Header.Get(name) != ""
	}
}

// Config holds the adapter settings.
type Config struct {
	// Enabled turns the adapter on. Disabled, every request stays Idle
	// (inbound side-channel headers are still removed).
	Enabled bool

	// Prefix namespaces the keys the store proxy reads and writes.
	Prefix string

	SessionHeader   string
	ComponentHeader string

	Classifier Classifier
}

// DefaultConfig returns the defaults: enabled, prefix ASP_, the
// Hostbridge-*-Ref headers and the .asp extension classifier.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Prefix:          "ASP_",
		SessionHeader:   "Hostbridge-Session-Ref",
		ComponentHeader: "Hostbridge-Component-Ref",
		Classifier:      ExtensionClassifier(".asp"),
	}
}

// SessionSource returns the session store for a request.
type SessionSource func(*http.Request) (boundary.Store, error)

// ScopeSource opens the container scope for a request and returns the
// function that disposes it.
type ScopeSource func(*http.Request) (boundary.Container, func() error, error)

// Options configures an Adapter. Sessions and Scopes may be nil, in
// which case the matching proxy is not minted.
type Options struct {
	Config   Config
	Table    *boundary.Table
	Codec    token.Codec
	Sessions SessionSource
	Scopes   ScopeSource
	Logger   *slog.Logger
	Metrics  *metrics.Collectors
}

// Adapter is the request lifecycle middleware.
type Adapter struct {
	config   Config
	table    *boundary.Table
	codec    token.Codec
	sessions SessionSource
	scopes   ScopeSource
	logger   *slog.Logger
	metrics  *metrics.Collectors

	mu          sync.Mutex
	outstanding map[string]*Request
}

// New validates options and returns an adapter.
func New(options Options) (*Adapter, error) {
	if options.Table == nil {
		return nil, errors.New("lifecycle: handle table is required")
	}
	if options.Codec == nil {
		return nil, errors.New("lifecycle: token codec is required")
	}
	config := options.Config
	if config.SessionHeader == "" || config.ComponentHeader == "" {
		return nil, errors.New("lifecycle: both side-channel header names are required")
	}
	if config.Classifier == nil {
		config.Classifier = ExtensionClassifier()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config:      config,
		table:       options.Table,
		codec:       options.Codec,
		sessions:    options.Sessions,
		scopes:      options.Scopes,
		logger:      logger,
		metrics:     options.Metrics,
		outstanding: make(map[string]*Request),
	}, nil
}

// Middleware runs next between Begin and End. End is deferred so it
// runs even when next panics.
func (a *Adapter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bridged, request := a.Begin(w, r)
		defer a.End(request)
		next.ServeHTTP(w, bridged)
	})
}

// Outstanding counts requests in ProxyPublished.
func (a *Adapter) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outstanding)
}

// Begin scrubs the side-channel headers and, for legacy requests,
// publishes the request's proxies. It returns the request to hand
// downstream, whose context carries the returned *Request. Failures
// leave the request Idle: the initiator host then sees no token and
// proceeds without the bridge.
func (a *Adapter) Begin(w http.ResponseWriter, r *http.Request) (*http.Request, *Request) {
	request := &Request{ID: uuid.NewString(), state: StateIdle}

	downstream := r.WithContext(context.WithValue(r.Context(), contextKey{}, request))
	downstream.Header = r.Header.Clone()
	if downstream.Header == nil {
		downstream.Header = make(http.Header)
	}
	scrubbed := downstream.Header.Get(a.config.SessionHeader) != "" ||
		downstream.Header.Get(a.config.ComponentHeader) != ""
	downstream.Header.Del(a.config.SessionHeader)
	downstream.Header.Del(a.config.ComponentHeader)
	if scrubbed {
		a.logger.Warn("removed inbound side-channel header",
			"request", request.ID,
			"remote", r.RemoteAddr,
			"path", r.URL.Path,
		)
	}

	if !a.config.Enabled || !a.config.Classifier(r) {
		a.metrics.RequestSeen("idle")
		return downstream, request
	}

	if err := a.publish(downstream, request); err != nil {
		a.logger.Error("bridging request failed; continuing without bridge",
			"request", request.ID,
			"path", r.URL.Path,
			"error", err,
		)
		a.teardown(request)
		request.SessionToken = ""
		request.ComponentToken = ""
		downstream.Header.Del(a.config.SessionHeader)
		downstream.Header.Del(a.config.ComponentHeader)
		a.metrics.RequestSeen("failed")
		return downstream, request
	}

	a.mu.Lock()
	a.outstanding[request.ID] = request
	a.mu.Unlock()

	request.mu.Lock()
	request.state = StatePublished
	request.mu.Unlock()

	a.metrics.RequestSeen("bridged")
	a.logger.Debug("request bridged",
		"request", request.ID,
		"path", r.URL.Path,
		"resources", len(request.resources),
	)
	return downstream, request
}

// publish mints the proxies and writes their tokens. Whatever it
// manages to create is recorded on request so teardown can release it.
func (a *Adapter) publish(r *http.Request, request *Request) error {
	options := boundary.Options{Prefix: a.config.Prefix, Logger: a.logger, Metrics: a.metrics}

	if a.sessions != nil {
		store, err := a.sessions(r)
		if err != nil {
			return fmt.Errorf("resolving session store: %w", err)
		}
		proxy := boundary.NewStoreProxy(token.ScopeTransient, func() (boundary.Store, error) {
			if request.ended.Load() {
				return nil, boundary.ErrTargetUnavailable
			}
			return store, nil
		}, options)
		tok, err := a.mint(request, "session", proxy)
		if err != nil {
			return err
		}
		request.SessionToken = tok
		r.Header.Set(a.config.SessionHeader, string(tok))
	}

	if a.scopes != nil {
		container, dispose, err := a.scopes(r)
		if err != nil {
			return fmt.Errorf("opening request scope: %w", err)
		}
		request.mu.Lock()
		request.dispose = dispose
		request.mu.Unlock()

		proxy := boundary.NewContainerProxy(token.ScopeTransient, func() (boundary.Container, error) {
			if request.ended.Load() {
				return nil, boundary.ErrTargetUnavailable
			}
			return container, nil
		}, options)
		tok, err := a.mint(request, "components", proxy)
		if err != nil {
			return err
		}
		request.ComponentToken = tok
		r.Header.Set(a.config.ComponentHeader, string(tok))
	}
	return nil
}

func (a *Adapter) mint(request *Request, name string, proxy *boundary.Proxy) (token.Token, error) {
	handle, release, err := a.table.Mint(proxy)
	if err != nil {
		return "", fmt.Errorf("minting %s proxy: %w", name, err)
	}
	request.record(name, func() { release() })

	tok, err := a.codec.Encode(token.Reference{Handle: handle, Scope: token.ScopeTransient})
	if err != nil {
		return "", fmt.Errorf("encoding %s token: %w", name, err)
	}
	return tok, nil
}

// End releases everything Begin published for request. It runs at most
// once per request; Idle requests and repeat calls do nothing. It never
// panics and never returns an error.
func (a *Adapter) End(request *Request) {
	if request == nil {
		return
	}
	request.mu.Lock()
	if request.state != StatePublished {
		request.mu.Unlock()
		return
	}
	request.state = StateReleased
	request.mu.Unlock()

	a.teardown(request)

	a.mu.Lock()
	delete(a.outstanding, request.ID)
	a.mu.Unlock()

	a.logger.Debug("request released", "request", request.ID)
}

// teardown releases recorded resources and disposes the request scope,
// swallowing every failure.
func (a *Adapter) teardown(request *Request) {
	request.ended.Store(true)

	request.mu.Lock()
	resources := request.resources
	request.resources = nil
	dispose := request.dispose
	request.dispose = nil
	request.mu.Unlock()

	for _, resource := range resources {
		a.guard(request, resource.name, func() error {
			resource.release()
			return nil
		})
	}
	if dispose != nil {
		a.guard(request, "scope", dispose)
	}
}

func (a *Adapter) guard(request *Request, what string, step func() error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			a.metrics.TeardownFailed()
			a.logger.Error("request teardown panicked",
				"request", request.ID,
				"resource", what,
				"panic", recovered,
			)
		}
	}()
	if err := step(); err != nil {
		a.metrics.TeardownFailed()
		a.logger.Warn("request teardown failed",
			"request", request.ID,
			"resource", what,
			"error", err,
		)
	}
}
