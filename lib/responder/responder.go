// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/hostbridge/bridge"
	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/clock"
	"github.com/bureau-foundation/hostbridge/lib/config"
	"github.com/bureau-foundation/hostbridge/lib/container"
	"github.com/bureau-foundation/hostbridge/lib/endpoint"
	"github.com/bureau-foundation/hostbridge/lib/lifecycle"
	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/registry"
	"github.com/bureau-foundation/hostbridge/lib/session"
	"github.com/bureau-foundation/hostbridge/lib/socket"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Options configures a Responder.
type Options struct {
	Config *config.Config

	// Container holds the application's services. Nil means an empty
	// container.
	Container *container.Container

	// Upstream serves legacy requests. Nil proxies them to
	// Config.HTTP.LegacyUpstream.
	Upstream http.Handler

	// Registry receives the metrics. Nil creates a private registry.
	Registry *prometheus.Registry

	Clock  clock.Clock
	Logger *slog.Logger
}

// Responder is the assembled responder host.
type Responder struct {
	config    *config.Config
	logger    *slog.Logger
	metrics   *metrics.Collectors
	container *container.Container
	table     *boundary.Table
	registry  *registry.Registry
	sessions  *session.Manager
	adapter   *lifecycle.Adapter
	app       *lifecycle.Application
	endpoint  *endpoint.Server
	codec     token.Codec
	handler   http.Handler

	ready    chan struct{}
	httpAddr net.Addr
}

// New builds a responder. Nothing listens until Run.
func New(options Options) (*Responder, error) {
	cfg := options.Config
	if cfg == nil {
		return nil, errors.New("responder: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	promRegistry := options.Registry
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	services := options.Container
	if services == nil {
		var err error
		if services, err = container.NewBuilder(logger).Build(); err != nil {
			return nil, err
		}
	}

	r := &Responder{
		config:    cfg,
		logger:    logger,
		metrics:   metrics.New(promRegistry),
		container: services,
		ready:     make(chan struct{}),
	}

	mode, err := token.ParseMode(cfg.Bridge.Encoding)
	if err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}
	if r.codec, err = token.New(mode, advertisedEndpoint(cfg)); err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}

	r.table = boundary.NewTable(boundary.TableOptions{Logger: logger, Metrics: r.metrics})
	r.registry = registry.New(registry.Options{Clock: options.Clock, Logger: logger, Metrics: r.metrics})
	r.sessions = session.NewManager(session.Options{
		CookieName:  cfg.Session.CookieName,
		IdleTimeout: cfg.Session.IdleTimeoutDuration(),
		Secure:      cfg.Environment == config.Production,
		Clock:       options.Clock,
		Logger:      logger,
	})

	r.adapter, err = lifecycle.New(lifecycle.Options{
		Config: lifecycle.Config{
			Enabled:         cfg.Bridge.Enabled,
			Prefix:          cfg.Bridge.Prefix,
			SessionHeader:   cfg.Bridge.SessionHeader,
			ComponentHeader: cfg.Bridge.ComponentHeader,
			Classifier:      lifecycle.ExtensionClassifier(cfg.Bridge.LegacyExtensions...),
		},
		Table:    r.table,
		Codec:    r.codec,
		Sessions: lifecycle.SessionStores(),
		Scopes:   lifecycle.ContainerScopes(services),
		Logger:   logger,
		Metrics:  r.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}

	r.app, err = lifecycle.NewApplication(lifecycle.ApplicationOptions{
		ID:       cfg.Bridge.ApplicationID,
		Registry: r.registry,
		Table:    r.table,
		Codec:    r.codec,
		Root:     services.Root(),
		Logger:   logger,
		Metrics:  r.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}

	r.endpoint, err = endpoint.New(endpoint.Options{
		SocketPath:  cfg.Endpoint.SocketPath,
		Table:       r.table,
		Registry:    r.registry,
		Outstanding: r.adapter.Outstanding,
		Logger:      logger,
		Metrics:     r.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}

	upstream := options.Upstream
	if upstream == nil {
		target, err := url.Parse(cfg.HTTP.LegacyUpstream)
		if err != nil {
			return nil, fmt.Errorf("responder: legacy upstream: %w", err)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelError)
		upstream = proxy
	}

	mux := http.NewServeMux()
	if cfg.HTTP.MetricsPath != "" {
		mux.Handle(cfg.HTTP.MetricsPath, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", r.sessions.Middleware(r.adapter.Middleware(upstream)))
	r.handler = mux
	return r, nil
}

// advertisedEndpoint is the endpoint tokens name: the TCP forwarder
// when one is configured, the unix socket otherwise.
func advertisedEndpoint(cfg *config.Config) string {
	if cfg.Endpoint.TCPListen != "" {
		return socket.Endpoint{Network: "tcp", Address: cfg.Endpoint.TCPListen}.String()
	}
	return socket.UnixEndpoint(cfg.Endpoint.SocketPath)
}

// Handler is the HTTP front end.
func (r *Responder) Handler() http.Handler { return r.handler }

// Codec is the token codec in use.
func (r *Responder) Codec() token.Codec { return r.codec }

// Table is the handle table, for status reporting and tests.
func (r *Responder) Table() *boundary.Table { return r.table }

// Outstanding counts bridged requests in flight.
func (r *Responder) Outstanding() int { return r.adapter.Outstanding() }

// Ready is closed once every listener is bound and the application
// proxy is published.
func (r *Responder) Ready() <-chan struct{} { return r.ready }

// HTTPAddr returns the bound HTTP address after Ready.
func (r *Responder) HTTPAddr() net.Addr { return r.httpAddr }

// Run serves until ctx is cancelled, then shuts down in reverse order
// of startup.
func (r *Responder) Run(ctx context.Context) error {
	if err := r.config.EnsureRuntimeDir(); err != nil {
		return err
	}

	endpointCtx, stopEndpoint := context.WithCancel(context.Background())
	defer stopEndpoint()
	endpointErrors := make(chan error, 1)
	go func() { endpointErrors <- r.endpoint.Serve(endpointCtx) }()
	select {
	case <-r.endpoint.Ready():
	case err := <-endpointErrors:
		return fmt.Errorf("responder: endpoint: %w", err)
	}

	var forwarder *bridge.Forwarder
	if r.config.Endpoint.TCPListen != "" {
		var err error
		forwarder, err = bridge.New(bridge.Options{
			Listen:     r.config.Endpoint.TCPListen,
			SocketPath: r.endpoint.SocketPath(),
			Logger:     r.logger,
			Metrics:    r.metrics,
		})
		if err == nil {
			err = forwarder.Start(ctx)
		}
		if err != nil {
			stopEndpoint()
			<-endpointErrors
			return fmt.Errorf("responder: %w", err)
		}
		defer forwarder.Stop()
	}

	listener, err := net.Listen("tcp", r.config.HTTP.Listen)
	if err != nil {
		stopEndpoint()
		<-endpointErrors
		return fmt.Errorf("responder: listening on %s: %w", r.config.HTTP.Listen, err)
	}
	r.httpAddr = listener.Addr()

	if r.config.Bridge.Enabled {
		if err := r.app.Start(); err != nil {
			r.logger.Error("publishing application proxy failed; application lookups will fail", "error", err)
		}
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go r.sessions.Run(sweepCtx, sweepInterval)

	server := &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(r.logger.Handler(), slog.LevelError),
	}
	httpErrors := make(chan error, 1)
	go func() { httpErrors <- server.Serve(listener) }()

	r.logger.Info("responder ready",
		"http", r.httpAddr.String(),
		"endpoint", advertisedEndpoint(r.config),
		"encoding", r.codec.Mode(),
		"bridge_enabled", r.config.Bridge.Enabled,
	)
	close(r.ready)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-httpErrors:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	r.shutdown(server, stopEndpoint, endpointErrors)
	return serveErr
}

func (r *Responder) shutdown(server *http.Server, stopEndpoint context.CancelFunc, endpointErrors <-chan error) {
	r.logger.Info("responder shutting down", "outstanding", r.adapter.Outstanding())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("http shutdown incomplete", "error", err)
	}

	r.app.Shutdown()
	r.registry.Close()
	stopEndpoint()
	if err := <-endpointErrors; err != nil {
		r.logger.Warn("endpoint stopped with error", "error", err)
	}
	r.table.Close()
	if err := r.container.Dispose(); err != nil {
		r.logger.Warn("disposing application container", "error", err)
	}
	r.logger.Info("responder stopped", "live_references", r.table.Live())
}
