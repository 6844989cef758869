// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint serves boundary calls from the initiator host.
//
// Each call is one CBOR request on its own connection to the
// responder's socket, naming a handle from a decoded token. The server
// takes a reference on the handle for the duration of the call, so a
// request that ends mid-call cannot pull the proxy out from under it.
// Failures carry a machine-readable code; see the Code constants.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/codec"
	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/registry"
	"github.com/bureau-foundation/hostbridge/lib/socket"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

var errInvalidRequest = errors.New("invalid request")

// Options configures a Server.
type Options struct {
	SocketPath string
	Table      *boundary.Table
	Registry   *registry.Registry

	// Outstanding, if set, reports bridged requests in flight for the
	// status action.
	Outstanding func() int

	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Server is the boundary call surface.
type Server struct {
	socket      *socket.Server
	table       *boundary.Table
	registry    *registry.Registry
	outstanding func() int
	logger      *slog.Logger
}

// New registers every action on a socket server for options.SocketPath.
func New(options Options) (*Server, error) {
	if options.SocketPath == "" {
		return nil, errors.New("endpoint: socket path is required")
	}
	if options.Table == nil || options.Registry == nil {
		return nil, errors.New("endpoint: handle table and registry are required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		socket:      socket.NewServer(options.SocketPath, logger),
		table:       options.Table,
		registry:    options.Registry,
		outstanding: options.Outstanding,
		logger:      logger,
	}
	s.socket.Classify = Classify
	collectors := options.Metrics
	s.socket.Observe = func(action, code string, duration time.Duration) {
		collectors.CallServed(action, code, duration)
	}

	s.socket.Handle(ActionPull, s.handlePull)
	s.socket.Handle(ActionPush, s.handlePush)
	s.socket.Handle(ActionResolve, s.handleResolve)
	s.socket.Handle(ActionRelease, s.handleRelease)
	s.socket.Handle(ActionLookup, s.handleLookup)
	s.socket.Handle(ActionStatus, s.handleStatus)
	return s, nil
}

// Serve accepts calls until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error { return s.socket.Serve(ctx) }

// Ready is closed once the socket is listening.
func (s *Server) Ready() <-chan struct{} { return s.socket.Ready() }

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string { return s.socket.SocketPath() }

// Classify maps an error to its response code. Unknown errors map to
// the empty string, which the socket server reports as internal.
func Classify(err error) string {
	var unsupported *boundary.UnsupportedValueError
	switch {
	case errors.Is(err, errInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, boundary.ErrTargetUnavailable), errors.Is(err, boundary.ErrTableClosed):
		return CodeTargetUnavailable
	case errors.Is(err, boundary.ErrResolverNotReady):
		return CodeResolverNotReady
	case errors.Is(err, boundary.ErrServiceNotFound):
		return CodeServiceNotFound
	case errors.Is(err, boundary.ErrWrongTarget):
		return CodeWrongTarget
	case errors.As(err, &unsupported):
		return CodeUnsupportedValue
	case errors.Is(err, registry.ErrNotFound):
		return CodeNotFound
	default:
		return ""
	}
}

func decode(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

// withProxy runs fn holding a reference on handle's proxy.
func (s *Server) withProxy(handle token.Handle, fn func(*boundary.Proxy) (any, error)) (any, error) {
	if handle == 0 {
		return nil, fmt.Errorf("%w: missing handle", errInvalidRequest)
	}
	proxy, release, err := s.table.Acquire(handle)
	if err != nil {
		return nil, err
	}
	defer release()
	return fn(proxy)
}

func (s *Server) handlePull(ctx context.Context, raw []byte) (any, error) {
	var request PullRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return s.withProxy(request.Handle, func(proxy *boundary.Proxy) (any, error) {
		items, err := proxy.Pull()
		if err != nil {
			return nil, err
		}
		return PullResponse{Items: items}, nil
	})
}

func (s *Server) handlePush(ctx context.Context, raw []byte) (any, error) {
	var request PushRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return s.withProxy(request.Handle, func(proxy *boundary.Proxy) (any, error) {
		result, err := proxy.Push(request.Items)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

func (s *Server) handleResolve(ctx context.Context, raw []byte) (any, error) {
	var request ResolveRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if request.Service == "" {
		return nil, fmt.Errorf("%w: missing service", errInvalidRequest)
	}

	return s.withProxy(request.Handle, func(proxy *boundary.Proxy) (any, error) {
		switch request.Mode {
		case ModeRequired, "":
			value, err := proxy.Resolve(request.Service)
			if err != nil {
				return nil, err
			}
			return present(value)

		case ModeOptional:
			value, found, err := proxy.ResolveOptional(request.Service)
			if err != nil {
				return nil, err
			}
			if !found {
				return ResolveResponse{}, nil
			}
			return present(value)

		case ModeNamed:
			if request.Name == "" {
				return nil, fmt.Errorf("%w: named resolution without a name", errInvalidRequest)
			}
			value, err := proxy.ResolveNamed(request.Name, request.Service)
			if err != nil {
				return nil, err
			}
			return present(value)

		case ModeOwned:
			return s.resolveOwned(proxy, request.Service)

		default:
			return nil, fmt.Errorf("%w: unknown resolve mode %q", errInvalidRequest, request.Mode)
		}
	})
}

func present(value any) (any, error) {
	exported, err := boundary.Export(value)
	if err != nil {
		return nil, err
	}
	return ResolveResponse{Present: true, Value: exported}, nil
}

func (s *Server) resolveOwned(proxy *boundary.Proxy, service string) (any, error) {
	owned, err := proxy.ResolveOwned(service)
	if err != nil {
		return nil, err
	}
	exported, err := boundary.Export(owned.Value)
	if err != nil {
		owned.Release()
		return nil, err
	}
	handle, _, err := s.table.MintOwned(owned)
	if err != nil {
		owned.Release()
		return nil, err
	}
	s.logger.Debug("owned value handed out", "service", service, "handle", handle)
	return ResolveResponse{Present: true, Value: exported, Owned: handle}, nil
}

func (s *Server) handleRelease(ctx context.Context, raw []byte) (any, error) {
	var request ReleaseRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if request.Handle == 0 {
		return nil, fmt.Errorf("%w: missing handle", errInvalidRequest)
	}
	return nil, s.table.ReleaseOwned(request.Handle)
}

func (s *Server) handleLookup(ctx context.Context, raw []byte) (any, error) {
	var request LookupRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if request.Application == "" {
		return nil, fmt.Errorf("%w: missing application", errInvalidRequest)
	}
	tok, err := s.registry.Lookup(request.Application)
	if err != nil {
		return nil, err
	}
	return LookupResponse{Token: tok}, nil
}

func (s *Server) handleStatus(ctx context.Context, raw []byte) (any, error) {
	byScope := make(map[string]int)
	for scope, count := range s.table.LiveByScope() {
		byScope[scope.String()] = count
	}
	response := StatusResponse{
		Live:     s.table.Live(),
		ByScope:  byScope,
		Registry: s.registry.Entries(),
	}
	if s.outstanding != nil {
		response.Outstanding = s.outstanding()
	}
	return response, nil
}
