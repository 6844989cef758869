// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/endpoint"
	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/registry"
	"github.com/bureau-foundation/hostbridge/lib/socket"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

var (
	// ErrBridgeUnavailable means no usable token was present or the
	// responder cannot be reached. Decode failures match it too.
	ErrBridgeUnavailable = errors.New("consumer: bridge unavailable")

	// ErrUnsupportedValue means the responder could not send a value
	// across the boundary.
	ErrUnsupportedValue = errors.New("consumer: value cannot cross the boundary")

	// ErrInvalidRequest means the responder rejected the call itself.
	ErrInvalidRequest = errors.New("consumer: request rejected as invalid")
)

// Options configures a Bridge.
type Options struct {
	Codec token.Codec

	// SessionField and ComponentField name the side-channel fields.
	// Defaults: Hostbridge-Session-Ref, Hostbridge-Component-Ref.
	SessionField   string
	ComponentField string

	// Endpoint is where application lookups are sent, in
	// socket.ParseEndpoint form.
	Endpoint string

	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Bridge connects local code to the responder.
type Bridge struct {
	codec          token.Codec
	sessionField   string
	componentField string
	endpoint       string
	logger         *slog.Logger
	metrics        *metrics.Collectors
}

// New returns a bridge for options.
func New(options Options) (*Bridge, error) {
	if options.Codec == nil {
		return nil, errors.New("consumer: token codec is required")
	}
	if options.SessionField == "" {
		options.SessionField = "Hostbridge-Session-Ref"
	}
	if options.ComponentField == "" {
		options.ComponentField = "Hostbridge-Component-Ref"
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Bridge{
		codec:          options.Codec,
		sessionField:   options.SessionField,
		componentField: options.ComponentField,
		endpoint:       options.Endpoint,
		logger:         options.Logger,
		metrics:        options.Metrics,
	}, nil
}

// ConnectSession returns a handle on the request's session store.
func (b *Bridge) ConnectSession(source Source) (*Handle, error) {
	return b.connect(source, b.sessionField)
}

// ConnectComponents returns a handle on the request's container scope.
func (b *Bridge) ConnectComponents(source Source) (*Handle, error) {
	return b.connect(source, b.componentField)
}

// Available reports whether the session field carries a usable token.
func (b *Bridge) Available(source Source) bool {
	_, err := b.ConnectSession(source)
	return err == nil
}

func (b *Bridge) connect(source Source, field string) (*Handle, error) {
	raw, ok := source.Value(field)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: no %s token", ErrBridgeUnavailable, field)
	}
	return b.open(token.Token(raw), field)
}

func (b *Bridge) open(raw token.Token, field string) (*Handle, error) {
	reference, err := b.codec.Decode(raw)
	if token.IsAbsent(err) {
		return nil, fmt.Errorf("%w: empty %s token", ErrBridgeUnavailable, field)
	}
	if err != nil {
		b.metrics.DecodeFailed(string(b.codec.Mode()))
		b.logger.Warn("ignoring malformed bridge token", "field", field, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}

	target, err := socket.ParseEndpoint(reference.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}
	return &Handle{
		reference: reference,
		client:    socket.NewClient(target),
		logger:    b.logger,
	}, nil
}

// ConnectApplication returns a handle on the application-wide
// container published under applicationID.
func (b *Bridge) ConnectApplication(ctx context.Context, applicationID string) (*Handle, error) {
	target, err := socket.ParseEndpoint(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}

	var response endpoint.LookupResponse
	err = socket.NewClient(target).Call(ctx, endpoint.ActionLookup,
		map[string]any{"application": applicationID}, &response)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up application %q: %w", ErrBridgeUnavailable, applicationID, translate(err))
	}
	return b.open(response.Token, "application")
}

// translate maps a responder failure back to the matching sentinel.
// Transport failures become ErrBridgeUnavailable.
func translate(err error) error {
	var callErr *socket.CallError
	if !errors.As(err, &callErr) {
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}

	var sentinel error
	switch callErr.Code {
	case endpoint.CodeTargetUnavailable:
		sentinel = boundary.ErrTargetUnavailable
	case endpoint.CodeResolverNotReady:
		sentinel = boundary.ErrResolverNotReady
	case endpoint.CodeServiceNotFound:
		sentinel = boundary.ErrServiceNotFound
	case endpoint.CodeWrongTarget:
		sentinel = boundary.ErrWrongTarget
	case endpoint.CodeUnsupportedValue:
		sentinel = ErrUnsupportedValue
	case endpoint.CodeNotFound:
		sentinel = registry.ErrNotFound
	case endpoint.CodeInvalidRequest:
		sentinel = ErrInvalidRequest
	default:
		return callErr
	}
	return fmt.Errorf("%w (%s)", sentinel, callErr.Message)
}
