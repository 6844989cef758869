// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/config"
	"github.com/bureau-foundation/hostbridge/lib/container"
	"github.com/bureau-foundation/hostbridge/lib/lifecycle"
	"github.com/bureau-foundation/hostbridge/lib/version"
)

// buildServices registers the services the legacy application can
// resolve through its component token.
func buildServices(cfg *config.Config, logger *slog.Logger) (*container.Container, error) {
	started := time.Now().UTC()

	return container.NewBuilder(logger).
		Register(container.Registration{
			Service:  "Hostbridge.Site",
			FullName: "Hostbridge.Services.ISiteInfo",
			Lifetime: container.Singleton,
			Factory: func(*container.Scope) (any, error) {
				return map[string]any{
					"application": cfg.Bridge.ApplicationID,
					"environment": string(cfg.Environment),
					"version":     version.Info(),
					"started":     started,
				}, nil
			},
		}).
		Register(container.Registration{
			Service:  "Hostbridge.Request",
			FullName: "Hostbridge.Services.IRequestInfo",
			Lifetime: container.PerScope,
			Factory:  requestInfo,
		}).
		Register(container.Registration{
			Service:  "Hostbridge.Clock",
			Lifetime: container.PerDependency,
			Factory: func(*container.Scope) (any, error) {
				return time.Now().UTC(), nil
			},
		}).
		Build()
}

// requestInfo describes the request a scope was opened for. Outside a
// request scope it resolves to nil.
func requestInfo(scope *container.Scope) (any, error) {
	value, err := scope.Resolve(lifecycle.RequestService)
	if errors.Is(err, container.ErrNotRegistered) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	request, ok := value.(*http.Request)
	if !ok {
		return nil, nil
	}
	return map[string]any{
		"method":     request.Method,
		"path":       request.URL.Path,
		"query":      request.URL.RawQuery,
		"remote":     request.RemoteAddr,
		"user_agent": request.UserAgent(),
	}, nil
}
