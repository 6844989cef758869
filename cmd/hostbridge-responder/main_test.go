// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/config"
	"github.com/bureau-foundation/hostbridge/lib/lifecycle"
)

func TestBuildServices(t *testing.T) {
	cfg := config.Default()
	services, err := buildServices(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	defer services.Dispose()

	site, err := services.Root().ResolveRequired("Hostbridge.Site")
	if err != nil {
		t.Fatalf("resolving site: %v", err)
	}
	if site.(map[string]any)["application"] != "default" {
		t.Errorf("site = %v", site)
	}

	scope := services.BeginScope()
	request := httptest.NewRequest(http.MethodPost, "/cart/add.asp?item=7", nil)
	if err := scope.Provide(lifecycle.RequestService, request); err != nil {
		t.Fatalf("Provide: %v", err)
	}
	info, err := scope.ResolveRequired("Hostbridge.Request")
	if err != nil {
		t.Fatalf("resolving request info: %v", err)
	}
	fields := info.(map[string]any)
	if fields["method"] != http.MethodPost || fields["path"] != "/cart/add.asp" || fields["query"] != "item=7" {
		t.Errorf("request info = %v", fields)
	}

	outside, err := services.Root().ResolveRequired("Hostbridge.Request")
	if err != nil || outside != nil {
		t.Errorf("request info outside a request = %v, %v; want nil, nil", outside, err)
	}
}

func TestRequestInfoInDisposedScope(t *testing.T) {
	services, err := buildServices(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}
	defer services.Dispose()

	scope := services.BeginScope()
	if err := scope.Provide(lifecycle.RequestService, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("Provide: %v", err)
	}
	if err := scope.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	info, err := requestInfo(scope)
	if !errors.Is(err, boundary.ErrTargetUnavailable) {
		t.Errorf("requestInfo on a disposed scope = %v, %v; want ErrTargetUnavailable", info, err)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("HOSTBRIDGE_CONFIG", "")
	t.Setenv("HOSTBRIDGE_RUNTIME", "/run/test-hostbridge")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if want := filepath.Join("/run/test-hostbridge", "endpoint.sock"); cfg.Endpoint.SocketPath != want {
		t.Errorf("socket path = %q, want %q", cfg.Endpoint.SocketPath, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}
