// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test drives the whole bridge: an HTTP client
// talks to the responder, which proxies legacy requests to a real
// upstream server; the upstream calls back through the consumer bridge
// using the tokens it received.
//
// Everything runs in-process on loopback and unix sockets, so these
// tests need no external services.
package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/config"
	"github.com/bureau-foundation/hostbridge/lib/consumer"
	"github.com/bureau-foundation/hostbridge/lib/container"
	"github.com/bureau-foundation/hostbridge/lib/responder"
	"github.com/bureau-foundation/hostbridge/lib/testutil"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

// legacyPage is one page of the legacy application.
type legacyPage func(w http.ResponseWriter, r *http.Request, bridge *consumer.Bridge)

type stack struct {
	config    *config.Config
	responder *responder.Responder
	client    *http.Client
	baseURL   string
}

type stackOptions struct {
	configure func(*config.Config)
	services  *container.Container
	pages     map[string]legacyPage
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freeAddress returns a loopback address nothing is listening on.
func freeAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving a port: %v", err)
	}
	address := listener.Addr().String()
	listener.Close()
	return address
}

func startStack(t *testing.T, options stackOptions) *stack {
	t.Helper()

	cfg := config.Default()
	cfg.Endpoint.SocketPath = filepath.Join(testutil.SocketDir(t), "endpoint.sock")
	cfg.HTTP.Listen = "127.0.0.1:0"
	if options.configure != nil {
		options.configure(cfg)
	}

	mode, err := token.ParseMode(cfg.Bridge.Encoding)
	if err != nil {
		t.Fatalf("ParseMode: %v", err)
	}
	// Handle tokens carry no endpoint; the legacy side is configured
	// with the socket, as it would be on the same machine.
	codec, err := token.New(mode, "unix://"+cfg.Endpoint.SocketPath)
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	bridge, err := consumer.New(consumer.Options{
		Codec:          codec,
		SessionField:   cfg.Bridge.SessionHeader,
		ComponentField: cfg.Bridge.ComponentHeader,
		Endpoint:       "unix://" + cfg.Endpoint.SocketPath,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("consumer.New: %v", err)
	}

	mux := http.NewServeMux()
	for path, page := range options.pages {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			page(w, r, bridge)
		})
	}
	legacy := httptest.NewServer(mux)
	t.Cleanup(legacy.Close)
	cfg.HTTP.LegacyUpstream = legacy.URL

	host, err := responder.New(responder.Options{
		Config:    cfg,
		Container: options.services,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("responder.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErrors := make(chan error, 1)
	go func() { runErrors <- host.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, runErrors, 10*time.Second, "responder Run return"); err != nil {
			t.Errorf("responder Run: %v", err)
		}
		if live := host.Table().Live(); live != 0 {
			t.Errorf("live references after shutdown = %d, want 0", live)
		}
	})
	select {
	case <-host.Ready():
	case err := <-runErrors:
		t.Fatalf("responder Run: %v", err)
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("responder not ready")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &stack{
		config:    cfg,
		responder: host,
		client:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
		baseURL:   "http://" + host.HTTPAddr().String(),
	}
}

// get fetches path and returns the status and body.
func (s *stack) get(t *testing.T, path string, headers ...string) (int, string) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		request.Header.Set(headers[i], headers[i+1])
	}
	response, err := s.client.Do(request)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return response.StatusCode, string(body)
}

// requireQuiescent waits for every per-request reference to be
// released. End runs as the responder's handler returns, which can
// race the client reading the response.
func (s *stack) requireQuiescent(t *testing.T, baseline int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second) //nolint:realclock test deadline
	for {
		live, outstanding := s.responder.Table().Live(), s.responder.Outstanding()
		if live == baseline && outstanding == 0 {
			return
		}
		if time.Now().After(deadline) { //nolint:realclock test deadline
			t.Fatalf("live = %d (want %d), outstanding = %d (want 0)", live, baseline, outstanding)
		}
		time.Sleep(5 * time.Millisecond) //nolint:realclock polling responder state
	}
}
