// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/socket"
	bridgetest "github.com/bureau-foundation/hostbridge/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// replyServer listens on a unix socket, reads each connection to EOF
// and answers with prefix plus what it read, then half-closes.
func replyServer(t *testing.T, prefix string) string {
	t.Helper()
	socketPath := filepath.Join(bridgetest.SocketDir(t), "reply.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			connection, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer connection.Close()
				data, err := io.ReadAll(connection)
				if err != nil {
					return
				}
				connection.Write(append([]byte(prefix), data...))
				connection.(*net.UnixConn).CloseWrite()
			}()
		}
	}()
	return socketPath
}

func startForwarder(t *testing.T, socketPath string, collectors *metrics.Collectors) *Forwarder {
	t.Helper()
	forwarder, err := New(Options{
		Listen:     "127.0.0.1:0",
		SocketPath: socketPath,
		Logger:     testLogger(),
		Metrics:    collectors,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := forwarder.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(forwarder.Stop)
	return forwarder
}

// exchange writes payload, half-closes and reads the whole reply.
func exchange(address string, payload []byte) ([]byte, error) {
	connection, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	defer connection.Close()

	var reply []byte
	var readErr error
	var reading sync.WaitGroup
	reading.Add(1)
	go func() {
		defer reading.Done()
		reply, readErr = io.ReadAll(connection)
	}()

	_, writeErr := connection.Write(payload)
	if writeErr == nil {
		writeErr = connection.(*net.TCPConn).CloseWrite()
	}
	if writeErr != nil {
		connection.Close()
	}
	reading.Wait()
	if writeErr != nil {
		return nil, writeErr
	}
	return reply, readErr
}

func mustExchange(t *testing.T, address string, payload []byte) []byte {
	t.Helper()
	reply, err := exchange(address, payload)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return reply
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		options Options
		want    string
	}{
		{"no listen", Options{SocketPath: "/tmp/x.sock"}, "listen address is required"},
		{"no socket", Options{Listen: "127.0.0.1:0"}, "socket path is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.options)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("New = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestStartUnreachableSocket(t *testing.T) {
	forwarder, err := New(Options{
		Listen:     "127.0.0.1:0",
		SocketPath: filepath.Join(bridgetest.SocketDir(t), "missing.sock"),
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := forwarder.Start(context.Background()); err == nil {
		forwarder.Stop()
		t.Fatal("Start succeeded without a socket")
	}
}

func TestEndpoint(t *testing.T) {
	forwarder, err := New(Options{Listen: "127.0.0.1:0", SocketPath: replyServer(t, "")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if forwarder.Addr() != nil || forwarder.Endpoint() != "" {
		t.Fatal("address reported before Start")
	}

	forwarder = startForwarder(t, replyServer(t, ""), nil)
	endpoint := forwarder.Endpoint()
	if !strings.HasPrefix(endpoint, "tcp://127.0.0.1:") || strings.HasSuffix(endpoint, ":0") {
		t.Fatalf("Endpoint = %q, want a bound tcp endpoint", endpoint)
	}
	parsed, err := socket.ParseEndpoint(endpoint)
	if err != nil || parsed.Network != "tcp" {
		t.Fatalf("ParseEndpoint(%q) = %+v, %v", endpoint, parsed, err)
	}
}

func TestHalfClosePropagates(t *testing.T) {
	forwarder := startForwarder(t, replyServer(t, "REPLY:"), nil)
	reply := mustExchange(t, forwarder.Addr().String(), []byte("request-data"))
	if string(reply) != "REPLY:request-data" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestLargePayload(t *testing.T) {
	forwarder := startForwarder(t, replyServer(t, ""), nil)
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if reply := mustExchange(t, forwarder.Addr().String(), payload); !bytes.Equal(reply, payload) {
		t.Fatalf("payload mismatch: sent %d bytes, got %d", len(payload), len(reply))
	}
}

func TestConcurrentConnectionsAreCounted(t *testing.T) {
	collectors := metrics.New(nil)
	forwarder := startForwarder(t, replyServer(t, "ok:"), collectors)

	const connections = 10
	var wg sync.WaitGroup
	replies := make(chan string, connections)
	for i := range connections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := exchange(forwarder.Addr().String(), []byte{byte('A' + i)})
			if err != nil {
				t.Errorf("exchange: %v", err)
			}
			replies <- string(reply)
		}()
	}
	wg.Wait()
	close(replies)
	for reply := range replies {
		if len(reply) != 4 || !strings.HasPrefix(reply, "ok:") {
			t.Errorf("reply = %q", reply)
		}
	}

	forwarder.Stop()
	if got := testutil.ToFloat64(collectors.Forwarded); got != connections {
		t.Errorf("forwarded = %v, want %d", got, connections)
	}
	if got := testutil.ToFloat64(collectors.OpenForwards); got != 0 {
		t.Errorf("open after stop = %v, want 0", got)
	}
}

func TestSocketCallOverTCP(t *testing.T) {
	server := socket.NewServer(filepath.Join(bridgetest.SocketDir(t), "endpoint.sock"), testLogger())
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]string{"reply": "pong"}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	serveErrors := make(chan error, 1)
	go func() { serveErrors <- server.Serve(ctx) }()
	bridgetest.RequireClosed(t, server.Ready(), 5*time.Second, "socket server ready")
	t.Cleanup(func() {
		cancel()
		bridgetest.RequireReceive(t, serveErrors, 5*time.Second, "Serve return")
	})

	forwarder := startForwarder(t, server.SocketPath(), nil)
	target, err := socket.ParseEndpoint(forwarder.Endpoint())
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}

	var reply struct {
		Reply string `cbor:"reply"`
	}
	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	if err := socket.NewClient(target).Call(callCtx, "echo", nil, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Reply != "pong" {
		t.Fatalf("reply = %q, want pong", reply.Reply)
	}
}

func TestStopWaitsForOpenConnections(t *testing.T) {
	forwarder := startForwarder(t, replyServer(t, ""), nil)
	connection, err := net.Dial("tcp", forwarder.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		forwarder.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a connection was open")
	case <-time.After(50 * time.Millisecond): //nolint:realclock OS socket teardown
	}

	connection.Close()
	bridgetest.RequireClosed(t, stopped, 5*time.Second, "Stop after the connection closed")
	forwarder.Stop()
}
