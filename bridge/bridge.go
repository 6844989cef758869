// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/metrics"
	"github.com/bureau-foundation/hostbridge/lib/netutil"
	"github.com/bureau-foundation/hostbridge/lib/socket"
)

const defaultDialTimeout = 5 * time.Second

// Options configures a Forwarder.
type Options struct {
	// Listen is the TCP address to accept on, such as "127.0.0.1:8642".
	// Port 0 picks an ephemeral port; see Forwarder.Endpoint.
	Listen string

	// SocketPath is the endpoint socket connections are forwarded to.
	SocketPath string

	// DialTimeout bounds each connection to the socket. Defaults to 5s.
	DialTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

// Forwarder copies TCP connections to a unix socket.
type Forwarder struct {
	options  Options
	logger   *slog.Logger
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	active   sync.WaitGroup
	nextID   atomic.Int64
	stopOnce sync.Once
}

// New validates options. Nothing is bound until Start.
func New(options Options) (*Forwarder, error) {
	if options.Listen == "" {
		return nil, errors.New("bridge: listen address is required")
	}
	if options.SocketPath == "" {
		return nil, errors.New("bridge: socket path is required")
	}
	if options.DialTimeout <= 0 {
		options.DialTimeout = defaultDialTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{options: options, logger: logger}, nil
}

// Start checks that the socket accepts connections, binds the listener
// and forwards in the background until Stop or ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) error {
	probe, err := net.DialTimeout("unix", f.options.SocketPath, f.options.DialTimeout)
	if err != nil {
		return fmt.Errorf("bridge: socket %s not reachable: %w", f.options.SocketPath, err)
	}
	probe.Close()

	listener, err := net.Listen("tcp", f.options.Listen)
	if err != nil {
		return fmt.Errorf("bridge: listening on %s: %w", f.options.Listen, err)
	}
	f.listener = listener

	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	go func() {
		defer close(f.done)
		f.acceptLoop(ctx)
	}()

	f.logger.Info("forwarder started",
		"listen", listener.Addr().String(),
		"socket_path", f.options.SocketPath,
	)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (f *Forwarder) Addr() net.Addr {
	if f.listener == nil {
		return nil
	}
	return f.listener.Addr()
}

// Endpoint returns the tcp:// endpoint to advertise in tokens, or ""
// before Start.
func (f *Forwarder) Endpoint() string {
	addr := f.Addr()
	if addr == nil {
		return ""
	}
	return socket.Endpoint{Network: "tcp", Address: addr.String()}.String()
}

// Stop closes the listener and waits for open connections to finish.
// It is safe to call more than once.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		if f.listener != nil {
			f.listener.Close()
		}
	})
	f.Wait()
}

// Wait blocks until the forwarder has stopped.
func (f *Forwarder) Wait() {
	if f.done != nil {
		<-f.done
	}
}

func (f *Forwarder) acceptLoop(ctx context.Context) {
	defer f.active.Wait()
	for {
		connection, err := f.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			f.logger.Error("accept failed", "error", err)
			continue
		}

		id := f.nextID.Add(1)
		f.active.Add(1)
		go func() {
			defer f.active.Done()
			f.forward(connection, id)
		}()
	}
}

func (f *Forwarder) forward(tcpConnection net.Conn, id int64) {
	defer tcpConnection.Close()
	f.options.Metrics.ForwardOpened()
	defer f.options.Metrics.ForwardClosed()

	logger := f.logger.With("connection_id", id)
	logger.Debug("connection accepted", "remote_addr", tcpConnection.RemoteAddr())

	unixConnection, err := net.DialTimeout("unix", f.options.SocketPath, f.options.DialTimeout)
	if err != nil {
		logger.Error("connecting to endpoint socket failed", "error", err)
		return
	}
	defer unixConnection.Close()

	var copies sync.WaitGroup
	copies.Add(2)
	go func() {
		defer copies.Done()
		pipe(logger, "tcp->unix", unixConnection, tcpConnection)
	}()
	go func() {
		defer copies.Done()
		pipe(logger, "unix->tcp", tcpConnection, unixConnection)
	}()
	copies.Wait()

	logger.Debug("connection closed")
}

type closeWriter interface {
	CloseWrite() error
}

// pipe copies src to dst, then half-closes dst so the far side sees
// EOF while its reply can still flow back.
func pipe(logger *slog.Logger, direction string, dst, src net.Conn) {
	copied, err := io.Copy(dst, src)
	if err != nil && !netutil.IsExpectedCloseError(err) {
		logger.Debug("copy failed", "direction", direction, "bytes", copied, "error", err)
	}
	if half, ok := dst.(closeWriter); ok {
		half.CloseWrite()
	}
}
