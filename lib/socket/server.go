// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/codec"
	"github.com/bureau-foundation/hostbridge/lib/netutil"
)

// ActionFunc handles one call. raw is the complete CBOR request,
// including the "action" field. A nil result produces {ok: true}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope every call is answered with.
type Response struct {
	OK    bool             `cbor:"ok"`
	Code  string           `cbor:"code,omitempty"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// CodeInternal is used for errors the classifier does not recognize.
const CodeInternal = "internal"

// CodeInvalidRequest is used for malformed requests and unknown actions.
const CodeInvalidRequest = "invalid_request"

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 1024 * 1024
)

// Server serves registered actions on a unix socket.
type Server struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// Classify maps a handler error to a response code. Nil means
	// every error is CodeInternal.
	Classify func(error) string

	// Observe, when set, is called for every call before the response
	// is written, with the action, the response code ("ok" on success)
	// and the handling time.
	Observe func(action, code string, duration time.Duration)

	ready             chan struct{}
	readyOnce         sync.Once
	activeConnections sync.WaitGroup
}

// NewServer creates a server for socketPath. Register actions with
// Handle before calling Serve.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers handler for action. Panics on a duplicate action.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("socket.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight calls to finish. A stale socket file is removed before
// listening and the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("endpoint socket listening", "path", s.socketPath)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	started := time.Now()

	if peer, ok := peerCredentials(conn); ok {
		s.logger.Debug("boundary call accepted", "peer_pid", peer.PID, "peer_uid", peer.UID)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if netutil.IsExpectedCloseError(err) {
			return
		}
		s.writeError(conn, CodeInvalidRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, CodeInvalidRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, CodeInvalidRequest, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.observe(header.Action, CodeInvalidRequest, started)
		s.writeError(conn, CodeInvalidRequest, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		code := s.classify(err)
		s.logger.Debug("action failed",
			"action", header.Action,
			"code", code,
			"error", err,
		)
		s.observe(header.Action, code, started)
		s.writeError(conn, code, err.Error())
		return
	}

	s.observe(header.Action, "ok", started)
	s.writeSuccess(conn, result)
}

func (s *Server) classify(err error) string {
	if s.Classify == nil {
		return CodeInternal
	}
	if code := s.Classify(err); code != "" {
		return code
	}
	return CodeInternal
}

func (s *Server) observe(action, code string, started time.Time) {
	if s.Observe != nil {
		s.Observe(action, code, time.Since(started))
	}
}

func (s *Server) writeError(conn net.Conn, code, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Code:  code,
		Error: message,
	}); err != nil && !netutil.IsExpectedCloseError(err) {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, CodeInternal, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil && !netutil.IsExpectedCloseError(err) {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
