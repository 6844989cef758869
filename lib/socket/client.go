// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bureau-foundation/hostbridge/lib/codec"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 45 * time.Second
	maxResponseSize     = 1024 * 1024
)

// CallError is returned by Call when the server answered ok=false.
type CallError struct {
	Action  string
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("boundary call %q failed (%s): %s", e.Action, e.Code, e.Message)
}

// Endpoint is a parsed "unix://" or "tcp://" address.
type Endpoint struct {
	Network string
	Address string
}

// String renders the endpoint in the form ParseEndpoint accepts.
func (e Endpoint) String() string {
	if e.Network == "unix" {
		return "unix://" + e.Address
	}
	return e.Network + "://" + e.Address
}

// UnixEndpoint returns the endpoint string for a unix socket path.
func UnixEndpoint(socketPath string) string {
	return Endpoint{Network: "unix", Address: socketPath}.String()
}

// ParseEndpoint parses "unix:///run/x.sock", "tcp://127.0.0.1:8642", or
// a bare absolute socket path.
func ParseEndpoint(raw string) (Endpoint, error) {
	switch {
	case raw == "":
		return Endpoint{}, fmt.Errorf("socket: empty endpoint")
	case strings.HasPrefix(raw, "unix://"):
		path := strings.TrimPrefix(raw, "unix://")
		if path == "" {
			return Endpoint{}, fmt.Errorf("socket: endpoint %q has no socket path", raw)
		}
		return Endpoint{Network: "unix", Address: path}, nil
	case strings.HasPrefix(raw, "tcp://"):
		address := strings.TrimPrefix(raw, "tcp://")
		if _, _, err := net.SplitHostPort(address); err != nil {
			return Endpoint{}, fmt.Errorf("socket: endpoint %q: %w", raw, err)
		}
		return Endpoint{Network: "tcp", Address: address}, nil
	case strings.HasPrefix(raw, "/"):
		return Endpoint{Network: "unix", Address: raw}, nil
	default:
		return Endpoint{}, fmt.Errorf("socket: unsupported endpoint %q", raw)
	}
}

// Client makes calls against one endpoint. Each Call opens its own
// connection.
type Client struct {
	endpoint Endpoint
}

// NewClient returns a client for endpoint.
func NewClient(endpoint Endpoint) *Client {
	return &Client{endpoint: endpoint}
}

// Endpoint returns the endpoint the client dials.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Call sends action plus fields and decodes the response data into
// result (if both are non-nil). A server-side failure is returned as a
// *CallError; transport failures are plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.endpoint, err)
	}

	if !response.OK {
		return &CallError{
			Action:  action,
			Code:    response.Code,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, c.endpoint.Network, c.endpoint.Address)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	switch typed := conn.(type) {
	case *net.UnixConn:
		typed.CloseWrite()
	case *net.TCPConn:
		typed.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
