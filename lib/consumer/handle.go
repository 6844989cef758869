// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
	"github.com/bureau-foundation/hostbridge/lib/endpoint"
	"github.com/bureau-foundation/hostbridge/lib/socket"
	"github.com/bureau-foundation/hostbridge/lib/token"
)

// Handle performs boundary calls on one proxy.
type Handle struct {
	reference token.Reference
	client    *socket.Client
	logger    *slog.Logger
}

// Reference returns the decoded token.
func (h *Handle) Reference() token.Reference { return h.reference }

func (h *Handle) call(ctx context.Context, action string, fields map[string]any, result any) error {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["handle"] = uint64(h.reference.Handle)
	if err := h.client.Call(ctx, action, fields, result); err != nil {
		return translate(err)
	}
	return nil
}

// Push writes items into the remote session under the responder's
// prefix. Values that cannot be sent are skipped locally and reported
// with those the responder skipped.
func (h *Handle) Push(ctx context.Context, items map[string]any) (boundary.PushResult, error) {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	sendable := make(map[string]any, len(items))
	var skipped []boundary.SkippedValue
	for _, key := range keys {
		value := items[key]
		if err := boundary.CheckTransferable(value); err != nil {
			var unsupported *boundary.UnsupportedValueError
			entry := boundary.SkippedValue{Key: key, Type: fmt.Sprintf("%T", value), Reason: err.Error()}
			if errors.As(err, &unsupported) {
				entry.Type = unsupported.Type
			}
			skipped = append(skipped, entry)
			h.logger.Debug("not sending value that cannot cross the boundary", "key", key, "type", entry.Type)
			continue
		}
		sendable[key] = value
	}

	var result endpoint.PushResponse
	if err := h.call(ctx, endpoint.ActionPush, map[string]any{"items": sendable}, &result); err != nil {
		return boundary.PushResult{}, err
	}
	result.Skipped = append(skipped, result.Skipped...)
	return result, nil
}

// Pull returns a snapshot of the remote session's bridged entries.
func (h *Handle) Pull(ctx context.Context) (map[string]any, error) {
	var response endpoint.PullResponse
	if err := h.call(ctx, endpoint.ActionPull, nil, &response); err != nil {
		return nil, err
	}
	if response.Items == nil {
		response.Items = make(map[string]any)
	}
	return response.Items, nil
}

func (h *Handle) resolve(ctx context.Context, fields map[string]any) (endpoint.ResolveResponse, error) {
	var response endpoint.ResolveResponse
	err := h.call(ctx, endpoint.ActionResolve, fields, &response)
	return response, err
}

// Resolve returns the plain-data form of the service registered under
// service. No match fails with boundary.ErrServiceNotFound.
func (h *Handle) Resolve(ctx context.Context, service string) (any, error) {
	response, err := h.resolve(ctx, map[string]any{"service": service, "mode": endpoint.ModeRequired})
	if err != nil {
		return nil, err
	}
	return response.Value, nil
}

// ResolveOptional reports false instead of failing when nothing is
// registered.
func (h *Handle) ResolveOptional(ctx context.Context, service string) (any, bool, error) {
	response, err := h.resolve(ctx, map[string]any{"service": service, "mode": endpoint.ModeOptional})
	if err != nil {
		return nil, false, err
	}
	return response.Value, response.Present, nil
}

// ResolveNamed resolves the registration of service keyed by name.
func (h *Handle) ResolveNamed(ctx context.Context, name, service string) (any, error) {
	response, err := h.resolve(ctx, map[string]any{"service": service, "mode": endpoint.ModeNamed, "name": name})
	if err != nil {
		return nil, err
	}
	return response.Value, nil
}

// ResolveOwned resolves service together with its dependencies. The
// caller must Release the result.
func (h *Handle) ResolveOwned(ctx context.Context, service string) (*OwnedValue, error) {
	response, err := h.resolve(ctx, map[string]any{"service": service, "mode": endpoint.ModeOwned})
	if err != nil {
		return nil, err
	}
	if response.Owned == 0 {
		return nil, fmt.Errorf("consumer: owned resolution of %q returned no handle", service)
	}
	return &OwnedValue{Value: response.Value, handle: response.Owned, client: h.client}, nil
}

// OwnedValue is a resolved value whose responder-side resources stay
// alive until Release.
type OwnedValue struct {
	Value any

	handle token.Handle
	client *socket.Client

	mu       sync.Mutex
	released bool
}

// Release frees the responder-side resources. Later calls return nil
// without contacting the responder.
func (o *OwnedValue) Release(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return nil
	}
	err := o.client.Call(ctx, endpoint.ActionRelease, map[string]any{"handle": uint64(o.handle)}, nil)
	if err != nil {
		return translate(err)
	}
	o.released = true
	return nil
}
