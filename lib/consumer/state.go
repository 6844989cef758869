// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
)

// Load replaces the contents of local with the remote session's
// bridged entries.
func Load(ctx context.Context, handle *Handle, local boundary.Store) error {
	items, err := handle.Pull(ctx)
	if err != nil {
		return err
	}
	for _, key := range local.Keys() {
		local.Remove(key)
	}
	for key, value := range items {
		local.Set(key, value)
	}
	return nil
}

// Save pushes every entry of local to the remote session.
func Save(ctx context.Context, handle *Handle, local boundary.Store) (boundary.PushResult, error) {
	keys := local.Keys()
	items := make(map[string]any, len(keys))
	for _, key := range keys {
		if value, ok := local.Get(key); ok {
			items[key] = value
		}
	}
	return handle.Push(ctx, items)
}
