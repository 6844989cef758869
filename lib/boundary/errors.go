// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetUnavailable means the proxy was released or its target
	// is gone. Callers must not retry with the same token.
	ErrTargetUnavailable = errors.New("boundary: target unavailable")

	// ErrResolverNotReady means the target cannot be resolved yet, for
	// example because no request scope is active.
	ErrResolverNotReady = errors.New("boundary: resolver not ready")

	// ErrServiceNotFound means no registered service matched the name.
	ErrServiceNotFound = errors.New("boundary: service not found")

	// ErrWrongTarget means the operation does not apply to this kind
	// of proxy or handle.
	ErrWrongTarget = errors.New("boundary: operation not supported by target")

	// ErrTableClosed is returned by Mint after Close.
	ErrTableClosed = errors.New("boundary: handle table closed")
)

// UnsupportedValueError describes a value that cannot cross the
// boundary.
type UnsupportedValueError struct {
	// Path locates the offending value inside a nested structure, such
	// as "items[2].owner". Empty for a top-level value.
	Path string

	// Type is the Go type of the offending value.
	Type string
}

func (e *UnsupportedValueError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("boundary: value of type %s cannot cross the boundary", e.Type)
	}
	return fmt.Sprintf("boundary: value of type %s at %s cannot cross the boundary", e.Type, e.Path)
}
