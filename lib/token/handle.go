// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"fmt"
	"strconv"
	"strings"
)

const handleTokenLength = 16

// HandleCodec encodes a reference as its bare handle. The endpoint and
// scope are not carried.
type HandleCodec struct {
	endpoint string
}

// NewHandleCodec returns a handle-mode codec that reports endpoint for
// every decoded reference.
func NewHandleCodec(endpoint string) *HandleCodec {
	return &HandleCodec{endpoint: endpoint}
}

func (c *HandleCodec) Mode() Mode { return ModeHandle }

func (c *HandleCodec) Encode(reference Reference) (Token, error) {
	if reference.Handle == 0 {
		return "", ErrZeroHandle
	}
	return Token(reference.Handle.String()), nil
}

func (c *HandleCodec) Decode(raw Token) (Reference, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Reference{}, ErrAbsent
	}
	if len(text) != handleTokenLength {
		return Reference{}, &DecodeError{
			Mode:  ModeHandle,
			Stage: "length",
			Err:   fmt.Errorf("got %d characters, want %d", len(text), handleTokenLength),
		}
	}

	value, err := strconv.ParseUint(text, 16, 64)
	if err != nil {
		return Reference{}, &DecodeError{Mode: ModeHandle, Stage: "hex", Err: err}
	}
	if value == 0 {
		return Reference{}, ErrAbsent
	}

	return Reference{
		Handle:   Handle(value),
		Endpoint: c.endpoint,
		Scope:    ScopeUnknown,
	}, nil
}
