// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/hostbridge/lib/clock"
	"github.com/bureau-foundation/hostbridge/lib/codec"
)

const (
	envelopeVersion = 1

	// maxInflatedSize bounds decompression of untrusted tokens.
	maxInflatedSize = 64 * 1024

	checksumSize = 16
)

// checksumKey is the BLAKE3 key for envelope checksums: the ASCII
// domain name zero-padded to 32 bytes.
var checksumKey = [32]byte{
	'h', 'o', 's', 't', 'b', 'r', 'i', 'd', 'g', 'e', '.', 't', 'o', 'k', 'e', 'n',
	'.', 'e', 'n', 'v', 'e', 'l', 'o', 'p', 'e', 0, 0, 0, 0, 0, 0, 0,
}

type envelopeBody struct {
	Version  uint8  `cbor:"1,keyasint"`
	Endpoint string `cbor:"2,keyasint"`
	Handle   uint64 `cbor:"3,keyasint"`
	Scope    uint8  `cbor:"4,keyasint"`
	MintedAt int64  `cbor:"5,keyasint"`
}

type sealedFrame struct {
	Body []byte `cbor:"1,keyasint"`
	Sum  []byte `cbor:"2,keyasint"`
}

// EnvelopeCodec carries the full reference inside the token.
type EnvelopeCodec struct {
	endpoint string
	clock    clock.Clock
}

// NewEnvelopeCodec returns an envelope-mode codec. endpoint is embedded
// for references that do not name their own; clk stamps the mint time.
func NewEnvelopeCodec(endpoint string, clk clock.Clock) *EnvelopeCodec {
	if clk == nil {
		clk = clock.Real()
	}
	return &EnvelopeCodec{endpoint: endpoint, clock: clk}
}

func (c *EnvelopeCodec) Mode() Mode { return ModeEnvelope }

func (c *EnvelopeCodec) Encode(reference Reference) (Token, error) {
	if reference.Handle == 0 {
		return "", ErrZeroHandle
	}
	endpoint := reference.Endpoint
	if endpoint == "" {
		endpoint = c.endpoint
	}

	body, err := codec.Marshal(envelopeBody{
		Version:  envelopeVersion,
		Endpoint: endpoint,
		Handle:   uint64(reference.Handle),
		Scope:    uint8(reference.Scope),
		MintedAt: c.clock.Now().UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("token: encoding envelope body: %w", err)
	}
	frame, err := codec.Marshal(sealedFrame{Body: body, Sum: checksum(body)})
	if err != nil {
		return "", fmt.Errorf("token: encoding envelope frame: %w", err)
	}

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("token: creating deflate writer: %w", err)
	}
	if _, err := writer.Write(frame); err != nil {
		return "", fmt.Errorf("token: compressing envelope: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("token: compressing envelope: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(compressed.Bytes())
	if len(encoded) > MaxTokenLength {
		return "", fmt.Errorf("%w: %d bytes", ErrTokenTooLarge, len(encoded))
	}
	return Token(encoded), nil
}

func (c *EnvelopeCodec) Decode(raw Token) (Reference, error) {
	frame, err := unseal(raw)
	if err != nil {
		return Reference{}, err
	}

	var body envelopeBody
	if err := codec.Unmarshal(frame.Body, &body); err != nil {
		return Reference{}, decodeFailure("cbor", err)
	}
	if body.Version != envelopeVersion {
		return Reference{}, decodeFailure("version", fmt.Errorf("unsupported envelope version %d", body.Version))
	}
	if Scope(body.Scope) > ScopeShared {
		return Reference{}, decodeFailure("scope", fmt.Errorf("unknown scope %d", body.Scope))
	}
	if body.Handle == 0 {
		return Reference{}, decodeFailure("handle", errors.New("envelope names the zero handle"))
	}

	return Reference{
		Handle:   Handle(body.Handle),
		Endpoint: body.Endpoint,
		Scope:    Scope(body.Scope),
		MintedAt: time.Unix(0, body.MintedAt),
	}, nil
}

// Inspect verifies an envelope token and returns its body in CBOR
// diagnostic notation. Handle-mode tokens carry no envelope.
func Inspect(raw Token) (string, error) {
	frame, err := unseal(raw)
	if err != nil {
		return "", err
	}
	return codec.Diagnose(frame.Body)
}

// unseal reverses the transport encoding and checks the frame checksum.
func unseal(raw Token) (sealedFrame, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return sealedFrame{}, ErrAbsent
	}
	if len(text) > MaxTokenLength {
		return sealedFrame{}, decodeFailure("length", fmt.Errorf("%w: %d bytes", ErrTokenTooLarge, len(text)))
	}

	compressed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return sealedFrame{}, decodeFailure("base64", err)
	}

	reader := flate.NewReader(bytes.NewReader(compressed))
	frameBytes, err := io.ReadAll(io.LimitReader(reader, maxInflatedSize+1))
	reader.Close()
	if err != nil {
		return sealedFrame{}, decodeFailure("inflate", err)
	}
	if len(frameBytes) > maxInflatedSize {
		return sealedFrame{}, decodeFailure("inflate", fmt.Errorf("envelope inflates beyond %d bytes", maxInflatedSize))
	}

	var frame sealedFrame
	if err := codec.Unmarshal(frameBytes, &frame); err != nil {
		return sealedFrame{}, decodeFailure("cbor", err)
	}
	if len(frame.Sum) != checksumSize || subtle.ConstantTimeCompare(frame.Sum, checksum(frame.Body)) != 1 {
		return sealedFrame{}, decodeFailure("checksum", errors.New("envelope checksum mismatch"))
	}
	return frame, nil
}

func decodeFailure(stage string, err error) *DecodeError {
	return &DecodeError{Mode: ModeEnvelope, Stage: stage, Err: err}
}

func checksum(body []byte) []byte {
	hasher, err := blake3.NewKeyed(checksumKey[:])
	if err != nil {
		panic("token: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(body)
	sum := hasher.Sum(nil)
	return sum[:checksumSize]
}
