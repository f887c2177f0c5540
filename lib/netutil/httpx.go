// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by the matrix
// package.
//
// Response-body reads are bounded at MaxResponseSize so a misbehaving
// homeserver cannot force unbounded allocation. The helpers are meant
// for JSON API responses; large binary media downloads go through the
// raw-response path in the matrix package, which is bounded the same
// way because Matrix media endpoints return complete bodies rather
// than streams.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds response body reads: 256 MB. Legitimate API
// responses are orders of magnitude smaller; the generous limit exists
// only to stop a pathological response from exhausting memory.
const MaxResponseSize int64 = 256 << 20

// ReadBody reads a response body up to MaxResponseSize bytes. Use
// instead of io.ReadAll for HTTP response bodies.
func ReadBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeBody reads a response body (bounded) and JSON-decodes it into
// v, replacing the io.ReadAll + json.Unmarshal pattern.
func DecodeBody(body io.Reader, v any) error {
	data, err := ReadBody(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for inclusion in a
// diagnostic message. Read errors are ignored — a partial or empty
// body is still useful in an error string.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
