// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// MXCURI is a validated Matrix content URI
// (e.g., "mxc://example.org/GCmhgzMPRjqgpODLsNQzVuHZ").
//
// Content URIs are returned by the media upload endpoint and referenced
// from avatar and attachment events. Download and thumbnail requests
// need the URI split back into server name and media ID, which is the
// reason this is a parsed type rather than a plain string.
type MXCURI struct {
	server  string
	mediaID string
}

const mxcScheme = "mxc://"

// ParseMXCURI validates and splits a raw mxc:// content URI.
func ParseMXCURI(raw string) (MXCURI, error) {
	if !strings.HasPrefix(raw, mxcScheme) {
		return MXCURI{}, fmt.Errorf("invalid content URI %q: missing mxc:// scheme", raw)
	}
	rest := raw[len(mxcScheme):]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return MXCURI{}, fmt.Errorf("invalid content URI %q: expected mxc://server/mediaID", raw)
	}
	server, mediaID := rest[:slash], rest[slash+1:]
	if mediaID == "" || strings.ContainsRune(mediaID, '/') {
		return MXCURI{}, fmt.Errorf("invalid content URI %q: bad media ID", raw)
	}
	return MXCURI{server: server, mediaID: mediaID}, nil
}

// MustParseMXCURI is like ParseMXCURI but panics on error.
func MustParseMXCURI(raw string) MXCURI {
	m, err := ParseMXCURI(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseMXCURI(%q): %v", raw, err))
	}
	return m
}

// Server returns the server name component of the URI.
func (m MXCURI) Server() string { return m.server }

// MediaID returns the media ID component of the URI.
func (m MXCURI) MediaID() string { return m.mediaID }

// String returns the full mxc:// URI.
func (m MXCURI) String() string {
	if m.IsZero() {
		return ""
	}
	return mxcScheme + m.server + "/" + m.mediaID
}

// IsZero reports whether the MXCURI is the zero value.
func (m MXCURI) IsZero() bool { return m.server == "" && m.mediaID == "" }

// MarshalText implements encoding.TextMarshaler.
func (m MXCURI) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MXCURI) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*m = MXCURI{}
		return nil
	}
	parsed, err := ParseMXCURI(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
