// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable value types for Matrix
// identifiers: user IDs, room IDs, room aliases, event IDs, event
// types, and mxc:// media URIs.
//
// Identifiers arrive from two places: caller arguments and homeserver
// responses. Both cross through these types, so malformed identifiers
// are rejected at the boundary instead of surfacing later as a
// confusing 400 from the server. The types implement
// encoding.TextMarshaler and TextUnmarshaler, which means JSON
// decoding of API responses validates automatically — including map
// keys like the per-room sections of a /sync response.
//
// All types are immutable value types. The zero value is never valid;
// use IsZero to check. ParseX constructors return descriptive errors;
// MustParseX variants panic and are intended for tests and static
// initialization with known-valid input.
package ref
