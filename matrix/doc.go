// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix is a client library for the Matrix client-server
// HTTP API.
//
// The package provides three core types. [Client] holds the homeserver
// URL and HTTP transport and performs every request: it attaches
// authentication (bearer header or access_token query parameter),
// absorbs 429 rate limiting according to an injectable [RetryPolicy],
// and classifies failures into the typed errors in this package.
// [Session] wraps a Client with an access token and exposes the
// one-shot REST surface: rooms, membership, state, messaging, media,
// devices, profile, presence, tags, account data, and the raw /sync
// call. [Syncer] is the incremental synchronization engine: it
// long-polls /sync, threads the since-token, projects each response's
// per-room deltas into [Room] values, and fans events out to
// registered listeners in a fixed order (presence, then invites, then
// leaves, then joins; within a joined room, state before timeline).
//
// Sessions are lightweight (a pointer to the parent Client plus the
// access token) and safe to create in large numbers; the Client's
// HTTP connection pool is shared. A Syncer is a single logical thread
// of control: its methods must not be called concurrently, with the
// exception of [Syncer.Stop], which cooperatively ends a
// [Syncer.ListenForever] loop between iterations. For fan-out, create
// multiple Syncers on the same Session — the since-token travels as a
// query parameter, not server-side session state.
//
// API failures are classified by layer: [*ValidationError] for
// malformed input rejected before any I/O, [*TransportError] for
// network-level failures, [*APIError] for non-2xx protocol responses
// (carrying the Matrix errcode), and [*ServerError] for 5xx
// responses. Rate limiting (429) never surfaces unless the retry
// policy caps attempts. Request URLs are built by string concatenation
// rather than url.URL to avoid double-encoding of path segments that
// contain URL-encoded characters (such as room aliases with slashes).
package matrix
