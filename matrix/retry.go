// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/json"
	"time"

	"github.com/palaver-im/palaver/lib/clock"
)

// defaultRateLimitWait is the wait applied to a 429 response that
// carries no retry_after_ms field.
const defaultRateLimitWait = 5 * time.Second

// RetryPolicy controls how the transport reacts to 429 rate limiting.
// Rate limiting is absorbed inside the transport: the request is
// resent after the server-indicated wait and the caller never sees
// the 429 — unless MaxAttempts bounds the loop.
type RetryPolicy struct {
	// DefaultWait is used when the 429 body carries no
	// retry_after_ms field. Zero means 5 seconds.
	DefaultWait time.Duration

	// MaxAttempts caps the total number of sends for one logical
	// request. Zero means unbounded — a pathological server can hold
	// a caller forever, which matches the protocol's contract that
	// clients honor rate limiting indefinitely. Set a bound for
	// hardened deployments and tests.
	MaxAttempts int

	// Clock is used for rate-limit sleeps. Nil means the real clock.
	Clock clock.Clock
}

func (p RetryPolicy) defaultWait() time.Duration {
	if p.DefaultWait > 0 {
		return p.DefaultWait
	}
	return defaultRateLimitWait
}

func (p RetryPolicy) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real()
}

// retryAfter extracts the server-requested wait from a 429 response
// body. The field appears either at the top level
// ({"retry_after_ms": N}) or nested under the error object
// ({"error": {"retry_after_ms": N}}). Returns fallback when neither
// is present or the body is not JSON.
func retryAfter(body []byte, fallback time.Duration) time.Duration {
	// The error field is a string in the standard Matrix error shape
	// and an object in the nested rate-limit shape, so it is decoded
	// lazily.
	var payload struct {
		RetryAfterMS *int64          `json:"retry_after_ms"`
		Error        json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}
	if payload.RetryAfterMS != nil {
		return time.Duration(*payload.RetryAfterMS) * time.Millisecond
	}
	var nested struct {
		RetryAfterMS *int64 `json:"retry_after_ms"`
	}
	if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &nested) == nil && nested.RetryAfterMS != nil {
		return time.Duration(*nested.RetryAfterMS) * time.Millisecond
	}
	return fallback
}
