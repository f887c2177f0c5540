// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError is a structured non-2xx response from the homeserver
// (status below 500). Callers use errors.As to extract it:
//
//	var apiErr *matrix.APIError
//	if errors.As(err, &apiErr) {
//	    if apiErr.Code == matrix.ErrCodeForbidden { ... }
//	}
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Code is the Matrix error code parsed from the body's errcode
	// field (e.g., "M_FORBIDDEN"). Empty when the body was not the
	// standard error shape.
	Code string
	// Message is the human-readable error from the body, if any.
	Message string
	// Body is the raw response body.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("matrix: request failed (%d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// ServerError is a 5xx response. The transport does not retry these;
// the sync engine's outer loop retries them with exponential backoff.
type ServerError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Method and Path identify the failed request.
	Method string
	Path   string
	// Body is the raw response body.
	Body []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("matrix: unexpected %d response from %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// TransportError is a network-level failure (connection refused, TLS
// error, timeout) wrapping the underlying cause.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("matrix: request to %s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports malformed local input — a bad identifier,
// homeserver URL, thumbnail method, or HTTP method — rejected before
// any network I/O.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "matrix: " + e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeUserInUse     = "M_USER_IN_USE"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeMissingParam  = "M_MISSING_PARAM"
	ErrCodeRoomInUse     = "M_ROOM_IN_USE"
)

// IsAPIError reports whether err is an *APIError carrying the given
// Matrix error code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// newAPIError builds an *APIError from a response body, extracting the
// errcode and error fields when the body is the standard Matrix error
// shape. A non-JSON body still produces a usable error with the raw
// bytes attached.
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Body: body}
	var parsed struct {
		Code    string `json:"errcode"`
		Message string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}
	return apiErr
}
