// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/palaver-im/palaver/lib/clock"
	"github.com/palaver-im/palaver/lib/netutil"
	"github.com/palaver-im/palaver/lib/ref"
)

// Version is the library version reported in the default User-Agent.
const Version = "0.1.0"

// API path prefixes. Endpoint wrappers default to ClientPrefix;
// Call accepts an explicit prefix for media, unstable, and
// server-specific admin surfaces.
const (
	ClientPrefix = "/_matrix/client/r0"
	MediaPrefix  = "/_matrix/media/r0"
)

// ClientConfig holds configuration for creating a Client. Every field
// other than HomeserverURL is optional; the zero value gives header
// bearer auth, certificate verification on, and unbounded rate-limit
// retries.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org"). Required.
	HomeserverURL string

	// HTTPClient is used for all requests. If nil, a client is
	// constructed honoring DisableTLSVerify.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// UserAgent overrides the User-Agent header. Empty uses
	// "palaver/<version>". A caller-supplied header on an individual
	// call wins over both.
	UserAgent string

	// AuthInQuery sends the access token as an access_token query
	// parameter instead of an Authorization header. Some reverse
	// proxies strip Authorization; fixed for the Client's lifetime.
	AuthInQuery bool

	// ImpersonateUserID adds a user_id query parameter to every
	// request (application-service impersonation).
	ImpersonateUserID ref.UserID

	// DisableTLSVerify turns off certificate validation. Ignored when
	// HTTPClient is supplied.
	DisableTLSVerify bool

	// Retry is the rate-limit retry policy.
	Retry RetryPolicy
}

// Client holds the homeserver URL and HTTP transport, shared across
// Sessions. A Client carries no per-request state and is safe for
// concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	authInQuery bool
	impersonate ref.UserID
	retry       RetryPolicy
	clk         clock.Clock
}

// NewClient creates a new unauthenticated Matrix client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, validationErrorf("HomeserverURL is required")
	}

	// Validate the URL structure here; request URLs are later built by
	// direct concatenation on the string form (trailing slash
	// stripped), which avoids url.URL re-encoding already-escaped
	// path segments.
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, validationErrorf("invalid HomeserverURL %q", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		if config.DisableTLSVerify {
			httpClient = &http.Client{
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				},
			}
		} else {
			httpClient = http.DefaultClient
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = "palaver/" + Version
	}

	return &Client{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
		userAgent:   userAgent,
		authInQuery: config.AuthInQuery,
		impersonate: config.ImpersonateUserID,
		retry:       config.Retry,
		clk:         config.Retry.clock(),
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call after a network disruption to
// force subsequent requests onto fresh TCP connections instead of a
// poisoned pooled one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// CallOptions describes one logical API exchange for Call. Exactly one
// of JSON and Body may be set.
type CallOptions struct {
	// Method is the HTTP method, case-insensitive. Only GET, POST,
	// PUT, and DELETE are accepted.
	Method string

	// Prefix is the API path prefix. Empty means ClientPrefix.
	Prefix string

	// Path is the endpoint path under the prefix, with segments
	// already escaped by the caller (url.PathEscape).
	Path string

	// Query holds additional query parameters.
	Query url.Values

	// Headers holds additional request headers; a caller-supplied
	// User-Agent or Content-Type wins over the defaults.
	Headers http.Header

	// Token is the access token. Empty means unauthenticated.
	Token string

	// JSON, when non-nil, is serialized as the request body with
	// content type application/json.
	JSON any

	// Body, when non-nil, is sent as an opaque request body with
	// ContentType. Read fully up front so rate-limited requests can
	// be resent.
	Body io.Reader

	// ContentType labels Body.
	ContentType string

	// RawResponse returns the 2xx body bytes without expecting JSON.
	// Used for binary media downloads.
	RawResponse bool
}

// Call performs one logical API exchange: it validates the method,
// attaches authentication and User-Agent, sends the request, absorbs
// 429 rate limiting per the retry policy, and classifies the terminal
// response. On 2xx the body bytes are returned. This is the single
// entry point every endpoint wrapper uses; it is exported so callers
// can reach endpoints the wrappers do not cover.
func (c *Client) Call(ctx context.Context, opts CallOptions) ([]byte, error) {
	method := strings.ToUpper(opts.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, validationErrorf("unsupported HTTP method %q", opts.Method)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = ClientPrefix
	}
	path := prefix + opts.Path

	query := url.Values{}
	for key, values := range opts.Query {
		query[key] = values
	}
	if opts.Token != "" && c.authInQuery {
		query.Set("access_token", opts.Token)
	}
	if !c.impersonate.IsZero() {
		query.Set("user_id", c.impersonate.String())
	}
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	// The body is materialized once so the identical request can be
	// resent after a rate-limit wait.
	var bodyBytes []byte
	contentType := opts.ContentType
	switch {
	case opts.JSON != nil:
		encoded, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, fmt.Errorf("matrix: failed to encode request body: %w", err)
		}
		bodyBytes = encoded
		if contentType == "" {
			contentType = "application/json"
		}
	case opts.Body != nil:
		raw, err := io.ReadAll(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("matrix: failed to read request body: %w", err)
		}
		bodyBytes = raw
	}

	attempts := 0
	for {
		attempts++

		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		request, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return nil, fmt.Errorf("matrix: failed to create request: %w", err)
		}

		request.Header.Set("User-Agent", c.userAgent)
		if contentType != "" {
			request.Header.Set("Content-Type", contentType)
		}
		if opts.Token != "" && !c.authInQuery {
			request.Header.Set("Authorization", "Bearer "+opts.Token)
		}
		for key, values := range opts.Headers {
			request.Header[http.CanonicalHeaderKey(key)] = values
		}

		response, err := c.httpClient.Do(request)
		if err != nil {
			return nil, &TransportError{Method: method, Path: path, Err: err}
		}

		responseBody, err := netutil.ReadBody(response.Body)
		response.Body.Close()
		if err != nil {
			return nil, &TransportError{Method: method, Path: path, Err: fmt.Errorf("reading response body: %w", err)}
		}

		switch {
		case response.StatusCode >= 200 && response.StatusCode < 300:
			return responseBody, nil

		case response.StatusCode == http.StatusTooManyRequests:
			if c.retry.MaxAttempts > 0 && attempts >= c.retry.MaxAttempts {
				return nil, newAPIError(response.StatusCode, responseBody)
			}
			wait := retryAfter(responseBody, c.retry.defaultWait())
			c.logger.Debug("rate limited, waiting before resend",
				"method", method,
				"path", path,
				"wait_ms", wait.Milliseconds(),
				"attempt", attempts,
			)
			c.clk.Sleep(wait)
			continue

		case response.StatusCode >= 500:
			return nil, &ServerError{
				StatusCode: response.StatusCode,
				Method:     method,
				Path:       path,
				Body:       responseBody,
			}

		default:
			return nil, newAPIError(response.StatusCode, responseBody)
		}
	}
}

// Versions returns the Matrix protocol versions and unstable features
// the homeserver supports. Unauthenticated — useful for checking
// reachability.
func (c *Client) Versions(ctx context.Context) (*VersionsResponse, error) {
	body, err := c.Call(ctx, CallOptions{
		Method: http.MethodGet,
		Prefix: "/_matrix/client",
		Path:   "/versions",
	})
	if err != nil {
		return nil, fmt.Errorf("matrix: server versions failed: %w", err)
	}

	var response VersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: failed to parse versions response: %w", err)
	}
	return &response, nil
}
