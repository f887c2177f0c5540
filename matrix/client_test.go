// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/palaver-im/palaver/lib/clock"
	"github.com/palaver-im/palaver/lib/ref"
)

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

// newTestClient creates a Client backed by an httptest server and a
// fake clock, so rate-limit waits complete instantly and can be
// asserted on.
func newTestClient(t *testing.T, handler http.Handler, retry RetryPolicy) (*Client, *clock.FakeClock) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	fake := clock.Fake(time.Unix(1700000000, 0))
	retry.Clock = fake
	client, err := NewClient(ClientConfig{
		HomeserverURL: server.URL,
		Retry:         retry,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, fake
}

// newTestSession wraps newTestClient with a token session for
// endpoint tests.
func newTestSession(t *testing.T, handler http.Handler) *Session {
	t.Helper()
	client, _ := newTestClient(t, handler, RetryPolicy{})
	session, err := client.SessionFromToken(ref.MustParseUserID("@alice:example.org"), "syt_test_token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	return session
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{})
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("URL without scheme", func(t *testing.T) {
		_, err := NewClient(ClientConfig{HomeserverURL: "matrix.example.org"})
		if err == nil {
			t.Fatal("expected error for scheme-less URL")
		}
	})
}

func TestCallMethodValidation(t *testing.T) {
	requests := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests++
	}), RetryPolicy{})

	_, err := client.Call(context.Background(), CallOptions{Method: "PATCH", Path: "/whatever"})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for PATCH, got %v", err)
	}
	if requests != 0 {
		t.Errorf("request reached the server despite method validation")
	}
}

func TestCallAuth(t *testing.T) {
	t.Run("token in Authorization header", func(t *testing.T) {
		var gotAuth, gotQuery string
		client, _ := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			gotAuth = request.Header.Get("Authorization")
			gotQuery = request.URL.Query().Get("access_token")
			writeJSON(writer, http.StatusOK, map[string]any{})
		}), RetryPolicy{})

		if _, err := client.Call(context.Background(), CallOptions{
			Method: http.MethodGet,
			Path:   "/account/whoami",
			Token:  "syt_abc",
		}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if gotAuth != "Bearer syt_abc" {
			t.Errorf("Authorization = %q, want bearer token", gotAuth)
		}
		if gotQuery != "" {
			t.Errorf("access_token leaked into query: %q", gotQuery)
		}
	})

	t.Run("token in query when AuthInQuery", func(t *testing.T) {
		var gotAuth, gotQuery string
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			gotAuth = request.Header.Get("Authorization")
			gotQuery = request.URL.Query().Get("access_token")
			writeJSON(writer, http.StatusOK, map[string]any{})
		}))
		t.Cleanup(server.Close)

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL, AuthInQuery: true})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if _, err := client.Call(context.Background(), CallOptions{
			Method: http.MethodGet,
			Path:   "/account/whoami",
			Token:  "syt_abc",
		}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if gotQuery != "syt_abc" {
			t.Errorf("access_token query = %q, want token", gotQuery)
		}
		if gotAuth != "" {
			t.Errorf("Authorization header set despite AuthInQuery: %q", gotAuth)
		}
	})
}

func TestCallImpersonation(t *testing.T) {
	var gotUserID string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotUserID = request.URL.Query().Get("user_id")
		writeJSON(writer, http.StatusOK, map[string]any{})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		HomeserverURL:     server.URL,
		ImpersonateUserID: ref.MustParseUserID("@bot:example.org"),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Call(context.Background(), CallOptions{
		Method: http.MethodGet,
		Path:   "/joined_rooms",
		Token:  "syt_as_token",
	}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if gotUserID != "@bot:example.org" {
		t.Errorf("user_id query = %q, want impersonated user", gotUserID)
	}
}

func TestCallRateLimit(t *testing.T) {
	t.Run("nested retry_after_ms then success", func(t *testing.T) {
		attempts := 0
		client, fake := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++
			if attempts == 1 {
				writeJSON(writer, http.StatusTooManyRequests, map[string]any{
					"errcode": "M_LIMIT_EXCEEDED",
					"error":   map[string]any{"retry_after_ms": 1500},
				})
				return
			}
			writeJSON(writer, http.StatusOK, map[string]any{"event_id": "$done"})
		}), RetryPolicy{})

		body, err := client.Call(context.Background(), CallOptions{
			Method: http.MethodPost,
			Path:   "/join/!room:example.org",
			JSON:   struct{}{},
		})
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
		if len(body) == 0 {
			t.Error("empty success body")
		}
		sleeps := fake.Sleeps()
		if len(sleeps) != 1 || sleeps[0] != 1500*time.Millisecond {
			t.Errorf("sleeps = %v, want [1.5s]", sleeps)
		}
	})

	t.Run("top-level retry_after_ms", func(t *testing.T) {
		attempts := 0
		client, fake := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++
			if attempts == 1 {
				writeJSON(writer, http.StatusTooManyRequests, map[string]any{
					"errcode":        "M_LIMIT_EXCEEDED",
					"error":          "Too Many Requests",
					"retry_after_ms": 250,
				})
				return
			}
			writeJSON(writer, http.StatusOK, map[string]any{})
		}), RetryPolicy{})

		if _, err := client.Call(context.Background(), CallOptions{Method: http.MethodGet, Path: "/sync"}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		sleeps := fake.Sleeps()
		if len(sleeps) != 1 || sleeps[0] != 250*time.Millisecond {
			t.Errorf("sleeps = %v, want [250ms]", sleeps)
		}
	})

	t.Run("default wait when body has no hint", func(t *testing.T) {
		attempts := 0
		client, fake := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++
			if attempts == 1 {
				writer.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(writer, http.StatusOK, map[string]any{})
		}), RetryPolicy{})

		if _, err := client.Call(context.Background(), CallOptions{Method: http.MethodGet, Path: "/sync"}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		sleeps := fake.Sleeps()
		if len(sleeps) != 1 || sleeps[0] != defaultRateLimitWait {
			t.Errorf("sleeps = %v, want [%v]", sleeps, defaultRateLimitWait)
		}
	})

	t.Run("MaxAttempts surfaces the 429", func(t *testing.T) {
		attempts := 0
		client, fake := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++
			writeJSON(writer, http.StatusTooManyRequests, map[string]any{
				"errcode":        "M_LIMIT_EXCEEDED",
				"error":          "slow down",
				"retry_after_ms": 100,
			})
		}), RetryPolicy{MaxAttempts: 3})

		_, err := client.Call(context.Background(), CallOptions{Method: http.MethodGet, Path: "/sync"})
		if !IsAPIError(err, ErrCodeLimitExceeded) {
			t.Fatalf("expected M_LIMIT_EXCEEDED APIError, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
		if got := len(fake.Sleeps()); got != 2 {
			t.Errorf("sleeps = %d, want 2 (no sleep after final attempt)", got)
		}
	})

	t.Run("request body resent after wait", func(t *testing.T) {
		attempts := 0
		var bodies []string
		client, _ := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts++
			var decoded map[string]any
			json.NewDecoder(request.Body).Decode(&decoded)
			encoded, _ := json.Marshal(decoded)
			bodies = append(bodies, string(encoded))
			if attempts == 1 {
				writeJSON(writer, http.StatusTooManyRequests, map[string]any{"retry_after_ms": 10})
				return
			}
			writeJSON(writer, http.StatusOK, map[string]any{})
		}), RetryPolicy{})

		if _, err := client.Call(context.Background(), CallOptions{
			Method: http.MethodPut,
			Path:   "/send",
			JSON:   map[string]any{"body": "hello", "msgtype": "m.text"},
		}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if len(bodies) != 2 || bodies[0] != bodies[1] {
			t.Errorf("resent body differs: %v", bodies)
		}
	})
}

func TestCallServerError(t *testing.T) {
	client, fake := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, "upstream exploded", http.StatusBadGateway)
	}), RetryPolicy{})

	_, err := client.Call(context.Background(), CallOptions{Method: http.MethodGet, Path: "/sync"})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", serverErr.StatusCode)
	}
	if len(fake.Sleeps()) != 0 {
		t.Error("transport slept on a 5xx; retries belong to the sync loop")
	}
}

func TestCallAPIError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusForbidden, map[string]any{
			"errcode": "M_FORBIDDEN",
			"error":   "You are not invited to this room.",
		})
	}), RetryPolicy{})

	_, err := client.Call(context.Background(), CallOptions{Method: http.MethodPost, Path: "/join/!x:y", JSON: struct{}{}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != ErrCodeForbidden {
		t.Errorf("Code = %q, want M_FORBIDDEN", apiErr.Code)
	}
	if apiErr.Message != "You are not invited to this room." {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestCallTransportError(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_, err = client.Call(context.Background(), CallOptions{Method: http.MethodGet, Path: "/versions"})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestVersions(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/versions" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, http.StatusOK, map[string]any{
			"versions": []string{"r0.6.1", "v1.1"},
		})
	}), RetryPolicy{})

	response, err := client.Versions(context.Background())
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(response.Versions) != 2 || response.Versions[0] != "r0.6.1" {
		t.Errorf("Versions = %v", response.Versions)
	}
}
