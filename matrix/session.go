// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/palaver-im/palaver/lib/ref"
)

// Session is an authenticated Matrix session: a Client plus an access
// token. Sessions are lightweight and safe to create in large
// numbers; they share the Client's connection pool.
type Session struct {
	client      *Client
	accessToken string
	userID      ref.UserID
	deviceID    string

	// transactionCounter generates unique transaction IDs for
	// idempotent sends.
	transactionCounter atomic.Int64
}

// Login authenticates with username (localpart or full user ID) and
// password, returning a Session.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	if username == "" {
		return nil, validationErrorf("username is required for login")
	}
	if password == "" {
		return nil, validationErrorf("password is required for login")
	}

	body, err := c.Call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/login",
		JSON: LoginRequest{
			Type:                     "m.login.password",
			User:                     username,
			Password:                 password,
			InitialDeviceDisplayName: "palaver",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("matrix: login failed: %w", err)
	}

	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
	)
	return c.sessionFromAuth(&response), nil
}

// Register creates a new account. When the server demands
// user-interactive authentication, the first attempt's 401 is
// completed with the m.login.dummy stage; servers requiring a
// different stage surface the 401 as an *APIError for the caller to
// complete through RegisterWithAuth.
func (c *Client) Register(ctx context.Context, request RegisterRequest) (*Session, error) {
	if request.Username == "" {
		return nil, validationErrorf("username is required for registration")
	}
	if request.Password == "" {
		return nil, validationErrorf("password is required for registration")
	}

	body, err := c.register(ctx, request)
	if err == nil {
		return c.sessionFromRegister(body)
	}

	// A 401 carries the UIAA session; retry with the dummy stage.
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return nil, fmt.Errorf("matrix: registration failed: %w", err)
	}
	var uiaa struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(apiErr.Body, &uiaa); err != nil || uiaa.Session == "" {
		return nil, fmt.Errorf("matrix: registration challenge missing session: %w", err)
	}

	request.Auth = map[string]any{
		"type":    "m.login.dummy",
		"session": uiaa.Session,
	}
	return c.RegisterWithAuth(ctx, request)
}

// RegisterWithAuth creates an account with an explicit
// user-interactive authentication stage already filled in
// (request.Auth). Use for servers requiring registration tokens or
// other stages beyond m.login.dummy.
func (c *Client) RegisterWithAuth(ctx context.Context, request RegisterRequest) (*Session, error) {
	body, err := c.register(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("matrix: registration failed: %w", err)
	}
	return c.sessionFromRegister(body)
}

func (c *Client) register(ctx context.Context, request RegisterRequest) ([]byte, error) {
	query := url.Values{}
	query.Set("kind", "user")
	return c.Call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/register",
		Query:  query,
		JSON:   request,
	})
}

func (c *Client) sessionFromRegister(body []byte) (*Session, error) {
	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: failed to parse register response: %w", err)
	}
	c.logger.Info("registered account",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
	)
	return c.sessionFromAuth(&response), nil
}

func (c *Client) sessionFromAuth(auth *AuthResponse) *Session {
	return &Session{
		client:      c,
		accessToken: auth.AccessToken,
		userID:      auth.UserID,
		deviceID:    auth.DeviceID,
	}
}

// SessionFromToken creates a Session from an existing access token.
// The token is not validated — the first API call fails if it is
// invalid. userID must be the fully-qualified Matrix user ID.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, validationErrorf("access token is required")
	}
	if userID.IsZero() {
		return nil, validationErrorf("user ID is required")
	}
	return &Session{
		client:      c,
		accessToken: accessToken,
		userID:      userID,
	}, nil
}

// UserID returns the fully-qualified Matrix user ID for this session.
func (s *Session) UserID() ref.UserID { return s.userID }

// DeviceID returns the device ID, when known (login/register set it;
// SessionFromToken does not).
func (s *Session) DeviceID() string { return s.deviceID }

// AccessToken returns the raw access token. Use only at boundaries
// that genuinely need the string, such as persisting a session file.
func (s *Session) AccessToken() string { return s.accessToken }

// Client returns the parent Client.
func (s *Session) Client() *Client { return s.client }

// CloseIdleConnections drops idle pooled connections; see
// Client.CloseIdleConnections.
func (s *Session) CloseIdleConnections() { s.client.CloseIdleConnections() }

// call routes an authenticated request through the Client transport.
func (s *Session) call(ctx context.Context, opts CallOptions) ([]byte, error) {
	opts.Token = s.accessToken
	return s.client.Call(ctx, opts)
}

// callJSON performs an authenticated request and decodes the JSON
// response into out (skipped when out is nil).
func (s *Session) callJSON(ctx context.Context, opts CallOptions, out any) error {
	body, err := s.call(ctx, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s %s response: %w", opts.Method, opts.Path, err)
	}
	return nil
}

// WhoAmI validates the access token and returns the user ID the
// server associates with it.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	var response WhoAmIResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/account/whoami",
	}, &response)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("matrix: whoami failed: %w", err)
	}
	return response.UserID, nil
}

// Logout invalidates this session's access token.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/logout",
		JSON:   struct{}{},
	}); err != nil {
		return fmt.Errorf("matrix: logout failed: %w", err)
	}
	return nil
}

// LogoutAll invalidates every access token for this session's user,
// including this one.
func (s *Session) LogoutAll(ctx context.Context) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/logout/all",
		JSON:   struct{}{},
	}); err != nil {
		return fmt.Errorf("matrix: logout all failed: %w", err)
	}
	return nil
}

// ChangePassword changes the account password, completing the
// user-interactive authentication with the current password.
func (s *Session) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return validationErrorf("current and new passwords are required")
	}
	requestBody := map[string]any{
		"new_password": newPassword,
		"auth": map[string]any{
			"type":     "m.login.password",
			"user":     s.userID.String(),
			"password": currentPassword,
		},
	}
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/account/password",
		JSON:   requestBody,
	}); err != nil {
		return fmt.Errorf("matrix: change password failed: %w", err)
	}
	return nil
}

// SetAccountData writes per-account data of the given type.
func (s *Session) SetAccountData(ctx context.Context, dataType ref.EventType, content any) error {
	path := "/user/" + url.PathEscape(s.userID.String()) + "/account_data/" + url.PathEscape(dataType.String())
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   path,
		JSON:   content,
	}); err != nil {
		return fmt.Errorf("matrix: set account data %s failed: %w", dataType, err)
	}
	return nil
}

// SetRoomAccountData writes per-room account data of the given type.
func (s *Session) SetRoomAccountData(ctx context.Context, roomID ref.RoomID, dataType ref.EventType, content any) error {
	path := "/user/" + url.PathEscape(s.userID.String()) +
		"/rooms/" + url.PathEscape(roomID.String()) +
		"/account_data/" + url.PathEscape(dataType.String())
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   path,
		JSON:   content,
	}); err != nil {
		return fmt.Errorf("matrix: set room account data %s in %q failed: %w", dataType, roomID, err)
	}
	return nil
}

// UploadFilter uploads a filter definition and returns the server-side
// filter ID for use in sync calls.
func (s *Session) UploadFilter(ctx context.Context, filter any) (string, error) {
	var response FilterResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/user/" + url.PathEscape(s.userID.String()) + "/filter",
		JSON:   filter,
	}, &response)
	if err != nil {
		return "", fmt.Errorf("matrix: upload filter failed: %w", err)
	}
	return response.FilterID, nil
}

// Sync performs one /sync call. For the initial sync leave
// options.Since empty; for long-polling set options.Timeout to the
// desired wait in milliseconds.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout || options.Timeout > 0 {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	if options.FullState {
		query.Set("full_state", "true")
	}
	if options.SetPresence != "" {
		query.Set("set_presence", options.SetPresence)
	}

	var response SyncResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/sync",
		Query:  query,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: sync failed: %w", err)
	}
	return &response, nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "palaver-<timestamp_ms>-<counter>" so IDs
// stay unique across restarts.
func (s *Session) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("palaver-%d-%d", time.Now().UnixMilli(), counter)
}
