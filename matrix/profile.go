// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/palaver-im/palaver/lib/ref"
)

// Profile fetches a user's public profile.
func (s *Session) Profile(ctx context.Context, userID ref.UserID) (*ProfileResponse, error) {
	var response ProfileResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/profile/" + url.PathEscape(userID.String()),
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: get profile of %q failed: %w", userID, err)
	}
	return &response, nil
}

// DisplayName fetches a user's global display name. An empty string
// means the user has not set one.
func (s *Session) DisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	var response struct {
		DisplayName string `json:"displayname"`
	}
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/profile/" + url.PathEscape(userID.String()) + "/displayname",
	}, &response)
	if err != nil {
		return "", fmt.Errorf("matrix: get display name of %q failed: %w", userID, err)
	}
	return response.DisplayName, nil
}

// AvatarURL fetches a user's avatar content URI. The zero MXCURI means
// the user has no avatar.
func (s *Session) AvatarURL(ctx context.Context, userID ref.UserID) (ref.MXCURI, error) {
	var response struct {
		AvatarURL ref.MXCURI `json:"avatar_url"`
	}
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/profile/" + url.PathEscape(userID.String()) + "/avatar_url",
	}, &response)
	if err != nil {
		return ref.MXCURI{}, fmt.Errorf("matrix: get avatar of %q failed: %w", userID, err)
	}
	return response.AvatarURL, nil
}

// SetDisplayName sets this session's user display name.
func (s *Session) SetDisplayName(ctx context.Context, displayName string) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   "/profile/" + url.PathEscape(s.userID.String()) + "/displayname",
		JSON:   map[string]string{"displayname": displayName},
	}); err != nil {
		return fmt.Errorf("matrix: set display name failed: %w", err)
	}
	return nil
}

// SetAvatarURL sets this session's avatar to an uploaded content URI.
func (s *Session) SetAvatarURL(ctx context.Context, uri ref.MXCURI) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   "/profile/" + url.PathEscape(s.userID.String()) + "/avatar_url",
		JSON:   map[string]string{"avatar_url": uri.String()},
	}); err != nil {
		return fmt.Errorf("matrix: set avatar failed: %w", err)
	}
	return nil
}

// SetPresence publishes this session's presence state.
func (s *Session) SetPresence(ctx context.Context, presence, statusMsg string) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   "/presence/" + url.PathEscape(s.userID.String()) + "/status",
		JSON:   PresenceRequest{Presence: presence, StatusMsg: statusMsg},
	}); err != nil {
		return fmt.Errorf("matrix: set presence failed: %w", err)
	}
	return nil
}

// Presence fetches another user's presence state.
func (s *Session) Presence(ctx context.Context, userID ref.UserID) (*PresenceResponse, error) {
	var response PresenceResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/presence/" + url.PathEscape(userID.String()) + "/status",
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: get presence of %q failed: %w", userID, err)
	}
	return &response, nil
}
