// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Devices lists the account's registered devices.
func (s *Session) Devices(ctx context.Context) ([]Device, error) {
	var response DevicesResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/devices",
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: list devices failed: %w", err)
	}
	return response.Devices, nil
}

// Device fetches a single device by ID.
func (s *Session) Device(ctx context.Context, deviceID string) (*Device, error) {
	var device Device
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodGet,
		Path:   "/devices/" + url.PathEscape(deviceID),
	}, &device)
	if err != nil {
		return nil, fmt.Errorf("matrix: get device %q failed: %w", deviceID, err)
	}
	return &device, nil
}

// UpdateDevice sets a device's display name.
func (s *Session) UpdateDevice(ctx context.Context, deviceID, displayName string) error {
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPut,
		Path:   "/devices/" + url.PathEscape(deviceID),
		JSON:   map[string]string{"display_name": displayName},
	}); err != nil {
		return fmt.Errorf("matrix: update device %q failed: %w", deviceID, err)
	}
	return nil
}

// DeleteDevice removes a device. Servers typically demand interactive
// auth; auth carries the completed auth dict, or nil to provoke the
// 401 flows response.
func (s *Session) DeleteDevice(ctx context.Context, deviceID string, auth map[string]any) error {
	body := map[string]any{}
	if auth != nil {
		body["auth"] = auth
	}
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodDelete,
		Path:   "/devices/" + url.PathEscape(deviceID),
		JSON:   body,
	}); err != nil {
		return fmt.Errorf("matrix: delete device %q failed: %w", deviceID, err)
	}
	return nil
}

// DeleteDevices removes several devices at once, with the same
// interactive-auth caveat as DeleteDevice.
func (s *Session) DeleteDevices(ctx context.Context, deviceIDs []string, auth map[string]any) error {
	body := map[string]any{"devices": deviceIDs}
	if auth != nil {
		body["auth"] = auth
	}
	if _, err := s.call(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/delete_devices",
		JSON:   body,
	}); err != nil {
		return fmt.Errorf("matrix: delete devices failed: %w", err)
	}
	return nil
}

// UploadKeys publishes device and one-time keys for this device.
func (s *Session) UploadKeys(ctx context.Context, request UploadKeysRequest) (map[string]int, error) {
	var response UploadKeysResponse
	err := s.callJSON(ctx, CallOptions{
		Method: http.MethodPost,
		Path:   "/keys/upload",
		JSON:   request,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("matrix: upload keys failed: %w", err)
	}
	return response.OneTimeKeyCounts, nil
}
