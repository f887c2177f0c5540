// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/palaver-im/palaver/lib/ref"
	"github.com/palaver-im/palaver/matrix"
)

// SessionFile is the on-disk session: enough to resume without logging
// in again, plus the sync cursor so a restart picks up where the last
// run stopped. Contains an access token, so it is written mode 0600.
type SessionFile struct {
	Homeserver  string     `json:"homeserver"`
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id,omitempty"`
	Since       string     `json:"since,omitempty"`
}

// defaultSessionPath returns ~/.config/palaver/session.json, honoring
// XDG_CONFIG_HOME.
func defaultSessionPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	return filepath.Join(configDir, "palaver", "session.json"), nil
}

// loadSessionFile reads a saved session. Returns (nil, nil) when the
// file does not exist.
func loadSessionFile(path string) (*SessionFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file %s: %w", path, err)
	}

	var session SessionFile
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}
	if session.AccessToken == "" || session.UserID.IsZero() {
		return nil, fmt.Errorf("session file %s is incomplete; delete it and log in again", path)
	}
	return &session, nil
}

// saveSessionFile writes the session with owner-only permissions. The
// write goes through a temp file and rename so a crash mid-write
// cannot truncate a working session.
func saveSessionFile(path string, session *SessionFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// resumeSession turns a saved session file back into a live Session.
func resumeSession(client *matrix.Client, saved *SessionFile) (*matrix.Session, error) {
	return client.SessionFromToken(saved.UserID, saved.AccessToken)
}
