// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/palaver-im/palaver/lib/ref"
	"github.com/palaver-im/palaver/matrix"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing path is zero config", func(t *testing.T) {
		t.Setenv("PALAVER_CONFIG", "")
		config, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if config.Homeserver != "" {
			t.Errorf("unexpected defaults: %+v", config)
		}
	})

	t.Run("parses file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "homeserver: https://matrix.example.org\ncache: some\ntimeout_seconds: 10\nrooms:\n  - \"#ops:example.org\"\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if config.Homeserver != "https://matrix.example.org" {
			t.Errorf("Homeserver = %q", config.Homeserver)
		}
		if config.Cache != "some" || config.TimeoutSeconds != 10 {
			t.Errorf("config = %+v", config)
		}
		if len(config.Rooms) != 1 || config.Rooms[0] != "#ops:example.org" {
			t.Errorf("Rooms = %v", config.Rooms)
		}
	})

	t.Run("unknown keys rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("homserver: typo\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("expected error for unknown key")
		}
	})
}

func TestParseCacheLevel(t *testing.T) {
	for value, want := range map[string]matrix.CacheLevel{
		"":     matrix.CacheAll,
		"all":  matrix.CacheAll,
		"some": matrix.CacheSome,
		"none": matrix.CacheNone,
	} {
		got, err := parseCacheLevel(value)
		if err != nil {
			t.Errorf("parseCacheLevel(%q) failed: %v", value, err)
		}
		if got != want {
			t.Errorf("parseCacheLevel(%q) = %v, want %v", value, got, want)
		}
	}
	if _, err := parseCacheLevel("most"); err == nil {
		t.Error("expected error for unknown cache level")
	}
}

func TestSessionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	if loaded, err := loadSessionFile(path); err != nil || loaded != nil {
		t.Fatalf("loadSessionFile of missing file = (%v, %v), want (nil, nil)", loaded, err)
	}

	session := &SessionFile{
		Homeserver:  "https://matrix.example.org",
		UserID:      ref.MustParseUserID("@alice:example.org"),
		AccessToken: "syt_secret",
		DeviceID:    "DEV1",
		Since:       "s100",
	}
	if err := saveSessionFile(path, session); err != nil {
		t.Fatalf("saveSessionFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("session file mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := loadSessionFile(path)
	if err != nil {
		t.Fatalf("loadSessionFile failed: %v", err)
	}
	if loaded.AccessToken != "syt_secret" || loaded.Since != "s100" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.UserID != session.UserID {
		t.Errorf("UserID = %v", loaded.UserID)
	}
}

func TestLoadSessionFileIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"homeserver": "https://x"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSessionFile(path); err == nil {
		t.Fatal("expected error for session file without token")
	}
}
