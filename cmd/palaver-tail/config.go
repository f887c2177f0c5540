// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the palaver-tail configuration file. Every field has a
// matching flag; flags win over the file, the file wins over the
// defaults. The file is located by --config or PALAVER_CONFIG, with
// no automatic discovery.
type Config struct {
	// Homeserver is the Matrix homeserver base URL.
	Homeserver string `yaml:"homeserver"`

	// SessionFile is where the access token and sync cursor are
	// persisted between runs. Written with mode 0600.
	SessionFile string `yaml:"session_file"`

	// Cache selects how much room state the syncer retains:
	// "all", "some", or "none".
	Cache string `yaml:"cache"`

	// TimeoutSeconds is the sync long-poll timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Rooms limits output to these room IDs or aliases. Empty means
	// every joined room.
	Rooms []string `yaml:"rooms"`

	// LogLevel is the slog level for stderr diagnostics: "debug",
	// "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads and parses a YAML config file. A missing path
// returns the zero Config without error; flags and defaults take over.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("PALAVER_CONFIG")
	}
	if path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return config, nil
}
