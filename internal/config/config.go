// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and saves the agent-watch configuration from
// ~/.agent-watch/config.yaml. Missing keys keep their defaults, so a
// partial config file is always valid.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".agent-watch"
	configFileName = "config.yaml"
	logDirName     = "logs"
	dbFileName     = "events.db"
)

// Config is the root configuration.
type Config struct {
	General       GeneralConfig      `yaml:"general"`
	Logging       LoggingConfig      `yaml:"logging"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Alerts        AlertConfig        `yaml:"alerts"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// GeneralConfig holds output settings.
type GeneralConfig struct {
	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
	// DefaultFormat selects the event output format: pretty, json or
	// compact.
	DefaultFormat string `yaml:"default_format"`
}

// LoggingConfig controls session persistence.
type LoggingConfig struct {
	// Enabled turns session log files on.
	Enabled bool `yaml:"enabled"`
	// LogDir overrides the default session directory.
	LogDir string `yaml:"log_dir"`
	// RetentionDays prunes session files older than this; 0 keeps
	// everything.
	RetentionDays int `yaml:"retention_days"`
	// SQLiteEnabled mirrors events into the SQLite database.
	SQLiteEnabled bool `yaml:"sqlite_enabled"`
}

// MonitoringConfig controls the observation subsystems.
type MonitoringConfig struct {
	FSEnabled      bool     `yaml:"fs_enabled"`
	NetEnabled     bool     `yaml:"net_enabled"`
	TrackChildren  bool     `yaml:"track_children"`
	TrackingPollMS int      `yaml:"tracking_poll_ms"`
	FSDebounceMS   int      `yaml:"fs_debounce_ms"`
	NetPollMS      int      `yaml:"net_poll_ms"`
	WatchPaths     []string `yaml:"watch_paths"`
	// SensitivePatterns are globs for credential-bearing files.
	SensitivePatterns []string `yaml:"sensitive_patterns"`
	// NetworkAllowlist hosts score Medium instead of High.
	NetworkAllowlist []string `yaml:"network_allowlist"`
}

// AlertConfig controls terminal alerting.
type AlertConfig struct {
	// MinLevel is the lowest risk level printed as an alert.
	MinLevel string `yaml:"min_level"`
	// CustomHighRisk command prefixes always score High.
	CustomHighRisk []string `yaml:"custom_high_risk"`
}

// NotificationConfig controls outbound alert delivery.
type NotificationConfig struct {
	Enabled      bool   `yaml:"enabled"`
	MinRiskLevel string `yaml:"min_risk_level"`
	// WebhookURL receives a JSON POST per alert when set.
	WebhookURL string `yaml:"webhook_url"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		General: GeneralConfig{
			Verbose:       false,
			DefaultFormat: "pretty",
		},
		Logging: LoggingConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Monitoring: MonitoringConfig{
			FSEnabled:      false,
			NetEnabled:     false,
			TrackChildren:  true,
			TrackingPollMS: 100,
			FSDebounceMS:   100,
			NetPollMS:      500,
			SensitivePatterns: []string{
				".env",
				".env.*",
				"*.pem",
				"*.key",
				"*credential*",
				"*secret*",
			},
			NetworkAllowlist: []string{
				"api.anthropic.com",
				"github.com",
				"api.github.com",
			},
		},
		Alerts: AlertConfig{
			MinLevel: "high",
		},
		Notifications: NotificationConfig{
			Enabled:      true,
			MinRiskLevel: "high",
		},
	}
}

// BaseDir returns the configuration directory (~/.agent-watch).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// DefaultPath returns the configuration file path.
func DefaultPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// DefaultLogDir returns the session log directory.
func DefaultLogDir() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logDirName), nil
}

// DefaultDBPath returns the SQLite mirror path.
func DefaultDBPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFileName), nil
}

// EnsureBaseDir creates the configuration directory if needed.
func EnsureBaseDir() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the configuration from the default path. A missing file
// yields the defaults.
func Load() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadPath(path)
}

// LoadPath reads the configuration from an explicit path.
func LoadPath(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path with owner-only permissions.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// EffectiveLogDir returns the configured or default session directory.
func (l LoggingConfig) EffectiveLogDir() (string, error) {
	if l.LogDir != "" {
		return l.LogDir, nil
	}
	return DefaultLogDir()
}

// TrackingPoll returns the child tracking poll interval.
func (m MonitoringConfig) TrackingPoll() time.Duration {
	return time.Duration(m.TrackingPollMS) * time.Millisecond
}

// FSDebounce returns the filesystem debounce window.
func (m MonitoringConfig) FSDebounce() time.Duration {
	return time.Duration(m.FSDebounceMS) * time.Millisecond
}

// NetPoll returns the network poll interval.
func (m MonitoringConfig) NetPoll() time.Duration {
	return time.Duration(m.NetPollMS) * time.Millisecond
}
