// Package config loads the tool configuration (not the desired-state
// spec, which internal/spec owns).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where converge looks for its own configuration.
const DefaultPath = "/etc/converge/config.yaml"

// Config holds tool-level settings. Every field has a default; a
// missing config file is not an error.
type Config struct {
	StateDir       string `yaml:"state_dir"`       // snapshots and run history
	CommandTimeout string `yaml:"command_timeout"` // per external command, e.g. "90s"
	LogLevel       string `yaml:"log_level"`       // trace, debug, info, warn, error
	HistoryLimit   int    `yaml:"history_limit"`   // default rows shown by `converge history`

	timeout time.Duration
}

// Timeout returns the parsed command timeout.
func (c *Config) Timeout() time.Duration { return c.timeout }

// Load reads the config at path, applies defaults, then environment
// overrides (CONVERGE_STATE_DIR, CONVERGE_COMMAND_TIMEOUT,
// CONVERGE_LOG_LEVEL). A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("CONVERGE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("CONVERGE_COMMAND_TIMEOUT"); v != "" {
		cfg.CommandTimeout = v
	}
	if v := os.Getenv("CONVERGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.StateDir == "" {
		cfg.StateDir = "/var/lib/converge"
	}
	if cfg.CommandTimeout == "" {
		cfg.CommandTimeout = "60s"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 20
	}

	cfg.timeout, err = time.ParseDuration(cfg.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid command_timeout %q: %w", cfg.CommandTimeout, err)
	}
	if cfg.timeout <= 0 {
		return nil, fmt.Errorf("command_timeout must be positive, got %q", cfg.CommandTimeout)
	}
	return cfg, nil
}
