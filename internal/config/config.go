// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the wrapper's optional settings file. Unlike a
// required-config system, lazarus runs correctly with no file at all:
// Load returns built-in defaults when LAZARUS_CONFIG is unset, and only
// ever overrides fields the file actually sets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brainwires/lazarus-mcp/internal/agentspec"
)

// Config is the wrapper's tunable settings.
type Config struct {
	// IPCDir is the directory holding signal files, shared-state
	// snapshots, netmon logs, and overlay files. Defaults to
	// $XDG_RUNTIME_DIR/lazarus or a temp-dir fallback.
	IPCDir string `yaml:"ipc_dir"`

	// MaxBackgroundAgents bounds the agent pool. Default 8.
	MaxBackgroundAgents int `yaml:"max_background_agents"`

	// Watchdog holds the watchdog defaults applied at wrapper startup;
	// watchdog_configure can still change these at runtime.
	Watchdog WatchdogConfig `yaml:"watchdog"`

	// Agents lets a settings file add or override agentspec.AgentSpec
	// rows without a code change, per SPEC_FULL.md's Open Question
	// resolution: the permission-flag table is sourced from
	// configuration, not hardcoded.
	Agents []AgentOverride `yaml:"agents"`
}

// WatchdogConfig mirrors watchdog.Config in YAML-friendly form (plain
// seconds instead of time.Duration, which yaml.v3 cannot parse
// directly).
type WatchdogConfig struct {
	Enabled              *bool  `yaml:"enabled"`
	HeartbeatTimeoutSecs int    `yaml:"heartbeat_timeout_secs"`
	LockupAction         string `yaml:"lockup_action"`
	MaxMemoryMB          int64  `yaml:"max_memory_mb"`
}

// AgentOverride is one settings-file row destined for agentspec.Register.
type AgentOverride struct {
	Name                string   `yaml:"name"`
	Executable          string   `yaml:"executable"`
	SupportsContinue    bool     `yaml:"supports_continue"`
	ContinueFlag        string   `yaml:"continue_flag"`
	AutoPermissionFlags []string `yaml:"auto_permission_flags"`
}

// Default returns the built-in configuration used when no settings
// file is present or a field is left unset in one that is.
func Default() *Config {
	return &Config{
		IPCDir:              defaultIPCDir(),
		MaxBackgroundAgents: 8,
		Watchdog: WatchdogConfig{
			Enabled:              boolPtr(true),
			HeartbeatTimeoutSecs: 60,
			LockupAction:         "restart",
			MaxMemoryMB:          0,
		},
	}
}

func defaultIPCDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/lazarus"
	}
	return os.TempDir() + "/lazarus"
}

// Load reads LAZARUS_CONFIG, if set, and merges it over Default().
// An unset environment variable is not an error, per spec.md's "the
// wrapper must work with zero configuration" requirement — config here
// is optional, not mandatory.
func Load() (*Config, error) {
	path := os.Getenv("LAZARUS_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads and merges a specific settings file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.merge(&file)
	return cfg, nil
}

func (c *Config) merge(file *Config) {
	if file.IPCDir != "" {
		c.IPCDir = file.IPCDir
	}
	if file.MaxBackgroundAgents != 0 {
		c.MaxBackgroundAgents = file.MaxBackgroundAgents
	}
	if file.Watchdog.HeartbeatTimeoutSecs != 0 {
		c.Watchdog.HeartbeatTimeoutSecs = file.Watchdog.HeartbeatTimeoutSecs
	}
	if file.Watchdog.LockupAction != "" {
		c.Watchdog.LockupAction = file.Watchdog.LockupAction
	}
	if file.Watchdog.MaxMemoryMB != 0 {
		c.Watchdog.MaxMemoryMB = file.Watchdog.MaxMemoryMB
	}
	if file.Watchdog.Enabled != nil {
		c.Watchdog.Enabled = file.Watchdog.Enabled
	}

	c.Agents = append(c.Agents, file.Agents...)
}

func boolPtr(b bool) *bool { return &b }

// HeartbeatTimeout converts the YAML seconds field to a time.Duration
// for feeding into watchdog.Config.
func (w WatchdogConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(w.HeartbeatTimeoutSecs) * time.Second
}

// EnabledOrDefault reports the watchdog's enabled flag, treating an
// unset pointer as enabled (matching Default()).
func (w WatchdogConfig) EnabledOrDefault() bool {
	if w.Enabled == nil {
		return true
	}
	return *w.Enabled
}

// ApplyAgentOverrides registers every configured AgentOverride into the
// agentspec table, per SPEC_FULL.md's config-sourced permission-flag
// resolution.
func (c *Config) ApplyAgentOverrides() {
	for _, o := range c.Agents {
		agentspec.Register(agentspec.AgentSpec{
			Name:                o.Name,
			Executable:          o.Executable,
			SupportsContinue:    o.SupportsContinue,
			ContinueFlag:        o.ContinueFlag,
			AutoPermissionFlags: o.AutoPermissionFlags,
		})
	}
}
