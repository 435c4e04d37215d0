// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlay builds the per-process .mcp.json replacement the
// hooks library redirects reads to (spec.md §4.A's overlay matching
// rule, §6's Overlay MCP config schema). When the agent's working
// directory already has a .mcp.json, its servers are preserved and the
// supervisor's own entry is unioned in — never dropped, never
// overwritten wholesale.
//
// JSONC parsing strips comments/trailing commas with tidwall/jsonc,
// then decodes with the standard library.
package overlay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/Brainwires/lazarus-mcp/internal/atomicfile"
)

// ServerEntry is one entry of the "mcpServers" map.
type ServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Config is the on-disk shape of an .mcp.json file (and of the overlay
// this package writes), per spec.md §6.
type Config struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
}

// selfServerName is the key injected into mcpServers for this program's
// own MCP control-plane entry.
const selfServerName = "lazarus"

// Build produces the overlay Config for a given wrapper executable
// path, unioning in any servers found in an existing .mcp.json at
// existingPath. A missing existingPath is not an error — the overlay
// simply contains only the injected entry.
func Build(existingPath string, selfExecutable string) (Config, error) {
	cfg := Config{MCPServers: map[string]ServerEntry{}}

	if existingPath != "" {
		data, err := os.ReadFile(existingPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading existing mcp config %s: %w", existingPath, err)
			}
		} else {
			var existing Config
			stripped := jsonc.ToJSON(data)
			if err := json.Unmarshal(stripped, &existing); err != nil {
				return Config{}, fmt.Errorf("parsing existing mcp config %s: %w", existingPath, err)
			}
			for name, entry := range existing.MCPServers {
				cfg.MCPServers[name] = entry
			}
		}
	}

	cfg.MCPServers[selfServerName] = ServerEntry{
		Command: selfExecutable,
		Args:    []string{"--mcp-server"},
	}

	return cfg, nil
}

// Write atomically writes cfg as the overlay file at path, per spec.md
// §6's "<dir>/<brand>-overlay-<pid>.json" file table entry.
func Write(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling overlay config: %w", err)
	}
	data = append(data, '\n')
	return atomicfile.Write(path, data, 0644)
}

// Path returns the overlay file path for a wrapper pid.
func Path(ipcDir string, wrapperPID int) string {
	return fmt.Sprintf("%s/lazarus-overlay-%d.json", ipcDir, wrapperPID)
}

// ShouldOverlay reports whether requestPath matches OVERLAY_TARGET
// under spec.md §4.A's matching rule: exact equality, or the request
// path ends with "/" + target. This is the Go implementation of the
// rule, exercised by this package's tests; the hooks library
// reimplements the same check in C (cmd/lazarus-hooks/overlay.c) since
// it must run without allocating on the intercepted call's hot path.
func ShouldOverlay(requestPath, target string) bool {
	if target == "" {
		return false
	}
	if requestPath == target {
		return true
	}
	suffix := "/" + target
	if len(requestPath) >= len(suffix) && requestPath[len(requestPath)-len(suffix):] == suffix {
		return true
	}
	return false
}
