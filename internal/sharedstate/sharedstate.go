// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package sharedstate implements the wrapper's best-effort published
// view of itself (spec.md §3 SharedStateSnapshot, §4.H). The wrapper is
// the sole writer, at up to 1 Hz; the dashboard and any other reader
// must tolerate a stale or momentarily-missing file. Uses the same
// write-temp-then-rename discipline as internal/signalfile.
package sharedstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Brainwires/lazarus-mcp/internal/atomicfile"
	"github.com/Brainwires/lazarus-mcp/internal/netmon"
	"github.com/Brainwires/lazarus-mcp/internal/watchdog"
)

// PoolSummary is the pool-statistics slice of a snapshot.
type PoolSummary struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Stopped   int `json:"stopped"`
	Locks     int `json:"locks_held"`
}

// Snapshot is the single JSON object written to the pid-named shared
// state file: WrapperSession fields, watchdog state, pool summary, and
// a tail of recent NetEvents, per spec.md §4.H.
type Snapshot struct {
	WrapperPID      int             `json:"wrapper_pid"`
	ChildPID        int             `json:"child_pid,omitempty"`
	Agent           string          `json:"agent"`
	OriginalArgs    []string        `json:"original_args"`
	RestartCount    int             `json:"restart_count"`
	StartedAt       int64           `json:"started_at_unix_ms"`
	LastRestartAt   int64           `json:"last_restart_at_unix_ms,omitempty"`
	LastActivityAt  int64           `json:"last_activity_at_unix_ms"`
	Watchdog        watchdog.Snapshot `json:"watchdog"`
	Pool            PoolSummary     `json:"pool"`
	RecentNetEvents []netmon.Event  `json:"recent_net_events,omitempty"`
	WrittenAt       int64           `json:"written_at_unix_ms"`
}

// Path returns the pid-named shared-state file path, per spec.md's file
// naming scheme, e.g. "<ipc-dir>/lazarus-state-<wrapper-pid>.json".
func Path(ipcDir string, wrapperPID int) string {
	return filepath.Join(ipcDir, fmt.Sprintf("lazarus-state-%d.json", wrapperPID))
}

// Write atomically publishes snap to path.
func Write(path string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling shared state snapshot: %w", err)
	}
	return atomicfile.Write(path, data, 0644)
}

// Read reads and parses a shared-state file. Callers must expect
// os.ErrNotExist (the wrapper has not written its first snapshot yet,
// or has already exited and cleaned up) and treat it as "no data",
// never as an error worth surfacing to a human.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parsing shared state file %s: %w", path, err)
	}
	return snap, nil
}
