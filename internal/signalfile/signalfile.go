// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package signalfile implements the one-shot, pid-rendezvous IPC channel
// between the MCP server and the wrapper (spec.md §4.B). The MCP tool
// handler is the producer: it writes a Request atomically to a
// pid-derived path. The wrapper is the sole consumer: it polls, reads,
// unlinks, then dispatches — the unlink is what makes consumption
// exactly-once under the single-consumer assumption spec.md states.
//
// Uses the write-temp-then-rename pattern generalized here into
// internal/atomicfile.
package signalfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Brainwires/lazarus-mcp/internal/atomicfile"
)

// Kind enumerates the SignalRequest kinds named in spec.md §3.
type Kind string

const (
	KindRestart         Kind = "restart"
	KindHeartbeat       Kind = "heartbeat"
	KindWatchdogPing    Kind = "watchdog_ping"
	KindWatchdogDisable Kind = "watchdog_disable"
)

// Request is the single-file payload from the MCP server to the wrapper.
type Request struct {
	Kind         Kind   `json:"kind"`
	Reason       string `json:"reason,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	DurationSecs int    `json:"duration_secs,omitempty"`
}

// Path returns the rendezvous file name for a wrapper pid, per spec.md
// §4.B: "<ipc-dir>/<brand>-<wrapper-pid>".
func Path(ipcDir string, wrapperPID int) string {
	return filepath.Join(ipcDir, fmt.Sprintf("lazarus-%d", wrapperPID))
}

// Send writes req atomically to the rendezvous path for wrapperPID. If a
// second Send races a wrapper's poll cycle, the atomic rename means the
// last write before the poll wins — acceptable per spec.md §4.B since
// restart requests are idempotent and watchdog pings are monotone.
func Send(ipcDir string, wrapperPID int, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling signal request: %w", err)
	}
	if err := os.MkdirAll(ipcDir, 0700); err != nil {
		return fmt.Errorf("creating ipc directory %s: %w", ipcDir, err)
	}
	return atomicfile.Write(Path(ipcDir, wrapperPID), data, 0600)
}

// Poll checks for a pending request at path. If one exists, it is read
// and unlinked before returning, so a caller that observes ok==true has
// exclusively consumed the request — a concurrent Poll on the same path
// (which should not happen under the single-wrapper-per-pid contract)
// would see either the full request or none, never a partial file.
func Poll(path string) (req Request, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Request{}, false, nil
		}
		return Request{}, false, fmt.Errorf("reading signal file %s: %w", path, err)
	}

	// Unlink before parsing: a malformed payload must not wedge the
	// rendezvous file in place forever.
	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return Request{}, false, fmt.Errorf("removing signal file %s: %w", path, removeErr)
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, false, fmt.Errorf("parsing signal file %s: %w", path, err)
	}
	return req, true, nil
}
