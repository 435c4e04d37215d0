// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package dashboard implements the read-only terminal viewer for a
// running wrapper's published sharedstate.Snapshot (spec.md §4.H). It
// never writes to the IPC directory and never talks to the wrapper
// directly — it only polls the file the wrapper itself writes, so a
// missing or stale snapshot is expected steady-state, not an error.
//
// A bubbletea Model driven by a repeating tea.Tick, rendered with
// lipgloss styles.
package dashboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// Run starts the dashboard TUI. If pid is 0, it watches whichever
// shared-state file in ipcDir was most recently written, switching
// automatically if a newer wrapper starts; if pid is set, it watches
// only that wrapper's file.
func Run(ipcDir string, pid int) error {
	model := newModel(ipcDir, pid)
	// Seed the model's size from the real terminal so the first frame
	// (rendered before bubbletea's own tea.WindowSizeMsg arrives) isn't
	// drawn at 0x0. Best effort: a non-terminal stdout (e.g. piped
	// output in a test harness) just leaves the zero value, which the
	// first WindowSizeMsg then corrects.
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		model.width, model.height = w, h
	}
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// discoverStatePath picks the shared-state file to watch when the user
// did not pin a specific wrapper pid: the most recently modified
// "lazarus-state-*.json" in ipcDir, per the "most likely the one the
// user cares about" heuristic a single-machine dashboard can get away
// with.
func discoverStatePath(ipcDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(ipcDir, "lazarus-state-*.json"))
	if err != nil {
		return "", fmt.Errorf("globbing shared-state files in %s: %w", ipcDir, err)
	}
	if len(matches) == 0 {
		return "", nil
	}

	sort.Slice(matches, func(i, j int) bool {
		return newerByModTime(matches[i], matches[j])
	})
	return matches[0], nil
}

func newerByModTime(a, b string) bool {
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return infoA.ModTime().After(infoB.ModTime())
}
