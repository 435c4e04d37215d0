// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiscoverStatePathPicksMostRecentlyModified(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "lazarus-state-100.json")
	newer := filepath.Join(dir, "lazarus-state-200.json")
	writeFile(t, older, `{"wrapper_pid":100}`)
	time.Sleep(10 * time.Millisecond)
	writeFile(t, newer, `{"wrapper_pid":200}`)

	got, err := discoverStatePath(dir)
	if err != nil {
		t.Fatalf("discoverStatePath: %v", err)
	}
	if got != newer {
		t.Errorf("discoverStatePath = %q, want %q", got, newer)
	}
}

func TestDiscoverStatePathIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "not-a-state-file.json"), `{}`)

	got, err := discoverStatePath(dir)
	if err != nil {
		t.Fatalf("discoverStatePath: %v", err)
	}
	if got != "" {
		t.Errorf("discoverStatePath = %q, want empty", got)
	}
}

func TestDiscoverStatePathEmptyDir(t *testing.T) {
	got, err := discoverStatePath(t.TempDir())
	if err != nil {
		t.Fatalf("discoverStatePath: %v", err)
	}
	if got != "" {
		t.Errorf("discoverStatePath = %q, want empty", got)
	}
}

func TestModelUpdateTickSchedulesPollAndTick(t *testing.T) {
	m := newModel(t.TempDir(), 0)
	_, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Fatal("Update(tickMsg{}) returned a nil Cmd, want poll+tick batch")
	}
}

func TestModelUpdateSnapshotTracksLatestGoodRead(t *testing.T) {
	m := newModel(t.TempDir(), 0)

	next, _ := m.Update(snapshotMsg{path: "/tmp/x", err: nil})
	m = next.(model)
	if !m.have {
		t.Fatal("have = false after a successful snapshotMsg")
	}

	next, _ = m.Update(snapshotMsg{err: os.ErrNotExist})
	m = next.(model)
	if !m.have {
		t.Error("a later read error must not clear a previously-seen snapshot")
	}
	if m.err == nil {
		t.Error("err should record the latest read failure")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
