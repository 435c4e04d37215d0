// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"sync"
	"time"

	"github.com/Brainwires/lazarus-mcp/internal/toolerr"
)

// LockMode is Read or Write, per spec.md §3's FileLock.
type LockMode string

const (
	LockRead  LockMode = "read"
	LockWrite LockMode = "write"
)

// FileLock records one advisory claim on a path. Locks coordinate
// background agents under one supervisor only — they are process-local,
// not kernel locks (flock/fcntl), matching spec.md §3's invariant.
type FileLock struct {
	Path       string
	HolderID   string
	Mode       LockMode
	AcquiredAt time.Time
}

// lockTable is the exclusive-owned-by-pool table of active FileLocks.
// A path may have any number of Read holders, or exactly one Write
// holder, never both — Read and Write are mutually exclusive per path.
type lockTable struct {
	mu    sync.Mutex
	byPath map[string][]FileLock
}

func newLockTable() *lockTable {
	return &lockTable{byPath: make(map[string][]FileLock)}
}

// acquire attempts to claim path for holderID at mode. Requests that
// would violate the Read/Write exclusivity rules fail immediately —
// spec.md §4.E states there is no blocking/queueing in the core.
func (t *lockTable) acquire(path, holderID string, mode LockMode, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	holders := t.byPath[path]

	if len(holders) == 0 {
		t.byPath[path] = []FileLock{{Path: path, HolderID: holderID, Mode: mode, AcquiredAt: now}}
		return nil
	}

	sameHolderIndex := -1
	for i, h := range holders {
		if h.HolderID == holderID {
			sameHolderIndex = i
			break
		}
	}

	if sameHolderIndex >= 0 {
		if mode == LockWrite {
			// Upgrade Read->Write is allowed only when this holder is the
			// sole holder of the path.
			if len(holders) != 1 {
				return toolerr.New(toolerr.KindConflict, "cannot upgrade %s to write: other holders present on %s", holderID, path)
			}
			holders[0].Mode = LockWrite
			holders[0].AcquiredAt = now
			return nil
		}
		// Re-acquiring Read while already holding (Read or Write) is a
		// no-op.
		return nil
	}

	// A different holder wants in.
	existingMode := holders[0].Mode
	if existingMode == LockWrite || mode == LockWrite {
		return toolerr.New(toolerr.KindConflict, "path %s is held by %s (%s)", path, holders[0].HolderID, existingMode)
	}
	// Both existing and requested are Read: shared, append.
	t.byPath[path] = append(holders, FileLock{Path: path, HolderID: holderID, Mode: mode, AcquiredAt: now})
	return nil
}

// releaseAll drops every lock held by holderID, called on an agent's
// terminal-state transition per spec.md §4.E.
func (t *lockTable) releaseAll(holderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, holders := range t.byPath {
		filtered := holders[:0]
		for _, h := range holders {
			if h.HolderID != holderID {
				filtered = append(filtered, h)
			}
		}
		if len(filtered) == 0 {
			delete(t.byPath, path)
		} else {
			t.byPath[path] = filtered
		}
	}
}

// release drops a single path's lock if held by holderID.
func (t *lockTable) release(path, holderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	holders, held := t.byPath[path]
	if !held {
		return toolerr.New(toolerr.KindNotFound, "no lock held on %s", path)
	}
	found := false
	filtered := holders[:0]
	for _, h := range holders {
		if h.HolderID == holderID {
			found = true
			continue
		}
		filtered = append(filtered, h)
	}
	if !found {
		return toolerr.New(toolerr.KindConflict, "holder %s does not hold a lock on %s", holderID, path)
	}
	if len(filtered) == 0 {
		delete(t.byPath, path)
	} else {
		t.byPath[path] = filtered
	}
	return nil
}

// snapshot returns a copy of the current lock table for the
// agent_file_locks tool.
func (t *lockTable) snapshot() []FileLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []FileLock
	for _, holders := range t.byPath {
		out = append(out, holders...)
	}
	return out
}
