// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile provides the write-temp-fsync-rename pattern used by
// every on-disk state file in this module (signal files, shared-state
// snapshots, overlay files): readers of a path written this way never
// observe a partial file.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically writes data to path: it writes to path+".tmp" in the
// same directory, fsyncs, renames into place, then syncs the parent
// directory so the rename survives a crash. mode sets the permissions
// of the temporary (and therefore final) file.
func Write(path string, data []byte, mode os.FileMode) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file for %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file for %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file for %s: %w", path, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming temporary file into place for %s: %w", path, err)
	}

	if parentDir, err := os.Open(filepath.Dir(path)); err == nil {
		parentDir.Sync()
		parentDir.Close()
	}

	return nil
}

// Remove deletes path, treating a missing file as success. Used for the
// unlink-on-consume step of signal files and the best-effort cleanup of
// overlay/shared-state files on exit.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
