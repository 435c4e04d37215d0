// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for lazarus packages.
package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory suitable for Unix domain sockets.
//
// Unix domain sockets have a 108-byte path limit (sun_path in sockaddr_un),
// which a deeply-nested t.TempDir() path can exceed. This function
// creates a short-named directory directly in /tmp instead.
//
// The directory is automatically removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "lazarus-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
