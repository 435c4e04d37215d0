// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// dropPrivileges drops from root to the invoking user before the child
// is started, per spec.md §4.G: a wrapper launched via sudo/setuid must
// not hand a coding agent a root shell. The target uid/gid come from
// SUDO_GID/SUDO_UID when present (sudo's own convention) and otherwise
// from LAZARUS_UID/LAZARUS_GID, for a wrapper started as root by some
// means other than sudo. --keep-root skips this drop entirely.
// Group is dropped before user, since a non-root process cannot change
// its group once it has given up the uid needed to do so.
func dropPrivileges() error {
	gid, err := targetID("SUDO_GID", "LAZARUS_GID")
	if err != nil {
		return err
	}
	uid, err := targetID("SUDO_UID", "LAZARUS_UID")
	if err != nil {
		return err
	}

	// Go's syscall.Setgid/Setuid (unlike golang.org/x/sys/unix's raw
	// per-thread syscall wrappers) apply across every OS thread in the
	// process, which is what a process-wide privilege drop needs on
	// Linux — a thread-local drop would leave other runtime threads,
	// and anything the child inherits through them, still privileged.
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}
	return nil
}

func targetID(primaryEnv, fallbackEnv string) (int, error) {
	for _, name := range []string{primaryEnv, fallbackEnv} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		id, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parsing %s=%q: %w", name, v, err)
		}
		return id, nil
	}
	return 0, fmt.Errorf("running as root and neither %s nor %s is set; pass --keep-root to run the child as root intentionally", primaryEnv, fallbackEnv)
}
