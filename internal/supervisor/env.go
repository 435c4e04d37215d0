// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"os"
	"strconv"
)

// childEnv composes the agent child's environment, per spec.md §4.G's
// Startup step and §6's env-var table: LD_PRELOAD loads the hooks
// library, and OVERLAY_TARGET/OVERLAY_PATH/NETMON_LOG are read back out
// of it by the hooks library itself on the other side of the preload.
// LAZARUS_WRAPPER_PID is always set so an MCP server started by the
// agent can find this wrapper (internal/tools.EnvLocator).
// The parent's own environment (including any LAZARUS_UID/LAZARUS_GID
// privilege-drop hints) passes through untouched.
func (w *Wrapper) childEnv() []string {
	env := os.Environ()
	env = append(env, "LAZARUS_WRAPPER_PID="+strconv.Itoa(w.wrapperPID))

	if w.opts.HooksLibraryPath != "" {
		env = append(env,
			"LD_PRELOAD="+w.opts.HooksLibraryPath,
			"OVERLAY_TARGET=.mcp.json",
			"OVERLAY_PATH="+w.overlayPath(),
		)
		if w.opts.NetmonMode == NetmonPreload {
			env = append(env, "NETMON_LOG="+w.netmonLogPath())
		}
	}

	return env
}
