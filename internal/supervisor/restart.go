// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Brainwires/lazarus-mcp/internal/sharedstate"
	"github.com/Brainwires/lazarus-mcp/internal/signalfile"
	"github.com/Brainwires/lazarus-mcp/internal/watchdog"
)

const signalPollInterval = 100 * time.Millisecond

// pollSignals implements the 100ms signal-file poll loop from spec.md
// §4.D: internal/tools writes a signalfile.Request, and this loop picks
// it up and acts on it. The file is removed by signalfile.Poll on every
// read, successful or not, so a malformed request never wedges the
// loop.
func (w *Wrapper) pollSignals(ctx context.Context) {
	ticker := time.NewTicker(signalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, ok, err := signalfile.Poll(w.signalPath())
			if err != nil {
				w.log.Warn("malformed signal file", "error", err)
				continue
			}
			if !ok {
				continue
			}
			w.handleSignal(req)
		}
	}
}

func (w *Wrapper) handleSignal(req signalfile.Request) {
	switch req.Kind {
	case signalfile.KindRestart:
		var prompt *string
		if req.Prompt != "" {
			p := req.Prompt
			prompt = &p
		}
		w.log.Info("restart requested", "reason", req.Reason)
		if err := w.restart(prompt); err != nil {
			w.log.Error("restart failed", "error", err)
		}

	case signalfile.KindHeartbeat:
		if patch, ok := parseWatchdogConfigurePayload(req.Reason); ok {
			w.wd.Configure(patch)
			return
		}
		w.wd.Ping(time.Now())

	case signalfile.KindWatchdogPing:
		w.wd.Ping(time.Now())

	case signalfile.KindWatchdogDisable:
		w.wd.Disable(time.Now(), time.Duration(req.DurationSecs)*time.Second)

	default:
		w.log.Warn("unknown signal kind", "kind", req.Kind)
	}
}

// watchdogConfigurePrefix is the marker internal/tools/registry.go uses
// to carry a JSON-encoded watchdog.ConfigPatch on the heartbeat signal
// kind's Reason field, avoiding a new entry in signalfile.Kind's closed
// enum for a feature that otherwise behaves exactly like a heartbeat.
const watchdogConfigurePrefix = "watchdog_configure:"

func parseWatchdogConfigurePayload(reason string) (watchdog.ConfigPatch, bool) {
	if !strings.HasPrefix(reason, watchdogConfigurePrefix) {
		return watchdog.ConfigPatch{}, false
	}
	var patch watchdog.ConfigPatch
	payload := strings.TrimPrefix(reason, watchdogConfigurePrefix)
	if err := json.Unmarshal([]byte(payload), &patch); err != nil {
		return watchdog.ConfigPatch{}, false
	}
	return patch, true
}

// tickWatchdog runs the watchdog's state machine once a second and acts
// on whatever LockupAction it fires, per spec.md §4.F.
func (w *Wrapper) tickWatchdog(ctx context.Context) {
	if w.opts.NoWatchdog {
		return
	}
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, action, fire := w.wd.Tick(time.Now())
			if !fire {
				continue
			}
			w.log.Warn("watchdog fired", "state", state, "action", action)
			w.actOnLockup(action)
		}
	}
}

func (w *Wrapper) actOnLockup(action watchdog.LockupAction) {
	switch action {
	case watchdog.ActionWarn, watchdog.ActionNotifyAndWait:
		// Logged above; no process action taken.

	case watchdog.ActionKill:
		w.signalChild(syscall.SIGKILL)

	case watchdog.ActionRestart:
		if err := w.restart(nil); err != nil {
			w.log.Error("watchdog restart failed", "error", err)
		}

	case watchdog.ActionRestartWithBackoff:
		backoff := w.wd.NextBackoff(time.Now())
		w.log.Info("watchdog restart backoff", "wait", backoff)
		time.Sleep(backoff)
		if err := w.restart(nil); err != nil {
			w.log.Error("watchdog restart failed", "error", err)
		}
	}
}

// writeSharedStateLoop publishes a sharedstate.Snapshot at most once a
// second, per spec.md §4.D's "the MCP server reads this file; it never
// talks to the wrapper directly" design.
func (w *Wrapper) writeSharedStateLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishSharedState()
		}
	}
}

func (w *Wrapper) publishSharedState() {
	w.mu.Lock()
	snap := sharedstate.Snapshot{
		WrapperPID:     w.wrapperPID,
		ChildPID:       w.childPID,
		Agent:          w.spec.Name,
		OriginalArgs:   append([]string(nil), w.opts.AgentArgs...),
		RestartCount:   w.restartCount,
		StartedAt:      w.startedAt.UnixMilli(),
		LastActivityAt: w.lastActivityAt.UnixMilli(),
	}
	if !w.lastRestartAt.IsZero() {
		snap.LastRestartAt = w.lastRestartAt.UnixMilli()
	}
	w.mu.Unlock()

	snap.Watchdog = w.wd.Snapshot()
	stats := w.pool.Stats()
	snap.Pool = sharedstate.PoolSummary{
		Queued:    stats.Queued,
		Running:   stats.Running,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Stopped:   stats.Stopped,
		Locks:     stats.Locks,
	}
	snap.WrittenAt = time.Now().UnixMilli()

	if err := sharedstate.Write(w.sharedStatePath(), snap); err != nil {
		w.log.Warn("writing shared state", "error", err)
	}
}

// signalChild delivers sig to the child's process group, ignoring an
// already-exited child.
func (w *Wrapper) signalChild(sig syscall.Signal) {
	w.mu.Lock()
	pid := w.childPID
	w.mu.Unlock()
	if pid == 0 {
		return
	}
	unix.Kill(-pid, sig)
}

// signalAndAwaitExit delivers sig to the child's process group and
// blocks until exited closes or timeout elapses, reporting which.
func (w *Wrapper) signalAndAwaitExit(sig syscall.Signal, timeout time.Duration, exited <-chan struct{}) bool {
	w.signalChild(sig)
	select {
	case <-exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

// escalate applies the wrapper's 3-2-2 shutdown escalation to the
// current child: SIGINT, wait up to 3s; SIGTERM, wait up to 2s; then
// SIGKILL. It is used both for the wrapper's own shutdown (Run's
// ctx.Done branch) and as the first step of restart. Per spec.md
// §4.G, the same escalation governs both paths.
func (w *Wrapper) escalate() {
	_, exited := w.currentExit()
	if w.signalAndAwaitExit(syscall.SIGINT, 3*time.Second, exited) {
		return
	}
	if w.signalAndAwaitExit(syscall.SIGTERM, 2*time.Second, exited) {
		return
	}
	w.signalChild(syscall.SIGKILL)
	<-exited
}

// restart implements spec.md §4.G's restart procedure: escalate the
// current child to exit, recompose argv (carrying prompt as a positional
// continue argument when the agent supports it), respawn under the
// preserved environment, and reset watchdog state. prompt is nil for a
// watchdog-triggered restart and non-nil for a restart_claude signal
// that supplied one.
func (w *Wrapper) restart(prompt *string) error {
	w.mu.Lock()
	if w.restarting {
		w.mu.Unlock()
		return fmt.Errorf("restart already in progress")
	}
	w.restarting = true
	w.restartDone = make(chan struct{})
	w.mu.Unlock()

	err := w.doRestart(prompt)

	w.mu.Lock()
	w.restarting = false
	close(w.restartDone)
	w.mu.Unlock()

	return err
}

// doRestart performs the escalate-then-respawn work. restart sets the
// restarting flag before calling this so that Run's wait loop, which may
// observe the outgoing child's exit concurrently on another goroutine,
// knows to wait for restartDone instead of treating that exit as final.
func (w *Wrapper) doRestart(prompt *string) error {
	w.escalate()

	argv := w.childArgv(true, prompt)
	if err := w.spawn(argv); err != nil {
		return fmt.Errorf("respawning %s: %w", w.spec.Executable, err)
	}

	now := time.Now()
	w.mu.Lock()
	w.restartCount++
	w.lastRestartAt = now
	w.mu.Unlock()

	w.wd.Ping(now)
	w.log.Info("child restarted", "agent", w.spec.Name, "pid", w.childPID, "restart_count", w.restartCount)
	return nil
}
