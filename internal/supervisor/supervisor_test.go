// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Brainwires/lazarus-mcp/internal/agentspec"
	"github.com/Brainwires/lazarus-mcp/internal/sharedstate"
	"github.com/Brainwires/lazarus-mcp/internal/signalfile"
	"github.com/Brainwires/lazarus-mcp/internal/watchdog"
)

func init() {
	agentspec.Register(agentspec.AgentSpec{
		Name:       "test-shell",
		Executable: "/bin/sh",
		AutoPermissionFlags: []string{"-c"},
	})
	agentspec.Register(agentspec.AgentSpec{
		Name:             "test-shell-continue",
		Executable:       "/bin/sh",
		SupportsContinue: true,
		ContinueFlag:     "--continue",
	})
	agentspec.Register(agentspec.AgentSpec{
		Name:                "test-shell-continue-permissioned",
		Executable:          "/bin/sh",
		SupportsContinue:    true,
		ContinueFlag:        "--continue",
		AutoPermissionFlags: []string{"--dangerously-skip-permissions"},
	})
}

func testWrapper(t *testing.T, agentScript string) *Wrapper {
	t.Helper()
	w, err := New(Options{
		AgentName:       "test-shell",
		AgentArgs:       []string{agentScript},
		IPCDir:          t.TempDir(),
		NoInjectMCP:     true,
		WatchdogTimeout: time.Hour,
		Stdout:          io.Discard,
		Stderr:          io.Discard,
		Log:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestChildArgvInitialSpawn(t *testing.T) {
	spec, err := agentspec.Lookup("test-shell")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	w := &Wrapper{spec: spec, opts: Options{AgentArgs: []string{"echo hi"}}}

	got := w.childArgv(false, nil)
	want := []string{"/bin/sh", "-c", "echo hi"}
	if !equalStrings(got, want) {
		t.Errorf("childArgv(false, nil) = %v, want %v", got, want)
	}
}

func TestChildArgvRestartWithContinueAndPrompt(t *testing.T) {
	spec, err := agentspec.Lookup("test-shell-continue")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	w := &Wrapper{spec: spec, opts: Options{AgentArgs: []string{"--flag"}}}

	prompt := "keep going"
	got := w.childArgv(true, &prompt)
	want := []string{"/bin/sh", "--continue", "keep going", "--flag"}
	if !equalStrings(got, want) {
		t.Errorf("childArgv(true, prompt) = %v, want %v", got, want)
	}
}

func TestChildArgvRestartWithReasonOnlyStillAddsContinue(t *testing.T) {
	spec, err := agentspec.Lookup("test-shell-continue")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	w := &Wrapper{spec: spec, opts: Options{AgentArgs: []string{"--flag"}}}

	got := w.childArgv(true, nil)
	want := []string{"/bin/sh", "--continue", "--flag"}
	if !equalStrings(got, want) {
		t.Errorf("childArgv(true, nil) = %v, want %v", got, want)
	}
}

// TestChildArgvRestartOmitsAutoPermissionFlags pins end-to-end
// scenario 3's exact argv: the continue flag and prompt land right
// after the base command, before the original agent args, and the
// initial-spawn-only permission flags never appear on a restart.
func TestChildArgvRestartOmitsAutoPermissionFlags(t *testing.T) {
	spec, err := agentspec.Lookup("test-shell-continue-permissioned")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	w := &Wrapper{spec: spec, opts: Options{AgentArgs: []string{"--some-arg"}}}

	prompt := "go on"
	got := w.childArgv(true, &prompt)
	want := []string{"/bin/sh", "--continue", "go on", "--some-arg"}
	if !equalStrings(got, want) {
		t.Errorf("childArgv(true, prompt) = %v, want %v", got, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunPropagatesChildExitCode(t *testing.T) {
	w := testWrapper(t, "exit 7")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestRunEscalatesShutdownOnCancel(t *testing.T) {
	w := testWrapper(t, "trap '' INT TERM; sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code, err := w.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 130 {
		t.Errorf("exit code = %d, want 130", code)
	}
	if elapsed < 5*time.Second {
		t.Errorf("Run returned after %v, want >= 5s (3s SIGINT + 2s SIGTERM escalation)", elapsed)
	}
}

func TestRestartSignalRespawnsChild(t *testing.T) {
	w := testWrapper(t, "trap 'exit 0' TERM; echo start; sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	var code int
	go func() {
		code, _ = w.Run(ctx)
		close(done)
	}()

	// Give the initial child time to start, then request a restart the
	// way internal/tools/registry.go's restart_claude handler does.
	time.Sleep(300 * time.Millisecond)
	firstPID := w.childPID
	if firstPID == 0 {
		t.Fatal("child never started")
	}

	if err := signalfile.Send(w.opts.IPCDir, w.wrapperPID, signalfile.Request{
		Kind:   signalfile.KindRestart,
		Reason: "test",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	time.Sleep(1 * time.Second)

	w.mu.Lock()
	secondPID := w.childPID
	restartCount := w.restartCount
	w.mu.Unlock()

	if secondPID == 0 || secondPID == firstPID {
		t.Errorf("second childPID = %d, firstPID = %d; expected a new pid", secondPID, firstPID)
	}
	if restartCount != 1 {
		t.Errorf("restartCount = %d, want 1", restartCount)
	}

	cancel()
	<-done
	_ = code
}

// TestWatchdogConfigureSignalParsesIntoPatch exercises the exact
// snake_case payload shape internal/tools/registry.go's
// watchdogConfigureArgs actually marshals, not a hand-written
// PascalCase stand-in — ConfigPatch's json tags have to line up with
// it across the signal-file boundary.
func TestWatchdogConfigureSignalParsesIntoPatch(t *testing.T) {
	patchJSON := `{"enabled":false,"heartbeat_timeout_secs":45,"lockup_action":"kill","max_memory_mb":512}`
	got, ok := parseWatchdogConfigurePayload(watchdogConfigurePrefix + patchJSON)
	if !ok {
		t.Fatal("expected ok=true for a well-formed payload")
	}
	if got.Enabled == nil || *got.Enabled != false {
		t.Errorf("Enabled = %v, want pointer to false", got.Enabled)
	}
	if got.HeartbeatTimeoutSecs == nil || *got.HeartbeatTimeoutSecs != 45 {
		t.Errorf("HeartbeatTimeoutSecs = %v, want pointer to 45", got.HeartbeatTimeoutSecs)
	}
	if got.LockupAction == nil || *got.LockupAction != watchdog.ActionKill {
		t.Errorf("LockupAction = %v, want pointer to kill", got.LockupAction)
	}
	if got.MaxMemoryMB == nil || *got.MaxMemoryMB != 512 {
		t.Errorf("MaxMemoryMB = %v, want pointer to 512", got.MaxMemoryMB)
	}
}

func TestWatchdogConfigureSignalIgnoresPlainHeartbeat(t *testing.T) {
	_, ok := parseWatchdogConfigurePayload("just pinging")
	if ok {
		t.Error("expected ok=false for a plain heartbeat reason")
	}
}

func TestHandleSignalWatchdogDisable(t *testing.T) {
	w := testWrapper(t, "sleep 30")
	w.wd = watchdog.New(watchdog.Config{
		Enabled:          true,
		HeartbeatTimeout: 10 * time.Millisecond,
		LockupAction:     watchdog.ActionRestart,
	}, time.Now())

	w.handleSignal(signalfile.Request{Kind: signalfile.KindWatchdogDisable, DurationSecs: 60})

	time.Sleep(50 * time.Millisecond)
	state, _, fire := w.wd.Tick(time.Now())
	if fire {
		t.Error("watchdog fired while disabled")
	}
	_ = state
}

func TestPublishSharedStateWritesReadableSnapshot(t *testing.T) {
	w := testWrapper(t, "sleep 1")
	w.mu.Lock()
	w.childPID = 1234
	w.mu.Unlock()

	w.publishSharedState()

	snap, err := sharedstate.Read(w.sharedStatePath())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.WrapperPID != w.wrapperPID {
		t.Errorf("WrapperPID = %d, want %d", snap.WrapperPID, w.wrapperPID)
	}
	if snap.ChildPID != 1234 {
		t.Errorf("ChildPID = %d, want 1234", snap.ChildPID)
	}
}
