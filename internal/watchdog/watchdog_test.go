// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"testing"
	"time"
)

func newTestWatchdog(now time.Time) *Watchdog {
	cfg := Config{
		Enabled:          true,
		HeartbeatTimeout: 10 * time.Second,
		LockupAction:     ActionRestart,
	}
	return New(cfg, now)
}

func TestInitialStateIsActive(t *testing.T) {
	now := time.Unix(0, 0)
	w := newTestWatchdog(now)
	if w.State() != StateActive {
		t.Errorf("initial state = %v, want Active", w.State())
	}
}

func TestTicksThroughIdleToUnresponsive(t *testing.T) {
	now := time.Unix(1000, 0)
	w := newTestWatchdog(now)

	// First timeout: Active -> Idle.
	now = now.Add(11 * time.Second)
	state, _, fire := w.Tick(now)
	if state != StateIdle || fire {
		t.Fatalf("tick 1: state=%v fire=%v, want Idle/false", state, fire)
	}

	// Second consecutive timeout: still Idle.
	now = now.Add(11 * time.Second)
	state, _, fire = w.Tick(now)
	if state != StateIdle || fire {
		t.Fatalf("tick 2: state=%v fire=%v, want Idle/false", state, fire)
	}

	// Third consecutive timeout: Idle -> Unresponsive, action fires once.
	now = now.Add(11 * time.Second)
	state, action, fire := w.Tick(now)
	if state != StateUnresponsive || !fire || action != ActionRestart {
		t.Fatalf("tick 3: state=%v action=%v fire=%v, want Unresponsive/restart/true", state, action, fire)
	}

	// Fourth timeout while already unresponsive: no re-fire.
	now = now.Add(11 * time.Second)
	state, _, fire = w.Tick(now)
	if state != StateUnresponsive || fire {
		t.Fatalf("tick 4: state=%v fire=%v, want Unresponsive/false (no re-fire)", state, fire)
	}
}

// TestUnresponsiveFiresAfterThreeFullTimeoutWindows drives Tick at a
// fixed 1s cadence, the same interval the wrapper's real tick loop
// uses, instead of once per timeout window. Counting ticks instead of
// elapsed time would fire after ~timeout+2 ticks regardless of how
// long the timeout actually is; this pins the fix to elapsed/timeout.
func TestUnresponsiveFiresAfterThreeFullTimeoutWindows(t *testing.T) {
	now := time.Unix(10000, 0)
	cfg := Config{
		Enabled:          true,
		HeartbeatTimeout: 2 * time.Second,
		LockupAction:     ActionRestart,
	}
	w := New(cfg, now)

	var fired time.Duration
	for elapsed := 1 * time.Second; elapsed <= 10*time.Second; elapsed += 1 * time.Second {
		_, _, fire := w.Tick(now.Add(elapsed))
		if fire {
			fired = elapsed
			break
		}
	}

	if fired != 6*time.Second {
		t.Errorf("fired at elapsed=%v, want 6s (three full 2s windows), not ~4s from counting ticks", fired)
	}
}

func TestPingReturnsToActive(t *testing.T) {
	now := time.Unix(2000, 0)
	w := newTestWatchdog(now)

	now = now.Add(30 * time.Second)
	w.Tick(now)
	if w.State() == StateActive {
		t.Fatal("expected non-active state before ping")
	}

	now = now.Add(1 * time.Second)
	w.Ping(now)
	if w.State() != StateActive {
		t.Errorf("state after Ping = %v, want Active", w.State())
	}
}

func TestPingMonotoneLastActivity(t *testing.T) {
	now := time.Unix(3000, 0)
	w := newTestWatchdog(now)

	later := now.Add(5 * time.Second)
	w.Ping(later)

	earlier := now.Add(1 * time.Second)
	w.Ping(earlier)

	if w.lastActivityAt.Before(later) {
		t.Errorf("lastActivityAt regressed: got %v, want >= %v", w.lastActivityAt, later)
	}
}

func TestDisableSuspendsEvaluation(t *testing.T) {
	now := time.Unix(4000, 0)
	w := newTestWatchdog(now)
	w.Disable(now, 1*time.Minute)

	now = now.Add(30 * time.Second)
	state, _, fire := w.Tick(now)
	if state != StateActive || fire {
		t.Errorf("tick during disable window: state=%v fire=%v, want Active/false", state, fire)
	}
}

func TestHighResourceOverridesTimeout(t *testing.T) {
	now := time.Unix(5000, 0)
	cfg := Config{
		Enabled:          true,
		HeartbeatTimeout: 10 * time.Second,
		LockupAction:     ActionRestart,
		MaxMemoryMB:      100,
	}
	w := New(cfg, now)
	w.ReportRSS(200 * 1024 * 1024)

	state, _, _ := w.Tick(now)
	if state != StateHighResource {
		t.Errorf("state = %v, want HighResource", state)
	}
}

func TestHighResourceRecoversWhenRSSDrops(t *testing.T) {
	now := time.Unix(6000, 0)
	cfg := Config{
		Enabled:          true,
		HeartbeatTimeout: 10 * time.Second,
		LockupAction:     ActionRestart,
		MaxMemoryMB:      100,
	}
	w := New(cfg, now)
	w.ReportRSS(200 * 1024 * 1024)
	w.Tick(now)

	w.ReportRSS(10 * 1024 * 1024)
	state, _, _ := w.Tick(now.Add(1 * time.Second))
	if state != StateActive {
		t.Errorf("state after RSS drop = %v, want Active", state)
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	now := time.Unix(7000, 0)
	w := newTestWatchdog(now)

	d1 := w.NextBackoff(now)
	if d1 != 1*time.Second {
		t.Errorf("first backoff = %v, want 1s", d1)
	}
	d2 := w.NextBackoff(now.Add(1 * time.Second))
	if d2 != 2*time.Second {
		t.Errorf("second backoff = %v, want 2s", d2)
	}
	d3 := w.NextBackoff(now.Add(2 * time.Second))
	if d3 != 4*time.Second {
		t.Errorf("third backoff = %v, want 4s", d3)
	}

	// Drive it well past the cap.
	last := now
	for i := 0; i < 10; i++ {
		last = last.Add(1 * time.Second)
		w.NextBackoff(last)
	}
	capped := w.NextBackoff(last.Add(1 * time.Second))
	if capped > 60*time.Second {
		t.Errorf("backoff exceeded cap: %v", capped)
	}
}

func TestNextBackoffResetsAfterStabilityWindow(t *testing.T) {
	now := time.Unix(8000, 0)
	w := newTestWatchdog(now)

	w.NextBackoff(now)
	w.NextBackoff(now.Add(1 * time.Second))

	stable := now.Add(6 * time.Minute)
	d := w.NextBackoff(stable)
	if d != 1*time.Second {
		t.Errorf("backoff after stability window = %v, want reset to 1s", d)
	}
}

func TestConfigureConvertsHeartbeatTimeoutSecsToDuration(t *testing.T) {
	now := time.Unix(9500, 0)
	w := newTestWatchdog(now)

	secs := 45
	w.Configure(ConfigPatch{HeartbeatTimeoutSecs: &secs})

	if w.cfg.HeartbeatTimeout != 45*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 45s", w.cfg.HeartbeatTimeout)
	}
}

func TestConfigurePatchLeavesUnsetFieldsUnchanged(t *testing.T) {
	now := time.Unix(9000, 0)
	w := newTestWatchdog(now)

	newAction := ActionKill
	w.Configure(ConfigPatch{LockupAction: &newAction})

	snap := w.Snapshot()
	if snap.LockupAction != string(ActionKill) {
		t.Errorf("LockupAction = %q, want kill", snap.LockupAction)
	}
	if snap.HeartbeatTimeout != 10 {
		t.Errorf("HeartbeatTimeout changed unexpectedly: %d", snap.HeartbeatTimeout)
	}
}
