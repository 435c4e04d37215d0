// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog implements the liveness state machine from spec.md
// §4.F: Active/Idle/Unresponsive/HighResource, driven by activity
// timestamps and RSS samples. One small guarded struct with an
// explicit tick, rather than a goroutine-per-timer design.
package watchdog

import (
	"sync"
	"time"
)

// State is one of the four liveness states a monitored child can be in.
type State string

const (
	StateActive       State = "active"
	StateIdle         State = "idle"
	StateUnresponsive State = "unresponsive"
	StateHighResource State = "high_resource"
)

// LockupAction names what happens when a child enters Unresponsive.
type LockupAction string

const (
	ActionWarn                LockupAction = "warn"
	ActionRestart              LockupAction = "restart"
	ActionRestartWithBackoff   LockupAction = "restart_with_backoff"
	ActionKill                 LockupAction = "kill"
	ActionNotifyAndWait        LockupAction = "notify_and_wait"
)

// Config holds the tunables spec.md's watchdog_configure tool exposes.
type Config struct {
	Enabled             bool
	HeartbeatTimeout    time.Duration
	LockupAction        LockupAction
	MaxMemoryMB         int64
}

// DefaultConfig matches the wrapper's built-in defaults before any
// watchdog_configure call.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		HeartbeatTimeout: 60 * time.Second,
		LockupAction:     ActionRestart,
		MaxMemoryMB:      0, // 0 disables the HighResource check
	}
}

// backoffCap and backoffResetWindow ground the exponential-backoff
// sequence in SPEC_FULL.md §11 (sourced from original_source/watchdog.rs):
// 1s, 2s, 4s, ... capped at 60s, reset after 5 minutes of stability.
const (
	backoffCap         = 60 * time.Second
	backoffResetWindow = 5 * time.Minute
	backoffInitial     = 1 * time.Second
)

// Watchdog tracks liveness for one monitored child. All exported
// methods are safe for concurrent use; the wrapper's tick loop and the
// MCP-triggered watchdog_ping/watchdog_configure/watchdog_disable
// signal handlers call in from different goroutines.
type Watchdog struct {
	mu sync.Mutex

	cfg Config

	state             State
	lastActivityAt    time.Time
	disabledUntil     time.Time
	lastRSSBytes      int64

	// backoff tracks restart_with_backoff's delay sequence.
	nextBackoff   time.Duration
	lastRestartAt time.Time
	stableSince   time.Time
}

// New creates a Watchdog in the Active state as of now.
func New(cfg Config, now time.Time) *Watchdog {
	return &Watchdog{
		cfg:            cfg,
		state:          StateActive,
		lastActivityAt: now,
		stableSince:    now,
		nextBackoff:    backoffInitial,
	}
}

// Configure applies a watchdog_configure call. Nil fields in patch are
// left unchanged, mirroring the tool's optional-field schema
// ({ enabled?, heartbeat_timeout_secs?, lockup_action?, max_memory_mb? }).
func (w *Watchdog) Configure(patch ConfigPatch) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if patch.Enabled != nil {
		w.cfg.Enabled = *patch.Enabled
	}
	if patch.HeartbeatTimeoutSecs != nil {
		w.cfg.HeartbeatTimeout = time.Duration(*patch.HeartbeatTimeoutSecs) * time.Second
	}
	if patch.LockupAction != nil {
		w.cfg.LockupAction = *patch.LockupAction
	}
	if patch.MaxMemoryMB != nil {
		w.cfg.MaxMemoryMB = *patch.MaxMemoryMB
	}
}

// ConfigPatch is the optional-field payload for Configure. Field tags
// match the watchdog_configure tool's wire schema exactly
// (internal/tools/registry.go's watchdogConfigureArgs marshals to
// this shape) — encoding/json's fallback case-insensitive field match
// only covers casing, not underscore-to-camel translation, so an
// untagged struct here would silently drop every field but Enabled.
type ConfigPatch struct {
	Enabled              *bool         `json:"enabled"`
	HeartbeatTimeoutSecs *int          `json:"heartbeat_timeout_secs"`
	LockupAction         *LockupAction `json:"lockup_action"`
	MaxMemoryMB          *int64        `json:"max_memory_mb"`
}

// Ping records activity, resetting last_activity_at to max(current, now)
// per spec.md §8's monotonicity law, and unconditionally returns to
// Active regardless of prior state.
func (w *Watchdog) Ping(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordActivityLocked(now)
}

func (w *Watchdog) recordActivityLocked(now time.Time) {
	if now.After(w.lastActivityAt) {
		w.lastActivityAt = now
	}
	w.state = StateActive
}

// Disable suspends evaluation for duration starting at now.
func (w *Watchdog) Disable(now time.Time, duration time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disabledUntil = now.Add(duration)
}

// ReportRSS records a memory sample. Ticks after this call re-evaluate
// the HighResource transition.
func (w *Watchdog) ReportRSS(bytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastRSSBytes = bytes
}

// Tick evaluates the state machine at time now and returns the action
// to take, if any transition into Unresponsive just occurred. The
// caller (the wrapper's main loop) is responsible for actually
// performing the returned action — Tick never restarts or kills
// anything itself, keeping this package free of process control.
func (w *Watchdog) Tick(now time.Time) (state State, action LockupAction, fire bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.cfg.Enabled || now.Before(w.disabledUntil) {
		return w.state, "", false
	}

	if w.cfg.MaxMemoryMB > 0 && w.lastRSSBytes > w.cfg.MaxMemoryMB*1024*1024 {
		w.state = StateHighResource
		return w.state, "", false
	}
	if w.state == StateHighResource {
		// RSS fell back below threshold; resume the timeout-based machine
		// as if freshly active, per the table's "RSS falls below
		// threshold" exit condition.
		w.recordActivityLocked(now)
		return w.state, "", false
	}

	elapsed := now.Sub(w.lastActivityAt)
	if elapsed < w.cfg.HeartbeatTimeout {
		w.state = StateActive
		return w.state, "", false
	}

	// "Three consecutive timeouts" (§4.F) means three full
	// HeartbeatTimeout windows have elapsed since the last observed
	// activity, not three ticks of the (much finer-grained) tick loop —
	// counting ticks would make the threshold depend on the loop's
	// polling interval instead of the configured timeout.
	windows := elapsed / w.cfg.HeartbeatTimeout
	switch {
	case windows < 3:
		w.state = StateIdle
		return w.state, "", false
	case w.state != StateUnresponsive:
		w.state = StateUnresponsive
		return w.state, w.cfg.LockupAction, true
	default:
		// Already unresponsive; do not re-fire the action on every tick.
		return w.state, "", false
	}
}

// State returns the current state without advancing the machine.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// NextBackoff returns the delay to use for the next restart_with_backoff
// restart, then advances the sequence: doubling, capped at 60s, reset to
// the initial 1s delay if the last restart was more than five minutes
// ago (per SPEC_FULL.md §11's stability-reset rule).
func (w *Watchdog) NextBackoff(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.lastRestartAt.IsZero() && now.Sub(w.lastRestartAt) >= backoffResetWindow {
		w.nextBackoff = backoffInitial
	}

	delay := w.nextBackoff
	w.lastRestartAt = now
	w.nextBackoff *= 2
	if w.nextBackoff > backoffCap {
		w.nextBackoff = backoffCap
	}
	return delay
}

// Snapshot is the read-only view embedded in SharedStateSnapshot.
type Snapshot struct {
	State            State  `json:"state"`
	Enabled          bool   `json:"enabled"`
	LastActivityAt   int64  `json:"last_activity_at_unix_ms"`
	HeartbeatTimeout int64  `json:"heartbeat_timeout_secs"`
	LockupAction     string `json:"lockup_action"`
	MaxMemoryMB      int64  `json:"max_memory_mb"`
}

// Snapshot returns the current state for embedding in shared state or
// returning from the watchdog_status tool.
func (w *Watchdog) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		State:            w.state,
		Enabled:          w.cfg.Enabled,
		LastActivityAt:   w.lastActivityAt.UnixMilli(),
		HeartbeatTimeout: int64(w.cfg.HeartbeatTimeout.Seconds()),
		LockupAction:     string(w.cfg.LockupAction),
		MaxMemoryMB:      w.cfg.MaxMemoryMB,
	}
}
