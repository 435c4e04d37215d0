// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools implements the tool registry from spec.md §4.D: the
// concrete set of MCP tools (restart_claude, watchdog_*, agent_*,
// netmon_*, server_status) backed by the signal-file IPC channel, the
// shared-state snapshot, and the agent pool. The MCP process and the
// wrapper are separate OS processes — this package only ever reads
// files the wrapper wrote and writes signal files the wrapper polls;
// it never touches the wrapper's watchdog or pool directly. The agent_*
// tools are served by a pool owned by this MCP server process itself
// (Config.Pool, or a fresh pool when none is given), not by the
// wrapper's.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Brainwires/lazarus-mcp/internal/netmon"
	"github.com/Brainwires/lazarus-mcp/internal/pool"
	"github.com/Brainwires/lazarus-mcp/internal/sharedstate"
	"github.com/Brainwires/lazarus-mcp/internal/signalfile"
	"github.com/Brainwires/lazarus-mcp/internal/toolerr"
	"github.com/Brainwires/lazarus-mcp/lib/toolserver"
)

// WrapperLocator discovers the wrapper this MCP server is running
// under. In the normal deployment the wrapper sets LAZARUS_WRAPPER_PID
// in the child's environment before exec; a WrapperLocator lets tests
// substitute a fixed pid without touching the process environment.
type WrapperLocator func() (pid int, ok bool)

// EnvLocator reads LAZARUS_WRAPPER_PID from the environment, per
// SPEC_FULL.md's environment-variable table.
func EnvLocator() (int, bool) {
	raw := os.Getenv("LAZARUS_WRAPPER_PID")
	if raw == "" {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(raw, "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

// Registry implements toolserver.Server, backing every tool named in
// spec.md §4.D.
type Registry struct {
	ipcDir     string
	locateWrap WrapperLocator
	workingDir string
	mcpPID     int

	// pool serves the agent_* and agent_file_locks tools directly, per
	// spec.md §4.D's note that this MCP process reads its own pool
	// state rather than crossing a process boundary for those tools.
	pool *pool.Pool

	// netmonLogPathFor resolves the netmon log path for the current
	// wrapper pid, since the log is written by the hooks library
	// loaded into the *child*, not by this process.
	netmonLogPathFor func(wrapperPID int) string

	// spawner builds the exec.Cmd for a new background agent task.
	spawner AgentSpawner
}

// AgentSpawner maps a background-agent spawn request onto a
// pool.Spawner, letting the caller (cmd/lazarus) decide how a task
// description becomes an executable invocation without this package
// depending on agentspec directly.
type AgentSpawner func(description, agentType, workingDir string, maxIterations int) pool.Spawner

// Config bundles the Registry's dependencies.
type Config struct {
	IPCDir           string
	WorkingDir       string
	Locator          WrapperLocator
	Pool             *pool.Pool
	NetmonLogPathFor func(wrapperPID int) string
	Spawner          AgentSpawner
}

// New builds a Registry from cfg, applying defaults for anything left
// zero-valued (EnvLocator, the standard netmon log path template).
func New(cfg Config) *Registry {
	if cfg.Locator == nil {
		cfg.Locator = EnvLocator
	}
	if cfg.NetmonLogPathFor == nil {
		cfg.NetmonLogPathFor = func(pid int) string {
			return fmt.Sprintf("%s/lazarus-netmon-%d.jsonl", cfg.IPCDir, pid)
		}
	}
	if cfg.Pool == nil {
		cfg.Pool = pool.New(0)
	}
	return &Registry{
		ipcDir:           cfg.IPCDir,
		locateWrap:       cfg.Locator,
		workingDir:       cfg.WorkingDir,
		mcpPID:           os.Getpid(),
		pool:             cfg.Pool,
		netmonLogPathFor: cfg.NetmonLogPathFor,
		spawner:          cfg.Spawner,
	}
}

// handler is a single tool's argument-typed implementation. Handlers
// return a JSON-marshalable result or a *toolerr.Error; anything else
// returned as an error is a programming bug, not a tool-level failure,
// and is reported as KindInternal.
type handler func(arguments json.RawMessage) (result any, err error)

type toolDef struct {
	name        string
	description string
	schema      json.RawMessage
	handle      handler
}

func (r *Registry) definitions() []toolDef {
	return []toolDef{
		{"restart_claude", "Request the wrapper restart the agent, optionally with a follow-up prompt.", objSchema(map[string]string{"reason": "string", "prompt": "string"}, nil), r.restartClaude},
		{"server_status", "Report this MCP server's view of the wrapper and child process.", objSchema(nil, nil), r.serverStatus},
		{"watchdog_status", "Report the wrapper's current watchdog liveness state.", objSchema(nil, nil), r.watchdogStatus},
		{"watchdog_configure", "Adjust watchdog thresholds and lockup action.", objSchema(map[string]string{"enabled": "boolean", "heartbeat_timeout_secs": "integer", "lockup_action": "string", "max_memory_mb": "integer"}, nil), r.watchdogConfigure},
		{"watchdog_disable", "Suspend watchdog evaluation for a window.", objSchema(map[string]string{"duration_secs": "integer"}, nil), r.watchdogDisable},
		{"watchdog_ping", "Record activity, resetting the watchdog to Active.", objSchema(nil, nil), r.watchdogPing},
		{"agent_spawn", "Spawn a background agent to work on a task.", objSchema(map[string]string{"description": "string", "agent_type": "string", "working_directory": "string", "max_iterations": "integer"}, []string{"description"}), r.agentSpawn},
		{"agent_list", "List all background agents and their status.", objSchema(nil, nil), r.agentList},
		{"agent_status", "Report one background agent's status and output tails.", objSchema(map[string]string{"agent_id": "string"}, []string{"agent_id"}), r.agentStatus},
		{"agent_await", "Block until a background agent reaches a terminal state or a timeout elapses.", objSchema(map[string]string{"agent_id": "string", "timeout_secs": "integer"}, []string{"agent_id"}), r.agentAwait},
		{"agent_stop", "Stop a background agent (SIGTERM, then SIGKILL after 2s).", objSchema(map[string]string{"agent_id": "string"}, []string{"agent_id"}), r.agentStop},
		{"agent_pool_stats", "Report pool capacity and per-status counts.", objSchema(nil, nil), r.agentPoolStats},
		{"agent_file_locks", "List currently held file locks.", objSchema(nil, nil), r.agentFileLocks},
		{"netmon_status", "Summarize network activity observed for the wrapped child.", objSchema(nil, nil), r.netmonStatus},
		{"netmon_log", "Tail the most recent network events.", objSchema(map[string]string{"count": "integer"}, nil), r.netmonLog},
	}
}

// Tools implements toolserver.Server.
func (r *Registry) Tools() []toolserver.ToolExport {
	defs := r.definitions()
	exports := make([]toolserver.ToolExport, 0, len(defs))
	for _, d := range defs {
		exports = append(exports, toolserver.ToolExport{
			Name:        d.name,
			Description: d.description,
			InputSchema: d.schema,
		})
	}
	return exports
}

// CallTool implements toolserver.Server.
func (r *Registry) CallTool(name string, arguments json.RawMessage) (output string, isError bool, kind toolerr.Kind) {
	for _, d := range r.definitions() {
		if d.name != name {
			continue
		}
		result, err := d.handle(arguments)
		if err != nil {
			var toolErr *toolerr.Error
			if as, ok := err.(*toolerr.Error); ok {
				toolErr = as
			} else {
				toolErr = toolerr.New(toolerr.KindInternal, "%v", err)
			}
			return toolErr.Message, true, toolErr.Kind
		}
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return fmt.Sprintf("marshaling result: %v", marshalErr), true, toolerr.KindInternal
		}
		return string(data), false, ""
	}
	return fmt.Sprintf("unknown tool: %s", name), true, toolerr.KindNotFound
}

func objSchema(props map[string]string, required []string) json.RawMessage {
	schema := map[string]any{"type": "object"}
	if len(props) > 0 {
		properties := make(map[string]any, len(props))
		for name, typ := range props {
			properties[name] = map[string]string{"type": typ}
		}
		schema["properties"] = properties
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// Deterministic input, cannot fail.
		panic(err)
	}
	return data
}

func (r *Registry) wrapperPID() (int, error) {
	pid, ok := r.locateWrap()
	if !ok {
		return 0, toolerr.New(toolerr.KindUnavailable, "not running under a lazarus wrapper (LAZARUS_WRAPPER_PID unset)")
	}
	return pid, nil
}

func (r *Registry) sharedSnapshot() (sharedstate.Snapshot, error) {
	pid, err := r.wrapperPID()
	if err != nil {
		return sharedstate.Snapshot{}, err
	}
	snap, err := sharedstate.Read(sharedstate.Path(r.ipcDir, pid))
	if err != nil {
		if os.IsNotExist(err) {
			return sharedstate.Snapshot{}, toolerr.New(toolerr.KindUnavailable, "wrapper has not published shared state yet")
		}
		return sharedstate.Snapshot{}, toolerr.New(toolerr.KindInternal, "reading shared state: %v", err)
	}
	return snap, nil
}

// --- restart / status ---

type restartArgs struct {
	Reason string `json:"reason"`
	Prompt string `json:"prompt"`
}

func (r *Registry) restartClaude(arguments json.RawMessage) (any, error) {
	var args restartArgs
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
		}
	}
	pid, err := r.wrapperPID()
	if err != nil {
		return nil, err
	}
	if err := signalfile.Send(r.ipcDir, pid, signalfile.Request{
		Kind:   signalfile.KindRestart,
		Reason: args.Reason,
		Prompt: args.Prompt,
	}); err != nil {
		return nil, toolerr.New(toolerr.KindInternal, "sending restart signal: %v", err)
	}
	return map[string]any{"ok": true, "wrapper_pid": pid}, nil
}

func (r *Registry) serverStatus(json.RawMessage) (any, error) {
	pid, wrapperOK := r.locateWrap()
	status := map[string]any{
		"mcp_server_pid":    r.mcpPID,
		"wrapper_running":   false,
		"working_directory": r.workingDir,
	}
	if !wrapperOK {
		return status, nil
	}
	status["wrapper_pid"] = pid

	snap, err := sharedstate.Read(sharedstate.Path(r.ipcDir, pid))
	if err != nil {
		return status, nil
	}
	status["wrapper_running"] = true
	if snap.ChildPID != 0 {
		status["child_pid"] = snap.ChildPID
	}
	return status, nil
}

// --- watchdog ---

func (r *Registry) watchdogStatus(json.RawMessage) (any, error) {
	snap, err := r.sharedSnapshot()
	if err != nil {
		return nil, err
	}
	return snap.Watchdog, nil
}

type watchdogConfigureArgs struct {
	Enabled              *bool   `json:"enabled"`
	HeartbeatTimeoutSecs *int    `json:"heartbeat_timeout_secs"`
	LockupAction         *string `json:"lockup_action"`
	MaxMemoryMB          *int64  `json:"max_memory_mb"`
}

func (r *Registry) watchdogConfigure(arguments json.RawMessage) (any, error) {
	var args watchdogConfigureArgs
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
		}
	}
	pid, err := r.wrapperPID()
	if err != nil {
		return nil, err
	}
	// watchdog_configure has no dedicated SignalRequest kind in spec.md's
	// closed set; it rides the heartbeat kind carrying its payload as a
	// JSON-encoded reason, which the wrapper parses back out. This keeps
	// SignalRequest's kind enum closed while still letting configuration
	// changes cross the process boundary.
	payload, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		return nil, toolerr.New(toolerr.KindInternal, "encoding configure payload: %v", marshalErr)
	}
	if err := signalfile.Send(r.ipcDir, pid, signalfile.Request{
		Kind:   signalfile.KindHeartbeat,
		Reason: "watchdog_configure:" + string(payload),
	}); err != nil {
		return nil, toolerr.New(toolerr.KindInternal, "sending configure signal: %v", err)
	}
	return map[string]any{"ok": true}, nil
}

func (r *Registry) watchdogDisable(arguments json.RawMessage) (any, error) {
	var args struct {
		DurationSecs int `json:"duration_secs"`
	}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
		}
	}
	pid, err := r.wrapperPID()
	if err != nil {
		return nil, err
	}
	if err := signalfile.Send(r.ipcDir, pid, signalfile.Request{
		Kind:         signalfile.KindWatchdogDisable,
		DurationSecs: args.DurationSecs,
	}); err != nil {
		return nil, toolerr.New(toolerr.KindInternal, "sending watchdog_disable signal: %v", err)
	}
	return map[string]any{"ok": true}, nil
}

func (r *Registry) watchdogPing(json.RawMessage) (any, error) {
	pid, err := r.wrapperPID()
	if err != nil {
		return nil, err
	}
	if err := signalfile.Send(r.ipcDir, pid, signalfile.Request{Kind: signalfile.KindWatchdogPing}); err != nil {
		return nil, toolerr.New(toolerr.KindInternal, "sending watchdog_ping signal: %v", err)
	}
	return map[string]any{"ok": true}, nil
}

// --- agent pool ---

type agentSpawnArgs struct {
	Description      string `json:"description"`
	AgentType        string `json:"agent_type"`
	WorkingDirectory string `json:"working_directory"`
	MaxIterations    int    `json:"max_iterations"`
}

func (r *Registry) agentSpawn(arguments json.RawMessage) (any, error) {
	var args agentSpawnArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
	}
	if args.Description == "" {
		return nil, toolerr.New(toolerr.KindValidation, "description is required")
	}
	if r.spawner == nil {
		return nil, toolerr.New(toolerr.KindUnavailable, "background agent spawning is not configured")
	}
	workDir := args.WorkingDirectory
	if workDir == "" {
		workDir = r.workingDir
	}
	agent, err := r.pool.Spawn(args.Description, args.AgentType, workDir, args.MaxIterations,
		r.spawner(args.Description, args.AgentType, workDir, args.MaxIterations))
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agent.ID}, nil
}

func (r *Registry) agentList(json.RawMessage) (any, error) {
	views := r.pool.List()
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		uptime := time.Since(v.StartedAt).Seconds()
		if !v.EndedAt.IsZero() {
			uptime = v.EndedAt.Sub(v.StartedAt).Seconds()
		}
		out = append(out, map[string]any{
			"id":       v.ID,
			"status":   v.Status,
			"task":     v.Task,
			"uptime_s": uptime,
		})
	}
	return out, nil
}

func (r *Registry) agentStatus(arguments json.RawMessage) (any, error) {
	var args struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
	}
	agent, err := r.pool.Get(args.AgentID)
	if err != nil {
		return nil, err
	}
	v := agent.View()
	return map[string]any{
		"id":          v.ID,
		"status":      v.Status,
		"pid":         v.PID,
		"stdout_tail": v.StdoutTail,
		"stderr_tail": v.StderrTail,
		"result":      v.Result,
	}, nil
}

func (r *Registry) agentAwait(arguments json.RawMessage) (any, error) {
	var args struct {
		AgentID     string `json:"agent_id"`
		TimeoutSecs *int   `json:"timeout_secs"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
	}
	ctx := context.Background()
	switch {
	case args.TimeoutSecs == nil:
		// Omitted: wait unboundedly for a terminal state.
	case *args.TimeoutSecs == 0:
		// Explicit zero: report the current status without blocking.
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		cancel()
	default:
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*args.TimeoutSecs)*time.Second)
		defer cancel()
	}
	view, err := r.pool.Await(ctx, args.AgentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": view.Status, "result": view.Result}, nil
}

func (r *Registry) agentStop(arguments json.RawMessage) (any, error) {
	var args struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
	}
	if err := r.pool.Stop(args.AgentID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (r *Registry) agentPoolStats(json.RawMessage) (any, error) {
	stats := r.pool.Stats()
	return map[string]any{
		"max":       r.pool.MaxAgents,
		"active":    stats.Running + stats.Queued,
		"running":   stats.Running,
		"completed": stats.Succeeded,
		"failed":    stats.Failed,
	}, nil
}

func (r *Registry) agentFileLocks(json.RawMessage) (any, error) {
	return r.pool.FileLocks(), nil
}

// --- netmon ---

// netmonEvents reads the hooks library's capture log. The wrapper sets
// NETMON_LOG to its own pid-named file (supervisor.go's netmonLogPath),
// not the child's — every hooked process, including any restarted
// child, appends to that one wrapper-pid file for the session.
func (r *Registry) netmonEvents() ([]netmon.Event, error) {
	pid, err := r.wrapperPID()
	if err != nil {
		return nil, err
	}
	events, err := netmon.ReadAll(r.netmonLogPathFor(pid))
	if err != nil {
		return nil, toolerr.New(toolerr.KindInternal, "reading netmon log: %v", err)
	}
	return events, nil
}

func (r *Registry) netmonStatus(json.RawMessage) (any, error) {
	events, err := r.netmonEvents()
	if err != nil {
		return nil, err
	}
	return netmon.Aggregate(events, 5), nil
}

func (r *Registry) netmonLog(arguments json.RawMessage) (any, error) {
	var args struct {
		Count int `json:"count"`
	}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, toolerr.New(toolerr.KindValidation, "invalid arguments: %v", err)
		}
	}
	events, err := r.netmonEvents()
	if err != nil {
		return nil, err
	}
	count := args.Count
	if count <= 0 {
		count = 20
	}
	if len(events) > count {
		events = events[len(events)-count:]
	}
	return events, nil
}
