// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// lazarus is the agent supervisor: wrapper mode spawns and supervises
// an interactive coding agent (spec.md §4.G), --mcp-server mode exposes
// the control-plane tools over JSON-RPC on stdin/stdout (§4.C), and
// --dashboard renders a live read-only view of a running wrapper's
// shared-state snapshot.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/Brainwires/lazarus-mcp/internal/agentspec"
	"github.com/Brainwires/lazarus-mcp/internal/config"
	"github.com/Brainwires/lazarus-mcp/internal/dashboard"
	"github.com/Brainwires/lazarus-mcp/internal/mcp"
	"github.com/Brainwires/lazarus-mcp/internal/pool"
	"github.com/Brainwires/lazarus-mcp/internal/supervisor"
	"github.com/Brainwires/lazarus-mcp/internal/tools"
	"github.com/Brainwires/lazarus-mcp/internal/watchdog"
	"github.com/Brainwires/lazarus-mcp/lib/process"
	"github.com/Brainwires/lazarus-mcp/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	if len(os.Args) > 1 && (os.Args[1] == "-V" || os.Args[1] == "--version") {
		fmt.Println(version.Info())
		return nil
	}

	flagSet := pflag.NewFlagSet("lazarus", pflag.ContinueOnError)
	mcpServer := flagSet.Bool("mcp-server", false, "run the MCP JSON-RPC control plane on stdin/stdout")
	dashboardMode := flagSet.Bool("dashboard", false, "show a live view of a running wrapper's shared state")
	netmonFlag := flagSet.String("netmon", "", "capture network events: preload or netns")
	watchdogTimeout := flagSet.Duration("watchdog-timeout", 0, "override the watchdog heartbeat timeout")
	noWatchdog := flagSet.Bool("no-watchdog", false, "disable the watchdog")
	noInjectMCP := flagSet.Bool("no-inject-mcp", false, "do not inject the overlay .mcp.json")
	keepRoot := flagSet.Bool("keep-root", false, "do not drop privileges when running as root")
	configPath := flagSet.String("config", "", "path to a settings file (overrides LAZARUS_CONFIG)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.ApplyAgentOverrides()

	args := flagSet.Args()

	switch {
	case *mcpServer:
		return runMCPServer(cfg)
	case *dashboardMode:
		return runDashboard(cfg, args)
	default:
		return runWrapper(cfg, args, wrapperFlags{
			netmon:          *netmonFlag,
			watchdogTimeout: *watchdogTimeout,
			noWatchdog:      *noWatchdog,
			noInjectMCP:     *noInjectMCP,
			keepRoot:        *keepRoot,
		})
	}
}

// wrapperFlags carries CLI overrides into runWrapper; zero values mean
// "use the config-derived default" for watchdogTimeout/noWatchdog.
type wrapperFlags struct {
	netmon          string
	watchdogTimeout time.Duration
	noWatchdog      bool
	noInjectMCP     bool
	keepRoot        bool
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load()
}

func runWrapper(cfg *config.Config, args []string, flags wrapperFlags) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: lazarus <agent-name> [flags] [-- agent args...]")
	}
	agentName, agentArgs := args[0], args[1:]

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	printStatusLine(fmt.Sprintf("supervising %s", agentName))

	selfExecutable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable path: %w", err)
	}

	netmonMode, err := parseNetmonMode(flags.netmon)
	if err != nil {
		return err
	}

	var hooksPath string
	if !flags.noInjectMCP {
		hooksPath = findSiblingBinary("lazarus-hooks.so", logger)
		if hooksPath == "" {
			logger.Warn("lazarus-hooks.so not found next to the binary or on PATH; running without LD_PRELOAD interception")
		}
	}

	watchdogTimeout := flags.watchdogTimeout
	if watchdogTimeout == 0 {
		watchdogTimeout = cfg.Watchdog.HeartbeatTimeout()
	}
	noWatchdog := flags.noWatchdog || !cfg.Watchdog.EnabledOrDefault()

	opts := supervisor.Options{
		AgentName:           agentName,
		AgentArgs:           agentArgs,
		IPCDir:              cfg.IPCDir,
		SelfExecutable:      selfExecutable,
		HooksLibraryPath:    hooksPath,
		NetmonMode:          netmonMode,
		WatchdogTimeout:     watchdogTimeout,
		WatchdogAction:      watchdog.LockupAction(cfg.Watchdog.LockupAction),
		MaxMemoryMB:         cfg.Watchdog.MaxMemoryMB,
		NoWatchdog:          noWatchdog,
		NoInjectMCP:         flags.noInjectMCP,
		KeepRoot:            flags.keepRoot,
		MaxBackgroundAgents: cfg.MaxBackgroundAgents,
		Log:                 logger,
	}

	w, err := supervisor.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := w.Run(ctx)
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}

func runMCPServer(cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))

	workingDir, err := os.Getwd()
	if err != nil {
		workingDir = "."
	}

	registry := tools.New(tools.Config{
		IPCDir:     cfg.IPCDir,
		WorkingDir: workingDir,
		Spawner:    backgroundAgentSpawner,
	})

	server := mcp.New(registry, logger)
	return server.Serve(os.Stdin, os.Stdout)
}

func runDashboard(cfg *config.Config, args []string) error {
	var pid int
	if len(args) > 0 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid argument %q: %w", args[0], err)
		}
		pid = p
	}
	return dashboard.Run(cfg.IPCDir, pid)
}

// backgroundAgentSpawner builds the exec.Cmd for one background agent
// task (agent_spawn), resolving agentType against the same agentspec
// table the wrapper itself uses, per spec.md §4.E's "background agents
// are first-class agents, not a separate kind of thing" treatment.
func backgroundAgentSpawner(description, agentType, workingDir string, maxIterations int) pool.Spawner {
	name := agentType
	if name == "" {
		name = "claude"
	}
	spec, err := agentspec.Lookup(name)
	if err != nil {
		spec, _ = agentspec.Lookup("claude")
	}

	return func(a *pool.Agent) *exec.Cmd {
		argv := append([]string{}, spec.AutoPermissionFlags...)
		argv = append(argv, description)
		cmd := exec.Command(spec.Executable, argv...)
		if workingDir != "" {
			cmd.Dir = workingDir
		}
		return cmd
	}
}

// printStatusLine writes a one-line human status message to stderr,
// separate from the structured slog stream: a quick "what is lazarus
// doing" cue for a human watching the terminal, not something a log
// aggregator should parse. Colored only when stderr is actually a
// terminal, so piped/redirected output stays free of escape codes.
func printStatusLine(msg string) {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintf(os.Stderr, "\x1b[36mlazarus:\x1b[0m %s\n", msg)
		return
	}
	fmt.Fprintf(os.Stderr, "lazarus: %s\n", msg)
}

func logLevel() slog.Level {
	if os.Getenv("LAZARUS_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func parseNetmonMode(flag string) (supervisor.NetmonMode, error) {
	switch flag {
	case "", "off":
		return supervisor.NetmonOff, nil
	case "preload":
		return supervisor.NetmonPreload, nil
	case "netns":
		return supervisor.NetmonNetns, nil
	default:
		return "", fmt.Errorf("--netmon: unknown mode %q (want preload or netns)", flag)
	}
}

// findSiblingBinary looks for name next to the running binary first
// (the standard co-deployment layout), then on PATH.
func findSiblingBinary(name string, logger *slog.Logger) string {
	if executable, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(executable), name)
		if _, err := os.Stat(candidate); err == nil {
			logger.Debug("found binary next to own executable", "name", name, "path", candidate)
			return candidate
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		logger.Debug("found binary on PATH", "name", name, "path", path)
		return path
	}
	return ""
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `lazarus — a supervisor for interactive coding agents.

Usage:
  lazarus <agent-name> [flags] [-- agent args...]
  lazarus --mcp-server
  lazarus --dashboard [pid]
  lazarus -V | --version

Examples:
  lazarus claude
  lazarus claude --watchdog-timeout=45s -- --model sonnet
  lazarus aider --netmon=preload

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
