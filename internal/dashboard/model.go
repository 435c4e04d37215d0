// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Brainwires/lazarus-mcp/internal/sharedstate"
)

const pollInterval = 1 * time.Second

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

type tickMsg struct{}

type snapshotMsg struct {
	path string
	snap sharedstate.Snapshot
	err  error
}

// model is the dashboard's bubbletea.Model. pinnedPID is 0 when the
// dashboard should follow whichever wrapper most recently wrote a
// snapshot; otherwise it watches exactly that wrapper's file.
type model struct {
	ipcDir    string
	pinnedPID int

	path string
	snap sharedstate.Snapshot
	err  error
	have bool

	width, height int
}

func newModel(ipcDir string, pinnedPID int) model {
	return model{ipcDir: ipcDir, pinnedPID: pinnedPID}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), scheduleTick())
}

func scheduleTick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) poll() tea.Cmd {
	ipcDir, pinnedPID := m.ipcDir, m.pinnedPID
	return func() tea.Msg {
		path := sharedstate.Path(ipcDir, pinnedPID)
		if pinnedPID == 0 {
			discovered, err := discoverStatePath(ipcDir)
			if err != nil {
				return snapshotMsg{err: err}
			}
			if discovered == "" {
				return snapshotMsg{err: fmt.Errorf("no wrapper has published shared state in %s yet", ipcDir)}
			}
			path = discovered
		}

		snap, err := sharedstate.Read(path)
		return snapshotMsg{path: path, snap: snap, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.poll(), scheduleTick())

	case snapshotMsg:
		m.path = msg.path
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.have = true
		}
		return m, nil
	}
	return m, nil
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	sectionStyle = lipgloss.NewStyle().MarginTop(1).Bold(true)
)

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("lazarus dashboard"))
	b.WriteString("\n")

	if m.err != nil && !m.have {
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n\nwaiting for a wrapper to publish state...\n")
		b.WriteString(labelStyle.Render("\nq: quit"))
		return b.String()
	}
	if m.err != nil {
		b.WriteString(warnStyle.Render(fmt.Sprintf("stale snapshot (last read error: %v)", m.err)))
		b.WriteString("\n")
	}

	snap := m.snap
	b.WriteString(labelStyle.Render(fmt.Sprintf("source: %s", m.path)))
	b.WriteString("\n\n")

	b.WriteString(row("agent", snap.Agent))
	b.WriteString(row("wrapper pid", fmt.Sprint(snap.WrapperPID)))
	b.WriteString(row("child pid", fmt.Sprint(snap.ChildPID)))
	b.WriteString(row("restart count", fmt.Sprint(snap.RestartCount)))
	b.WriteString(row("started at", formatUnixMS(snap.StartedAt)))
	if snap.LastRestartAt != 0 {
		b.WriteString(row("last restart", formatUnixMS(snap.LastRestartAt)))
	}
	b.WriteString(row("last activity", formatUnixMS(snap.LastActivityAt)))
	b.WriteString(row("snapshot written", formatUnixMS(snap.WrittenAt)))

	b.WriteString(sectionStyle.Render("watchdog"))
	b.WriteString("\n")
	b.WriteString(row("state", string(snap.Watchdog.State)))
	b.WriteString(row("enabled", fmt.Sprint(snap.Watchdog.Enabled)))
	b.WriteString(row("heartbeat timeout", fmt.Sprintf("%ds", snap.Watchdog.HeartbeatTimeout)))
	b.WriteString(row("lockup action", snap.Watchdog.LockupAction))
	if snap.Watchdog.MaxMemoryMB > 0 {
		b.WriteString(row("max memory", fmt.Sprintf("%dMB", snap.Watchdog.MaxMemoryMB)))
	}

	b.WriteString(sectionStyle.Render("background agent pool"))
	b.WriteString("\n")
	b.WriteString(row("queued", fmt.Sprint(snap.Pool.Queued)))
	b.WriteString(row("running", fmt.Sprint(snap.Pool.Running)))
	b.WriteString(row("succeeded", fmt.Sprint(snap.Pool.Succeeded)))
	b.WriteString(row("failed", fmt.Sprint(snap.Pool.Failed)))
	b.WriteString(row("stopped", fmt.Sprint(snap.Pool.Stopped)))
	b.WriteString(row("locks held", fmt.Sprint(snap.Pool.Locks)))

	if len(snap.RecentNetEvents) > 0 {
		b.WriteString(sectionStyle.Render("recent network events"))
		b.WriteString("\n")
		start := 0
		if len(snap.RecentNetEvents) > 10 {
			start = len(snap.RecentNetEvents) - 10
		}
		for _, ev := range snap.RecentNetEvents[start:] {
			addr := ev.Addr
			if addr == "" {
				addr = "-"
			}
			b.WriteString(fmt.Sprintf("  %-10s %s\n", ev.Event, addr))
		}
	}

	b.WriteString(labelStyle.Render("\nq: quit"))
	return b.String()
}

func row(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), value)
}

func formatUnixMS(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("15:04:05")
}
