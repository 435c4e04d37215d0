// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool implements the background-agent pool from spec.md §4.E:
// spawn/monitor/stop/await plus the process-local file-lock table
// agents use to coordinate edits. Uses the standard os/exec process
// lifecycle idioms: non-blocking tail readers, SIGTERM-then-SIGKILL
// escalation.
package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Brainwires/lazarus-mcp/internal/toolerr"
)

// Status is a BackgroundAgent's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusStopped
}

// tailLines bounds how many trailing lines of stdout/stderr are kept in
// memory per agent, per spec.md §4.E's "last N lines" phrasing.
const tailLines = 200

// Agent is one background agent record, owned exclusively by the pool
// once created — spec.md §3's ownership rule for BackgroundAgent.
type Agent struct {
	ID              string
	TaskDescription string
	AgentType       string
	WorkingDir      string
	MaxIterations   int
	StartedAt       time.Time
	EndedAt         time.Time

	mu         sync.Mutex
	status     Status
	pid        int
	stdoutTail []string
	stderrTail []string
	result     string
	cmd        *exec.Cmd
	waiters    []chan struct{}
	exited     chan struct{}
}

// View is the read-only snapshot returned by agent_status/agent_list.
type View struct {
	ID         string
	Status     Status
	Task       string
	PID        int
	StdoutTail []string
	StderrTail []string
	Result     string
	StartedAt  time.Time
	EndedAt    time.Time
}

// View returns a read-only snapshot of the agent's current state.
func (a *Agent) View() View {
	return a.view()
}

func (a *Agent) view() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return View{
		ID:         a.ID,
		Status:     a.status,
		Task:       a.TaskDescription,
		PID:        a.pid,
		StdoutTail: append([]string(nil), a.stdoutTail...),
		StderrTail: append([]string(nil), a.stderrTail...),
		Result:     a.result,
		StartedAt:  a.StartedAt,
		EndedAt:    a.EndedAt,
	}
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *Agent) appendTail(dst *[]string, line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*dst = append(*dst, line)
	if len(*dst) > tailLines {
		*dst = (*dst)[len(*dst)-tailLines:]
	}
}

func (a *Agent) finish(status Status, result string) {
	a.mu.Lock()
	a.status = status
	a.result = result
	a.EndedAt = time.Now()
	waiters := a.waiters
	a.waiters = nil
	a.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (a *Agent) addWaiter() (<-chan struct{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.terminal() {
		done := make(chan struct{})
		close(done)
		return done, true
	}
	ch := make(chan struct{})
	a.waiters = append(a.waiters, ch)
	return ch, false
}

// Spawner constructs the argv/env for a task; the pool calls it once
// per spawn so the caller (cmd/lazarus's backgroundAgentSpawner, which
// knows the AgentSpec table) controls how a task description maps to an executable.
type Spawner func(a *Agent) *exec.Cmd

// Pool is the background-agent pool. MaxAgents bounds concurrently
// non-terminal agents; spawn fails immediately ("pool full") rather
// than queueing, per spec.md §4.E.
type Pool struct {
	MaxAgents int

	mu     sync.Mutex
	agents map[string]*Agent
	order  []string

	locks *lockTable
}

// New creates a Pool bounded at maxAgents (spec.md's default is 8; the
// caller passes whatever internal/config resolved).
func New(maxAgents int) *Pool {
	if maxAgents <= 0 {
		maxAgents = 8
	}
	return &Pool{
		MaxAgents: maxAgents,
		agents:    make(map[string]*Agent),
		locks:     newLockTable(),
	}
}

func (p *Pool) activeCount() int {
	n := 0
	for _, id := range p.order {
		if !p.agents[id].view().Status.terminal() {
			n++
		}
	}
	return n
}

// Spawn creates and starts a new background agent. build is invoked
// with the freshly-allocated Agent record so it can set argv/env/dir on
// the returned *exec.Cmd; Spawn takes care of pipe attachment, pid
// recording, and kicking off the monitor goroutine.
func (p *Pool) Spawn(task, agentType, workingDir string, maxIterations int, build Spawner) (*Agent, error) {
	p.mu.Lock()
	if p.activeCount() >= p.MaxAgents {
		p.mu.Unlock()
		return nil, toolerr.New(toolerr.KindConflict, "pool full (%d/%d active)", p.activeCount(), p.MaxAgents)
	}

	agent := &Agent{
		ID:              uuid.NewString(),
		TaskDescription: task,
		AgentType:       agentType,
		WorkingDir:      workingDir,
		MaxIterations:   maxIterations,
		StartedAt:       time.Now(),
		status:          StatusQueued,
		exited:          make(chan struct{}),
	}
	p.agents[agent.ID] = agent
	p.order = append(p.order, agent.ID)
	p.mu.Unlock()

	cmd := build(agent)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		agent.finish(StatusFailed, fmt.Sprintf("attaching stdout: %v", err))
		return agent, nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		agent.finish(StatusFailed, fmt.Sprintf("attaching stderr: %v", err))
		return agent, nil
	}

	if err := cmd.Start(); err != nil {
		agent.finish(StatusFailed, fmt.Sprintf("starting agent: %v", err))
		return agent, nil
	}

	agent.mu.Lock()
	agent.cmd = cmd
	agent.pid = cmd.Process.Pid
	agent.status = StatusRunning
	agent.mu.Unlock()

	// Wait closes the pipes once the process exits, so monitor must not
	// call it until both readers have drained their pipe to EOF.
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); p.pumpLines(agent, stdout, &agent.stdoutTail) }()
	go func() { defer pumps.Done(); p.pumpLines(agent, stderr, &agent.stderrTail) }()
	go func() { pumps.Wait(); p.monitor(agent) }()

	return agent, nil
}

func (p *Pool) pumpLines(agent *Agent, r io.Reader, dst *[]string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		agent.appendTail(dst, scanner.Text())
	}
}

// monitor waits for the agent's process to exit, classifies the
// outcome, and releases its file locks — spec.md §4.E's monitor loop,
// modeled here as one goroutine per agent rather than a single shared
// poll loop, since Go's os/exec already gives a blocking Wait.
func (p *Pool) monitor(agent *Agent) {
	err := agent.cmd.Wait()
	close(agent.exited)

	agent.mu.Lock()
	alreadyStopped := agent.status == StatusStopped
	agent.mu.Unlock()
	if alreadyStopped {
		p.locks.releaseAll(agent.ID)
		agent.finish(StatusStopped, "")
		return
	}

	if err != nil {
		agent.finish(StatusFailed, err.Error())
	} else {
		agent.finish(StatusSucceeded, "")
	}
	p.locks.releaseAll(agent.ID)
}

// Get returns the agent record for id.
func (p *Pool) Get(id string) (*Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agent, ok := p.agents[id]
	if !ok {
		return nil, toolerr.New(toolerr.KindNotFound, "no agent with id %s", id)
	}
	return agent, nil
}

// List returns a View for every agent, in spawn order.
func (p *Pool) List() []View {
	p.mu.Lock()
	ids := append([]string(nil), p.order...)
	p.mu.Unlock()

	views := make([]View, 0, len(ids))
	for _, id := range ids {
		p.mu.Lock()
		agent := p.agents[id]
		p.mu.Unlock()
		views = append(views, agent.view())
	}
	return views
}

// Stop transitions id to Stopped: SIGTERM, then SIGKILL after 2s if
// still alive, per spec.md §4.E.
func (p *Pool) Stop(id string) error {
	agent, err := p.Get(id)
	if err != nil {
		return err
	}

	agent.mu.Lock()
	if agent.status.terminal() {
		agent.mu.Unlock()
		return nil
	}
	proc := agent.cmd.Process
	agent.status = StatusStopped
	agent.mu.Unlock()

	if proc == nil {
		return nil
	}

	proc.Signal(syscall.SIGTERM)
	select {
	case <-agent.exited:
	case <-time.After(2 * time.Second):
		proc.Signal(syscall.SIGKILL)
		<-agent.exited
	}
	return nil
}

// Await blocks the caller until id reaches a terminal state or ctx is
// done. Multiple concurrent awaiters for the same id all observe the
// same terminal result, per spec.md §4.E. Returns the final View
// regardless of whether the wait completed or timed out; on timeout the
// caller receives the current (non-terminal) status without id being
// canceled.
func (p *Pool) Await(ctx context.Context, id string) (View, error) {
	agent, err := p.Get(id)
	if err != nil {
		return View{}, err
	}

	done, alreadyDone := agent.addWaiter()
	if !alreadyDone {
		select {
		case <-done:
		case <-ctx.Done():
			return agent.view(), nil
		}
	}
	return agent.view(), nil
}

// FileLocks returns the current process-local lock table, for the
// agent_file_locks tool.
func (p *Pool) FileLocks() []FileLock {
	return p.locks.snapshot()
}

// AcquireLock claims path for holderID at mode.
func (p *Pool) AcquireLock(path, holderID string, mode LockMode) error {
	return p.locks.acquire(path, holderID, mode, time.Now())
}

// ReleaseLock releases path for holderID.
func (p *Pool) ReleaseLock(path, holderID string) error {
	return p.locks.release(path, holderID)
}

// Stats summarizes pool state for the shared-state snapshot.
type Stats struct {
	Queued    int
	Running   int
	Succeeded int
	Failed    int
	Stopped   int
	Locks     int
}

// Stats computes the current pool summary.
func (p *Pool) Stats() Stats {
	var s Stats
	for _, v := range p.List() {
		switch v.Status {
		case StatusQueued:
			s.Queued++
		case StatusRunning:
			s.Running++
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusStopped:
			s.Stopped++
		}
	}
	s.Locks = len(p.FileLocks())
	return s
}
