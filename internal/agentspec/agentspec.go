// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentspec holds the static, built-in table of supported
// agents (spec.md §3's AgentSpec and §9's closed variant set). Adding
// an agent means adding a table row here, not a new code path in the
// supervisor or pool — every consumer treats AgentSpec as opaque data.
package agentspec

import "fmt"

// AgentSpec is the immutable description of one supported agent
// binary. Built once at startup from the table in this package; never
// mutated afterward.
type AgentSpec struct {
	// Name is the identifier the user passes as the first wrapper
	// argument (e.g. "claude", "aider", "cursor").
	Name string

	// Executable is the binary looked up on PATH (or an absolute path)
	// to exec for this agent.
	Executable string

	// SupportsContinue reports whether this agent has a "continue
	// previous session" flag.
	SupportsContinue bool

	// ContinueFlag is the flag string inserted into argv when a
	// restart should continue the previous session. Empty when
	// SupportsContinue is false.
	ContinueFlag string

	// AutoPermissionFlags are placed, in order, right after the
	// executable on the wrapper's initial spawn and on every background
	// agent spawn, to run the agent in non-interactive/auto-approve mode
	// under supervision; a restart of the wrapped agent omits them. Brand
	// specific — kept as data, never special-cased in the core.
	AutoPermissionFlags []string
}

// builtin is the closed table of supported agents. Spec.md §9 treats
// "adding an agent" as "adding a variant + table row" — this map is
// that row set.
var builtin = map[string]AgentSpec{
	"claude": {
		Name:                "claude",
		Executable:          "claude",
		SupportsContinue:    true,
		ContinueFlag:        "--continue",
		AutoPermissionFlags: []string{"--dangerously-skip-permissions"},
	},
	"aider": {
		Name:                "aider",
		Executable:          "aider",
		SupportsContinue:    true,
		ContinueFlag:        "--restore-chat-history",
		AutoPermissionFlags: []string{"--yes-always"},
	},
	"cursor": {
		Name:                "cursor",
		Executable:          "cursor-agent",
		SupportsContinue:    false,
		ContinueFlag:        "",
		AutoPermissionFlags: []string{"--force"},
	},
}

// Lookup resolves an agent by name. Returns an error naming the
// available agents when name is not in the table — this is the
// "Configuration error (missing agent, bad flag)" case from
// SPEC_FULL.md §7, and the caller should exit 1 on it.
func Lookup(name string) (AgentSpec, error) {
	spec, ok := builtin[name]
	if !ok {
		return AgentSpec{}, fmt.Errorf("unknown agent %q (known: %v)", name, Names())
	}
	return spec, nil
}

// Names returns the sorted-by-declaration list of built-in agent
// names, used in usage text and error messages.
func Names() []string {
	return []string{"claude", "aider", "cursor"}
}

// Register adds or overrides an agent row. Used by internal/config to
// apply table overrides loaded from the optional settings file —
// SPEC_FULL.md's Open Question on permission-flag sourcing resolves to
// "table sourced from configuration, not hardcoded," so config
// loading is the only caller of this function outside tests.
func Register(spec AgentSpec) {
	builtin[spec.Name] = spec
}
