// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package agentspec

import "testing"

func TestLookupKnownAgents(t *testing.T) {
	for _, name := range []string{"claude", "aider", "cursor"} {
		spec, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if spec.Name != name {
			t.Errorf("spec.Name = %q, want %q", spec.Name, name)
		}
		if spec.Executable == "" {
			t.Errorf("spec.Executable empty for %q", name)
		}
	}
}

func TestLookupUnknownAgent(t *testing.T) {
	_, err := Lookup("does-not-exist")
	if err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestClaudeSupportsContinue(t *testing.T) {
	spec, err := Lookup("claude")
	if err != nil {
		t.Fatal(err)
	}
	if !spec.SupportsContinue {
		t.Error("claude should support --continue")
	}
	if spec.ContinueFlag != "--continue" {
		t.Errorf("ContinueFlag = %q, want --continue", spec.ContinueFlag)
	}
}

func TestCursorDoesNotSupportContinue(t *testing.T) {
	spec, err := Lookup("cursor")
	if err != nil {
		t.Fatal(err)
	}
	if spec.SupportsContinue {
		t.Error("cursor should not support continue")
	}
}

func TestRegisterOverridesTable(t *testing.T) {
	Register(AgentSpec{Name: "claude", Executable: "/custom/claude", SupportsContinue: true, ContinueFlag: "--resume"})
	defer Register(AgentSpec{
		Name:                "claude",
		Executable:          "claude",
		SupportsContinue:    true,
		ContinueFlag:        "--continue",
		AutoPermissionFlags: []string{"--dangerously-skip-permissions"},
	})

	spec, err := Lookup("claude")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Executable != "/custom/claude" {
		t.Errorf("Executable = %q, want /custom/claude", spec.Executable)
	}
	if spec.ContinueFlag != "--resume" {
		t.Errorf("ContinueFlag = %q, want --resume", spec.ContinueFlag)
	}
}
