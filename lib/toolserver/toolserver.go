// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolserver defines the interface between the MCP JSON-RPC
// transport (internal/mcp) and the concrete tool registry
// (internal/tools). The interface decouples wire framing from tool
// dispatch so the JSON-RPC server has no knowledge of what a
// restart_claude or agent_spawn call actually does.
package toolserver

import (
	"encoding/json"

	"github.com/Brainwires/lazarus-mcp/internal/toolerr"
)

// ToolExport describes one callable tool for tools/list.
type ToolExport struct {
	// Name is the tool's identifier as sent over MCP (e.g. "agent_spawn").
	Name string

	// Description is the human-readable tool description.
	Description string

	// InputSchema is the JSON Schema for the tool's arguments,
	// serialized as JSON.
	InputSchema json.RawMessage
}

// Server provides tool discovery and execution for the MCP transport.
type Server interface {
	// Tools returns metadata for every registered tool, in a stable
	// order, for the tools/list response.
	Tools() []ToolExport

	// CallTool executes a tool by name with the given JSON arguments.
	// Per spec.md §4.C, an unknown tool name is itself a tool-level
	// error result (isError=true, kind=not_found), never a JSON-RPC
	// protocol error — only malformed JSON and unknown methods are
	// protocol errors, and both are handled by the transport before
	// CallTool is reached. kind is meaningless when isError is false.
	CallTool(name string, arguments json.RawMessage) (output string, isError bool, kind toolerr.Kind)
}
