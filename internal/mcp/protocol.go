// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp implements the JSON-RPC 2.0 MCP control plane (spec.md
// §4.C): initialize, ping, tools/list, tools/call over newline-delimited
// stdio, dispatching through a toolserver.Server instead of a CLI
// command tree.
package mcp

import "encoding/json"

// protocolVersion is the MCP protocol version this server implements.
// Per the MCP specification, the server always reports its own version;
// the client decides whether it can proceed.
const protocolVersion = "2025-11-25"

// JSON-RPC 2.0 standard error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// request is a JSON-RPC 2.0 request or notification. A notification has
// no ID and expects no response.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool {
	return len(r.ID) == 0
}

// response is a JSON-RPC 2.0 response. Exactly one of Result or Error
// is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools *toolCapability `json:"tools,omitempty"`
}

type toolCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []toolDescription `json:"tools"`
}

type toolDescription struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// toolsCallResult is the tools/call response. ErrorInfo adds structured
// metadata alongside the human-readable text content, letting a caller
// decide programmatically whether to retry.
type toolsCallResult struct {
	Content   []contentBlock `json:"content"`
	IsError   bool           `json:"isError,omitempty"`
	ErrorInfo *errorInfo     `json:"errorInfo,omitempty"`
}

type errorInfo struct {
	Category  string `json:"category"`
	Retryable bool   `json:"retryable"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
