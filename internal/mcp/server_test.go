// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Brainwires/lazarus-mcp/internal/toolerr"
	"github.com/Brainwires/lazarus-mcp/lib/toolserver"
)

// fakeTools is a minimal toolserver.Server for exercising the JSON-RPC
// framing without any real supervisor/pool machinery.
type fakeTools struct {
	calls []string
}

func (f *fakeTools) Tools() []toolserver.ToolExport {
	return []toolserver.ToolExport{
		{Name: "echo", Description: "Echoes its input", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
}

func (f *fakeTools) CallTool(name string, arguments json.RawMessage) (string, bool, toolerr.Kind) {
	f.calls = append(f.calls, name)
	switch name {
	case "echo":
		return string(arguments), false, ""
	case "boom":
		return "always fails", true, toolerr.KindConflict
	default:
		return "unknown tool: " + name, true, toolerr.KindNotFound
	}
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func writeLines(lines ...string) *bytes.Buffer {
	buf := &bytes.Buffer{}
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf
}

func parseResponses(t *testing.T, out *bytes.Buffer) []testResponse {
	t.Helper()
	var responses []testResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r testResponse
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("parsing response line %q: %v", line, err)
		}
		responses = append(responses, r)
	}
	return responses
}

func TestInitializeThenToolsList(t *testing.T) {
	server := New(&fakeTools{}, nil)
	in := writeLines(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	responses := parseResponses(t, out)
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}

	var initResult initializeResult
	if err := json.Unmarshal(responses[0].Result, &initResult); err != nil {
		t.Fatalf("unmarshal initialize result: %v", err)
	}
	if initResult.ProtocolVersion != protocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", initResult.ProtocolVersion, protocolVersion)
	}

	var listResult toolsListResult
	if err := json.Unmarshal(responses[1].Result, &listResult); err != nil {
		t.Fatalf("unmarshal tools/list result: %v", err)
	}
	if len(listResult.Tools) != 1 || listResult.Tools[0].Name != "echo" {
		t.Errorf("Tools = %+v", listResult.Tools)
	}
}

func TestToolsListBeforeInitializeIsRejected(t *testing.T) {
	server := New(&fakeTools{}, nil)
	in := writeLines(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	responses := parseResponses(t, out)
	if len(responses) != 1 || responses[0].Error == nil {
		t.Fatalf("expected an error response, got %+v", responses)
	}
	if responses[0].Error.Code != codeInvalidRequest {
		t.Errorf("Error.Code = %d, want %d", responses[0].Error.Code, codeInvalidRequest)
	}
}

func TestToolsCallSuccess(t *testing.T) {
	server := New(&fakeTools{}, nil)
	in := writeLines(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"hi":"there"}}}`,
	)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	responses := parseResponses(t, out)
	var callResult toolsCallResult
	if err := json.Unmarshal(responses[1].Result, &callResult); err != nil {
		t.Fatalf("unmarshal tools/call result: %v", err)
	}
	if callResult.IsError {
		t.Fatalf("unexpected isError: %+v", callResult)
	}
	if len(callResult.Content) != 1 || callResult.Content[0].Text != `{"hi":"there"}` {
		t.Errorf("Content = %+v", callResult.Content)
	}
}

func TestToolsCallToolLevelFailure(t *testing.T) {
	server := New(&fakeTools{}, nil)
	in := writeLines(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"boom","arguments":{}}}`,
	)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	responses := parseResponses(t, out)
	if responses[1].Error != nil {
		t.Fatalf("tool-level failure must not be a protocol error: %+v", responses[1].Error)
	}
	var callResult toolsCallResult
	if err := json.Unmarshal(responses[1].Result, &callResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !callResult.IsError {
		t.Fatal("expected isError=true")
	}
	if callResult.ErrorInfo == nil || callResult.ErrorInfo.Category != string(toolerr.KindConflict) {
		t.Errorf("ErrorInfo = %+v", callResult.ErrorInfo)
	}
}

func TestUnknownToolIsToolLevelNotProtocolError(t *testing.T) {
	// spec.md §4.C: an unknown tool name is a tool-level error result,
	// never a JSON-RPC protocol error.
	server := New(&fakeTools{}, nil)
	in := writeLines(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
	)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	responses := parseResponses(t, out)
	if responses[1].Error != nil {
		t.Fatalf("unknown tool must not be a protocol error, got %+v", responses[1].Error)
	}
	var callResult toolsCallResult
	if err := json.Unmarshal(responses[1].Result, &callResult); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !callResult.IsError || callResult.ErrorInfo == nil || callResult.ErrorInfo.Category != string(toolerr.KindNotFound) {
		t.Errorf("result = %+v, want isError with kind not_found", callResult)
	}
}

func TestNotificationsGetNoResponse(t *testing.T) {
	server := New(&fakeTools{}, nil)
	in := writeLines(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output for a notification, got %q", out.String())
	}
}

func TestShutdownIsAcknowledged(t *testing.T) {
	server := New(&fakeTools{}, nil)
	in := writeLines(`{"jsonrpc":"2.0","id":1,"method":"shutdown"}`)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	responses := parseResponses(t, out)
	if len(responses) != 1 || responses[0].Error != nil {
		t.Fatalf("responses = %+v, want a single successful result", responses)
	}
}

func TestUnknownMethod(t *testing.T) {
	server := New(&fakeTools{}, nil)
	in := writeLines(`{"jsonrpc":"2.0","id":1,"method":"nonexistent"}`)
	out := &bytes.Buffer{}

	if err := server.Serve(in, out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	responses := parseResponses(t, out)
	if responses[0].Error == nil || responses[0].Error.Code != codeMethodNotFound {
		t.Errorf("Error = %+v, want codeMethodNotFound", responses[0].Error)
	}
}
