// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Brainwires/lazarus-mcp/lib/toolserver"
	"github.com/Brainwires/lazarus-mcp/lib/version"
)

// Server is the MCP JSON-RPC control plane. It knows nothing about
// restart procedures or agent pools — it only frames JSON-RPC and
// dispatches tools/call into a toolserver.Server.
type Server struct {
	tools       toolserver.Server
	log         *slog.Logger
	initialized bool
}

// New creates a Server that dispatches into tools.
func New(tools toolserver.Server, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{tools: tools, log: log}
}

// Serve runs the read-dispatch-write loop against input/output until
// input reaches EOF, per spec.md §4.C's "newline-delimited JSON-RPC on
// stdin/stdout" transport.
func (s *Server) Serve(input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	encoder := json.NewEncoder(output)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if writeErr := writeError(encoder, json.RawMessage("null"), codeParseError, "parse error: "+err.Error()); writeErr != nil {
				return fmt.Errorf("writing parse error response: %w", writeErr)
			}
			continue
		}

		if req.JSONRPC != "2.0" {
			if !req.isNotification() {
				if writeErr := writeError(encoder, req.ID, codeInvalidRequest, "unsupported JSON-RPC version"); writeErr != nil {
					return fmt.Errorf("writing version error response: %w", writeErr)
				}
			}
			continue
		}

		if req.isNotification() {
			continue
		}

		if err := s.dispatch(encoder, &req); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func (s *Server) dispatch(encoder *json.Encoder, req *request) error {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(encoder, req)
	case "ping":
		return writeResult(encoder, req.ID, map[string]any{})
	case "shutdown":
		// Acknowledge the handshake method; termination still relies on
		// the client closing stdin, which Serve's scanner observes as EOF.
		return writeResult(encoder, req.ID, map[string]any{})
	case "tools/list":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleToolsList(encoder, req)
	case "tools/call":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleToolsCall(encoder, req)
	default:
		return writeError(encoder, req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleInitialize(encoder *json.Encoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for initialize")
	}
	var params initializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
	}

	s.initialized = true
	s.log.Debug("mcp client initialized", "client", params.ClientInfo.Name)

	return writeResult(encoder, req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    serverCapabilities{Tools: &toolCapability{}},
		ServerInfo: serverInfo{
			Name:    "lazarus",
			Version: version.Short(),
		},
	})
}

func (s *Server) handleToolsList(encoder *json.Encoder, req *request) error {
	exports := s.tools.Tools()
	descriptions := make([]toolDescription, 0, len(exports))
	for _, t := range exports {
		descriptions = append(descriptions, toolDescription{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: json.RawMessage(t.InputSchema),
		})
	}
	return writeResult(encoder, req.ID, toolsListResult{Tools: descriptions})
}

func (s *Server) handleToolsCall(encoder *json.Encoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for tools/call")
	}
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	output, isError, kind := s.tools.CallTool(params.Name, params.Arguments)

	result := toolsCallResult{
		Content: []contentBlock{{Type: "text", Text: output}},
		IsError: isError,
	}
	if isError {
		result.ErrorInfo = &errorInfo{Category: string(kind), Retryable: kind.Retryable()}
	}
	return writeResult(encoder, req.ID, result)
}

func writeResult(encoder *json.Encoder, id json.RawMessage, result any) error {
	return encoder.Encode(response{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(encoder *json.Encoder, id json.RawMessage, code int, message string) error {
	return encoder.Encode(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
