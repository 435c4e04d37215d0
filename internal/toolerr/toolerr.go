// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolerr classifies the error kinds named in SPEC_FULL.md's
// error-handling design. Only transport-level problems (malformed
// JSON, unknown method) become a JSON-RPC error response, and the MCP
// layer handles those itself; every tool failure, including an unknown
// tool name (KindNotFound), is a tool-level failure that the MCP layer
// turns into a `content` block with isError=true, never a protocol
// error.
package toolerr

import "fmt"

// Kind classifies why a tool call failed.
type Kind string

const (
	// KindValidation means the caller supplied arguments that fail the
	// tool's own semantic checks (distinct from JSON Schema validation,
	// which happens before the handler runs).
	KindValidation Kind = "validation"

	// KindNotFound means the referenced resource (agent id, lock path)
	// does not exist.
	KindNotFound Kind = "not_found"

	// KindConflict means the requested operation would violate an
	// invariant (pool full, lock held by another holder).
	KindConflict Kind = "conflict"

	// KindUnavailable means the tool depends on state that the caller
	// is not running under (e.g. restart_claude with no wrapper pid).
	KindUnavailable Kind = "unavailable"

	// KindInternal means the tool hit an unexpected failure (I/O error
	// reading shared state, malformed on-disk file).
	KindInternal Kind = "internal"
)

// Error is a tool-level failure. It is never surfaced as a JSON-RPC
// protocol error — callers of a tool handler wrap the returned Error in
// an MCP `content` block with isError=true and include Kind in a
// structured errorInfo extension.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New constructs a tool-level Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Retryable reports whether repeating the same call might succeed.
// Only KindUnavailable (transient: the wrapper might come up) is
// retryable; validation, not-found, conflict, and internal errors are
// not.
func (k Kind) Retryable() bool {
	return k == KindUnavailable
}
