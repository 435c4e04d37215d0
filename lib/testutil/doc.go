// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for lazarus packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. This exists because Unix domain sockets have a
// 108-byte path limit (sun_path in sockaddr_un), which a deeply-nested
// t.TempDir() path can exceed. The directory is automatically removed
// when the test completes.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// transaction IDs, request IDs, or message bodies distinguishable in
// shared rooms.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no lazarus-internal dependencies.
package testutil
