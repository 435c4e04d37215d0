// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Command lazarus-hooks builds as a C shared object
// (go build -buildmode=c-shared), never as an executable. The
// wrapper sets LD_PRELOAD to its output path so the dynamic linker
// resolves connect/send/sendto/recv/recvfrom/close/open/openat (and
// the stat family) against the C definitions in this package before
// libc's own, giving every hook a chance to log a network event or
// substitute an overlay path ahead of the real call (spec.md §4.A,
// SPEC_FULL.md §11).
//
// The interception itself lives in intercept.c, resolve.c, overlay.c,
// and netlog.c: plain C, because LD_PRELOAD symbol interposition is a
// C-ABI concern cgo can host but not meaningfully express in Go —
// cgo's //export only covers non-variadic signatures, and two of the
// intercepted symbols (open, openat) are variadic. This file exists
// to give the package a main() so -buildmode=c-shared has something
// to link; it is never called.
package main

// #include "hooks.h"
import "C"

func main() {}
