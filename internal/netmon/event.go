// Copyright 2026 The Lazarus Authors
// SPDX-License-Identifier: Apache-2.0

// Package netmon defines the NetEvent wire format (spec.md §3, §6) and
// the reader side used by the netmon_log and netmon_status MCP tools.
// The writer side lives in the hooks shared library (cmd/lazarus-hooks)
// since it must run inside the intercepted libc call with no
// dependency on this package (cgo cannot import ordinary Go packages
// into a c-shared object's hot path without pulling in the Go
// runtime scheduler, which the hooks library already pays for, but we
// keep the wire format defined once here and hand-encode it on the
// hooks side to keep that side allocation-free on the common path).
package netmon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Kind enumerates the event types spec.md §3 names for NetEvent.
type Kind string

const (
	KindConnect  Kind = "connect"
	KindSend     Kind = "send"
	KindRecv     Kind = "recv"
	KindSendTo   Kind = "sendto"
	KindRecvFrom Kind = "recvfrom"
	KindClose    Kind = "close"
)

// Event is one line of the netmon JSONL log. Fields follow spec.md
// §6's "NetEvent JSONL schema (bit-exact)": required ts/event, optional
// fd/addr/bytes. SPEC_FULL.md §11 adds optional port/family/result as
// additive fields; readers that only know spec.md's schema ignore them.
type Event struct {
	TS     int64  `json:"ts"`
	Event  Kind   `json:"event"`
	FD     *int   `json:"fd,omitempty"`
	Addr   string `json:"addr,omitempty"`
	Bytes  *int   `json:"bytes,omitempty"`
	Port   *int   `json:"port,omitempty"`
	Family string `json:"family,omitempty"`
	Result *int   `json:"result,omitempty"`
}

// Encode serializes an Event as a single JSON line (no trailing
// newline). Round-tripping Encode then Decode yields a structurally
// equal Event, per spec.md §8's round-trip law.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a single JSONL line into an Event.
func Decode(line []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("decoding netmon event: %w", err)
	}
	return e, nil
}

// ReadAll reads every event from a netmon log file in order. Used by
// the MCP server's netmon tools, which read the log written by the
// wrapped child's hooks library — a separate OS process — rather than
// holding any event state in memory themselves.
func ReadAll(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening netmon log %s: %w", path, err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := Decode(line)
		if err != nil {
			// A single malformed line (e.g. a write interleaved by two
			// threads mid-line, per spec.md §5's out-of-order/interleave
			// tolerance note) must not abort the whole read.
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scanning netmon log %s: %w", path, err)
	}
	return events, nil
}

// Tail returns the last count events from the log, or all of them if
// there are fewer than count. count <= 0 defaults to 20, matching the
// netmon_log tool's documented default.
func Tail(path string, count int) ([]Event, error) {
	if count <= 0 {
		count = 20
	}
	events, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	if len(events) <= count {
		return events, nil
	}
	return events[len(events)-count:], nil
}

// AddrCount is one entry of the netmon_status "top" aggregate.
type AddrCount struct {
	Addr  string `json:"addr"`
	Count int    `json:"n"`
}

// Status is the aggregate view returned by the netmon_status tool.
type Status struct {
	TotalConnections int         `json:"total_connections"`
	UniqueAddrs      int         `json:"unique_addrs"`
	BytesSent        int64       `json:"bytes_sent"`
	BytesRecv        int64       `json:"bytes_recv"`
	Top              []AddrCount `json:"top"`
}

// Aggregate computes connection/byte counters and the top-talking
// addresses from a full event slice.
func Aggregate(events []Event, topN int) Status {
	if topN <= 0 {
		topN = 5
	}

	var status Status
	counts := make(map[string]int)
	seen := make(map[string]bool)

	for _, e := range events {
		switch e.Event {
		case KindConnect:
			status.TotalConnections++
			if e.Addr != "" {
				counts[e.Addr]++
				seen[e.Addr] = true
			}
		case KindSend, KindSendTo:
			if e.Bytes != nil {
				status.BytesSent += int64(*e.Bytes)
			}
		case KindRecv, KindRecvFrom:
			if e.Bytes != nil {
				status.BytesRecv += int64(*e.Bytes)
			}
		}
	}
	status.UniqueAddrs = len(seen)
	status.Top = topAddrs(counts, topN)
	return status
}

func topAddrs(counts map[string]int, topN int) []AddrCount {
	all := make([]AddrCount, 0, len(counts))
	for addr, n := range counts {
		all = append(all, AddrCount{Addr: addr, Count: n})
	}
	// Descending by count over a typically-small set (distinct addresses
	// one interactive agent process contacted).
	sortAddrCounts(all)
	if len(all) > topN {
		all = all[:topN]
	}
	return all
}

// sortAddrCounts is an insertion sort, descending by Count. The input
// is small enough that its simplicity outweighs sort.Slice's overhead.
func sortAddrCounts(all []AddrCount) {
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].Count > all[j-1].Count; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
}

// Append writes one event as a single JSONL line using O_APPEND, per
// spec.md §4.A's "Writes use O_APPEND so concurrent writers ...
// interleave at line boundaries". Unlike the hooks library's C writer,
// which swallows every log error, Append returns encode, open and
// write errors to its caller. This is the Go-side
// equivalent used by tests and by any non-cgo caller that wants to
// append synthetic events (e.g. integration tests exercising the MCP
// netmon tools without a real hooked child). The hooks library itself
// performs the equivalent write() call directly in C-shared code to
// avoid pulling the Go runtime onto the libc hot path.
func Append(path string, event Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	file, err := openAppend(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.Write(data)
	return err
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

// CopyLine is a convenience used by tests to write a raw line without
// going through Event, exercising malformed-line tolerance in ReadAll.
func CopyLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}
