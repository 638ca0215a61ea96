// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cachearray implements the associative array layer of a
// microarchitectural cache simulator: translating line addresses to
// internal line identifiers and running the lookup/preinsert/postinsert
// protocol against a pluggable replacement policy.
package cachearray

import (
	"fmt"

	"github.com/zcache-sim/cachesim/lib/fmtutil"
)

// LineAddr is an opaque physical address with the block offset removed.
// Zero is reserved to mean "invalid / empty slot".
type LineAddr uint64

// Format implements fmt.Formatter, rendering addresses as fixed-width hex
// under %v/%s/%q and as a plain decimal integer otherwise.
func (a LineAddr) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		str := fmt.Sprintf("%#016x", uint64(a))
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), str)
	default:
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), uint64(a))
	}
}

// LineID names a physical storage slot in [0, numLines). NoLine is the
// sentinel denoting absence.
type LineID int32

// NoLine is the "no such line" sentinel, equivalent to the original's -1.
const NoLine LineID = -1

// MemReq carries the fields of a memory request the array and replacement
// policies consult. It stands in for the portions of a real simulator's
// request object that this layer is allowed to see; everything else
// (timing, coherence state, MSHR bookkeeping) is a collaborator's problem.
type MemReq struct {
	LineAddr LineAddr
	PC       uint64
	SrcID    uint32
	IsWrite  bool
}

// HashFamily produces per-way hashes of a line address.
type HashFamily interface {
	Hash(way uint32, addr LineAddr) uint64
}

// ReplPolicy is the contract every replacement policy (set-associative,
// zcache, feedback/EVA, Hawkeye) implements.
type ReplPolicy interface {
	// Update is called on every hit, and again on the freshly-filled line
	// immediately after Replaced during a miss-commit.
	Update(id LineID, req *MemReq)
	// Replaced is called once, on a miss-commit, before Update.
	Replaced(id LineID)
	// Rank chooses the best victim among candidates. It must always
	// return one of the ids in candidates.
	Rank(req *MemReq, candidates []LineID) LineID
}

// Array is the contract implemented by all three array organizations:
// set-associative, zcache (plain and partitioned), and the sparse
// tag/data split.
//
// The three operations are invoked in strict sequence per request:
// Lookup (any number of times), then at most one Preinsert, then exactly
// one matching Postinsert before the next Preinsert. The array may stash
// per-call state between Preinsert and Postinsert; a second Preinsert
// before the matching Postinsert is undefined behavior, same as the
// original.
type Array interface {
	Lookup(lineAddr LineAddr, req *MemReq, updateReplacement bool) LineID
	Preinsert(lineAddr LineAddr, req *MemReq) (victimID LineID, writebackAddr LineAddr)
	Postinsert(lineAddr LineAddr, req *MemReq, victimID LineID)
}

// Stats accumulates the handful of counters the core itself increments.
// Anything richer (latency histograms, per-bank breakdowns) belongs to
// the surrounding simulator, which is out of scope here.
type Stats struct {
	Hits               uint64
	Misses             uint64
	Swaps              uint64
	PartitionedBypass  uint64
	SparseDataFreed    uint64
}

// Snapshot returns a value copy, safe to read without holding whatever
// lock (if any) the caller uses to serialize access to the array that
// owns these stats.
func (s *Stats) Snapshot() Stats { return *s }
