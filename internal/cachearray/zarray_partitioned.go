// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachearray

import (
	"fmt"

	"github.com/zcache-sim/cachesim/lib/containers"
	"github.com/zcache-sim/cachesim/lib/util"
)

// noDomain marks a line as unowned — either never filled, or whose
// owning tenant has since been forgotten. It is distinct from any real
// SrcID because SrcID is unsigned; we carry domains as int32 internally
// precisely so "-1" is representable.
const noDomain int32 = -1

// ZArrayPartitioned is a ZArray (see zarray.go) in which every resident
// line additionally carries the id of the tenant ("domain") that owns
// it, and victim selection is constrained to candidates the requesting
// tenant is eligible to evict.
type ZArrayPartitioned struct {
	numSets, ways, cands, numLines int
	setMask                        uint64

	hf     HashFamily
	policy ReplPolicy

	lookupArray []LineID
	array       []LineAddr
	domain      []int32 // lineID -> owning domain, or noDomain

	// lineCounters counts the fills each domain has committed, saturating
	// at numLines/2 and never decremented. A domain whose count is below
	// numLines/2 may still claim empty slots (the warm-up bias); once it
	// reaches numLines/2 it may only evict its own lines.
	lineCounters map[uint32]int

	// domains is every SrcID that has ever claimed a line, for reporting;
	// it only grows.
	domains containers.Set[uint32]

	pool *containers.SlicePool[zWalkNode]

	swapPath    []int
	lastCandIdx int
	candBuf     []LineID

	// Bypass is the sentinel Preinsert returns when no candidate is
	// eligible for the requesting domain. It is numLines, one past the
	// last valid id, per the design decision recorded for this array
	// (the source alternates between numLines and uint32(-1); -1 is
	// already this package's generic "no such line" marker and
	// overloading it here would make a bypass indistinguishable from
	// "not found" in logs).
	Bypass LineID

	Stats Stats
}

var _ Array = (*ZArrayPartitioned)(nil)

func NewZArrayPartitioned(numSets, ways, cands int, hf HashFamily, policy ReplPolicy) *ZArrayPartitioned {
	if numSets <= 0 || numSets&(numSets-1) != 0 {
		panic(fmt.Sprintf("cachearray: numSets must be a power of two, got %d", numSets))
	}
	if ways < 2 {
		panic("cachearray: zarray requires ways >= 2")
	}
	if cands < ways {
		panic("cachearray: zarray requires cands >= ways")
	}
	numLines := numSets * ways
	z := &ZArrayPartitioned{
		numSets:      numSets,
		ways:         ways,
		cands:        cands,
		numLines:     numLines,
		setMask:      uint64(numSets - 1),
		hf:           hf,
		policy:       policy,
		lookupArray:  make([]LineID, numLines),
		array:        make([]LineAddr, numLines),
		domain:       make([]int32, numLines),
		lineCounters: make(map[uint32]int),
		domains:      containers.NewSet[uint32](),
		pool:         &containers.SlicePool[zWalkNode]{},
		lastCandIdx:  -1,
		candBuf:      make([]LineID, 0, cands),
		Bypass:       LineID(numLines),
	}
	for i := range z.lookupArray {
		z.lookupArray[i] = LineID(i)
		z.domain[i] = noDomain
	}
	return z
}

func (z *ZArrayPartitioned) seedPos(way int, addr LineAddr) int {
	return way*z.numSets + int(z.hf.Hash(uint32(way), addr)&z.setMask)
}

func (z *ZArrayPartitioned) LastCandIdx() int { return z.lastCandIdx }

func (z *ZArrayPartitioned) Lookup(lineAddr LineAddr, req *MemReq, updateReplacement bool) LineID {
	if lineAddr == 0 {
		panic("cachearray: zarray lookup called with lineAddr == 0 (programming error sentinel)")
	}
	for w := 0; w < z.ways; w++ {
		pos := z.seedPos(w, lineAddr)
		id := z.lookupArray[pos]
		if z.array[id] == lineAddr {
			z.Stats.Hits++
			if updateReplacement {
				z.policy.Update(id, req)
			}
			return id
		}
	}
	z.Stats.Misses++
	return NoLine
}

// eligible reports whether lineID may be evicted to satisfy req, per the
// warm-up-biased eligibility rule: a domain whose fill count is below
// numLines/2 may also claim empty slots; once it reaches numLines/2,
// only its own lines are fair game.
func (z *ZArrayPartitioned) eligible(lineID LineID, req *MemReq) bool {
	d := z.domain[lineID]
	if z.array[lineID] == 0 {
		return z.lineCounters[req.SrcID] < z.numLines/2
	}
	return d == int32(req.SrcID)
}

func (z *ZArrayPartitioned) Preinsert(lineAddr LineAddr, req *MemReq) (LineID, LineAddr) {
	// Extra `ways` slots beyond cands: the inner loop below always
	// finishes the current fringe node's full `ways` expansion even if
	// numCandidates reaches cands partway through it, so writes can land
	// up to `ways` past cands before the loop condition is re-checked.
	nodes := z.pool.Get(z.cands + z.ways)
	defer func() { z.pool.Put(nodes) }()

	for w := 0; w < z.ways; w++ {
		pos := z.seedPos(w, lineAddr)
		nodes[w] = zWalkNode{pos: pos, lineID: z.lookupArray[pos], parentIdx: -1}
	}

	numCandidates := z.ways
	allValid := true
	for w := 0; w < z.ways; w++ {
		allValid = allValid && z.array[nodes[w].lineID] != 0
	}

	// Expand the fringe one node at a time, breadth-first: fringeStart
	// only advances after its node's full `ways` children have been
	// written, so a later seed's children are never generated once an
	// earlier seed's expansion alone reaches cands.
	fringeStart := 0
	for numCandidates < z.cands && allValid {
		parent := nodes[fringeStart]
		parentAddr := z.array[parent.lineID]
		for w := 0; w < z.ways; w++ {
			childPos := z.seedPos(w, parentAddr)
			childID := z.lookupArray[childPos]
			// Branchless self-revisit check: always write the
			// candidate at the current index, then advance the count
			// by a boolean. A self-revisit leaves numCandidates
			// unchanged, so the next write in this same inner loop
			// overwrites it in place rather than leaving a gap. The
			// branch this replaces is long-latency and
			// data-dependent; this form is a deliberate performance
			// contract, not an accident.
			nodes[numCandidates] = zWalkNode{pos: childPos, lineID: childID, parentIdx: fringeStart}
			allValid = allValid && z.array[childID] != 0
			numCandidates += boolToInt(childID != parent.lineID)
		}
		fringeStart++
	}

	if numCandidates > z.cands {
		numCandidates = z.cands
	}
	cands := nodes[:numCandidates]

	z.candBuf = z.candBuf[:0]
	for _, n := range cands {
		if z.eligible(n.lineID, req) {
			z.candBuf = append(z.candBuf, n.lineID)
		}
	}
	if len(z.candBuf) == 0 {
		z.Stats.PartitionedBypass++
		z.lastCandIdx = -1
		z.swapPath = z.swapPath[:0]
		return z.Bypass, 0
	}

	victimID := z.policy.Rank(req, z.candBuf)

	minIdx := -1
	for i, n := range cands {
		if n.lineID == victimID {
			minIdx = i
			break
		}
	}
	if minIdx < 0 {
		panic("cachearray: zarray_partitioned victim id not found in its own candidate walk")
	}
	z.lastCandIdx = minIdx

	z.swapPath = z.swapPath[:0]
	for idx := minIdx; idx != -1; idx = nodes[idx].parentIdx {
		z.swapPath = append(z.swapPath, nodes[idx].pos)
	}

	return victimID, z.array[victimID]
}

func (z *ZArrayPartitioned) Postinsert(lineAddr LineAddr, req *MemReq, victimID LineID) {
	if victimID == z.Bypass {
		// Graceful no-op: the caller bypasses the fill entirely.
		return
	}
	if z.lookupArray[z.swapPath[0]] != victimID {
		panic("cachearray: zarray_partitioned postinsert swap-path invariant violated")
	}
	for i := 0; i < len(z.swapPath)-1; i++ {
		z.lookupArray[z.swapPath[i]] = z.lookupArray[z.swapPath[i+1]]
	}
	z.lookupArray[z.swapPath[len(z.swapPath)-1]] = victimID

	z.policy.Replaced(victimID)
	z.array[victimID] = lineAddr
	z.domain[victimID] = int32(req.SrcID)
	z.policy.Update(victimID, req)

	if z.lineCounters[req.SrcID] < z.numLines/2 {
		z.lineCounters[req.SrcID]++
	}
	z.domains.Insert(req.SrcID)

	z.Stats.Swaps += uint64(len(z.swapPath) - 1)
}

// Domains returns the set of SrcIDs that have ever owned a line in this
// array, for reporting.
func (z *ZArrayPartitioned) Domains() containers.Set[uint32] {
	return z.domains
}

// SortedDomains is like Domains, but in ascending order, for stable log
// and report output across runs.
func (z *ZArrayPartitioned) SortedDomains() []uint32 {
	return util.SortedMapKeys(z.domains)
}
