// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachearray

import (
	"fmt"

	"github.com/zcache-sim/cachesim/lib/containers"
)

// zWalkNode is one node of the BFS relocation walk's arena: a flat
// buffer with parent-index back-references, rather than a graph of
// pointers. The relocation graph can contain cycles (a line can hash
// back to a position already visited), and indices sidestep that
// entirely — there is no cycle to detect, just "the same id appearing
// at more than one index," which victim selection resolves by always
// taking the minimum matching index.
type zWalkNode struct {
	pos       int    // physical position in lookupArray
	lineID    LineID // line id resident at this position when visited
	parentIdx int    // index of the parent node in the arena, or -1 for a seed
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ZArray is a skewed-associative "zcache" array: a line may reside at
// exactly one of `ways` positions, one per way, chosen independently by
// a per-way hash. On a miss, victim selection walks the relocation
// graph breadth-first up to `cands` candidates and relocates occupants
// along the chosen chain rather than evicting the first thing found.
type ZArray struct {
	numSets int
	ways    int
	cands   int
	setMask uint64

	hf     HashFamily
	policy ReplPolicy

	lookupArray []LineID   // physical position -> resident line id
	array       []LineAddr // line id -> resident address

	pool *containers.SlicePool[zWalkNode]

	// per-call state, valid between Preinsert and the matching Postinsert
	swapPath    []int
	lastCandIdx int

	candBuf []LineID

	Stats Stats
}

var _ Array = (*ZArray)(nil)

// NewZArray builds a zcache of numSets*ways lines. cands must be >= ways;
// ways must be >= 2 (a skew with one way is just a direct-mapped array).
func NewZArray(numSets, ways, cands int, hf HashFamily, policy ReplPolicy) *ZArray {
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
	z := &ZArray{
		numSets:     numSets,
		ways:        ways,
		cands:       cands,
		setMask:     uint64(numSets - 1),
		hf:          hf,
		policy:      policy,
		lookupArray: make([]LineID, numLines),
		array:       make([]LineAddr, numLines),
		pool:        &containers.SlicePool[zWalkNode]{},
		lastCandIdx: -1,
		candBuf:     make([]LineID, 0, cands),
	}
	for i := range z.lookupArray {
		z.lookupArray[i] = LineID(i)
	}
	return z
}

func (z *ZArray) seedPos(way int, addr LineAddr) int {
	return way*z.numSets + int(z.hf.Hash(uint32(way), addr)&z.setMask)
}

// LastCandIdx exposes the BFS-arena index of the chosen victim, valid
// only between Preinsert and the next Preinsert. Collaborator timing
// code uses it to schedule the array accesses a real relocation walk
// would have taken.
func (z *ZArray) LastCandIdx() int { return z.lastCandIdx }

func (z *ZArray) Lookup(lineAddr LineAddr, req *MemReq, updateReplacement bool) LineID {
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

func (z *ZArray) Preinsert(lineAddr LineAddr, req *MemReq) (LineID, LineAddr) {
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
		z.candBuf = append(z.candBuf, n.lineID)
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
		panic("cachearray: zarray victim id not found in its own candidate walk")
	}
	z.lastCandIdx = minIdx

	z.swapPath = z.swapPath[:0]
	for idx := minIdx; idx != -1; idx = nodes[idx].parentIdx {
		z.swapPath = append(z.swapPath, nodes[idx].pos)
	}

	return victimID, z.array[victimID]
}

func (z *ZArray) Postinsert(lineAddr LineAddr, req *MemReq, victimID LineID) {
	if z.lookupArray[z.swapPath[0]] != victimID {
		panic("cachearray: zarray postinsert swap-path invariant violated")
	}
	for i := 0; i < len(z.swapPath)-1; i++ {
		z.lookupArray[z.swapPath[i]] = z.lookupArray[z.swapPath[i+1]]
	}
	z.lookupArray[z.swapPath[len(z.swapPath)-1]] = victimID

	z.policy.Replaced(victimID)
	z.array[victimID] = lineAddr
	z.policy.Update(victimID, req)

	z.Stats.Swaps += uint64(len(z.swapPath) - 1)
}
