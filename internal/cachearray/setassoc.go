// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachearray

import "fmt"

// SetAssoc is a conventional N-way set-associative array: lookup scans a
// fixed-size set for an exact address match, and eviction is delegated
// entirely to the replacement policy over that set's occupants.
type SetAssoc struct {
	numSets int
	assoc   int
	setMask uint64

	hf     HashFamily
	policy ReplPolicy

	array []LineAddr // id -> resident address; zero means empty

	// candBuf is reused across Preinsert calls to avoid an allocation on
	// every miss; it is not valid outside of a single Preinsert call.
	candBuf []LineID

	Stats Stats
}

var _ Array = (*SetAssoc)(nil)

// NewSetAssoc builds a set-associative array of numSets sets, each with
// `assoc` ways (so numLines = numSets*assoc). numSets must be a power of
// two, per the data-model invariant.
func NewSetAssoc(numSets, assoc int, hf HashFamily, policy ReplPolicy) *SetAssoc {
	if numSets <= 0 || numSets&(numSets-1) != 0 {
		panic(fmt.Sprintf("cachearray: numSets must be a power of two, got %d", numSets))
	}
	return &SetAssoc{
		numSets: numSets,
		assoc:   assoc,
		setMask: uint64(numSets - 1),
		hf:      hf,
		policy:  policy,
		array:   make([]LineAddr, numSets*assoc),
		candBuf: make([]LineID, assoc),
	}
}

func (a *SetAssoc) setOf(addr LineAddr) int {
	return int(a.hf.Hash(0, addr) & a.setMask)
}

func (a *SetAssoc) Lookup(lineAddr LineAddr, req *MemReq, updateReplacement bool) LineID {
	set := a.setOf(lineAddr)
	base := set * a.assoc
	for i := 0; i < a.assoc; i++ {
		id := LineID(base + i)
		if a.array[id] == lineAddr {
			a.Stats.Hits++
			if updateReplacement {
				a.policy.Update(id, req)
			}
			return id
		}
	}
	a.Stats.Misses++
	return NoLine
}

func (a *SetAssoc) Preinsert(lineAddr LineAddr, req *MemReq) (LineID, LineAddr) {
	set := a.setOf(lineAddr)
	base := set * a.assoc
	a.candBuf = a.candBuf[:0]
	for i := 0; i < a.assoc; i++ {
		a.candBuf = append(a.candBuf, LineID(base+i))
	}
	victim := a.policy.Rank(req, a.candBuf)
	return victim, a.array[victim]
}

func (a *SetAssoc) Postinsert(lineAddr LineAddr, req *MemReq, victimID LineID) {
	a.policy.Replaced(victimID)
	a.array[victimID] = lineAddr
	a.policy.Update(victimID, req)
}
