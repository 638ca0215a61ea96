// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachearray

import "fmt"

// sparseTagEntry is one tag slot: the line address it holds, the data
// slot it maps to (or -1), and its place in that data slot's sharing
// list. The list is a doubly linked list embedded in fixed-size side
// fields rather than heap nodes — list members are identified by line
// id, so splicing and eviction cost O(1) with no allocator traffic, the
// same tradeoff the original makes with raw prev[]/next[] arrays.
type sparseTagEntry struct {
	Address     LineAddr
	MapID       int32 // data slot id, or -1
	Prev        int32 // -1 marks the list head
	Next        int32 // -1 marks the list tail
	Approximate bool
}

// SparseTagArray is the tag half of a sparse/approximate cache: a
// conventional set-associative array whose entries additionally point
// at a (possibly shared) data slot in a companion SparseDataArray.
type SparseTagArray struct {
	numSets int
	assoc   int
	setMask uint64

	hf     HashFamily
	policy ReplPolicy

	tags       []sparseTagEntry
	validLines int

	candBuf []LineID

	Stats Stats
}

func NewSparseTagArray(numSets, assoc int, hf HashFamily, policy ReplPolicy) *SparseTagArray {
	if numSets <= 0 || numSets&(numSets-1) != 0 {
		panic(fmt.Sprintf("cachearray: numSets must be a power of two, got %d", numSets))
	}
	numLines := numSets * assoc
	tags := make([]sparseTagEntry, numLines)
	for i := range tags {
		tags[i] = sparseTagEntry{MapID: -1, Prev: -1, Next: -1}
	}
	return &SparseTagArray{
		numSets: numSets,
		assoc:   assoc,
		setMask: uint64(numSets - 1),
		hf:      hf,
		policy:  policy,
		tags:    tags,
		candBuf: make([]LineID, 0, assoc),
	}
}

func (t *SparseTagArray) setOf(addr LineAddr) int { return int(t.hf.Hash(0, addr) & t.setMask) }

func (t *SparseTagArray) Lookup(lineAddr LineAddr, req *MemReq, updateReplacement bool) LineID {
	base := t.setOf(lineAddr) * t.assoc
	for i := 0; i < t.assoc; i++ {
		id := LineID(base + i)
		if t.tags[id].Address == lineAddr {
			t.Stats.Hits++
			if updateReplacement {
				t.policy.Update(id, req)
			}
			return id
		}
	}
	t.Stats.Misses++
	return NoLine
}

func (t *SparseTagArray) Preinsert(lineAddr LineAddr, req *MemReq) (LineID, LineAddr) {
	base := t.setOf(lineAddr) * t.assoc
	t.candBuf = t.candBuf[:0]
	for i := 0; i < t.assoc; i++ {
		t.candBuf = append(t.candBuf, LineID(base+i))
	}
	victim := t.policy.Rank(req, t.candBuf)
	return victim, t.tags[victim].Address
}

// relink unlinks tagID from whatever sharing list it currently belongs
// to (patching its old neighbours), then links it at the head of the
// list rooted at listHead (if any), and finally overwrites its address,
// map pointer and approximate flag. Maintains validLines under the
// empty<->nonempty discipline.
func (t *SparseTagArray) relink(tagID LineID, lineAddr LineAddr, mapID int32, listHead LineID, approximate bool) {
	old := t.tags[tagID]
	if old.MapID >= 0 {
		if old.Prev != -1 {
			t.tags[old.Prev].Next = old.Next
		}
		if old.Next != -1 {
			t.tags[old.Next].Prev = old.Prev
		}
	}

	next := int32(-1)
	if listHead != NoLine {
		if t.tags[listHead].Prev != -1 {
			panic("cachearray: sparse tag list-head invariant violated: supplied head is not a list head")
		}
		t.tags[listHead].Prev = int32(tagID)
		next = int32(listHead)
	}

	wasNonEmpty := old.Address != 0
	nowNonEmpty := lineAddr != 0

	t.tags[tagID] = sparseTagEntry{
		Address:     lineAddr,
		MapID:       mapID,
		Prev:        -1,
		Next:        next,
		Approximate: approximate,
	}

	switch {
	case !wasNonEmpty && nowNonEmpty:
		t.validLines++
	case wasNonEmpty && !nowNonEmpty:
		t.validLines--
	}
}

// Postinsert commits a fill: notifies the policy of the replacement,
// performs the tag/link mutation, then notifies the policy of the
// update on the freshly-filled line — the same Replaced-then-Update
// order every array in this package uses.
func (t *SparseTagArray) Postinsert(lineAddr LineAddr, req *MemReq, tagID LineID, mapID int32, listHead LineID, approximate bool) {
	t.policy.Replaced(tagID)
	t.relink(tagID, lineAddr, mapID, listHead, approximate)
	t.policy.Update(tagID, req)
}

// ChangeInPlace performs the same mutation as Postinsert without the
// replacement-policy notifications, for address shifts that are not a
// fresh fill (e.g. approximate-match promotion).
func (t *SparseTagArray) ChangeInPlace(lineAddr LineAddr, tagID LineID, mapID int32, listHead LineID, approximate bool) {
	t.relink(tagID, lineAddr, mapID, listHead, approximate)
}

// EvictAssociatedData reports whether tagID's associated data slot may
// be freed: it must have one, the tag must be exact (an approximate tag
// keeps the data alive while any list member survives), and the tag
// must be the sole survivor of its sharing list.
func (t *SparseTagArray) EvictAssociatedData(tagID LineID) (mapID int32, freed bool) {
	e := t.tags[tagID]
	if e.MapID < 0 {
		return -1, false
	}
	if e.Approximate {
		return e.MapID, false
	}
	if e.Prev != -1 || e.Next != -1 {
		return e.MapID, false
	}
	return e.MapID, true
}

// Evict clears tagID to empty, unlinking it from its sharing list. If it
// was the list head and the list was non-empty, the immediate successor
// becomes the new head — a natural consequence of the same unlink logic
// Postinsert/ChangeInPlace use, not a special case.
func (t *SparseTagArray) Evict(tagID LineID) {
	t.relink(tagID, 0, -1, NoLine, false)
}

func (t *SparseTagArray) ReadMapID(tagID LineID) int32      { return t.tags[tagID].MapID }
func (t *SparseTagArray) ReadAddress(tagID LineID) LineAddr { return t.tags[tagID].Address }

func (t *SparseTagArray) ReadNextLL(tagID LineID) LineID {
	n := t.tags[tagID].Next
	if n == -1 {
		return NoLine
	}
	return LineID(n)
}

func (t *SparseTagArray) GetValidLines() int { return t.validLines }
