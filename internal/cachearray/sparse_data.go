// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachearray

import "fmt"

// sparseDataEntry is one data slot: the fingerprint ("map") it was
// filled with, whether that fingerprint denotes an approximate
// (deduplicating) match or an exact one, and the head of the tag
// sharing list that references it.
type sparseDataEntry struct {
	MTag        uint64
	TagPtr      int32 // head of the referencing tag list, or -1 if unreferenced
	Approximate bool
}

// SparseDataArray is the data half of a sparse/approximate cache: a
// set-associative array indexed by a computed data fingerprint rather
// than a line address, so that multiple tags can share one payload.
type SparseDataArray struct {
	numSets int
	assoc   int
	setMask uint64

	hf     HashFamily
	policy ReplPolicy

	data       []sparseDataEntry
	validLines int
	mapSize    int

	candBuf []LineID

	Stats Stats
}

func NewSparseDataArray(numSets, assoc, mapSize int, hf HashFamily, policy ReplPolicy) *SparseDataArray {
	if numSets <= 0 || numSets&(numSets-1) != 0 {
		panic(fmt.Sprintf("cachearray: numSets must be a power of two, got %d", numSets))
	}
	numLines := numSets * assoc
	data := make([]sparseDataEntry, numLines)
	for i := range data {
		data[i].TagPtr = -1
	}
	return &SparseDataArray{
		numSets: numSets,
		assoc:   assoc,
		mapSize: mapSize,
		setMask: uint64(numSets - 1),
		hf:      hf,
		policy:  policy,
		data:    data,
		candBuf: make([]LineID, 0, assoc),
	}
}

// ComputeMap computes this array's fingerprint for a line's data,
// using the mapSize this array was constructed with. See the
// package-level ComputeMap for the algorithm.
func (d *SparseDataArray) ComputeMap(values []float64, kind ElemKind, min, max float64) uint64 {
	return ComputeMap(values, kind, min, max, d.mapSize)
}

func (d *SparseDataArray) setOf(mapVal uint64) int {
	return int(d.hf.Hash(0, LineAddr(mapVal)) & d.setMask)
}

// Lookup succeeds only when the stored entry is marked approximate:
// exact entries are addressed by tag pointer, never by fingerprint.
// This asymmetry is intentional (see the design notes) and preserved
// even though it is not obvious from the call sites alone.
func (d *SparseDataArray) Lookup(mapVal uint64) LineID {
	base := d.setOf(mapVal) * d.assoc
	for i := 0; i < d.assoc; i++ {
		id := LineID(base + i)
		e := d.data[id]
		if e.TagPtr != -1 && e.Approximate && e.MTag == mapVal {
			return id
		}
	}
	return NoLine
}

func (d *SparseDataArray) Preinsert(mapVal uint64, req *MemReq) (LineID, uint64) {
	base := d.setOf(mapVal) * d.assoc
	d.candBuf = d.candBuf[:0]
	for i := 0; i < d.assoc; i++ {
		d.candBuf = append(d.candBuf, LineID(base+i))
	}
	victim := d.policy.Rank(req, d.candBuf)
	return victim, d.data[victim].MTag
}

// Postinsert commits a fill of data slot mapID with fingerprint mapVal,
// recording tagID as the new head of its sharing list.
func (d *SparseDataArray) Postinsert(mapVal uint64, req *MemReq, mapID LineID, tagID LineID, approximate bool) {
	d.policy.Replaced(mapID)
	wasValid := d.data[mapID].TagPtr != -1
	d.data[mapID] = sparseDataEntry{MTag: mapVal, TagPtr: int32(tagID), Approximate: approximate}
	if !wasValid {
		d.validLines++
	}
	d.policy.Update(mapID, req)
}

// Free marks a data slot as unreferenced, for use once
// SparseTagArray.EvictAssociatedData has confirmed no tag still points
// at it.
func (d *SparseDataArray) Free(mapID LineID) {
	if d.data[mapID].TagPtr != -1 {
		d.validLines--
	}
	d.data[mapID] = sparseDataEntry{TagPtr: -1}
}

func (d *SparseDataArray) ReadListHead(mapID LineID) LineID {
	h := d.data[mapID].TagPtr
	if h == -1 {
		return NoLine
	}
	return LineID(h)
}

func (d *SparseDataArray) ReadMap(mapID LineID) uint64 { return d.data[mapID].MTag }

func (d *SparseDataArray) GetValidLines() int { return d.validLines }
