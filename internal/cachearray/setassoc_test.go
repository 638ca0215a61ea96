// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachearray_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcache-sim/cachesim/internal/cachearray"
	"github.com/zcache-sim/cachesim/internal/hashfamily"
)

// lruStub is the simplest possible ReplPolicy: oldest Update wins,
// ties broken toward the first candidate (so it can double as a
// deterministic "pick the one empty slot" policy in tests where at
// most one candidate is ever empty).
type lruStub struct {
	clock uint64
	stamp map[cachearray.LineID]uint64
}

func newLRUStub() *lruStub { return &lruStub{stamp: make(map[cachearray.LineID]uint64)} }

func (p *lruStub) Update(id cachearray.LineID, _ *cachearray.MemReq) {
	p.clock++
	p.stamp[id] = p.clock
}
func (p *lruStub) Replaced(id cachearray.LineID) { delete(p.stamp, id) }
func (p *lruStub) Rank(_ *cachearray.MemReq, candidates []cachearray.LineID) cachearray.LineID {
	best := candidates[0]
	for _, id := range candidates[1:] {
		if p.stamp[id] < p.stamp[best] {
			best = id
		}
	}
	return best
}

func req(addr cachearray.LineAddr) *cachearray.MemReq {
	return &cachearray.MemReq{LineAddr: addr}
}

func TestSetAssocMissThenHit(t *testing.T) {
	t.Parallel()
	arr := cachearray.NewSetAssoc(4, 2, hashfamily.Identity{}, newLRUStub())

	r := req(1)
	assert.Equal(t, cachearray.NoLine, arr.Lookup(1, r, true))

	victim, writeback := arr.Preinsert(1, r)
	assert.Equal(t, cachearray.LineAddr(0), writeback, "an empty slot has nothing to write back")
	arr.Postinsert(1, r, victim)

	assert.Equal(t, victim, arr.Lookup(1, r, true))
	assert.EqualValues(t, 1, arr.Stats.Hits)
	assert.EqualValues(t, 1, arr.Stats.Misses)
}

func TestSetAssocEvictsAcrossCapacity(t *testing.T) {
	t.Parallel()
	arr := cachearray.NewSetAssoc(1, 2, hashfamily.Identity{}, newLRUStub())

	fill := func(addr cachearray.LineAddr) cachearray.LineID {
		r := req(addr)
		if id := arr.Lookup(addr, r, true); id != cachearray.NoLine {
			return id
		}
		victim, _ := arr.Preinsert(addr, r)
		arr.Postinsert(addr, r, victim)
		return victim
	}

	idA := fill(1)
	idB := fill(2)
	require.NotEqual(t, idA, idB)

	// Touch A so B is the LRU victim.
	arr.Lookup(1, req(1), true)

	idC := fill(3)
	assert.Equal(t, idB, idC, "the untouched line should be the one evicted")
	assert.Equal(t, cachearray.NoLine, arr.Lookup(2, req(2), true))
}

func TestSetAssocPanicsOnNonPowerOfTwoSets(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		cachearray.NewSetAssoc(3, 2, hashfamily.Identity{}, newLRUStub())
	})
}
