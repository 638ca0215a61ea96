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

func fillZArray(t *testing.T, arr *cachearray.ZArray, addr cachearray.LineAddr) cachearray.LineID {
	t.Helper()
	r := req(addr)
	if id := arr.Lookup(addr, r, true); id != cachearray.NoLine {
		return id
	}
	victim, _ := arr.Preinsert(addr, r)
	arr.Postinsert(addr, r, victim)
	return arr.Lookup(addr, r, false)
}

func TestZArrayLookupPanicsOnZeroAddr(t *testing.T) {
	t.Parallel()
	arr := cachearray.NewZArray(4, 2, 4, hashfamily.NewH3(2, 1), newLRUStub())
	assert.Panics(t, func() {
		arr.Lookup(0, req(0), true)
	})
}

func TestZArrayFillsAllWaysBeforeEvicting(t *testing.T) {
	t.Parallel()
	// numSets=1 forces every way to seed at position `way`, so with
	// ways=2 exactly 2 lines can be resident, each in its own way.
	arr := cachearray.NewZArray(1, 2, 4, hashfamily.NewH3(2, 99), newLRUStub())

	id1 := fillZArray(t, arr, 0x1000)
	id2 := fillZArray(t, arr, 0x2000)
	require.NotEqual(t, id1, id2)

	assert.Equal(t, id1, arr.Lookup(0x1000, req(0x1000), false))
	assert.Equal(t, id2, arr.Lookup(0x2000, req(0x2000), false))
}

func TestZArrayRelocatesOnThirdInsert(t *testing.T) {
	t.Parallel()
	arr := cachearray.NewZArray(1, 2, 4, hashfamily.NewH3(2, 99), newLRUStub())
	fillZArray(t, arr, 0x1000)
	fillZArray(t, arr, 0x2000)

	r := req(0x3000)
	victim, _ := arr.Preinsert(0x3000, r)
	require.NotEqual(t, cachearray.NoLine, victim)
	arr.Postinsert(0x3000, r, victim)

	present := 0
	for _, a := range []cachearray.LineAddr{0x1000, 0x2000, 0x3000} {
		if arr.Lookup(a, req(a), false) != cachearray.NoLine {
			present++
		}
	}
	assert.Equal(t, 2, present, "exactly one of the three lines was evicted")
	assert.Positive(t, arr.Stats.Swaps)
}

func TestZArrayPanicsOnBadConstruction(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		cachearray.NewZArray(4, 1, 4, hashfamily.Identity{}, newLRUStub())
	}, "ways must be >= 2")
	assert.Panics(t, func() {
		cachearray.NewZArray(4, 2, 1, hashfamily.Identity{}, newLRUStub())
	}, "cands must be >= ways")
	assert.Panics(t, func() {
		cachearray.NewZArray(3, 2, 4, hashfamily.Identity{}, newLRUStub())
	}, "numSets must be a power of two")
}
