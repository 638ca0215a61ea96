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

func reqFrom(addr cachearray.LineAddr, src uint32) *cachearray.MemReq {
	return &cachearray.MemReq{LineAddr: addr, SrcID: src}
}

func fillPartitioned(t *testing.T, arr *cachearray.ZArrayPartitioned, addr cachearray.LineAddr, src uint32) cachearray.LineID {
	t.Helper()
	r := reqFrom(addr, src)
	if id := arr.Lookup(addr, r, true); id != cachearray.NoLine {
		return id
	}
	victim, _ := arr.Preinsert(addr, r)
	arr.Postinsert(addr, r, victim)
	return victim
}

func TestZArrayPartitionedWarmupBiasAllowsEmptySlots(t *testing.T) {
	t.Parallel()
	// numSets=1, ways=2: below half capacity (1 line), domain 0 may
	// still claim an empty slot even though it owns nothing yet.
	arr := cachearray.NewZArrayPartitioned(1, 2, 4, hashfamily.NewH3(2, 7), newLRUStub())
	victim := fillPartitioned(t, arr, 0x1000, 0)
	assert.NotEqual(t, arr.Bypass, victim)
}

func TestZArrayPartitionedBypassWhenNoEligibleCandidate(t *testing.T) {
	t.Parallel()
	arr := cachearray.NewZArrayPartitioned(1, 2, 4, hashfamily.NewH3(2, 7), newLRUStub())

	// Domain 0 claims one way, reaching the half-capacity threshold
	// (numLines/2 == 1); domain 2 claims the other empty way.
	fillPartitioned(t, arr, 0x1000, 0)
	fillPartitioned(t, arr, 0x2000, 2)

	// Domain 1 has no lines of its own and the cache has no empty
	// slots left for it to claim under the warm-up bias.
	r := reqFrom(0x3000, 1)
	victim, writeback := arr.Preinsert(0x3000, r)
	assert.Equal(t, arr.Bypass, victim)
	assert.Equal(t, cachearray.LineAddr(0), writeback)

	require.NotPanics(t, func() { arr.Postinsert(0x3000, r, victim) })
	assert.EqualValues(t, 1, arr.Stats.PartitionedBypass)
}

func TestZArrayPartitionedPostinsertRecordsDomain(t *testing.T) {
	t.Parallel()
	arr := cachearray.NewZArrayPartitioned(1, 2, 4, hashfamily.NewH3(2, 7), newLRUStub())
	victim := fillPartitioned(t, arr, 0x1000, 5)
	assert.Equal(t, victim, arr.Lookup(0x1000, reqFrom(0x1000, 5), false))
	assert.True(t, arr.Domains().Has(5))
}

func TestZArrayPartitionedSortedDomainsIsAscending(t *testing.T) {
	t.Parallel()
	arr := cachearray.NewZArrayPartitioned(1, 2, 8, hashfamily.NewH3(2, 7), newLRUStub())
	fillPartitioned(t, arr, 0x1000, 9)
	fillPartitioned(t, arr, 0x2000, 3)

	assert.True(t, arr.Domains().Has(9))
	assert.True(t, arr.Domains().Has(3))
	assert.Equal(t, []uint32{3, 9}, arr.SortedDomains())
}
