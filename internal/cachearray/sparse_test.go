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

func TestSparseTagFillAndLookup(t *testing.T) {
	t.Parallel()
	tags := cachearray.NewSparseTagArray(4, 2, hashfamily.Identity{}, newLRUStub())

	r := req(1)
	require.Equal(t, cachearray.NoLine, tags.Lookup(1, r, true))
	victim, _ := tags.Preinsert(1, r)
	tags.Postinsert(1, r, victim, -1, cachearray.NoLine, false)

	assert.Equal(t, victim, tags.Lookup(1, r, true))
	assert.EqualValues(t, 1, tags.Stats.Hits)
}

func TestSparseTagSharingListUnlinkPreservesNeighbours(t *testing.T) {
	t.Parallel()
	tags := cachearray.NewSparseTagArray(1, 4, hashfamily.Identity{}, newLRUStub())

	// Three tags sharing one data slot (mapID 0), linked head->mid->tail.
	tail, _ := tags.Preinsert(1, req(1))
	tags.Postinsert(1, req(1), tail, 0, cachearray.NoLine, true)

	mid, _ := tags.Preinsert(2, req(2))
	tags.Postinsert(2, req(2), mid, 0, tail, true)

	head, _ := tags.Preinsert(3, req(3))
	tags.Postinsert(3, req(3), head, 0, mid, true)

	require.Equal(t, mid, tags.ReadNextLL(head))
	require.Equal(t, tail, tags.ReadNextLL(mid))

	// Evicting the middle of the list must patch head.Next straight to
	// tail, not drop tail off the list entirely.
	tags.Evict(mid)
	assert.Equal(t, tail, tags.ReadNextLL(head))
}

func TestSparseTagEvictAssociatedDataAsymmetry(t *testing.T) {
	t.Parallel()
	tags := cachearray.NewSparseTagArray(1, 4, hashfamily.Identity{}, newLRUStub())

	// Sole exact tag: freeing its data slot is safe.
	exact, _ := tags.Preinsert(1, req(1))
	tags.Postinsert(1, req(1), exact, 0, cachearray.NoLine, false)
	_, freed := tags.EvictAssociatedData(exact)
	assert.True(t, freed, "a sole exact tag frees its data slot")

	// Sole approximate tag: never freed, even alone, because an
	// approximate match always keeps the data slot alive.
	approx, _ := tags.Preinsert(2, req(2))
	tags.Postinsert(2, req(2), approx, 1, cachearray.NoLine, true)
	_, freed = tags.EvictAssociatedData(approx)
	assert.False(t, freed, "an approximate tag never frees its data slot")

	// Two exact tags sharing a slot: neither frees it while the other
	// survives.
	a, _ := tags.Preinsert(3, req(3))
	tags.Postinsert(3, req(3), a, 2, cachearray.NoLine, false)
	b, _ := tags.Preinsert(4, req(4))
	tags.Postinsert(4, req(4), b, 2, a, false)
	_, freed = tags.EvictAssociatedData(a)
	assert.False(t, freed, "a shared exact tag does not free its data slot while a sibling survives")
}

func TestSparseDataLookupOnlyMatchesApproximate(t *testing.T) {
	t.Parallel()
	data := cachearray.NewSparseDataArray(1, 4, 16, hashfamily.Identity{}, newLRUStub())

	mapVal := data.ComputeMap([]float64{1, 2, 3}, cachearray.KindU32, 0, 255)
	mapID, _ := data.Preinsert(mapVal, req(1))
	data.Postinsert(mapVal, req(1), mapID, 0, false) // exact

	assert.Equal(t, cachearray.NoLine, data.Lookup(mapVal),
		"an exact entry must never be found by fingerprint lookup")

	mapID2, _ := data.Preinsert(mapVal, req(2))
	data.Postinsert(mapVal, req(2), mapID2, 1, true) // approximate
	assert.Equal(t, mapID2, data.Lookup(mapVal),
		"an approximate entry is found by fingerprint lookup")
}
