// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cachesim wires internal/config, internal/cachearray,
// internal/hashfamily and internal/replpolicy together into a runnable
// simulator, and replays internal/trace access streams against it.
package cachesim

import (
	"github.com/pkg/errors"

	"github.com/zcache-sim/cachesim/internal/cachearray"
	"github.com/zcache-sim/cachesim/internal/config"
	"github.com/zcache-sim/cachesim/internal/hashfamily"
	"github.com/zcache-sim/cachesim/internal/replpolicy"
)

// lru is the trivial baseline policy: always evict the candidate with
// the oldest Update timestamp, falling back to an empty slot if one
// exists among the candidates. It exists so config.PolicyLRU has
// something to build without reaching for the much heavier EVA/Hawkeye
// machinery.
type lru struct {
	clock uint64
	stamp []uint64
}

func newLRU(numLines int) *lru { return &lru{stamp: make([]uint64, numLines)} }

func (l *lru) Update(id cachearray.LineID, req *cachearray.MemReq) {
	l.clock++
	l.stamp[id] = l.clock
}

func (l *lru) Replaced(id cachearray.LineID) { l.stamp[id] = 0 }

func (l *lru) Rank(req *cachearray.MemReq, candidates []cachearray.LineID) cachearray.LineID {
	best := candidates[0]
	for _, id := range candidates[1:] {
		if l.stamp[id] < l.stamp[best] {
			best = id
		}
	}
	return best
}

func buildHash(c config.Hash, ways int) (cachearray.HashFamily, error) {
	switch c.Kind {
	case config.HashIdentity:
		return hashfamily.Identity{}, nil
	case config.HashH3:
		return hashfamily.NewH3(uint32(ways), c.Seed), nil
	default:
		return nil, errors.Errorf("cachesim: unknown hash kind %q", c.Kind)
	}
}

func buildPolicy(c config.Policy, numLines int) (cachearray.ReplPolicy, error) {
	switch c.Kind {
	case config.PolicyLRU:
		return newLRU(numLines), nil
	case config.PolicyFeedback:
		return replpolicy.NewFeedback(numLines, c.MaxAge, c.AgeScaling, c.AccsPerInterval, c.EwmaDecay), nil
	case config.PolicyFeedbackReuse:
		return replpolicy.NewFeedbackReused(numLines, c.MaxAge, c.AgeScaling, c.AccsPerInterval, c.EwmaDecay), nil
	case config.PolicyHawkeye:
		return replpolicy.NewHawkeye(numLines, c.RRPVBits, c.Window), nil
	default:
		return nil, errors.Errorf("cachesim: unknown policy kind %q", c.Kind)
	}
}

// sparseArray adapts the tag/data split into a single cachearray.Array,
// since the simulator harness (and the trace format) only knows about
// one line address per request, not a separately-computed fingerprint.
// Real sparse/approximate caches derive the fingerprint from the line's
// payload; absent payload data in the trace, this harness fingerprints
// the address itself, which is enough to exercise the sharing-list and
// eviction machinery even though it can never produce an approximate
// (deduplicating) match.
type sparseArray struct {
	tags *cachearray.SparseTagArray
	data *cachearray.SparseDataArray
}

var _ cachearray.Array = (*sparseArray)(nil)

func (s *sparseArray) mapOf(addr cachearray.LineAddr) uint64 {
	return s.data.ComputeMap([]float64{float64(addr)}, cachearray.KindU64, 0, float64(^uint64(0)>>1))
}

func (s *sparseArray) Lookup(lineAddr cachearray.LineAddr, req *cachearray.MemReq, updateReplacement bool) cachearray.LineID {
	return s.tags.Lookup(lineAddr, req, updateReplacement)
}

func (s *sparseArray) Preinsert(lineAddr cachearray.LineAddr, req *cachearray.MemReq) (cachearray.LineID, cachearray.LineAddr) {
	tagID, victimAddr := s.tags.Preinsert(lineAddr, req)
	return tagID, victimAddr
}

func (s *sparseArray) Postinsert(lineAddr cachearray.LineAddr, req *cachearray.MemReq, tagID cachearray.LineID) {
	if oldMapID, freed := s.tags.EvictAssociatedData(tagID); freed {
		s.data.Free(cachearray.LineID(oldMapID))
		s.tags.Stats.SparseDataFreed++
	}

	mapVal := s.mapOf(lineAddr)
	mapID, _ := s.data.Preinsert(mapVal, req)
	s.data.Postinsert(mapVal, req, mapID, tagID, false)
	s.tags.Postinsert(lineAddr, req, tagID, int32(mapID), s.data.ReadListHead(mapID), false)
}

// Build constructs the array and policy named by c, ready to be driven
// by Run.
func Build(c *config.Array) (cachearray.Array, error) {
	switch c.Kind {
	case config.ArraySetAssoc:
		numLines := c.NumSets * c.Assoc
		hf, err := buildHash(c.Hash, 1)
		if err != nil {
			return nil, err
		}
		policy, err := buildPolicy(c.Policy, numLines)
		if err != nil {
			return nil, err
		}
		return cachearray.NewSetAssoc(c.NumSets, c.Assoc, hf, policy), nil

	case config.ArrayZcache:
		numLines := c.NumSets * c.Ways
		hf, err := buildHash(c.Hash, c.Ways)
		if err != nil {
			return nil, err
		}
		policy, err := buildPolicy(c.Policy, numLines)
		if err != nil {
			return nil, err
		}
		return cachearray.NewZArray(c.NumSets, c.Ways, c.Cands, hf, policy), nil

	case config.ArrayZcachePartitioned:
		numLines := c.NumSets * c.Ways
		hf, err := buildHash(c.Hash, c.Ways)
		if err != nil {
			return nil, err
		}
		policy, err := buildPolicy(c.Policy, numLines)
		if err != nil {
			return nil, err
		}
		return cachearray.NewZArrayPartitioned(c.NumSets, c.Ways, c.Cands, hf, policy), nil

	case config.ArraySparse:
		numLines := c.NumSets * c.Assoc
		tagHF, err := buildHash(c.Hash, 1)
		if err != nil {
			return nil, err
		}
		dataHF, err := buildHash(c.Hash, 1)
		if err != nil {
			return nil, err
		}
		tagPolicy, err := buildPolicy(c.Policy, numLines)
		if err != nil {
			return nil, err
		}
		dataPolicy, err := buildPolicy(c.Policy, numLines)
		if err != nil {
			return nil, err
		}
		return &sparseArray{
			tags: cachearray.NewSparseTagArray(c.NumSets, c.Assoc, tagHF, tagPolicy),
			data: cachearray.NewSparseDataArray(c.NumSets, c.Assoc, c.MapSize, dataHF, dataPolicy),
		}, nil

	default:
		return nil, errors.Errorf("cachesim: unknown array kind %q", c.Kind)
	}
}
