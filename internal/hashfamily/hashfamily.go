// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashfamily implements the per-way address hashers consumed by
// the associative cache arrays.
package hashfamily

import (
	"math/bits"

	"github.com/zcache-sim/cachesim/internal/cachearray"
)

// Identity is the trivial hash family Hash(w, a) = a, used by tests and
// fixtures (e.g. the spec's S1/S2 scenarios) that want deterministic,
// human-checkable set placement rather than a real mixing function.
type Identity struct{}

var _ cachearray.HashFamily = Identity{}

func (Identity) Hash(_ uint32, addr cachearray.LineAddr) uint64 { return uint64(addr) }

// H3 is a per-way independent H3 hash family: a fixed random matrix of
// 64-bit masks is XORed together under the set bits of the address that
// are 1. It mixes well enough that adjacent addresses don't collide
// across ways, while staying cheap enough to call on every lookup.
type H3 struct {
	// masks[way][bit] is the 64-bit mask XORed in when bit `bit` of the
	// address is set, for way `way`.
	masks [][64]uint64
}

var _ cachearray.HashFamily = (*H3)(nil)

// NewH3 builds an H3 hash family with `ways` independent hash functions,
// deterministically seeded so that a given seed always reproduces the
// same family (needed so traces and golden tests are reproducible).
func NewH3(ways uint32, seed uint64) *H3 {
	h := &H3{masks: make([][64]uint64, ways)}
	rng := splitmix64{state: seed}
	for w := range h.masks {
		for b := range h.masks[w] {
			h.masks[w][b] = rng.next()
		}
	}
	return h
}

func (h *H3) Hash(way uint32, addr cachearray.LineAddr) uint64 {
	row := h.masks[way]
	var acc uint64
	a := uint64(addr)
	for a != 0 {
		b := bits.TrailingZeros64(a)
		acc ^= row[b]
		a &= a - 1
	}
	return acc
}

// splitmix64 is a small, fast, fixed-period PRNG adequate for seeding
// hash-matrix rows; it is not used anywhere security-sensitive.
type splitmix64 struct{ state uint64 }

func (s *splitmix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return z
}
