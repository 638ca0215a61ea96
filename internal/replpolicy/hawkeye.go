// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package replpolicy

import "github.com/zcache-sim/cachesim/internal/cachearray"

// optGen reconstructs, from the live access stream, whether each
// access would have hit under Belady's optimal (clairvoyant)
// replacement policy with a fixed capacity. It does this by tracking,
// for every past timestamp still in its window, how many live
// reservations already claim that timestamp; an access is
// OPT-cache-friendly if the interval since its last reference never
// exceeds capacity, in which case the interval's reservation is
// committed.
type optGen struct {
	liveness []uint8
	capacity int
}

func newOptGen(window, capacity int) *optGen {
	return &optGen{liveness: make([]uint8, window), capacity: capacity}
}

func (o *optGen) idx(t uint64) int { return int(t % uint64(len(o.liveness))) }

// evaluate reports whether the interval (lastTime, now] has room under
// the tracked capacity, reserving that room if so. An interval at least
// as long as the tracked window is treated as cache-averse outright,
// since the liveness history no longer covers it.
func (o *optGen) evaluate(lastTime, now uint64) bool {
	if now <= lastTime || now-lastTime >= uint64(len(o.liveness)) {
		return false
	}
	for t := lastTime + 1; t <= now; t++ {
		if int(o.liveness[o.idx(t)]) >= o.capacity {
			return false
		}
	}
	for t := lastTime + 1; t <= now; t++ {
		o.liveness[o.idx(t)]++
	}
	return true
}

// Hawkeye is a PC-based re-reference policy: it replays the access
// stream through optGen to label each access cache-friendly or
// cache-averse under OPT, trains a per-PC saturating counter from that
// label, and inserts lines with an RRIP re-reference distance chosen by
// the issuing PC's counter rather than a fixed static value.
type Hawkeye struct {
	rrpvMax      int
	predictorMax int
	threshold    int

	now uint64
	opt *optGen

	rrpv          []int
	recentlyAdded []bool

	lastTime  map[cachearray.LineAddr]uint64
	lastPC    map[cachearray.LineAddr]uint64
	predictor map[uint64]int
}

var _ cachearray.ReplPolicy = (*Hawkeye)(nil)

// NewHawkeye builds a Hawkeye policy over an array of numLines lines.
// rrpvBits sizes the RRIP counters (values in [0, 2^rrpvBits - 1]);
// window sizes the OPT-gen liveness history, in accesses.
func NewHawkeye(numLines, rrpvBits, window int) *Hawkeye {
	rrpvMax := (1 << uint(rrpvBits)) - 1
	rrpv := make([]int, numLines)
	for i := range rrpv {
		rrpv[i] = rrpvMax // an empty line is maximally evictable
	}
	const predictorMax = 7 // 3-bit saturating counter, as in the original predictor
	return &Hawkeye{
		rrpvMax:       rrpvMax,
		predictorMax:  predictorMax,
		threshold:     predictorMax / 2,
		opt:           newOptGen(window, numLines),
		rrpv:          rrpv,
		recentlyAdded: make([]bool, numLines),
		lastTime:      make(map[cachearray.LineAddr]uint64),
		lastPC:        make(map[cachearray.LineAddr]uint64),
		predictor:     make(map[uint64]int),
	}
}

func (h *Hawkeye) adjustPredictor(pc uint64, friendly bool) {
	c := h.predictor[pc]
	if friendly {
		if c < h.predictorMax {
			c++
		}
	} else {
		if c > 0 {
			c--
		}
	}
	h.predictor[pc] = c
}

// Update trains the PC predictor from this access's OPT-gen verdict,
// then inserts id at an RRIP distance chosen by the predictor's
// opinion of req.PC: a PC judged cache-friendly gets near-immediate
// re-reference (rrpv 0), a cache-averse one gets the maximal distance
// so it is the first candidate evicted.
func (h *Hawkeye) Update(id cachearray.LineID, req *cachearray.MemReq) {
	h.now++
	addr := req.LineAddr
	if last, ok := h.lastTime[addr]; ok {
		friendly := h.opt.evaluate(last, h.now)
		h.adjustPredictor(h.lastPC[addr], friendly)
	}
	h.lastTime[addr] = h.now
	h.lastPC[addr] = req.PC

	if h.predictor[req.PC] >= h.threshold {
		h.rrpv[id] = 0
		// A line just filled by a cache-friendly PC only ages its
		// siblings once, the first time it's confirmed friendly after
		// insertion; otherwise every hit on a long-lived friendly line
		// would re-age the whole candidate set on every access.
		if h.recentlyAdded[id] {
			h.recentlyAdded[id] = false
			for i := range h.rrpv {
				if i != int(id) && h.rrpv[i] < h.rrpvMax {
					h.rrpv[i]++
				}
			}
		}
	} else {
		h.rrpv[id] = h.rrpvMax
	}
}

// Replaced marks id as just-filled, so the next friendly Update on it
// triggers the one-time sibling aging above.
func (h *Hawkeye) Replaced(id cachearray.LineID) {
	h.recentlyAdded[id] = true
}

// Rank is a single non-mutating pass: prefer any candidate already at
// the maximal re-reference distance, otherwise the candidate with the
// largest re-reference value seen, breaking ties by first occurrence.
// Aging happens only in Update, never here.
func (h *Hawkeye) Rank(req *cachearray.MemReq, candidates []cachearray.LineID) cachearray.LineID {
	oldest := candidates[0]
	oldestRPV := h.rrpv[oldest]
	for _, id := range candidates {
		if h.rrpv[id] == h.rrpvMax {
			return id
		}
		if h.rrpv[id] > oldestRPV {
			oldest = id
			oldestRPV = h.rrpv[id]
		}
	}
	return oldest
}
