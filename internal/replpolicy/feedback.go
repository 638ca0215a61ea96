// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package replpolicy implements the replacement policies that exercise
// the cachearray contract non-trivially: an EVA-style feedback policy
// (this file) and a Hawkeye-style OPT-gen/RRIP policy (hawkeye.go).
package replpolicy

import (
	"math"

	"github.com/zcache-sim/cachesim/internal/cachearray"
)

const (
	classNonreused = 0
	classReused    = 1
)

// classStats holds one class's per-age histograms and derived rank.
// "Class" is either the single implicit class of the plain feedback
// policy, or NONREUSED/REUSED in the reused variant.
type classStats struct {
	hits      []float64
	evictions []float64
	ewmaHits  []float64
	ewmaEvict []float64
	hitProb   []float64
	lifetime  []float64
	rank      []float64
}

func newClassStats(maxAge int) *classStats {
	return &classStats{
		hits:      make([]float64, maxAge),
		evictions: make([]float64, maxAge),
		ewmaHits:  make([]float64, maxAge),
		ewmaEvict: make([]float64, maxAge),
		hitProb:   make([]float64, maxAge),
		lifetime:  make([]float64, maxAge),
		rank:      make([]float64, maxAge),
	}
}

// Feedback is the EVA ("expected value of admission") replacement
// policy: it ranks lines by the per-age probability of a future hit
// minus the opportunity cost of continuing to hold the slot, with rank
// tables recomputed periodically from EWMA hit/eviction histograms.
type Feedback struct {
	numLines        int
	maxAge          int
	ageScaling      float64
	accsPerInterval int
	ewmaDecay       float64
	reused          bool

	now         uint64
	nextUpdate  int
	fillCount   uint64
	wraparounds uint64

	timestamps []uint64
	classIDs   []int

	classes []*classStats
}

var _ cachearray.ReplPolicy = (*Feedback)(nil)

// NewFeedback builds the plain, single-class feedback policy.
func NewFeedback(numLines, maxAge int, ageScaling float64, accsPerInterval int, ewmaDecay float64) *Feedback {
	return newFeedback(numLines, maxAge, ageScaling, accsPerInterval, ewmaDecay, false)
}

// NewFeedbackReused builds the two-class (NONREUSED/REUSED) variant,
// which biases every rank by a term derived from the reused class's
// relative miss rate.
func NewFeedbackReused(numLines, maxAge int, ageScaling float64, accsPerInterval int, ewmaDecay float64) *Feedback {
	return newFeedback(numLines, maxAge, ageScaling, accsPerInterval, ewmaDecay, true)
}

func newFeedback(numLines, maxAge int, ageScaling float64, accsPerInterval int, ewmaDecay float64, reused bool) *Feedback {
	numClasses := 1
	if reused {
		numClasses = 2
	}
	classes := make([]*classStats, numClasses)
	for i := range classes {
		classes[i] = newClassStats(maxAge)
		for a := 0; a < maxAge; a++ {
			classes[i].rank[a] = math.Inf(-1)
		}
	}
	return &Feedback{
		numLines:        numLines,
		maxAge:          maxAge,
		ageScaling:      ageScaling,
		accsPerInterval: accsPerInterval,
		ewmaDecay:       ewmaDecay,
		reused:          reused,
		nextUpdate:      accsPerInterval,
		timestamps:      make([]uint64, numLines),
		classIDs:        make([]int, numLines),
		classes:         classes,
	}
}

func (f *Feedback) present(id cachearray.LineID) bool { return f.timestamps[id] != 0 }

// age returns the coarsened age of id: elapsed accesses since its last
// Update (hit or fill), divided into ageScaling-sized ticks, modulo maxAge.
func (f *Feedback) age(id cachearray.LineID) int {
	elapsed := f.now - f.timestamps[id]
	coarse := elapsed / uint64(f.ageScaling)
	return int(coarse % uint64(f.maxAge))
}

// ageScalingAt is the tick width for bucket a: the first bucket is
// half-open, so it only covers ageScaling/2+0.5 ticks' worth of time.
func (f *Feedback) ageScalingAt(a int) float64 {
	if a == 0 {
		return f.ageScaling/2 + 0.5
	}
	return f.ageScaling
}

func (f *Feedback) Update(id cachearray.LineID, req *cachearray.MemReq) {
	if f.present(id) {
		cls := f.classIDs[id]
		a := f.age(id)
		f.classes[cls].hits[a]++
		if f.reused {
			f.classIDs[id] = classReused
		}
	}

	f.now++
	elapsed := f.now - f.timestamps[id]
	if elapsed/uint64(f.ageScaling) > uint64(f.maxAge) {
		f.wraparounds++
	}
	f.timestamps[id] = f.now

	f.nextUpdate--
	if f.nextUpdate <= 0 {
		f.reconfigure()
		f.nextUpdate = f.accsPerInterval
	}
}

func (f *Feedback) Replaced(id cachearray.LineID) {
	if f.present(id) {
		cls := f.classIDs[id]
		a := f.age(id)
		f.classes[cls].evictions[a]++
		if f.reused {
			f.classIDs[id] = classNonreused
		}
	} else {
		f.fillCount++
	}
	f.timestamps[id] = 0
}

func (f *Feedback) Rank(req *cachearray.MemReq, candidates []cachearray.LineID) cachearray.LineID {
	for _, id := range candidates {
		if !f.present(id) {
			return id
		}
	}
	best := cachearray.NoLine
	bestRank := math.Inf(1)
	for _, id := range candidates {
		cls := f.classIDs[id]
		a := f.age(id)
		r := f.classes[cls].rank[a]
		if best == cachearray.NoLine || r < bestRank {
			best = id
			bestRank = r
		}
	}
	if best == cachearray.NoLine {
		panic("replpolicy: feedback ranking found no candidate")
	}
	return best
}

// reconfigure recomputes every class's rank table from the interval's
// histograms. Run every accsPerInterval hits+evictions.
func (f *Feedback) reconfigure() {
	for _, c := range f.classes {
		for a := 0; a < f.maxAge; a++ {
			c.ewmaHits[a] = f.ewmaDecay*c.ewmaHits[a] + c.hits[a]
			c.ewmaEvict[a] = f.ewmaDecay*c.ewmaEvict[a] + c.evictions[a]
			c.hits[a] = 0
			c.evictions[a] = 0
		}
	}

	var totalHits, totalEvict float64
	for _, c := range f.classes {
		for a := 0; a < f.maxAge; a++ {
			totalHits += c.ewmaHits[a]
			totalEvict += c.ewmaEvict[a]
		}
	}
	lineGain := totalHits / (totalHits + totalEvict) / float64(f.numLines)

	for _, c := range f.classes {
		f.biasClassReconfigure(c, lineGain)
	}

	if f.reused && len(f.classes) == 2 {
		f.applyReusedBias()
	}
}

// biasClassReconfigure is the EVA kernel: it scans ages from the
// saturating bucket downward, deriving a hit probability and an
// expected remaining lifetime for each age under a uniform-within-
// bucket assumption, then combines them into a rank. The saturating
// bucket's rank is always forced to -Inf so a fully-saturated cache
// never locks up with no preferred victim.
func (f *Feedback) biasClassReconfigure(c *classStats, lineGain float64) {
	maxAge := f.maxAge
	events := make([]float64, maxAge)
	for a := 0; a < maxAge; a++ {
		events[a] = c.ewmaHits[a] + c.ewmaEvict[a]
	}
	totalAbove := make([]float64, maxAge+1)
	for a := maxAge - 1; a >= 0; a-- {
		totalAbove[a] = totalAbove[a+1] + events[a]
	}

	top := maxAge - 1
	if totalAbove[top] > 0 {
		c.hitProb[top] = 0.5 * c.ewmaHits[top] / totalAbove[top]
	} else {
		c.hitProb[top] = 0
	}
	c.lifetime[top] = f.ageScalingAt(top)

	hitsAbove := c.ewmaHits[top]
	lifetimeAboveAccum := f.ageScalingAt(top) * totalAbove[top]
	for a := maxAge - 2; a >= 0; a-- {
		denom := 0.5*events[a] + totalAbove[a+1]
		if denom > 0 {
			c.hitProb[a] = (0.5*c.ewmaHits[a] + hitsAbove) / denom
			c.lifetime[a] = ((1.0/6.0)*f.ageScalingAt(a)*events[a] + lifetimeAboveAccum) / denom
		} else {
			c.hitProb[a] = 0
			c.lifetime[a] = 0
		}
		hitsAbove += c.ewmaHits[a]
		lifetimeAboveAccum += f.ageScalingAt(a) * totalAbove[a]
	}

	for a := 0; a < maxAge; a++ {
		oppCost := 0.0
		if !math.IsNaN(lineGain) {
			oppCost = lineGain * c.lifetime[a]
		}
		c.rank[a] = c.hitProb[a] - oppCost
	}
	c.rank[maxAge-1] = math.Inf(-1)
}

// applyReusedBias nudges every rank (in every class) by a term derived
// from how much worse the REUSED class's miss rate is than average,
// scaled by the REUSED class's own age-0 rank. It only makes sense
// for the two-class variant, and only after biasClassReconfigure has
// populated hitProb/rank for both classes.
func (f *Feedback) applyReusedBias() {
	nonreused, reused := f.classes[classNonreused], f.classes[classReused]

	sum := func(c *classStats) (hits, evict float64) {
		for a := 0; a < f.maxAge; a++ {
			hits += c.ewmaHits[a]
			evict += c.ewmaEvict[a]
		}
		return
	}
	hitsR, evictR := sum(reused)
	hitsN, evictN := sum(nonreused)

	reusedMissRate := (evictR + 1) / (hitsR + evictR + 1)
	averageMissRate := (evictR + evictN + 1) / (hitsR + evictR + hitsN + evictN + 1)
	reusedLifetimeBias := reused.rank[0]

	for _, c := range f.classes {
		for a := 0; a < f.maxAge; a++ {
			bias := (averageMissRate - (1 - c.hitProb[a])) / reusedMissRate * reusedLifetimeBias
			c.rank[a] += bias
		}
		c.rank[f.maxAge-1] = math.Inf(-1)
	}
}
