// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachearray

import (
	"fmt"
	"math"
)

// ElemKind names the numeric type a sparse/approximate cache line is
// annotated as holding. computeMap needs to know it because integer
// overflow of the declared [min,max] range is a fatal programming
// error, while float overflow is merely tolerated.
type ElemKind int

const (
	KindU8 ElemKind = iota
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
)

func (k ElemKind) isFloat() bool {
	return k == KindF32 || k == KindF64
}

func (k ElemKind) bitWidth() int {
	switch k {
	case KindU8, KindI8:
		return 8
	case KindU16, KindI16:
		return 16
	case KindU32, KindI32, KindF32:
		return 32
	default:
		return 64
	}
}

func mapMask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

// ComputeMap produces the sparse-array fingerprint for a cache line:
// the quantized mean of its elements packed into the low mapSize bits,
// and the quantized element-wise range packed into the next mapSize/2
// bits above that.
//
// values holds the line's elements widened to float64 by the caller
// (who alone knows the concrete numeric type); kind and the annotated
// [min,max] drive the quantization and the overflow discipline: a value
// outside [min,max] is fatal for integer kinds, tolerated for float
// kinds. For byte-wide kinds (8-bit) with mapSize > 8, the raw mean and
// range are packed unscaled rather than quantized against [min,max].
func ComputeMap(values []float64, kind ElemKind, min, max float64, mapSize int) uint64 {
	if len(values) == 0 {
		panic("cachearray: computeMap called with no elements")
	}
	var sum float64
	vmin, vmax := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < vmin {
			vmin = v
		}
		if v > vmax {
			vmax = v
		}
		if v < min || v > max {
			if !kind.isFloat() {
				panic(fmt.Sprintf("cachearray: computeMap value %v outside annotated range [%v,%v] for integer kind", v, min, max))
			}
		}
	}
	mean := sum / float64(len(values))
	rng := vmax - vmin

	if kind.bitWidth() == 8 && mapSize > 8 {
		meanQ := uint64(int64(mean)) & mapMask(mapSize)
		rangeQ := uint64(int64(rng)) & mapMask(mapSize/2)
		return meanQ | (rangeQ << uint(mapSize))
	}

	mapStep := (max - min) / math.Pow(2, float64(mapSize-1))
	meanQ := quantizeMap(mean, mapStep, mapSize)
	rangeQ := quantizeMap(rng, mapStep, mapSize/2)
	return meanQ | (rangeQ << uint(mapSize))
}

func quantizeMap(v, step float64, bits int) uint64 {
	if step == 0 {
		return 0
	}
	return uint64(int64(v/step)) & mapMask(bits)
}
