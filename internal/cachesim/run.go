// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package cachesim

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/zcache-sim/cachesim/internal/cachearray"
	"github.com/zcache-sim/cachesim/internal/trace"
	"github.com/zcache-sim/cachesim/lib/textui"
)

// simStats wraps a cachearray.Stats snapshot so it can drive a
// textui.Progress ticker: comparable (so the ticker can tell when
// nothing changed) and a fmt.Stringer (so it can format a log line).
type simStats struct {
	cachearray.Stats
	processed uint64
}

func (s simStats) String() string {
	total := s.Hits + s.Misses
	var rate float64
	if total > 0 {
		rate = float64(s.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("accesses=%d hits=%d misses=%d hitrate=%.2f%% swaps=%d bypasses=%d freed=%d",
		s.processed, s.Hits, s.Misses, rate, s.Swaps, s.PartitionedBypass, s.SparseDataFreed)
}

// statsOf reads the Stats field off whichever concrete array type arr
// is, since cachearray.Array itself carries no such accessor (not
// every array organization exposes its counters the same way, and
// sparseArray aggregates two).
func statsOf(arr cachearray.Array) cachearray.Stats {
	switch a := arr.(type) {
	case *cachearray.SetAssoc:
		return a.Stats.Snapshot()
	case *cachearray.ZArray:
		return a.Stats.Snapshot()
	case *cachearray.ZArrayPartitioned:
		return a.Stats.Snapshot()
	case *sparseArray:
		tagStats := a.tags.Stats.Snapshot()
		dataFreed := a.tags.Stats.SparseDataFreed
		tagStats.SparseDataFreed = dataFreed
		return tagStats
	default:
		return cachearray.Stats{}
	}
}

// Run replays every request in r against arr, in order, logging
// periodic progress to ctx's logger. It returns the final stats
// snapshot once the trace is exhausted or ctx is cancelled.
func Run(ctx context.Context, arr cachearray.Array, r *trace.Reader) (cachearray.Stats, error) {
	progress := textui.NewProgress[simStats](ctx, dlog.LogLevelInfo, time.Second)
	defer progress.Done()

	var processed uint64
	for {
		req, err := r.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return statsOf(arr), err
		}

		id := arr.Lookup(req.LineAddr, req, true)
		if id == cachearray.NoLine {
			victimID, _ := arr.Preinsert(req.LineAddr, req)
			arr.Postinsert(req.LineAddr, req, victimID)
		}

		processed++
		progress.Set(simStats{Stats: statsOf(arr), processed: processed})
	}

	return statsOf(arr), nil
}
