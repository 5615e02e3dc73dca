/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/containerd/log"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

// CacheVariant is the sliding-window do_core body (spec §4.4.4): periodic
// one-second reader passes accumulate into a slice_elapsed counter; once
// it reaches the configured slice duration the template rotates to a
// fresh file. A snapshot request can Interrupt() the current slice without
// losing the data gathered so far.
type CacheVariant struct {
	sliceDurationNs int64
	interrupted     atomic.Bool
}

func NewCacheVariant(sliceDurationS int64) *CacheVariant {
	return &CacheVariant{sliceDurationNs: sliceDurationS * 1e9}
}

// Interrupt breaks the slice in progress as soon as the current reader
// pass returns, without discarding what has already been written.
func (v *CacheVariant) Interrupt() {
	v.interrupted.Store(true)
}

func (v *CacheVariant) doCore(c *content) (coreOutcome, error) {
	var combined ReadSummary
	combined.Status = errdefs.Success

	var sliceElapsedNs int64
	lastEnd := bootClockNow()

	for {
		if c.params.RunFlag.Stopped() {
			return coreOutcome{summary: combined, done: true}, nil
		}

		sliceStart := bootClockNow()
		time.Sleep(time.Second)

		now := bootClockNow()
		summary, err := writeCPURaw(c, Window{Start: lastEnd, End: now + 1})
		if err != nil {
			return coreOutcome{}, err
		}
		lastEnd = now
		mergeSummary(&combined, summary)

		sliceEnd := bootClockNow()
		sliceElapsedNs += int64(sliceEnd - sliceStart)

		if v.interrupted.CompareAndSwap(true, false) {
			return coreOutcome{summary: combined, needsRoll: true}, nil
		}

		if v.sliceDurationNs > 0 && sliceElapsedNs >= v.sliceDurationNs {
			return coreOutcome{summary: combined, needsRoll: true}, nil
		}
	}
}

// enforceCacheCap deletes the oldest slice files in result.Files, oldest
// first, until their combined size is at or under capBytes, implementing
// cache_trace_on's total_size_mb bound (spec §6.5). The most recent file is
// never evicted even if it alone exceeds the cap; capBytes<=0 means
// unbounded. Called once per completed slice from Run's main loop.
func enforceCacheCap(result *Result, capBytes int64) {
	if capBytes <= 0 || len(result.Files) == 0 {
		return
	}

	sizes := make([]int64, len(result.Files))
	var total int64
	for i, f := range result.Files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		sizes[i] = info.Size()
		total += sizes[i]
	}

	evicted := 0
	for total > capBytes && evicted < len(result.Files)-1 {
		if err := os.Remove(result.Files[evicted]); err != nil && !os.IsNotExist(err) {
			log.L.Warnf("evict cache slice %s: %v", result.Files[evicted], err)
		}
		total -= sizes[evicted]
		evicted++
	}
	if evicted > 0 {
		result.Files = result.Files[evicted:]
	}
}
