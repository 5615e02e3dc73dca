/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import "time"

// snapshotVariant is the one-pass do_core body (spec §4.4.2): a single
// reader pass over the window snapshotWindow resolves (ending at now unless
// an end time is given), no rolling regardless of overflow.
type snapshotVariant struct{}

func newSnapshotVariant() Variant { return &snapshotVariant{} }

func (snapshotVariant) doCore(c *content) (coreOutcome, error) {
	summary, err := writeCPURaw(c, snapshotWindow(c.params.MaxDurationMs, c.params.EndTimeNs))
	if err != nil {
		return coreOutcome{}, err
	}
	return coreOutcome{summary: summary, done: true}, nil
}

// snapshotWindow resolves dump_trace's (max_duration, end_time) pair (spec
// §6.5) into a half-open boot-clock Window: end_time=0 means now,
// max_duration=0 means unlimited (from the start of whatever the ring
// buffer still holds).
func snapshotWindow(maxDurationMs int64, endTimeNs uint64) Window {
	end := endTimeNs
	if end == 0 {
		end = bootClockNow()
	}

	var start uint64
	if maxDurationMs > 0 {
		durationNs := uint64(maxDurationMs) * uint64(time.Millisecond)
		if durationNs < end {
			start = end - durationNs
		}
	}
	return Window{Start: start, End: end + 1} // half-open: include the page at exactly end
}
