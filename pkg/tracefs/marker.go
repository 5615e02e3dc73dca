/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package tracefs

import (
	"fmt"
	"time"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

// MarkClockSync writes two lines to the kernel's trace_marker, always
// right before a read loop begins (spec §4.1): a wall-clock sync point and
// a boot/monotonic sync point, so the downstream parser can align the two
// time bases. The exact line format is grounded on
// frameworks/native/common_utils.cpp in original_source/ (see
// SPEC_FULL.md's supplemented-features section).
func (g *Gateway) MarkClockSync(bootTimeNs uint64) error {
	if _, err := g.Path("trace_marker"); err != nil {
		return err
	}

	realtimeMs := time.Now().UnixMilli()
	lines := []string{
		fmt.Sprintf("tracing_mark_write: trace_event_clock_sync: realtime_ts=%d\n", realtimeMs),
		fmt.Sprintf("tracing_mark_write: trace_event_clock_sync: parent_ts=%d\n", bootTimeNs),
	}

	for _, line := range lines {
		if err := g.writeSmall("trace_marker", line); err != nil {
			return errdefs.Wrapf(errdefs.WriteTraceInfoError, err, "write clock-sync marker")
		}
	}
	return nil
}
