/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package container

import (
	"fmt"
	"time"

	"github.com/hitrace/tracecore/internal/constant"
)

// Kind distinguishes the three capture modes for file-naming and ageing
// purposes.
type Kind int

const (
	KindSnapshot Kind = iota
	KindRecording
	KindCache
)

func (k Kind) Prefix() string {
	switch k {
	case KindRecording:
		return constant.RecordingFilePrefix
	case KindCache:
		return constant.CacheFilePrefix
	default:
		return constant.SnapshotFilePrefix
	}
}

// NewFileName builds the deterministic, parser-visible filename for a
// freshly opened container (spec §4.3):
//
//	snapshot:  trace_YYYYMMDDHHMMSS@<boot_secs>-<boot_nanos>.sys
//	recording: record_trace_YYYYMMDDHHMMSS@<boot_secs>-<boot_nanos>.sys
//	cache:     cache_trace_YYYYMMDDHHMMSS@<boot_secs>-<boot_nanos>-<duration_ms>.sys
//
// wallClock is the caller's current time (injectable for tests);
// bootTimeNs is the boot-clock timestamp at file-open. durationMs is only
// used for KindCache and ignored otherwise.
func NewFileName(kind Kind, wallClock time.Time, bootTimeNs uint64, durationMs int64) string {
	stamp := wallClock.Format("20060102150405")
	bootSecs := bootTimeNs / 1e9
	bootNanos := bootTimeNs % 1e9

	base := fmt.Sprintf("%s%s@%d-%d", kind.Prefix(), stamp, bootSecs, bootNanos)
	if kind == KindCache {
		base = fmt.Sprintf("%s-%d", base, durationMs)
	}
	return base + constant.TraceFileSuffix
}
