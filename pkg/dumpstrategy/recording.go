/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"time"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

// recordingVariant is the rotating-file do_core body (spec §4.4.3): loops
// one-second reader passes into the same file until the run-flag is
// cleared or the file overflows its size cap, at which point the template
// rotates to a fresh file.
type recordingVariant struct{}

func newRecordingVariant() Variant { return &recordingVariant{} }

func (recordingVariant) doCore(c *content) (coreOutcome, error) {
	var combined ReadSummary
	combined.Status = errdefs.Success

	lastEnd := bootClockNow()

	for {
		if c.params.RunFlag.Stopped() {
			return coreOutcome{summary: combined, done: true}, nil
		}

		time.Sleep(time.Second)

		now := bootClockNow()
		summary, err := writeCPURaw(c, Window{Start: lastEnd, End: now + 1})
		if err != nil {
			return coreOutcome{}, err
		}
		lastEnd = now

		mergeSummary(&combined, summary)

		overflow, err := overflowed(c, c.params.FileSizeCapBytes)
		if err != nil {
			return coreOutcome{}, err
		}
		if overflow {
			return coreOutcome{summary: combined, needsRoll: true}, nil
		}
	}
}

func mergeSummary(dst *ReadSummary, src ReadSummary) {
	if src.FirstPageTimestamp != 0 && (dst.FirstPageTimestamp == 0 || src.FirstPageTimestamp < dst.FirstPageTimestamp) {
		dst.FirstPageTimestamp = src.FirstPageTimestamp
	}
	if src.LastPageTimestamp > dst.LastPageTimestamp {
		dst.LastPageTimestamp = src.LastPageTimestamp
	}
	if src.Status != errdefs.Success {
		dst.Status = src.Status
	}
}
