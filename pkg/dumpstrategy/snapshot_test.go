/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotWindowUnlimitedDurationStartsAtZero(t *testing.T) {
	w := snapshotWindow(0, 1_000_000)
	require.Equal(t, uint64(0), w.Start)
	require.Equal(t, uint64(1_000_001), w.End)
}

func TestSnapshotWindowBoundsStartByMaxDuration(t *testing.T) {
	endNs := uint64(10_000_000_000) // 10s boot-clock
	w := snapshotWindow(2000, endNs) // last 2s only
	require.Equal(t, endNs-2_000_000_000, w.Start)
	require.Equal(t, endNs+1, w.End)
}

func TestSnapshotWindowClampsStartToZeroWhenDurationExceedsEnd(t *testing.T) {
	w := snapshotWindow(5000, 1_000_000) // 5s requested, end is far smaller
	require.Equal(t, uint64(0), w.Start)
}

func TestSnapshotWindowDefaultsEndToNow(t *testing.T) {
	before := bootClockNow()
	w := snapshotWindow(0, 0)
	after := bootClockNow()
	require.GreaterOrEqual(t, w.End, before+1)
	require.LessOrEqual(t, w.End, after+1)
}
