/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"github.com/hitrace/tracecore/pkg/container"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

// New returns the Variant for kind. Only the stateless snapshot and
// recording variants are built here; any other kind, cache included, fails
// with UNKNOWN_TRACE_DUMP_TYPE. Callers build the cache variant with
// NewCacheVariant so they keep the *CacheVariant handle needed to call
// Interrupt() on it later.
func New(kind container.Kind) (Variant, error) {
	switch kind {
	case container.KindSnapshot:
		return newSnapshotVariant(), nil
	case container.KindRecording:
		return newRecordingVariant(), nil
	default:
		return nil, errdefs.New(errdefs.UnknownTraceDumpType, "dumpstrategy: unsupported kind for New, use NewCacheVariant for cache")
	}
}
