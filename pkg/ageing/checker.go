/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package ageing

import (
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/container"
)

// FileInfo is one tracked file's retention-relevant metadata, sourced from
// the Dump Executor's in-memory file list.
type FileInfo struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// rootUID overridable by tests without requiring the test process itself
// to run as a different user.
var rootUID = unix.Getuid

// Select sorts files newest-first and applies the configured checker for
// kind, returning the files to keep and the files to delete. When both a
// size cap and a count cap are configured, the size checker wins (spec §9
// open question, resolved in favor of the size checker taking precedence).
// When the process is running as root and param.RootEnable is false,
// ageing is skipped entirely for this kind (SPEC_FULL.md's supplemented
// root-mode override) — root builds are typically development/debug
// images where trace files are expected to accumulate until manually
// cleared.
func Select(kind container.Kind, files []FileInfo, param config.AgeingParam) (keep, del []FileInfo) {
	if rootUID() == 0 && !param.RootEnable {
		return files, nil
	}

	sorted := make([]FileInfo, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ModTime.After(sorted[j].ModTime) })

	pinned := neverPinned
	if kind == container.KindSnapshot {
		pinned = IsPinned
	}

	if param.FileSizeKbLimit > 0 {
		return checkSize(sorted, int64(param.FileSizeKbLimit)*1024, constant.DefaultMinKeptFiles, pinned)
	}

	limit := param.FileCountLimit
	if limit <= 0 {
		limit = constant.DefaultMaxFileCount
	}
	return checkCount(sorted, limit, pinned)
}

// checkCount keeps at most maxCount non-pinned files, newest first.
func checkCount(sorted []FileInfo, maxCount int, pinned func(string) bool) (keep, del []FileInfo) {
	kept := 0
	for _, f := range sorted {
		if pinned(f.Path) {
			keep = append(keep, f)
			continue
		}
		if kept < maxCount {
			keep = append(keep, f)
			kept++
		} else {
			del = append(del, f)
		}
	}
	return keep, del
}

// checkSize keeps files, newest first, while their cumulative size stays
// under capBytes, but never drops below minKept non-pinned files
// regardless of total size.
func checkSize(sorted []FileInfo, capBytes int64, minKept int, pinned func(string) bool) (keep, del []FileInfo) {
	var total int64
	kept := 0
	for _, f := range sorted {
		if pinned(f.Path) {
			keep = append(keep, f)
			continue
		}
		if kept < minKept || total+f.SizeBytes <= capBytes {
			keep = append(keep, f)
			total += f.SizeBytes
			kept++
		} else {
			del = append(del, f)
		}
	}
	return keep, del
}
