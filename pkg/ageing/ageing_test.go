/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package ageing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/pkg/container"
)

func mkFiles(n int) []FileInfo {
	now := time.Now()
	files := make([]FileInfo, n)
	for i := 0; i < n; i++ {
		files[i] = FileInfo{
			Path:      filepath.Join("/tmp", "f"+string(rune('a'+i))),
			SizeBytes: 10,
			ModTime:   now.Add(-time.Duration(i) * time.Minute),
		}
	}
	return files
}

func TestCountCheckerKeepsNewestN(t *testing.T) {
	files := mkFiles(5)
	keep, del := checkCount(files, 3, neverPinned)
	require.Len(t, keep, 3)
	require.Len(t, del, 2)
	require.Equal(t, files[0].Path, keep[0].Path)
	require.Equal(t, files[4].Path, del[1].Path)
}

func TestSizeCheckerRespectsMinKept(t *testing.T) {
	files := mkFiles(5)
	for i := range files {
		files[i].SizeBytes = 1000
	}
	keep, del := checkSize(files, 1, 2, neverPinned) // cap smaller than one file
	require.Len(t, keep, 2)
	require.Len(t, del, 3)
}

func TestSelectSizeWinsWhenBothConfigured(t *testing.T) {
	files := mkFiles(5)
	for i := range files {
		files[i].SizeBytes = 1024
	}
	param := config.AgeingParam{FileCountLimit: 10, FileSizeKbLimit: 2} // 2 KiB cap, way under 5*1KiB
	keep, del := Select(container.KindRecording, files, param)
	require.LessOrEqual(t, len(keep), 3)
	require.NotEmpty(t, del)
}

func TestSelectSkipsAgeingAsRootWhenRootEnableFalse(t *testing.T) {
	origUID := rootUID
	rootUID = func() int { return 0 }
	defer func() { rootUID = origUID }()

	files := mkFiles(5)
	param := config.AgeingParam{FileCountLimit: 1, RootEnable: false}
	keep, del := Select(container.KindRecording, files, param)
	require.Equal(t, files, keep)
	require.Empty(t, del)
}

func TestSelectStillAgesAsRootWhenRootEnableTrue(t *testing.T) {
	origUID := rootUID
	rootUID = func() int { return 0 }
	defer func() { rootUID = origUID }()

	files := mkFiles(5)
	param := config.AgeingParam{FileCountLimit: 1, RootEnable: true}
	keep, del := Select(container.KindRecording, files, param)
	require.Len(t, keep, 1)
	require.Len(t, del, 4)
}

func TestHandleAgeingDeletesSelectedFiles(t *testing.T) {
	dir := t.TempDir()
	files := make([]FileInfo, 3)
	for i := range files {
		p := filepath.Join(dir, "record_trace_"+string(rune('a'+i))+".sys")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		files[i] = FileInfo{Path: p, SizeBytes: 1, ModTime: time.Now().Add(-time.Duration(i) * time.Minute)}
	}

	kept := HandleAgeing(container.KindRecording, files, config.AgeingParam{FileCountLimit: 1, RootEnable: true})
	require.Len(t, kept, 1)

	_, err := os.Stat(files[0].Path)
	require.NoError(t, err)
	_, err = os.Stat(files[2].Path)
	require.True(t, os.IsNotExist(err))
}

func TestCleanOrphansRemovesUntrackedFiles(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "trace_tracked.sys")
	orphan := filepath.Join(dir, "trace_orphan.sys")
	other := filepath.Join(dir, "record_trace_ignored.sys")
	require.NoError(t, os.WriteFile(tracked, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	known := map[string]bool{tracked: true}
	require.NoError(t, CleanOrphans(dir, container.KindSnapshot, known))

	_, err := os.Stat(tracked)
	require.NoError(t, err)
	_, err = os.Stat(orphan)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(other)
	require.NoError(t, err) // different kind's prefix, untouched
}
