/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSizedFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return path
}

func TestEnforceCacheCapEvictsOldestFilesOverCap(t *testing.T) {
	dir := t.TempDir()
	result := &Result{Files: []string{
		writeSizedFile(t, dir, "a", 100),
		writeSizedFile(t, dir, "b", 100),
		writeSizedFile(t, dir, "c", 100),
	}}

	enforceCacheCap(result, 150)

	require.Len(t, result.Files, 1)
	require.Contains(t, result.Files[0], "c")

	for _, removed := range []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")} {
		_, err := os.Stat(removed)
		require.True(t, os.IsNotExist(err))
	}
}

func TestEnforceCacheCapKeepsMostRecentFileEvenIfOverCapAlone(t *testing.T) {
	dir := t.TempDir()
	result := &Result{Files: []string{
		writeSizedFile(t, dir, "a", 500),
	}}

	enforceCacheCap(result, 10)

	require.Len(t, result.Files, 1)
	_, err := os.Stat(result.Files[0])
	require.NoError(t, err)
}

func TestEnforceCacheCapNoopWhenUnderCap(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeSizedFile(t, dir, "a", 10),
		writeSizedFile(t, dir, "b", 10),
	}
	result := &Result{Files: append([]string{}, files...)}

	enforceCacheCap(result, 1<<20)

	require.Equal(t, files, result.Files)
}

func TestEnforceCacheCapUnboundedWhenCapNotSet(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeSizedFile(t, dir, "a", 1000)}
	result := &Result{Files: append([]string{}, files...)}

	enforceCacheCap(result, 0)

	require.Equal(t, files, result.Files)
}
