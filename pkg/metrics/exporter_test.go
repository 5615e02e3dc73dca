/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileExporterWritesRegisteredMetrics(t *testing.T) {
	BufferPoolUsedBytes.Set(42)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	require.NoError(t, exp.Export())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "tracecore_buffer_pool_used_bytes 42")
}

func TestNewFileExporterRejectsEmptyPath(t *testing.T) {
	_, err := NewFileExporter("")
	require.Error(t, err)
}
