/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package tracefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

func TestRootDetectionFailsWhenNotMounted(t *testing.T) {
	g := New()
	g.root = "" // force detection against the real, possibly-absent paths
	_, err := g.Root()
	if err != nil {
		require.Equal(t, errdefs.TraceNotSupported, errdefs.CodeOf(err))
	}
}

func TestReadTextReadsWholeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "events", "sched", "sched_switch"), 0755))
	formatPath := filepath.Join(dir, "events", "sched", "sched_switch", "format")
	require.NoError(t, os.WriteFile(formatPath, []byte("name: sched_switch\n"), 0644))

	g := NewWithRoot(dir)
	text, err := g.ReadText("events/sched/sched_switch/format")
	require.NoError(t, err)
	require.Equal(t, "name: sched_switch\n", text)
}

func TestReadTextMissingFile(t *testing.T) {
	g := NewWithRoot(t.TempDir())
	_, err := g.ReadText("saved_cmdlines")
	require.Error(t, err)
	require.Equal(t, errdefs.TraceNotSupported, errdefs.CodeOf(err))
}

func TestPerCPURawPath(t *testing.T) {
	g := NewWithRoot("/root")
	p, err := g.PerCPURawPath(3)
	require.NoError(t, err)
	require.Equal(t, "/root/per_cpu/cpu3/trace_pipe_raw", p)
}
