/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/pkg/bufferpool"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

func newTestRoot(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "events", "sched"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "events", "sched", "format"), []byte("name: sched_switch\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "events", "header_page"), []byte("field: u64 timestamp\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "printk_formats"), []byte("0x1 : foo\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "saved_cmdlines"), []byte("1-100 init\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "saved_tgids"), []byte("100 100\n"), 0644))
	return root
}

func TestAssemblerFullSequenceProducesParsableSections(t *testing.T) {
	root := newTestRoot(t)
	gw := tracefs.NewWithRoot(root)

	out, err := os.CreateTemp(t.TempDir(), "trace-*.sys")
	require.NoError(t, err)
	defer out.Close()

	a := NewAssembler(gw, out)

	require.NoError(t, a.WriteHeader([]CPUFreq{{CPUID: 0, State: 1000000}}))
	require.NoError(t, a.WriteBaseInfo(map[string]string{"kernel": "6.1.0"}, nil))

	tags := []config.TraceTag{
		{FlagBit: 1, FormatPaths: []string{"events/sched/format"}},
	}
	require.NoError(t, a.WriteEventFormatDict(tags, ""))

	pool := bufferpool.New(4096, 1<<20)
	b, err := pool.Allocate(1, 0)
	require.NoError(t, err)
	page := make([]byte, 4096)
	page[0] = 1
	require.True(t, b.Append(page))

	firstTs, lastTs, err := a.WriteCPURawSegment(0, pool.BlocksOf(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), firstTs)
	require.Equal(t, firstTs, lastTs)

	require.NoError(t, a.WriteCmdLineMap())
	require.NoError(t, a.WriteTgidMap())
	require.NoError(t, a.WriteHeaderPageAndPrintk())

	size, err := a.Size()
	require.NoError(t, err)
	require.Greater(t, size, int64(headerSize))

	require.NoError(t, out.Close())

	f, err := os.Open(out.Name())
	require.NoError(t, err)
	defer f.Close()

	h, err := ReadHeader(f)
	require.NoError(t, err)
	require.Len(t, h.FreqTable, 1)
	require.Equal(t, uint32(1000000), h.FreqTable[0].State)

	var types []SectionType
	for {
		sh, err := ReadSectionHeader(f)
		if err != nil {
			break
		}
		types = append(types, sh.Type)
		_, err = f.Seek(int64(sh.Length), 1)
		require.NoError(t, err)
	}
	require.Equal(t, []SectionType{
		SectionBaseInfo,
		SectionEventFormat,
		SectionCPURaw,
		SectionCmdLines,
		SectionTgids,
		SectionHeaderPage,
		SectionPrintkFmt,
	}, types)
}

func TestWriteEventFormatDictUsesSideFileCache(t *testing.T) {
	root := newTestRoot(t)
	gw := tracefs.NewWithRoot(root)
	side := filepath.Join(t.TempDir(), "saved_events_format.json")

	tags := []config.TraceTag{
		{FlagBit: 1, FormatPaths: []string{"events/sched/format"}},
	}

	out1, err := os.CreateTemp(t.TempDir(), "trace-*.sys")
	require.NoError(t, err)
	a1 := NewAssembler(gw, out1)
	require.NoError(t, a1.WriteEventFormatDict(tags, side))
	require.NoError(t, out1.Close())

	require.FileExists(t, side)

	// Remove the backing format file; a cache hit must not need it.
	require.NoError(t, os.Remove(filepath.Join(root, "events", "sched", "format")))

	out2, err := os.CreateTemp(t.TempDir(), "trace-*.sys")
	require.NoError(t, err)
	a2 := NewAssembler(gw, out2)
	require.NoError(t, a2.WriteEventFormatDict(tags, side))
	require.NoError(t, out2.Close())

	f, err := os.Open(out2.Name())
	require.NoError(t, err)
	defer f.Close()
	sh, err := ReadSectionHeader(f)
	require.NoError(t, err)
	require.Equal(t, SectionEventFormat, sh.Type)
	require.Greater(t, sh.Length, uint64(0))
}

func TestInvalidateEventFormatCacheRemovesSideFile(t *testing.T) {
	side := filepath.Join(t.TempDir(), "saved_events_format.json")
	require.NoError(t, os.WriteFile(side, []byte("{}"), 0644))

	InvalidateEventFormatCache(side)
	_, err := os.Stat(side)
	require.True(t, os.IsNotExist(err))

	// Must tolerate a missing file silently.
	InvalidateEventFormatCache(side)
}
