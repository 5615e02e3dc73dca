/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/executor"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// newTestController wires a Controller against a fake tracefs root with
// just enough pseudo-files present for writeSmall to succeed.
func newTestController(t *testing.T) *Controller {
	t.Helper()

	root := t.TempDir()
	for _, rel := range []string{"tracing_on", "buffer_size_kb", "trace_clock", "trace_marker", "events/sched/enable"} {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, nil, 0644))
	}
	gw := tracefs.NewWithRoot(root)

	cfg := config.NewDefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Tags = map[string]config.TraceTag{
		"sched": {Description: "scheduler", FlagBit: 1, Kind: "kernel", EnablePaths: []string{"events/sched/enable"}},
	}
	cfg.TagGroups = map[string][]string{
		"scene_performance": {"sched"},
	}
	cfg.AgeingParams = map[string]config.AgeingParam{
		config.KindSnapshot:  {FileCountLimit: 5, RootEnable: true},
		config.KindRecording: {FileCountLimit: 5, RootEnable: true},
		config.KindCache:     {FileCountLimit: 5, RootEnable: true},
	}

	store, err := executor.NewFileStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exec := executor.New(cfg, gw, store)
	return New(cfg, gw, exec, 0)
}

func TestOpenTraceResolvesGroupsAndEnablesTracing(t *testing.T) {
	c := newTestController(t)

	err := c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}})
	require.NoError(t, err)

	c.mu.Lock()
	isOpen := c.isOpen
	tags := c.openTags
	c.mu.Unlock()
	require.True(t, isOpen)
	require.Len(t, tags, 1)
}

func TestOpenTraceFileLimitOverridesRecordingAgeingCount(t *testing.T) {
	c := newTestController(t)

	err := c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}, FileLimit: 7})
	require.NoError(t, err)

	require.Equal(t, 7, c.cfg.AgeingParamFor(config.KindRecording).FileCountLimit)
}

func TestOpenTraceRejectsUnknownGroup(t *testing.T) {
	c := newTestController(t)
	err := c.OpenTrace(OpenOptions{TagGroups: []string{"nope"}})
	require.Error(t, err)
	require.Equal(t, errdefs.TagError, errdefs.CodeOf(err))
}

func TestOpenTraceRejectsOutOfRangeBufferSize(t *testing.T) {
	c := newTestController(t)
	err := c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}, BufferSizeKb: 1})
	require.Error(t, err)
	require.Equal(t, errdefs.TagError, errdefs.CodeOf(err))
}

func TestDumpTraceRequiresOpenFirst(t *testing.T) {
	c := newTestController(t)
	_, err := c.DumpTrace(0, 0)
	require.Error(t, err)
	require.Equal(t, errdefs.WrongTraceMode, errdefs.CodeOf(err))
}

func TestDumpTraceRejectsNegativeDuration(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}}))

	_, err := c.DumpTrace(-1, 0)
	require.Error(t, err)
	require.Equal(t, errdefs.InvalidMaxDuration, errdefs.CodeOf(err))
}

func TestDumpTraceSucceedsAfterOpen(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}}))

	result, err := c.DumpTrace(0, 0)
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
}

func TestDumpTraceHonorsMaxDurationWindow(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}}))

	result, err := c.DumpTrace(2000, 0)
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
}

func TestRecordTraceOnThenOffRoundTrips(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}}))

	require.NoError(t, c.RecordTraceOn())
	// RecordTraceOn's loop body starts in a background goroutine; give it a
	// moment to reach dumpstrategy.Run before asking it to stop.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.RecordTraceOff())
}

func TestRecordTraceOnRejectsSecondCallWhileLooping(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}}))

	require.NoError(t, c.RecordTraceOn())
	err := c.RecordTraceOn()
	require.Error(t, err)
	require.Equal(t, errdefs.TraceIsOccupied, errdefs.CodeOf(err))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.RecordTraceOff())
}

func TestCloseTraceClearsOpenState(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.OpenTrace(OpenOptions{TagGroups: []string{"scene_performance"}}))
	require.NoError(t, c.CloseTrace())

	c.mu.Lock()
	isOpen := c.isOpen
	c.mu.Unlock()
	require.False(t, isOpen)

	_, err := c.DumpTrace(0, 0)
	require.Error(t, err)
	require.Equal(t, errdefs.WrongTraceMode, errdefs.CodeOf(err))
}
