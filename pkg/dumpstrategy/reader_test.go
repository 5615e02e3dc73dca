/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/bufferpool"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

func makePage(ts uint64) []byte {
	page := make([]byte, constant.RingBufferPageSize)
	binary.LittleEndian.PutUint64(page[:8], ts)
	return page
}

func newFifoGateway(t *testing.T) (*tracefs.Gateway, string) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "per_cpu", "cpu0"), 0755))
	fifoPath := filepath.Join(root, "per_cpu", "cpu0", "trace_pipe_raw")
	require.NoError(t, unix.Mkfifo(fifoPath, 0644))
	return tracefs.NewWithRoot(root), fifoPath
}

func TestReadOneCPUAppliesWindowAndDuplicateGuard(t *testing.T) {
	gw, fifoPath := newFifoGateway(t)
	pool := bufferpool.New(1<<20, 1<<30)
	budget := int64(1 << 30)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
		require.NoError(t, err)
		defer w.Close()

		_, _ = w.Write(makePage(5))   // before window, dropped
		_, _ = w.Write(makePage(10))  // in window
		_, _ = w.Write(makePage(20))  // in window
		_, _ = w.Write(makePage(15))  // regression, ends stream
	}()

	firstTs, lastTs, status := readOneCPU(gw, pool, 1, 0, Window{Start: 10, End: 1000}, &budget)

	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer goroutine did not finish")
	}

	require.Equal(t, uint64(10), firstTs)
	require.Equal(t, uint64(20), lastTs)
	require.Equal(t, errdefs.Success, status)
}

func TestReadOneCPUStopsAtWindowEnd(t *testing.T) {
	gw, fifoPath := newFifoGateway(t)
	pool := bufferpool.New(1<<20, 1<<30)
	budget := int64(1 << 30)

	go func() {
		w, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
		require.NoError(t, err)
		defer w.Close()
		_, _ = w.Write(makePage(10))
		_, _ = w.Write(makePage(50)) // >= End, stops the stream
	}()

	firstTs, lastTs, _ := readOneCPU(gw, pool, 2, 0, Window{Start: 0, End: 50}, &budget)
	require.Equal(t, uint64(10), firstTs)
	require.Equal(t, uint64(10), lastTs)
}
