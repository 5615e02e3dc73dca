/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package dumpstrategy implements the Dump Strategy template and its three
// variants (spec §4.4): a shared pre/core/post skeleton driving a hot-path
// per-CPU raw reader that is common to all of them.
package dumpstrategy

import (
	"sync"
	"sync/atomic"

	"github.com/containerd/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/bufferpool"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// Window is the half-open timestamp range a per-CPU reader keeps: pages
// before Start are dropped, the stream ends once a page at or after End is
// seen.
type Window struct {
	Start uint64
	End   uint64
}

// ReadSummary is what the per-CPU reader hot path reports back to the
// template (spec §4.4.1).
type ReadSummary struct {
	FirstPageTimestamp uint64
	LastPageTimestamp  uint64
	Status             errdefs.Code
}

// runReaders fans one goroutine out per online CPU (grounded on the
// teacher's errgroup use in pkg/supervisor), each multiplexing its single
// raw pipe with its own epoll instance (grounded on pkg/manager/monitor.go's
// liveness epoll loop), and joins before returning.
func runReaders(gw *tracefs.Gateway, pool *bufferpool.Pool, taskID bufferpool.TaskID, cpus []int, window Window, budgetBytes int64) ReadSummary {
	var (
		firstTs uint64 = ^uint64(0)
		lastTs  uint64
		mu      sync.Mutex
		status  atomic.Int32
		budget  = &budgetBytes
	)
	status.Store(int32(errdefs.Success))

	eg := errgroup.Group{}
	for _, cpu := range cpus {
		cpu := cpu
		eg.Go(func() error {
			first, last, code := readOneCPU(gw, pool, taskID, cpu, window, budget)
			mu.Lock()
			if first != 0 && first < firstTs {
				firstTs = first
			}
			if last > lastTs {
				lastTs = last
			}
			if code != errdefs.Success && errdefs.Code(status.Load()) == errdefs.Success {
				status.Store(int32(code))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	if firstTs == ^uint64(0) {
		firstTs = 0
	}
	return ReadSummary{FirstPageTimestamp: firstTs, LastPageTimestamp: lastTs, Status: errdefs.Code(status.Load())}
}

// readOneCPU drains cpu_raw<cpu> into Buffer Pool blocks until the CPU
// signals end-of-stream, the window closes, or the shared budget is
// exhausted.
func readOneCPU(gw *tracefs.Gateway, pool *bufferpool.Pool, taskID bufferpool.TaskID, cpu int, window Window, budget *int64) (firstTs, lastTs uint64, status errdefs.Code) {
	reader, err := gw.OpenCPURaw(cpu)
	if err != nil {
		log.L.Warnf("cpu%d raw pipe unavailable: %v", cpu, err)
		return 0, 0, errdefs.Success
	}
	defer reader.Close()

	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return 0, 0, errdefs.EpollWaitError
	}
	defer unix.Close(epollFd)

	ev := unix.EpollEvent{Fd: int32(reader.Fd()), Events: unix.EPOLLIN}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, int(reader.Fd()), &ev); err != nil {
		return 0, 0, errdefs.EpollWaitError
	}

	block, err := pool.Allocate(taskID, cpu)
	if err != nil {
		return 0, 0, errdefs.BufferExhausted
	}

	page := make([]byte, constant.RingBufferPageSize)
	var lastSeen uint64
	var events [4]unix.EpollEvent

	for {
		if atomic.LoadInt64(budget) <= 0 {
			return firstTs, lastTs, errdefs.Success
		}

		outcome, err := reader.ReadPage(page)
		if err != nil {
			return firstTs, lastTs, errdefs.PipeCreateError
		}

		switch outcome {
		case tracefs.ReadEOF:
			return firstTs, lastTs, errdefs.Success
		case tracefs.ReadAgain:
			if _, err := unix.EpollWait(epollFd, events[:], 200); err != nil && err != unix.EINTR {
				return firstTs, lastTs, errdefs.EpollWaitError
			}
			continue
		}

		ts := tracefs.PageTimestamp(page)

		if ts < window.Start {
			continue
		}
		if ts >= window.End {
			return firstTs, lastTs, errdefs.Success
		}
		if lastSeen != 0 && ts < lastSeen {
			// Ring-buffer wrap: timestamps must be monotonically
			// non-decreasing within a CPU.
			return firstTs, lastTs, errdefs.Success
		}
		lastSeen = ts

		if firstTs == 0 {
			firstTs = ts
		}
		lastTs = ts

		if !block.Append(page) {
			block, err = pool.Allocate(taskID, cpu)
			if err != nil {
				return firstTs, lastTs, errdefs.BufferExhausted
			}
			block.Append(page)
		}
		atomic.AddInt64(budget, -int64(constant.RingBufferPageSize))
	}
}
