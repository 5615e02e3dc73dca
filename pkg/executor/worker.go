/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package executor

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/containerd/log"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/pkg/bufferpool"
	"github.com/hitrace/tracecore/pkg/container"
	"github.com/hitrace/tracecore/pkg/dumppipe"
	"github.com/hitrace/tracecore/pkg/dumpstrategy"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// WorkerLoop is the dump worker process's side of the Dump Pipe (spec
// §4.5): it owns its own tracefs Gateway and Buffer Pool, separate from
// whatever process forked it, and turns each submitted TraceDumpTask into
// one dumpstrategy.Run call. cmd/tracecore-worker is the only thing that
// runs this loop; the in-process Executor methods in executor.go call
// dumpstrategy.Run directly and never go through the pipe.
type WorkerLoop struct {
	cfg  *config.Config
	gw   *tracefs.Gateway
	pool *bufferpool.Pool
	w    *dumppipe.Worker

	mu       sync.Mutex
	runFlags map[uint8]*dumpstrategy.RunFlag
	caches   map[uint8]*dumpstrategy.CacheVariant
}

// NewWorkerLoop opens the three Dump Pipe FIFOs from the worker side. The
// directory and FIFOs must already have been created by the controller
// (dumppipe.Dir.Ensure).
func NewWorkerLoop(ctx context.Context, cfg *config.Config, d *dumppipe.Dir) (*WorkerLoop, error) {
	w, err := dumppipe.OpenWorker(ctx, d)
	if err != nil {
		return nil, err
	}
	return &WorkerLoop{
		cfg:      cfg,
		gw:       tracefs.New(),
		pool:     bufferpool.New(cfg.PoolBlockSizeBytes, int64(cfg.PoolCeilingBytes)),
		w:        w,
		runFlags: make(map[uint8]*dumpstrategy.RunFlag),
		caches:   make(map[uint8]*dumpstrategy.CacheVariant),
	}, nil
}

// Close releases the worker's pipe ends.
func (l *WorkerLoop) Close() {
	l.w.Close()
}

// Run polls task-submit until ctx is cancelled, dispatching every task it
// receives to a dedicated goroutine so a long recording/cache loop never
// blocks the next submission from being picked up.
func (l *WorkerLoop) Run(ctx context.Context) error {
	var taskSeq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, err := l.w.TaskSubmit.ReadTask(l.cfg.PipeTimeout)
		if err != nil {
			if errdefs.CodeOf(err) == errdefs.OutOfTime {
				continue
			}
			return err
		}

		taskSeq++
		go l.handle(taskSeq, task)
	}
}

func (l *WorkerLoop) handle(seq uint64, task *dumppipe.TraceDumpTask) {
	kind := container.Kind(task.Mode.Kind)

	if err := l.w.SyncReturn.WriteTask(&dumppipe.TraceDumpTask{
		TimeNs: task.TimeNs,
		Status: dumppipe.StatusReading,
		Code:   errdefs.Success,
	}); err != nil {
		log.L.Warnf("write sync-return for task %d: %v", task.TimeNs, err)
	}

	params := dumpstrategy.Params{
		Kind:               kind,
		OutputDir:          l.cfg.OutputDir,
		FileSizeCapBytes:   int64(task.Mode.SizeLimitBytes),
		CPUCount:           l.cpuCount(),
		MaxDurationMs:      int64(task.Mode.MaxDurationMs),
		SliceDurationS:     int64(task.Mode.SliceDurationS),
		TotalCacheCapBytes: int64(task.Mode.TotalCacheCapBytes),
	}

	var variant dumpstrategy.Variant
	var err error
	if kind == container.KindCache {
		cv := dumpstrategy.NewCacheVariant(int64(task.Mode.SliceDurationS))
		l.mu.Lock()
		l.caches[task.Mode.Kind] = cv
		l.mu.Unlock()
		variant = cv
	} else {
		variant, err = dumpstrategy.New(kind)
	}

	result := &dumpstrategy.Result{}
	if err == nil {
		if kind != container.KindSnapshot {
			rf := dumpstrategy.NewRunFlag()
			rf.Start()
			l.mu.Lock()
			l.runFlags[task.Mode.Kind] = rf
			l.mu.Unlock()
			params.RunFlag = rf
		}
		result, err = dumpstrategy.Run(l.gw, l.pool, l.taskID(seq), params, variant)
	}

	reply := &dumppipe.TraceDumpTask{TimeNs: task.TimeNs}
	if err != nil {
		reply.Status = dumppipe.StatusFailed
		reply.Code = errdefs.CodeOf(err)
	} else {
		reply.Status = dumppipe.StatusWriteDone
		reply.Code = errdefs.Success
		if len(result.Files) > 0 {
			reply.OutputPath = result.Files[0]
		}
		reply.TraceStartNs = result.FirstPageTimestamp
		reply.TraceEndNs = result.LastPageTimestamp
	}

	if err := l.w.AsyncReturn.WriteTask(reply); err != nil {
		log.L.Warnf("write async-return for task %d: %v", task.TimeNs, err)
	}
}

// StopLoop signals a running recording/cache loop of the given kind to
// exit at its next observation point, mirroring Executor.stopLoop for the
// out-of-process deployment.
func (l *WorkerLoop) StopLoop(kind container.Kind) {
	l.mu.Lock()
	rf, ok := l.runFlags[uint8(kind)]
	l.mu.Unlock()
	if ok {
		rf.Stop()
	}
}

// InterruptCache breaks the current cache slice for an out-of-process cache
// loop immediately, mirroring Executor.InterruptCache for the in-process
// deployment (spec §4.4.4).
func (l *WorkerLoop) InterruptCache() {
	l.mu.Lock()
	cv, ok := l.caches[uint8(container.KindCache)]
	l.mu.Unlock()
	if ok {
		cv.Interrupt()
	}
}

func (l *WorkerLoop) taskID(seq uint64) bufferpool.TaskID {
	return bufferpool.TaskID(seq)
}

// cpuCount counts the per_cpu/cpuN directories under the detected tracefs
// root, so the worker never needs the caller to carry a CPU count over the
// wire.
func (l *WorkerLoop) cpuCount() int {
	perCPUDir, err := l.gw.Path("per_cpu")
	if err != nil {
		return 0
	}
	entries, err := os.ReadDir(perCPUDir)
	if err != nil {
		log.L.Warnf("list %s: %v", perCPUDir, err)
		return 0
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "cpu") {
			count++
		}
	}
	return count
}
