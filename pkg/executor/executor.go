/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package executor

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/log"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/ageing"
	"github.com/hitrace/tracecore/pkg/bufferpool"
	"github.com/hitrace/tracecore/pkg/container"
	"github.com/hitrace/tracecore/pkg/dumppipe"
	"github.com/hitrace/tracecore/pkg/dumpstrategy"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/metrics"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// Executor is the controller-side facade over the mode state machine and
// task registry (spec §4.6). It drives the Dump Strategy template
// in-process; a separately forked worker, when one is configured, is
// reached the same way cmd/tracecore-worker drives the template — through
// the Dump Pipe — but Executor itself does not require one.
type Executor struct {
	cfg   *config.Config
	gw    *tracefs.Gateway
	pool  *bufferpool.Pool
	store *FileStore

	state    *StateMachine
	registry *Registry

	loopMu sync.Mutex
	cache  *dumpstrategy.CacheVariant
	run    *dumpstrategy.RunFlag
}

func New(cfg *config.Config, gw *tracefs.Gateway, store *FileStore) *Executor {
	return &Executor{
		cfg:      cfg,
		gw:       gw,
		pool:     bufferpool.New(cfg.PoolBlockSizeBytes, int64(cfg.PoolCeilingBytes)),
		store:    store,
		state:    NewStateMachine(),
		registry: NewRegistry(),
	}
}

var taskIDSeq uint64

// taskID mints a process-unique Buffer Pool key for one dump invocation.
func (e *Executor) taskID() bufferpool.TaskID {
	return bufferpool.TaskID(atomic.AddUint64(&taskIDSeq, 1))
}

// PrecheckLoop atomically tests and sets IDLE -> LOOPING, returning
// success only if the transition happened (spec §4.6).
func (e *Executor) PrecheckLoop() bool {
	return e.state.TryStartLooping() == nil
}

// SnapshotOptions carries dump_trace's optional parameters (spec §6.5):
// the (max_duration, end_time) window and a per-call file size cap. A zero
// value for any field means "use the configured default" the same way a
// zero value does for the rest of the Params struct.
type SnapshotOptions struct {
	MaxDurationMs    int64
	EndTimeNs        uint64
	FileSizeCapBytes int64
}

// DumpTrace runs a synchronous single snapshot, persists its output file,
// and runs ageing on the snapshot list afterward.
func (e *Executor) DumpTrace(tags []config.TraceTag, cpuCount int, opts SnapshotOptions) (*dumpstrategy.Result, error) {
	if err := e.state.TryStartRunning(); err != nil {
		return nil, err
	}
	defer e.state.Finish()

	fileSizeCap := opts.FileSizeCapBytes
	if fileSizeCap <= 0 {
		fileSizeCap = int64(e.cfg.DefaultFileSizeBytes)
	}

	start := time.Now()
	params := dumpstrategy.Params{
		Kind:             container.KindSnapshot,
		Tags:             tags,
		OutputDir:        e.cfg.OutputDir,
		FileSizeCapBytes: fileSizeCap,
		CPUCount:         cpuCount,
		MaxDurationMs:    opts.MaxDurationMs,
		EndTimeNs:        opts.EndTimeNs,
	}
	variant, err := dumpstrategy.New(container.KindSnapshot)
	if err != nil {
		return nil, err
	}

	result, err := dumpstrategy.Run(e.gw, e.pool, e.taskID(), params, variant)
	e.observe(container.KindSnapshot, start, err, result)
	if err != nil {
		return nil, err
	}

	e.persistAndAge(container.KindSnapshot, result.Files)
	return result, nil
}

// DumpTraceAsync records a task whose status advances to WRITE_DONE once
// the dump completes in the background; onComplete fires afterward
// (spec §4.6). A pending caller may cancel the read or write phase
// independently via CancelAsyncRead/CancelAsyncWrite before then.
func (e *Executor) DumpTraceAsync(tags []config.TraceTag, cpuCount int, opts SnapshotOptions, onComplete func(*dumppipe.TraceDumpTask)) uint64 {
	timeNs := uint64(time.Now().UnixNano())
	e.registry.Add(&Task{TimeNs: timeNs, Status: dumppipe.StatusPending, OnComplete: onComplete})

	go func() {
		if e.state.AsyncReadCancelled() {
			e.finishAsync(timeNs, nil, errdefs.New(errdefs.OutOfTime, "async dump read phase cancelled"), onComplete)
			return
		}

		result, err := e.DumpTrace(tags, cpuCount, opts)

		if err == nil && e.state.AsyncWriteCancelled() {
			err = errdefs.New(errdefs.OutOfTime, "async dump write phase cancelled")
		}

		e.finishAsync(timeNs, result, err, onComplete)
	}()

	return timeNs
}

func (e *Executor) finishAsync(timeNs uint64, result *dumpstrategy.Result, err error, onComplete func(*dumppipe.TraceDumpTask)) {
	wire := dumppipe.TraceDumpTask{TimeNs: timeNs}
	if err != nil {
		wire.Status = dumppipe.StatusFailed
		wire.Code = errdefs.CodeOf(err)
	} else {
		wire.Status = dumppipe.StatusWriteDone
		wire.Code = errdefs.Success
		if len(result.Files) > 0 {
			wire.OutputPath = result.Files[0]
		}
		wire.TraceStartNs = result.FirstPageTimestamp
		wire.TraceEndNs = result.LastPageTimestamp
	}

	e.registry.Update(timeNs, func(t *Task) {
		t.Status = wire.Status
		t.Wire = wire
	})

	if onComplete != nil {
		onComplete(&wire)
	}
}

// CancelAsyncRead cancels the read phase of whichever async dump is
// currently pending, before it starts producing output.
func (e *Executor) CancelAsyncRead() { e.state.CancelAsyncRead() }

// CancelAsyncWrite cancels the write phase of whichever async dump is
// currently in flight, once its read phase has already produced buffers.
func (e *Executor) CancelAsyncWrite() { e.state.CancelAsyncWrite() }

// StartRecordingLoop drives the rotating-file recording variant until
// StopRecordingLoop is called, returning the files produced. It performs
// its own PrecheckLoop gate; callers that already hold the LOOPING state
// (pkg/service, to report TRACE_IS_OCCUPIED synchronously before spawning
// the loop's goroutine) should call RunRecordingLoop directly instead.
func (e *Executor) StartRecordingLoop(tags []config.TraceTag, cpuCount int) ([]string, error) {
	if !e.PrecheckLoop() {
		return nil, errdefs.New(errdefs.TraceIsOccupied, "another loop is already running")
	}
	return e.RunRecordingLoop(tags, cpuCount)
}

// RunRecordingLoop runs the recording variant's body, assuming the caller
// has already performed the IDLE -> LOOPING transition via PrecheckLoop.
func (e *Executor) RunRecordingLoop(tags []config.TraceTag, cpuCount int) ([]string, error) {
	container.InvalidateEventFormatCache(e.savedEventsFormatPath())

	runFlag := dumpstrategy.NewRunFlag()
	runFlag.Start()
	e.loopMu.Lock()
	e.run = runFlag
	e.loopMu.Unlock()

	params := dumpstrategy.Params{
		Kind:             container.KindRecording,
		Tags:             tags,
		OutputDir:        e.cfg.OutputDir,
		FileSizeCapBytes: int64(e.cfg.DefaultFileSizeBytes),
		CPUCount:         cpuCount,
		RunFlag:          runFlag,
	}
	variant, err := dumpstrategy.New(container.KindRecording)
	if err != nil {
		e.state.Finish()
		return nil, err
	}

	result, err := dumpstrategy.Run(e.gw, e.pool, e.taskID(), params, variant)
	e.state.Finish()
	if err != nil {
		return nil, err
	}

	e.persistAndAge(container.KindRecording, result.Files)
	return result.Files, nil
}

// StopRecordingLoop requests the recording loop stop and waits (bounded
// by constant.StopLoopTimeout) for the state to return to IDLE.
func (e *Executor) StopRecordingLoop() error {
	return e.stopLoop()
}

// StartCacheLoop drives the sliding-window cache variant until
// StopCacheLoop is called; InterruptCache only ends the current slice and
// the loop carries on in a fresh file. It performs its own PrecheckLoop
// gate; callers that already hold the LOOPING state (pkg/service) should
// call RunCacheLoop directly instead.
func (e *Executor) StartCacheLoop(tags []config.TraceTag, cpuCount int, sliceDurationS int64, totalCacheCapBytes int64) ([]string, error) {
	if !e.PrecheckLoop() {
		return nil, errdefs.New(errdefs.TraceIsOccupied, "another loop is already running")
	}
	return e.RunCacheLoop(tags, cpuCount, sliceDurationS, totalCacheCapBytes)
}

// RunCacheLoop runs the cache variant's body, assuming the caller has
// already performed the IDLE -> LOOPING transition via PrecheckLoop.
func (e *Executor) RunCacheLoop(tags []config.TraceTag, cpuCount int, sliceDurationS int64, totalCacheCapBytes int64) ([]string, error) {
	runFlag := dumpstrategy.NewRunFlag()
	runFlag.Start()
	cacheVariant := dumpstrategy.NewCacheVariant(sliceDurationS)
	e.loopMu.Lock()
	e.run = runFlag
	e.cache = cacheVariant
	e.loopMu.Unlock()

	params := dumpstrategy.Params{
		Kind:               container.KindCache,
		Tags:               tags,
		OutputDir:          e.cfg.OutputDir,
		FileSizeCapBytes:   int64(e.cfg.DefaultFileSizeBytes),
		CPUCount:           cpuCount,
		SliceDurationS:     sliceDurationS,
		TotalCacheCapBytes: totalCacheCapBytes,
		RunFlag:            runFlag,
	}

	result, err := dumpstrategy.Run(e.gw, e.pool, e.taskID(), params, cacheVariant)
	e.state.Finish()
	if err != nil {
		return nil, err
	}

	e.persistAndAge(container.KindCache, result.Files)
	return result.Files, nil
}

// StopCacheLoop requests the cache loop stop and waits for IDLE.
func (e *Executor) StopCacheLoop() error {
	return e.stopLoop()
}

// InterruptCache ends the current cache slice once its in-progress
// one-second reader pass returns (spec §4.4.4). DumpTrace does not call it:
// a snapshot requested while a cache loop runs is rejected with
// TRACE_IS_OCCUPIED.
func (e *Executor) InterruptCache() {
	e.loopMu.Lock()
	cache := e.cache
	e.loopMu.Unlock()
	if cache != nil {
		cache.Interrupt()
	}
}

func (e *Executor) stopLoop() error {
	if err := e.state.RequestStop(); err != nil {
		return err
	}
	e.loopMu.Lock()
	run := e.run
	e.loopMu.Unlock()
	if run != nil {
		run.Stop()
	}
	return e.state.WaitForIdle(constant.StopLoopTimeout)
}

func (e *Executor) savedEventsFormatPath() string {
	return e.cfg.OutputDir + "/" + constant.SavedEventsFormatFileName
}

func (e *Executor) observe(kind container.Kind, start time.Time, err error, result *dumpstrategy.Result) {
	status := "success"
	if err != nil {
		status = "error"
	} else if result != nil {
		status = result.Status.String()
	}
	metrics.DumpElapsedHists.WithLabelValues(kindLabel(kind)).Observe(time.Since(start).Seconds())
	metrics.DumpTotal.WithLabelValues(kindLabel(kind), status).Inc()
}

func (e *Executor) persistAndAge(kind container.Kind, files []string) {
	if e.store == nil {
		return
	}
	for _, path := range files {
		fi := FileInfo{Path: path, ModTime: time.Now()}
		if st, err := os.Stat(path); err == nil {
			fi.SizeBytes = st.Size()
		}
		if err := e.store.Put(kind, fi); err != nil {
			log.L.Warnf("persist file info for %s: %v", path, err)
		}
	}

	persisted, err := e.store.List(kind)
	if err != nil {
		log.L.Warnf("list persisted files for ageing: %v", err)
		return
	}

	ageingFiles := make([]ageing.FileInfo, 0, len(persisted))
	for _, p := range persisted {
		ageingFiles = append(ageingFiles, ageing.FileInfo{Path: p.Path, SizeBytes: p.SizeBytes, ModTime: p.ModTime})
	}

	kept := ageing.HandleAgeing(kind, ageingFiles, e.cfg.AgeingParamFor(kindKey(kind)))
	keptSet := make(map[string]bool, len(kept))
	for _, k := range kept {
		keptSet[k.Path] = true
	}
	for _, p := range persisted {
		if !keptSet[p.Path] {
			if err := e.store.Delete(kind, p.Path); err != nil {
				log.L.Warnf("remove stale file store entry %s: %v", p.Path, err)
			}
			metrics.AgeingDeletedTotal.WithLabelValues(kindLabel(kind)).Inc()
		}
	}

	_ = ageing.CleanOrphans(e.cfg.OutputDir, kind, keptSet)
}

func kindKey(kind container.Kind) string {
	switch kind {
	case container.KindRecording:
		return config.KindRecording
	case container.KindCache:
		return config.KindCache
	default:
		return config.KindSnapshot
	}
}

func kindLabel(kind container.Kind) string { return kindKey(kind) }
