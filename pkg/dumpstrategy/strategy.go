/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/log"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/bufferpool"
	"github.com/hitrace/tracecore/pkg/container"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// maxRollRetries bounds how many times the template reopens a fresh file
// after do_core reports a missing/rolled file (spec §4.4 step 5).
const maxRollRetries = 5

// Params is the strategy's common input, assembled by the Dump Executor
// from the task it popped off the Dump Pipe.
type Params struct {
	Kind             container.Kind
	Tags             []config.TraceTag
	OutputDir        string
	FileSizeCapBytes int64
	CPUCount         int

	// Snapshot only: bounds the window of trace data a dump_trace(max_duration,
	// end_time) call includes (spec §6.5, §8). MaxDurationMs=0 means
	// unlimited (from the start of the buffer); EndTimeNs=0 means "now".
	MaxDurationMs int64
	EndTimeNs     uint64

	// Recording/cache only.
	SliceDurationS   int64
	TotalCacheCapBytes int64
	RunFlag          *RunFlag
}

// RunFlag is the cooperative stop signal an executor loop owns: cleared to
// request a clean exit, observed by the variant between iterations.
type RunFlag struct {
	running chan struct{}
}

func NewRunFlag() *RunFlag {
	return &RunFlag{running: make(chan struct{})}
}

func (f *RunFlag) Start() { close(f.running) }

func (f *RunFlag) Stopped() bool {
	select {
	case <-f.running:
		return false
	default:
		return true
	}
}

func (f *RunFlag) Stop() {
	select {
	case <-f.running:
		f.running = make(chan struct{})
	default:
	}
}

// Result is what the template returns to the Dump Executor.
type Result struct {
	Files             []string
	FirstPageTimestamp uint64
	LastPageTimestamp  uint64
	Status             errdefs.Code
}

// content is the shared per-invocation state the template threads through
// on_pre / do_core / on_post, mirroring spec §4.4's `content` argument.
type content struct {
	gw       *tracefs.Gateway
	pool     *bufferpool.Pool
	taskID   bufferpool.TaskID
	params   Params
	file     *os.File
	assembler *container.Assembler
	path     string
}

// coreOutcome is do_core's report to the template: whether the current
// file needs rolling, and the final per-CPU timestamp/status summary.
type coreOutcome struct {
	needsRoll bool
	summary   ReadSummary
	done      bool
}

// Variant is the per-mode core body the template drives (spec §4.4.2-4).
type Variant interface {
	// doCore writes the variant's CPU raw payload into c via its
	// assembler, returning whether the template should roll to a fresh
	// file and repeat.
	doCore(c *content) (coreOutcome, error)
}

// Run executes the shared template: on_pre, do_core (with up to
// maxRollRetries rolls), on_post (spec §4.4 steps 1-5).
func Run(gw *tracefs.Gateway, pool *bufferpool.Pool, taskID bufferpool.TaskID, params Params, v Variant) (*Result, error) {
	c := &content{gw: gw, pool: pool, taskID: taskID, params: params}

	result := &Result{}
	for attempt := 0; attempt <= maxRollRetries; attempt++ {
		if err := onPre(c); err != nil {
			return nil, err
		}

		outcome, err := v.doCore(c)
		if err != nil {
			closeAndDiscard(c)
			return nil, err
		}

		if err := onPost(c); err != nil {
			closeAndDiscard(c)
			return nil, err
		}
		if err := finalize(c); err != nil {
			return nil, err
		}

		result.Files = append(result.Files, c.path)
		if params.Kind == container.KindCache {
			enforceCacheCap(result, params.TotalCacheCapBytes)
		}
		if outcome.summary.FirstPageTimestamp != 0 && (result.FirstPageTimestamp == 0 || outcome.summary.FirstPageTimestamp < result.FirstPageTimestamp) {
			result.FirstPageTimestamp = outcome.summary.FirstPageTimestamp
		}
		if outcome.summary.LastPageTimestamp > result.LastPageTimestamp {
			result.LastPageTimestamp = outcome.summary.LastPageTimestamp
		}
		result.Status = outcome.summary.Status

		if outcome.done || !outcome.needsRoll {
			return result, nil
		}
		c = &content{gw: gw, pool: pool, taskID: taskID, params: params}
	}

	return result, nil
}

func onPre(c *content) error {
	wallClock := time.Now()
	bootTimeNs := bootClockNow()

	name := container.NewFileName(c.params.Kind, wallClock, bootTimeNs, c.params.SliceDurationS*1000)
	c.path = filepath.Join(c.params.OutputDir, name)

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constant.TraceFilePerm)
	if err != nil {
		return errdefs.Wrapf(errdefs.FileError, err, "open container file %s", c.path)
	}
	c.file = f
	c.assembler = container.NewAssembler(c.gw, f)

	freq := readCPUFreqTable(c.params.CPUCount)
	header := &container.FileHeader{FreqTable: freq}
	if err := c.assembler.WriteHeader(freq); err != nil {
		return err
	}

	kv := baseInfoKV(c.gw)
	if err := c.assembler.WriteBaseInfo(kv, header.Overflow()); err != nil {
		return err
	}

	sideFile := filepath.Join(c.params.OutputDir, constant.SavedEventsFormatFileName)
	if err := c.assembler.WriteEventFormatDict(c.params.Tags, sideFile); err != nil {
		return err
	}

	return nil
}

func onPost(c *content) error {
	if err := c.assembler.WriteCmdLineMap(); err != nil {
		return err
	}
	if err := c.assembler.WriteTgidMap(); err != nil {
		return err
	}
	return c.assembler.WriteHeaderPageAndPrintk()
}

func finalize(c *content) error {
	if err := c.assembler.Flush(); err != nil {
		closeAndDiscard(c)
		return err
	}
	return c.file.Close()
}

func closeAndDiscard(c *content) {
	if c.file != nil {
		if err := c.file.Close(); err != nil {
			log.L.Warnf("close container file %s: %v", c.path, err)
		}
	}
}

// writeCPURaw runs the per-CPU hot-path reader across all configured CPUs,
// then drains the resulting Buffer Pool blocks into the container in
// ascending CPU order (spec §4.4.1's "assembler serializes each CPU's
// block list in ascending CPU order"). The pool's blocks for this task are
// released once drained, ready for reuse by the next iteration.
func writeCPURaw(c *content, window Window) (ReadSummary, error) {
	cpus := make([]int, c.params.CPUCount)
	for i := range cpus {
		cpus[i] = i
	}

	// Clock-sync markers go out right before every read pass; a tracefs
	// without a writable trace_marker costs only the markers, not the dump.
	if err := c.gw.MarkClockSync(bootClockNow()); err != nil {
		log.L.Debugf("clock-sync marker not written: %v", err)
	}

	summary := runReaders(c.gw, c.pool, c.taskID, cpus, window, c.params.FileSizeCapBytes)
	defer c.pool.Release(c.taskID)

	for _, cpu := range cpus {
		var blocks []*bufferpool.Block
		for _, b := range c.pool.BlocksOf(c.taskID) {
			if b.CPU() == cpu {
				blocks = append(blocks, b)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if _, _, err := c.assembler.WriteCPURawSegment(cpu, blocks); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// overflowed reports whether the container file has grown past the
// configured per-file size cap, flushing first so the size is accurate.
func overflowed(c *content, cap int64) (bool, error) {
	if cap <= 0 {
		return false, nil
	}
	size, err := c.assembler.Size()
	if err != nil {
		return false, err
	}
	return size >= cap, nil
}

