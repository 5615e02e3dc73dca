/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package service implements the Control surface exposed to the external
// front-end (spec §6.5): open_trace, dump_trace[_async], record_trace_on/off,
// cache_trace_on/off, close_trace, set_trace_status. Argument-string parsing
// stays with the front-end (SPEC_FULL.md's cobra-drop decision); every
// method here takes already-structured Go values and enforces the boundary
// checks of spec §8 before ever reaching pkg/executor.
package service

import (
	"strconv"
	"sync"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/dumppipe"
	"github.com/hitrace/tracecore/pkg/dumpstrategy"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/executor"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// OpenOptions covers both forms of open_trace (spec §6.5): selecting whole
// tag groups, individual tags, or both, plus the `args_string` sub-fields.
// A zero value for any numeric field means "use the configured default".
type OpenOptions struct {
	TagGroups []string
	Tags      []string

	BufferSizeKb int
	ClockType    string
	Overwrite    bool
	Output       string
	FileSizeBytes int
	FileLimit     int
}

// Controller is the single entry point a front-end drives. It owns no
// kernel state beyond what it pushes through its Gateway; CloseTrace undoes
// exactly what the last successful OpenTrace did.
type Controller struct {
	cfg  *config.Config
	gw   *tracefs.Gateway
	exec *executor.Executor

	// hwModule selects the wider buffer-size ceiling spec §8 grants
	// hardware-module kernels (1024 MiB) over plain Linux (300 MiB).
	hwModule bool
	cpuCount int

	mu       sync.Mutex
	isOpen   bool
	openTags []config.TraceTag
}

func New(cfg *config.Config, gw *tracefs.Gateway, exec *executor.Executor, cpuCount int) *Controller {
	return &Controller{cfg: cfg, gw: gw, exec: exec, cpuCount: cpuCount}
}

// SetHardwareModule switches the buffer-size boundary check to the
// hardware-module kernel's wider ceiling (spec §8).
func (c *Controller) SetHardwareModule(hw bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hwModule = hw
}

func (c *Controller) maxBufferSizeKb() int {
	if c.hwModule {
		return constant.MaxBufferSizeKbHwMod
	}
	return constant.MaxBufferSizeKbLinux
}

// OpenTrace enables the kernel tags named by opts, applies the buffer
// size/clock overrides, and flips tracing_on. A second OpenTrace call
// replaces the first's tag set; CloseTrace reverts to no tags enabled.
func (c *Controller) OpenTrace(opts OpenOptions) error {
	tags, _, err := c.resolveTags(opts.TagGroups, opts.Tags)
	if err != nil {
		return err
	}

	bufferSizeKb := opts.BufferSizeKb
	if bufferSizeKb == 0 {
		bufferSizeKb = c.cfg.DefaultBufferSizeKb
	}
	if bufferSizeKb < constant.MinBufferSizeKb || bufferSizeKb > c.maxBufferSizeKb() {
		return errdefs.New(errdefs.TagError, "buffer size out of range")
	}

	if opts.FileSizeBytes != 0 {
		if opts.FileSizeBytes < constant.MinFileSizeBytes || opts.FileSizeBytes > constant.MaxFileSizeBytes {
			return errdefs.New(errdefs.FileError, "file size out of range")
		}
	}

	var bits uint64
	for _, t := range tags {
		bits |= t.FlagBit
	}

	if err := c.gw.SetBufferSize(bufferSizeKb); err != nil {
		return err
	}
	if opts.ClockType != "" {
		if err := c.gw.SetClock(opts.ClockType); err != nil {
			return err
		}
	}
	if err := c.gw.SetTagEnableBits(bits, c.cfg.Tags); err != nil {
		return err
	}
	if err := c.gw.SetTracingOn(true); err != nil {
		return err
	}

	if opts.Output != "" {
		c.cfg.OutputDir = opts.Output
	}
	if opts.FileSizeBytes != 0 {
		c.cfg.DefaultFileSizeBytes = opts.FileSizeBytes
	}
	if opts.FileLimit != 0 {
		// spec §8: sum of file sizes on disk <= file_limit * per_file_cap for
		// a recording session, enforced by pkg/ageing's Count checker once
		// RunRecordingLoop persists each rotated file.
		recording := c.cfg.AgeingParamFor(config.KindRecording)
		recording.FileCountLimit = opts.FileLimit
		if c.cfg.AgeingParams == nil {
			c.cfg.AgeingParams = make(map[string]config.AgeingParam)
		}
		c.cfg.AgeingParams[config.KindRecording] = recording
	}

	c.mu.Lock()
	c.isOpen = true
	c.openTags = tags
	c.mu.Unlock()
	return nil
}

// resolveTags expands group names and bare tag names against the
// configured catalog, failing with TAG_ERROR on any unknown name or an
// empty resulting set (spec §7).
func (c *Controller) resolveTags(groups, names []string) ([]config.TraceTag, uint64, error) {
	seen := make(map[string]bool)
	var tags []config.TraceTag
	var bits uint64

	add := func(name string) error {
		tag, ok := c.cfg.Tags[name]
		if !ok {
			return errdefs.New(errdefs.TagError, "unknown tag "+name)
		}
		if seen[name] {
			return nil
		}
		seen[name] = true
		tags = append(tags, tag)
		bits |= tag.FlagBit
		return nil
	}

	for _, group := range groups {
		members, ok := c.cfg.TagGroups[group]
		if !ok {
			return nil, 0, errdefs.New(errdefs.TagError, "unknown tag group "+group)
		}
		for _, name := range members {
			if err := add(name); err != nil {
				return nil, 0, err
			}
		}
	}
	for _, name := range names {
		if err := add(name); err != nil {
			return nil, 0, err
		}
	}

	if len(tags) == 0 {
		return nil, 0, errdefs.New(errdefs.TagError, "no tags enabled")
	}
	return tags, bits, nil
}

func (c *Controller) requireOpen() ([]config.TraceTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isOpen {
		return nil, errdefs.New(errdefs.WrongTraceMode, "open_trace has not been called")
	}
	return c.openTags, nil
}

// DumpTrace runs a synchronous snapshot bounded by the (max_duration,
// end_time) window (spec §6.5, §8): maxDurationMs=0 means unlimited,
// endTimeNs=0 means "now". Both are threaded through to the snapshot
// variant via executor.SnapshotOptions, which resolves them into the
// boot-clock Window the per-CPU reader actually honors.
func (c *Controller) DumpTrace(maxDurationMs int64, endTimeNs uint64) (*dumpstrategy.Result, error) {
	if maxDurationMs < 0 {
		return nil, errdefs.New(errdefs.InvalidMaxDuration, "max_duration must not be negative")
	}
	tags, err := c.requireOpen()
	if err != nil {
		return nil, err
	}
	opts := executor.SnapshotOptions{MaxDurationMs: maxDurationMs, EndTimeNs: endTimeNs}
	return c.exec.DumpTrace(tags, c.cpuCount, opts)
}

// DumpTraceAsync is the fire-and-forget form; sizeLimitBytes overrides the
// configured default file size cap the same way DumpTrace's opts do.
func (c *Controller) DumpTraceAsync(maxDurationMs int64, endTimeNs uint64, sizeLimitBytes int64, callback func(*dumppipe.TraceDumpTask)) (uint64, error) {
	if maxDurationMs < 0 {
		return 0, errdefs.New(errdefs.InvalidMaxDuration, "max_duration must not be negative")
	}
	tags, err := c.requireOpen()
	if err != nil {
		return 0, err
	}
	opts := executor.SnapshotOptions{MaxDurationMs: maxDurationMs, EndTimeNs: endTimeNs, FileSizeCapBytes: sizeLimitBytes}
	return c.exec.DumpTraceAsync(tags, c.cpuCount, opts, callback), nil
}

// RecordTraceOn starts the rotating-file recording loop in the background,
// returning once the IDLE -> LOOPING transition has been rejected
// (TRACE_IS_OCCUPIED) or taken; the loop body then runs in its own
// goroutine.
func (c *Controller) RecordTraceOn() error {
	tags, err := c.requireOpen()
	if err != nil {
		return err
	}
	if !c.exec.PrecheckLoop() {
		return errdefs.New(errdefs.TraceIsOccupied, "a loop is already running")
	}
	go func() {
		if _, err := c.exec.RunRecordingLoop(tags, c.cpuCount); err != nil {
			_ = err // the loop's own observe()/metrics already recorded this
		}
	}()
	return nil
}

// RecordTraceOff stops the recording loop, blocking until it has returned
// to IDLE (spec §4.6's bounded stop).
func (c *Controller) RecordTraceOff() error {
	return c.exec.StopRecordingLoop()
}

// CacheTraceOn starts the sliding-window cache loop.
func (c *Controller) CacheTraceOn(totalSizeMb int64, sliceS int64) error {
	tags, err := c.requireOpen()
	if err != nil {
		return err
	}
	if !c.exec.PrecheckLoop() {
		return errdefs.New(errdefs.TraceIsOccupied, "a loop is already running")
	}
	go func() {
		if _, err := c.exec.RunCacheLoop(tags, c.cpuCount, sliceS, totalSizeMb*1024*1024); err != nil {
			_ = err
		}
	}()
	return nil
}

// CacheTraceOff stops the cache loop.
func (c *Controller) CacheTraceOff() error {
	return c.exec.StopCacheLoop()
}

// CancelAsyncRead cancels the read phase of whichever dump_trace_async call
// is currently in flight. Not part of spec §6.5's call table, but exposed
// here since DumpTraceAsync's callback shape otherwise gives a front-end no
// way to abandon a pending dump it started.
func (c *Controller) CancelAsyncRead() {
	c.exec.CancelAsyncRead()
}

// CancelAsyncWrite cancels the write phase of whichever dump_trace_async
// call is currently in flight.
func (c *Controller) CancelAsyncWrite() {
	c.exec.CancelAsyncWrite()
}

// SetTraceStatus flips the kernel's tracing_on switch without touching
// which tags are enabled.
func (c *Controller) SetTraceStatus(on bool) error {
	return c.gw.SetTracingOn(on)
}

// CloseTrace disables whichever tags the last OpenTrace enabled and
// flips tracing_on off, returning the controller to its unopened state.
func (c *Controller) CloseTrace() error {
	c.mu.Lock()
	tags := c.openTags
	c.mu.Unlock()

	if err := c.gw.SetTagEnableBits(0, tagMap(tags)); err != nil {
		return err
	}
	if err := c.gw.SetTracingOn(false); err != nil {
		return err
	}

	c.mu.Lock()
	c.isOpen = false
	c.openTags = nil
	c.mu.Unlock()
	return nil
}

// tagMap rebuilds the map shape SetTagEnableBits expects from a plain
// slice; only the values are read, so keys only need to be distinct.
func tagMap(tags []config.TraceTag) map[string]config.TraceTag {
	m := make(map[string]config.TraceTag, len(tags))
	for i, t := range tags {
		m[strconv.Itoa(i)] = t
	}
	return m
}
