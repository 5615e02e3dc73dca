/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package dumppipe implements the Dump Pipe: three named FIFOs carrying
// fixed-size TraceDumpTask records between the controller and the dump
// worker process (spec §4.5, §6.2).
package dumppipe

import (
	"bytes"
	"encoding/binary"

	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

// Status is the task's lifecycle stage as observed across the pipe.
type Status uint8

const (
	StatusPending Status = iota
	StatusReading
	StatusWriteDone
	StatusFailed
)

// TraceDumpTask is the fixed-size wire record carried by every Dump Pipe
// FIFO (spec §6.2): 8-byte time, 1-byte status, 1-byte code, 6 bytes
// padding, a fixed NUL-padded output path, 8-byte file size, 8-byte
// trace start/end boot-clock timestamps, and a mode-specific payload.
type TraceDumpTask struct {
	TimeNs        uint64
	Status        Status
	Code          errdefs.Code
	OutputPath    string
	FileSize      uint64
	TraceStartNs  uint64
	TraceEndNs    uint64
	Mode          ModePayload
}

// ModePayload is the mode-specific trailer: which fields are meaningful
// depends on Kind.
type ModePayload struct {
	Kind               uint8 // mirrors container.Kind
	MaxDurationMs      uint64
	SizeLimitBytes     uint64
	SliceDurationS     uint64
	TotalCacheCapBytes uint64
}

// recordSize is the total wire size of one TraceDumpTask. It must stay
// under PIPE_BUF so single-record writes are atomic (spec §4.5).
const recordSize = 8 + 1 + 1 + 6 + constant.OutputPathMaxLen + 8 + 8 + 8 + modePayloadSize

const modePayloadSize = 1 + 7 /*pad*/ + 8 + 8 + 8 + 8

// Encode serializes t into a recordSize-byte buffer.
func Encode(t *TraceDumpTask) ([]byte, error) {
	if len(t.OutputPath) >= constant.OutputPathMaxLen {
		return nil, errdefs.New(errdefs.FileError, "output path exceeds fixed record width")
	}

	buf := make([]byte, recordSize)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], t.TimeNs)
	off += 8
	buf[off] = byte(t.Status)
	off++
	buf[off] = byte(t.Code)
	off++
	off += 6 // padding

	copy(buf[off:off+constant.OutputPathMaxLen], t.OutputPath)
	off += constant.OutputPathMaxLen

	binary.LittleEndian.PutUint64(buf[off:], t.FileSize)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.TraceStartNs)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.TraceEndNs)
	off += 8

	buf[off] = t.Mode.Kind
	off += 1 + 7
	binary.LittleEndian.PutUint64(buf[off:], t.Mode.MaxDurationMs)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.Mode.SizeLimitBytes)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.Mode.SliceDurationS)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.Mode.TotalCacheCapBytes)
	off += 8

	return buf, nil
}

// Decode parses a recordSize-byte buffer into a TraceDumpTask.
func Decode(buf []byte) (*TraceDumpTask, error) {
	if len(buf) != recordSize {
		return nil, errdefs.New(errdefs.FileError, "short trace dump task record")
	}

	t := &TraceDumpTask{}
	off := 0

	t.TimeNs = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.Status = Status(buf[off])
	off++
	t.Code = errdefs.Code(buf[off])
	off++
	off += 6

	pathBytes := buf[off : off+constant.OutputPathMaxLen]
	t.OutputPath = string(bytes.TrimRight(pathBytes, "\x00"))
	off += constant.OutputPathMaxLen

	t.FileSize = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.TraceStartNs = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.TraceEndNs = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	t.Mode.Kind = buf[off]
	off += 1 + 7
	t.Mode.MaxDurationMs = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.Mode.SizeLimitBytes = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.Mode.SliceDurationS = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.Mode.TotalCacheCapBytes = binary.LittleEndian.Uint64(buf[off:])

	return t, nil
}

// RecordSize exposes recordSize for callers sizing their read buffers.
func RecordSize() int { return recordSize }
