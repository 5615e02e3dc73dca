/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package container serializes and deserializes the on-disk trace
// container (spec §4.3, §6.1): file header, typed sections, per-CPU raw
// page segments. This package owns the byte layout; every other package
// calls into it rather than writing bytes itself.
package container

import (
	"encoding/binary"
	"io"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

// Magic identifies a tracecore container file. Stable across versions.
var Magic = [8]byte{'H', 'T', 'R', 'A', 'C', 'E', '0', '1'}

// HeaderCPUFreqTableSize is the fixed byte length of the CPU-frequency
// table inside FileHeader, per spec §6.1 ("20 bytes cpu_freq_table"). That
// fixed budget holds a 4-byte entry count followed by up to two (cpu id,
// frequency state) pairs of 4 bytes each: 4 + 2*(4+4) = 20. Machines with
// more than two online CPUs still get their per-CPU frequency recorded —
// the overflow entries are folded into the base-info key/value block
// (see assembler.go) rather than widening this fixed section, so the
// header stays a stable, constant-size prefix for downstream parsers.
const HeaderCPUFreqTableSize = 20

const maxHeaderFreqEntries = 2

const headerSize = len(Magic) + 4 + HeaderCPUFreqTableSize

// CPUFreq is one entry of the CPU-frequency table: an online CPU id and
// an opaque frequency-state value supplied by the Trace-FS Gateway.
type CPUFreq struct {
	CPUID uint32
	State uint32
}

// FileHeader is the first fixed-size prefix of every container file.
type FileHeader struct {
	Reserved uint32
	FreqTable []CPUFreq
}

// WriteTo serializes the header: 8-byte magic, 4-byte reserved, then the
// fixed 20-byte CPU-frequency table. Refreshed on every file open and on
// every file-roll, per spec §4.3 step 1.
func (h *FileHeader) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, headerSize)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Reserved)

	table := buf[12:headerSize]
	n := len(h.FreqTable)
	if n > maxHeaderFreqEntries {
		n = maxHeaderFreqEntries
	}
	binary.LittleEndian.PutUint32(table[0:4], uint32(len(h.FreqTable)))
	for i := 0; i < n; i++ {
		off := 4 + i*8
		binary.LittleEndian.PutUint32(table[off:off+4], h.FreqTable[i].CPUID)
		binary.LittleEndian.PutUint32(table[off+4:off+8], h.FreqTable[i].State)
	}

	written, err := w.Write(buf)
	if err != nil {
		return int64(written), errdefs.Wrap(errdefs.FileError, err, "write file header")
	}
	return int64(written), nil
}

// Overflow returns the CPUFreq entries that did not fit in the fixed
// header table, for the caller to fold into the base-info section.
func (h *FileHeader) Overflow() []CPUFreq {
	if len(h.FreqTable) <= maxHeaderFreqEntries {
		return nil
	}
	return h.FreqTable[maxHeaderFreqEntries:]
}

// ReadHeader parses a FileHeader from the front of r.
func ReadHeader(r io.Reader) (*FileHeader, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errdefs.Wrap(errdefs.FileError, err, "read file header")
	}
	if string(buf[0:8]) != string(Magic[:]) {
		return nil, errdefs.New(errdefs.FileError, "bad container magic")
	}

	h := &FileHeader{Reserved: binary.LittleEndian.Uint32(buf[8:12])}
	table := buf[12:headerSize]
	count := binary.LittleEndian.Uint32(table[0:4])
	n := int(count)
	if n > maxHeaderFreqEntries {
		n = maxHeaderFreqEntries
	}
	for i := 0; i < n; i++ {
		off := 4 + i*8
		h.FreqTable = append(h.FreqTable, CPUFreq{
			CPUID: binary.LittleEndian.Uint32(table[off : off+4]),
			State: binary.LittleEndian.Uint32(table[off+4 : off+8]),
		})
	}
	return h, nil
}
