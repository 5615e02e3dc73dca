/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package container

import (
	"encoding/binary"
	"io"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

// SectionType is the 1-byte stable tag identifying a TypedSection (spec
// §6.1).
type SectionType byte

const (
	SectionBaseInfo    SectionType = 0x01
	SectionEventFormat SectionType = 0x02
	SectionCPURaw      SectionType = 0x03
	SectionCmdLines    SectionType = 0x04
	SectionTgids       SectionType = 0x05
	SectionHeaderPage  SectionType = 0x06
	SectionPrintkFmt   SectionType = 0x07
)

// WriteSection writes a generic TypedSection: 1-byte type, 8-byte
// little-endian payload length, then the payload.
func WriteSection(w io.Writer, typ SectionType, payload []byte) (int64, error) {
	header := make([]byte, 9)
	header[0] = byte(typ)
	binary.LittleEndian.PutUint64(header[1:9], uint64(len(payload)))

	n1, err := w.Write(header)
	if err != nil {
		return int64(n1), errdefs.Wrapf(errdefs.WriteTraceInfoError, err, "write section 0x%02x header", typ)
	}
	n2, err := w.Write(payload)
	total := int64(n1 + n2)
	if err != nil {
		return total, errdefs.Wrapf(errdefs.WriteTraceInfoError, err, "write section 0x%02x payload", typ)
	}
	return total, nil
}

// CPURawSegment is one CPU's contiguous raw-page run: 1-byte type (always
// SectionCPURaw), 4-byte cpu index, 8-byte length, then the pages
// themselves. Each page's first 8 bytes are its boot-clock timestamp.
func WriteCPURawSegment(w io.Writer, cpuIndex int, pages []byte) (int64, error) {
	header := make([]byte, 13)
	header[0] = byte(SectionCPURaw)
	binary.LittleEndian.PutUint32(header[1:5], uint32(cpuIndex))
	binary.LittleEndian.PutUint64(header[5:13], uint64(len(pages)))

	n1, err := w.Write(header)
	if err != nil {
		return int64(n1), errdefs.Wrapf(errdefs.WriteTraceInfoError, err, "write cpu%d raw segment header", cpuIndex)
	}
	n2, err := w.Write(pages)
	total := int64(n1 + n2)
	if err != nil {
		return total, errdefs.Wrapf(errdefs.WriteTraceInfoError, err, "write cpu%d raw segment payload", cpuIndex)
	}
	return total, nil
}

// SectionHeader is a parsed section prefix, returned by ReadSectionHeader.
type SectionHeader struct {
	Type     SectionType
	CPUIndex int32 // only meaningful when Type == SectionCPURaw
	Length   uint64
}

// ReadSectionHeader reads one section's prefix (not its payload) from r.
// It returns io.EOF, unwrapped, when r is exhausted between sections —
// callers use this to detect the end of the container.
func ReadSectionHeader(r io.Reader) (*SectionHeader, error) {
	var typByte [1]byte
	if _, err := io.ReadFull(r, typByte[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errdefs.Wrap(errdefs.FileError, err, "read section type")
	}

	typ := SectionType(typByte[0])
	if typ == SectionCPURaw {
		rest := make([]byte, 12)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, errdefs.Wrap(errdefs.FileError, err, "read cpu raw section header")
		}
		return &SectionHeader{
			Type:     typ,
			CPUIndex: int32(binary.LittleEndian.Uint32(rest[0:4])),
			Length:   binary.LittleEndian.Uint64(rest[4:12]),
		}, nil
	}

	rest := make([]byte, 8)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errdefs.Wrap(errdefs.FileError, err, "read section length")
	}
	return &SectionHeader{Type: typ, Length: binary.LittleEndian.Uint64(rest)}, nil
}
