/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package container

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/containerd/log"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/bufferpool"
	"github.com/hitrace/tracecore/pkg/errdefs"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// Assembler writes the container file in the fixed step order the Dump
// Strategy template drives it through (spec §4.3): header, base info,
// event-format dictionary, per-CPU raw, command-line map, tgid map,
// header-page + printk-format.
type Assembler struct {
	gw  *tracefs.Gateway
	out *os.File
	w   *bufio.Writer

	written int64
}

// NewAssembler wraps an already-open output file. The caller owns opening
// and ultimately closing out.
func NewAssembler(gw *tracefs.Gateway, out *os.File) *Assembler {
	return &Assembler{gw: gw, out: out, w: bufio.NewWriterSize(out, 256*1024)}
}

// Flush pushes buffered bytes to the underlying file; call before Size()
// or before handing the file off (e.g. to rename or to the pipe).
func (a *Assembler) Flush() error {
	if err := a.w.Flush(); err != nil {
		return errdefs.Wrap(errdefs.FileError, err, "flush container writer")
	}
	return nil
}

// Size returns the number of bytes written so far, flushing first so the
// count is accurate.
func (a *Assembler) Size() (int64, error) {
	if err := a.Flush(); err != nil {
		return 0, err
	}
	return a.written, nil
}

func (a *Assembler) track(n int64, err error) error {
	a.written += n
	return err
}

// WriteHeader writes the file header with the given CPU-frequency table.
// Refreshed on every file open and on every file-roll, per spec §4.3
// step 1.
func (a *Assembler) WriteHeader(freqTable []CPUFreq) error {
	h := &FileHeader{FreqTable: freqTable}
	n, err := h.WriteTo(a.w)
	return a.track(n, err)
}

// WriteBaseInfo writes the base-info key/value block (device identity,
// kernel build info) plus any CPU-frequency entries that overflowed the
// fixed header table.
func (a *Assembler) WriteBaseInfo(kv map[string]string, overflow []CPUFreq) error {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, kv[k])
	}
	for _, f := range overflow {
		fmt.Fprintf(&sb, "cpu_freq.%d=%d\n", f.CPUID, f.State)
	}

	n, err := WriteSection(a.w, SectionBaseInfo, []byte(sb.String()))
	return a.track(n, err)
}

// eventFormatCache is the process-wide saved_events_format side-file
// payload: a fingerprint of the enabled tag set plus the concatenated
// format text, so repeated dumps with an unchanged tag set skip re-reading
// every events/*/format file (spec §4.3 step 3).
type eventFormatCache struct {
	Fingerprint string `json:"fingerprint"`
	Text        string `json:"text"`
}

func tagSetFingerprint(tags []config.TraceTag) string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, fmt.Sprintf("%d:%s", t.FlagBit, strings.Join(t.FormatPaths, ",")))
	}
	sort.Strings(names)
	h := sha256.Sum256([]byte(strings.Join(names, "|")))
	return hex.EncodeToString(h[:])
}

// WriteEventFormatDict writes the event-format dictionary section: for
// every enabled tag, the kernel's events/<group>/<event>/format text. A
// sideFilePath cache, when non-empty, is consulted first and refreshed on
// miss, as spec §4.3 step 3 describes.
func (a *Assembler) WriteEventFormatDict(tags []config.TraceTag, sideFilePath string) error {
	fingerprint := tagSetFingerprint(tags)

	if sideFilePath != "" {
		if cached, err := loadEventFormatCache(sideFilePath); err == nil && cached.Fingerprint == fingerprint {
			n, err := WriteSection(a.w, SectionEventFormat, []byte(cached.Text))
			return a.track(n, err)
		}
	}

	var sb strings.Builder
	for _, tag := range tags {
		for _, path := range tag.FormatPaths {
			text, err := a.gw.ReadText(path)
			if err != nil {
				log.L.Warnf("skip unreadable format path %s: %v", path, err)
				continue
			}
			sb.WriteString(text)
			if !strings.HasSuffix(text, "\n") {
				sb.WriteByte('\n')
			}
		}
	}

	text := sb.String()
	if sideFilePath != "" {
		if err := saveEventFormatCache(sideFilePath, eventFormatCache{Fingerprint: fingerprint, Text: text}); err != nil {
			log.L.Warnf("failed to persist saved_events_format cache: %v", err)
		}
	}

	n, err := WriteSection(a.w, SectionEventFormat, []byte(text))
	return a.track(n, err)
}

// InvalidateEventFormatCache deletes the side-file; called whenever a
// recording session starts (spec §4.3 step 3).
func InvalidateEventFormatCache(sideFilePath string) {
	if sideFilePath == "" {
		return
	}
	if err := os.Remove(sideFilePath); err != nil && !os.IsNotExist(err) {
		log.L.Warnf("failed to invalidate saved_events_format cache: %v", err)
	}
}

func loadEventFormatCache(path string) (*eventFormatCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c eventFormatCache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func saveEventFormatCache(path string, c eventFormatCache) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, constant.TraceFilePerm)
}

// WriteCPURawSegment concatenates one CPU's Buffer Pool blocks into a
// single contiguous TypedSection (spec §4.3 step 4, §6.1). It returns the
// timestamp of the first and last page written, read straight off the
// page bytes, for the caller to fold into trace_start_time/trace_end_time.
func (a *Assembler) WriteCPURawSegment(cpuIndex int, blocks []*bufferpool.Block) (firstTs, lastTs uint64, err error) {
	var total int64
	for _, b := range blocks {
		total += int64(b.UsedBytes())
	}

	pages := make([]byte, 0, total)
	for _, b := range blocks {
		pages = append(pages, b.Bytes()...)
	}

	if len(pages) >= 8 {
		firstTs = tracefs.PageTimestamp(pages[:8])
		lastLen := len(pages) - (len(pages) % constant.RingBufferPageSize)
		if lastLen >= constant.RingBufferPageSize {
			lastPageOff := lastLen - constant.RingBufferPageSize
			lastTs = tracefs.PageTimestamp(pages[lastPageOff : lastPageOff+8])
		} else {
			lastTs = firstTs
		}
	}

	n, werr := WriteCPURawSegment(a.w, cpuIndex, pages)
	return firstTs, lastTs, a.track(n, werr)
}

// WriteCmdLineMap writes the contents of saved_cmdlines (spec §4.3 step 5).
func (a *Assembler) WriteCmdLineMap() error {
	text, err := a.gw.ReadText("saved_cmdlines")
	if err != nil {
		log.L.Warnf("saved_cmdlines unavailable: %v", err)
		text = ""
	}
	n, werr := WriteSection(a.w, SectionCmdLines, []byte(text))
	return a.track(n, werr)
}

// WriteTgidMap writes the contents of saved_tgids (spec §4.3 step 6).
func (a *Assembler) WriteTgidMap() error {
	text, err := a.gw.ReadText("saved_tgids")
	if err != nil {
		log.L.Warnf("saved_tgids unavailable: %v", err)
		text = ""
	}
	n, werr := WriteSection(a.w, SectionTgids, []byte(text))
	return a.track(n, werr)
}

// WriteHeaderPageAndPrintk writes the trailing header-page spec and
// printk-format table sections (spec §4.3 step 7).
func (a *Assembler) WriteHeaderPageAndPrintk() error {
	headerPage, err := a.gw.ReadText("events/header_page")
	if err != nil {
		log.L.Warnf("events/header_page unavailable: %v", err)
		headerPage = ""
	}
	if n, werr := WriteSection(a.w, SectionHeaderPage, []byte(headerPage)); a.track(n, werr) != nil {
		return werr
	}

	printk, err := a.gw.ReadText("printk_formats")
	if err != nil {
		log.L.Warnf("printk_formats unavailable: %v", err)
		printk = ""
	}
	n, werr := WriteSection(a.w, SectionPrintkFmt, []byte(printk))
	return a.track(n, werr)
}
