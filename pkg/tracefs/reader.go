/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package tracefs

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

// ReadOutcome is the result of one ReadPage call.
type ReadOutcome int

const (
	ReadOk ReadOutcome = iota
	ReadAgain
	ReadEOF
)

// Reader is a non-blocking page source over one CPU's raw trace pipe.
// Pages are fixed-size (constant.RingBufferPageSize); the first 8 bytes of
// every page are a little-endian boot-clock nanosecond timestamp.
type Reader struct {
	f   *os.File
	cpu int
}

// OpenCPURaw opens the per-CPU raw binary pipe for cpuIndex in non-blocking
// mode. The returned Reader's ReadPage never blocks; it reports ReadAgain
// when no page is currently available.
func (g *Gateway) OpenCPURaw(cpuIndex int) (*Reader, error) {
	path, err := g.PerCPURawPath(cpuIndex)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, wrapOpenError(err, path)
	}

	raw, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, errdefs.Wrapf(errdefs.FileError, err, "access raw fd for %s", path)
	}
	var setErr error
	if ctlErr := raw.Control(func(fd uintptr) {
		setErr = unix.SetNonblock(int(fd), true)
	}); ctlErr != nil {
		f.Close()
		return nil, errdefs.Wrapf(errdefs.FileError, ctlErr, "control fd for %s", path)
	}
	if setErr != nil {
		f.Close()
		return nil, errdefs.Wrapf(errdefs.FileError, setErr, "set nonblocking for %s", path)
	}

	return &Reader{f: f, cpu: cpuIndex}, nil
}

// Close releases the underlying file descriptor. Safe to call multiple
// times.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Fd returns the raw file descriptor, for epoll registration by the
// per-CPU reader in pkg/dumpstrategy.
func (r *Reader) Fd() uintptr {
	return r.f.Fd()
}

// ReadPage reads exactly one constant.RingBufferPageSize page into buf.
// buf must be at least that long. Returns ReadAgain if no page is ready
// right now (the pipe is open but empty), ReadEOF once the kernel has
// closed the pipe, or a non-nil error on any other failure.
func (r *Reader) ReadPage(buf []byte) (ReadOutcome, error) {
	if len(buf) < constant.RingBufferPageSize {
		return ReadOk, errors.New("buffer shorter than one ring-buffer page")
	}

	n, err := r.f.Read(buf[:constant.RingBufferPageSize])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return ReadAgain, nil
		}
		if err == io.EOF {
			return ReadEOF, nil
		}
		return ReadOk, errdefs.Wrapf(errdefs.EpollWaitError, err, "read cpu%d raw page", r.cpu)
	}
	if n == 0 {
		return ReadEOF, nil
	}
	if n < constant.RingBufferPageSize {
		return ReadOk, errdefs.New(errdefs.FileError, "short page read from trace_pipe_raw")
	}
	return ReadOk, nil
}

// PageTimestamp extracts the little-endian boot-clock nanosecond
// timestamp from the first 8 bytes of a page.
func PageTimestamp(page []byte) uint64 {
	return binary.LittleEndian.Uint64(page[:8])
}

// ReadText reads a small metadata pseudo-file (event formats,
// saved_cmdlines, saved_tgids, header_page, printk_formats) fully into
// memory.
func (g *Gateway) ReadText(rel string) (string, error) {
	path, err := g.Path(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", wrapOpenError(err, path)
	}
	return string(data), nil
}
