/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package tracefs

import (
	"os"
	"strconv"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

func (g *Gateway) writeSmall(rel string, content string) error {
	path, err := g.Path(rel)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return wrapOpenError(err, path)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return errdefs.Wrapf(errdefs.FileError, err, "write %s", path)
	}
	return nil
}

// SetTracingOn flips the kernel's tracing_on switch.
func (g *Gateway) SetTracingOn(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return g.writeSmall("tracing_on", v)
}

// SetBufferSize sets buffer_size_kb. The upper bound of spec §8's range
// ("Buffer size outside [256 KiB, 300 MiB]...must be rejected") is checked
// by the caller (pkg/service); this method rejects only values below
// constant.MinBufferSizeKb, then performs the write.
func (g *Gateway) SetBufferSize(kb int) error {
	if kb < constant.MinBufferSizeKb {
		return errdefs.New(errdefs.TagError, "buffer size below minimum")
	}
	return g.writeSmall("buffer_size_kb", strconv.Itoa(kb))
}

// SetClock selects the trace clock source (e.g. "boot", "mono", "global").
func (g *Gateway) SetClock(clock string) error {
	path, err := g.Path("trace_clock")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return wrapOpenError(err, path)
	}
	defer f.Close()
	if _, err := f.WriteString("[" + clock + "]"); err != nil {
		// Some kernels want the bare name, not bracketed; fall back.
		if _, err2 := f.WriteString(clock); err2 != nil {
			return errdefs.Wrapf(errdefs.InvalidMaxDuration, err, "set trace_clock to %s", clock)
		}
	}
	return nil
}

// SetTagEnableBits writes "1" to every enable-path of every tag whose flag
// bit is set in bits, and "0" to the rest. tags is the static catalog
// (spec §3 TraceTag, consumed from config).
func (g *Gateway) SetTagEnableBits(bits uint64, tags map[string]config.TraceTag) error {
	enabledAny := false
	for _, tag := range tags {
		v := "0"
		if bits&tag.FlagBit != 0 {
			v = "1"
			enabledAny = true
		}
		for _, p := range tag.EnablePaths {
			if err := g.writeSmall(p, v); err != nil {
				return err
			}
		}
	}
	if bits != 0 && !enabledAny {
		return errdefs.New(errdefs.TagError, "no tags matched the requested flag bits")
	}
	return nil
}

// SetLevelThreshold writes the kernel's trace_level filter, when present;
// not all kernels expose this pseudo-file, so ENOENT is tolerated.
func (g *Gateway) SetLevelThreshold(level int) error {
	path, err := g.Path("trace_level")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapOpenError(err, path)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(level)); err != nil {
		return errdefs.Wrapf(errdefs.FileError, err, "set trace_level")
	}
	return nil
}
