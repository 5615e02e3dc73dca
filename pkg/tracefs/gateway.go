/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package tracefs is the sole concentrator of kernel-tracing file-system
// I/O (spec §4.1). It has no state of its own beyond the detected tracefs
// root; every other component reaches the kernel only through this
// package, the way the teacher's daemon package is the only thing that
// talks to nydusd's API socket.
package tracefs

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

// Gateway concentrates all reads and writes against the ftrace pseudo
// file-system. It is safe for concurrent use: detection of the tracefs
// root happens once, under a mutex, and is cached thereafter.
type Gateway struct {
	mu   sync.Mutex
	root string
}

// New returns a Gateway with no root detected yet; Root() performs
// detection lazily on first use.
func New() *Gateway {
	return &Gateway{}
}

// NewWithRoot returns a Gateway pinned to a pre-detected root, bypassing
// auto-detection. Used by tests and by callers that already know the
// mount point.
func NewWithRoot(root string) *Gateway {
	return &Gateway{root: root}
}

// Root returns the detected tracefs root, auto-detecting it on first call:
// /sys/kernel/tracing is tried first, falling back to
// /sys/kernel/debug/tracing. The result is cached for the Gateway's
// lifetime.
func (g *Gateway) Root() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.root != "" {
		return g.root, nil
	}

	for _, candidate := range []string{constant.DefaultTracefsRoot, constant.DefaultTracefsRootDebug} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			g.root = candidate
			return g.root, nil
		}
	}

	return "", errdefs.New(errdefs.TraceNotSupported, "tracefs is not mounted at any known location")
}

// Path joins the detected tracefs root with the given relative pseudo-file
// path, e.g. Path("tracing_on") or Path("per_cpu/cpu0/trace_pipe_raw").
func (g *Gateway) Path(rel string) (string, error) {
	root, err := g.Root()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

// PerCPURawPath returns the path of CPU cpuIndex's raw binary pipe.
func (g *Gateway) PerCPURawPath(cpuIndex int) (string, error) {
	return g.Path(filepath.Join("per_cpu", cpuName(cpuIndex), "trace_pipe_raw"))
}

func cpuName(cpuIndex int) string {
	return "cpu" + strconv.Itoa(cpuIndex)
}

// wrapOpenError classifies a file-system error into the stable taxonomy of
// spec §7.
func wrapOpenError(err error, path string) error {
	if err == nil {
		return nil
	}
	if os.IsPermission(err) {
		return errdefs.Wrapf(errdefs.TraceNotSupported, err, "permission denied opening %s", path)
	}
	if os.IsNotExist(err) {
		return errdefs.Wrapf(errdefs.TraceNotSupported, err, "%s does not exist", path)
	}
	return errdefs.Wrapf(errdefs.FileError, err, "open %s", path)
}
