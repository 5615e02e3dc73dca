/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumpstrategy

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hitrace/tracecore/pkg/container"
	"github.com/hitrace/tracecore/pkg/tracefs"
)

// bootClockNow returns the current boot-clock timestamp in nanoseconds,
// the same clock source cpu_raw pages are stamped with.
func bootClockNow() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}

// readCPUFreqTable reads each online CPU's current scaling frequency
// directly from sysfs; unreadable entries (offline CPU, no cpufreq
// driver) are skipped rather than failing the dump.
func readCPUFreqTable(cpuCount int) []container.CPUFreq {
	table := make([]container.CPUFreq, 0, cpuCount)
	for i := 0; i < cpuCount; i++ {
		path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cpufreq/scaling_cur_freq", i)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		state, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
		if err != nil {
			continue
		}
		table = append(table, container.CPUFreq{CPUID: uint32(i), State: uint32(state)})
	}
	return table
}

// baseInfoKV assembles the base-info key/value block (spec §4.3 step 2):
// device identity and kernel build info, read through the Trace-FS
// Gateway where available and from the runtime otherwise.
func baseInfoKV(gw *tracefs.Gateway) map[string]string {
	kv := map[string]string{
		"arch":   runtime.GOARCH,
		"os":     runtime.GOOS,
		"num_cpu": strconv.Itoa(runtime.NumCPU()),
	}
	if release, err := unameRelease(); err == nil {
		kv["kernel_release"] = release
	}
	if version, err := gw.ReadText("version"); err == nil {
		kv["trace_version"] = strings.TrimSpace(version)
	}
	return kv
}

func unameRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return charsToString(uts.Release[:]), nil
}

func charsToString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
