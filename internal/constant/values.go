/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// constants shared across the tracing core

package constant

import "time"

const (
	// DefaultTracefsRoot is tried first; DefaultTracefsRootDebug is the fallback.
	DefaultTracefsRoot      = "/sys/kernel/tracing"
	DefaultTracefsRootDebug = "/sys/kernel/debug/tracing"

	DefaultOutputDir = "/data/log/hitrace"
	DefaultRootDir   = "/var/lib/tracecore"

	// DefaultBlockSize is the fixed Buffer Pool block size (10 MiB).
	DefaultBlockSize = 10 * 1024 * 1024
	// DefaultPoolCeiling is the process-wide Buffer Pool ceiling (300 MiB).
	DefaultPoolCeiling = 300 * 1024 * 1024

	MinBufferSizeKb      = 256
	MaxBufferSizeKbLinux = 300 * 1024
	MaxBufferSizeKbHwMod = 1024 * 1024
	MinFileSizeBytes     = 50 * 1024 * 1024
	MaxFileSizeBytes     = 500 * 1024 * 1024
	DefaultFileSizeBytes = 100 * 1024 * 1024
	DefaultMaxFileCount  = 5
	DefaultMinKeptFiles  = 2
	MaxNewFileAttempts   = 5
	StopLoopTimeout      = 5 * time.Second
	AsyncDumpTimeout     = 5 * time.Second
	PipePollInterval     = 50 * time.Millisecond
	RingBufferPageSize   = 4096
	OutputPathMaxLen     = 256
	TraceFilePerm        = 0644
	FifoDirPerm          = 0755

	// PinnedXattrName is the extended attribute that marks a snapshot file as pinned.
	PinnedXattrName = "user.linknum"

	SnapshotFilePrefix  = "trace_"
	RecordingFilePrefix = "record_trace_"
	CacheFilePrefix     = "cache_trace_"
	TraceFileSuffix     = ".sys"

	SavedEventsFormatFileName = "saved_events_format.json"

	TaskSubmitPipeName = "trace_task_submit"
	SyncReturnPipeName = "trace_sync_return"
	AsyncReturnPipeName = "trace_async_return"
)

const (
	DefaultLogLevel string = "info"

	// Log rotation
	DefaultRotateLogMaxSize    = 200 // 200 megabytes
	DefaultRotateLogMaxBackups = 5
	DefaultRotateLogMaxAge     = 0 // days
	DefaultRotateLogLocalTime  = true
	DefaultRotateLogCompress   = true
)
