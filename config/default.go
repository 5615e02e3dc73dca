/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package config

import (
	"time"

	"github.com/hitrace/tracecore/internal/constant"
)

// NewDefaultConfig returns a Config with every field set to its built-in
// default. LoadConfigFile overrides fields found in the on-disk TOML file
// on top of this base; a missing or malformed config file is never fatal
// (spec §7: configuration-parse failure falls back to defaults).
func NewDefaultConfig() *Config {
	return &Config{
		RootDir:          constant.DefaultRootDir,
		OutputDir:        constant.DefaultOutputDir,
		WorkerBinaryPath: "",

		LogLevel:    constant.DefaultLogLevel,
		LogToStdout: false,

		RotateLogMaxSize:    constant.DefaultRotateLogMaxSize,
		RotateLogMaxBackups: constant.DefaultRotateLogMaxBackups,
		RotateLogMaxAge:     constant.DefaultRotateLogMaxAge,
		RotateLogLocalTime:  constant.DefaultRotateLogLocalTime,
		RotateLogCompress:   constant.DefaultRotateLogCompress,

		DefaultBufferSizeKb:  constant.MinBufferSizeKb * 4,
		DefaultFileSizeBytes: constant.DefaultFileSizeBytes,
		PoolBlockSizeBytes:   constant.DefaultBlockSize,
		PoolCeilingBytes:     constant.DefaultPoolCeiling,

		EnableMetrics: true,

		PipeTimeout: 5 * time.Second,
	}
}

func defaultAgeingParams() map[string]AgeingParam {
	return map[string]AgeingParam{
		KindSnapshot:  {FileCountLimit: constant.DefaultMaxFileCount, RootEnable: true},
		KindRecording: {FileCountLimit: constant.DefaultMaxFileCount, RootEnable: true},
		KindCache:     {FileCountLimit: constant.DefaultMaxFileCount, RootEnable: true},
	}
}
