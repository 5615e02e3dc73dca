/*
 * Copyright (c) 2020. Ant Group. All rights reserved.
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package config loads the process configuration consumed by the tracing
// core (spec §6.4): the tag catalog, tag groups, per-kind ageing
// parameters, and the numeric defaults for buffer and file sizes. The
// external front-end's argument parsing is out of scope; this package only
// reads the TOML file it leaves behind.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hitrace/tracecore/internal/logging"
)

const (
	KindSnapshot  = "snapshot"
	KindRecording = "recording"
	KindCache     = "cache"
)

// Config is the process-wide configuration for both the controller and the
// dump worker. Fields marked `toml:"-"` are set programmatically (by the
// external front-end or by FillupWithDefaults), never read from the file.
type Config struct {
	RootDir          string `toml:"-"`
	OutputDir        string `toml:"output_dir"`
	WorkerBinaryPath string `toml:"worker_binary_path"`

	LogLevel    string `toml:"-"`
	LogDir      string `toml:"log_dir"`
	LogToStdout bool   `toml:"log_to_stdout"`

	RotateLogMaxSize    int  `toml:"log_rotate_max_size"`
	RotateLogMaxBackups int  `toml:"log_rotate_max_backups"`
	RotateLogMaxAge     int  `toml:"log_rotate_max_age"`
	RotateLogLocalTime  bool `toml:"log_rotate_local_time"`
	RotateLogCompress   bool `toml:"log_rotate_compress"`

	// DefaultBufferSizeKb is the snapshot ftrace ring-buffer size used when
	// the caller does not specify one via `bufferSize:` (§6.5).
	DefaultBufferSizeKb int `toml:"default_buffer_size_kb"`
	// DefaultFileSizeBytes is the per-file cap used by recording/snapshot
	// when the caller does not specify `fileSize:`.
	DefaultFileSizeBytes int `toml:"default_file_size_bytes"`

	PoolBlockSizeBytes int `toml:"pool_block_size_bytes"`
	PoolCeilingBytes   int `toml:"pool_ceiling_bytes"`

	// SnapshotAgeingEnabled gates the snapshot ageing checker independent
	// of the per-kind AgeingParam.RootEnable override.
	SnapshotAgeingEnabled bool `toml:"snapshot_ageing_enabled"`
	// AgeingParams is keyed by Kind{Snapshot,Recording,Cache}.
	AgeingParams map[string]AgeingParam `toml:"ageing"`

	Tags       map[string]TraceTag `toml:"tags"`
	TagGroups  map[string][]string `toml:"tag_groups"`

	EnableMetrics bool   `toml:"enable_metrics"`
	MetricsFile   string `toml:"metrics_file"`

	PipeTimeout time.Duration `toml:"-"`
}

// AgeingParam mirrors the per-kind ageing configuration in §6.4: a
// file-count cap, a total-size cap (KiB), and the root-mode override
// documented in SPEC_FULL.md's supplemented-features section.
type AgeingParam struct {
	FileCountLimit int  `toml:"file_count_limit"`
	FileSizeKbLimit int `toml:"file_size_kb_limit"`
	RootEnable     bool `toml:"root_enable"`
}

// TraceTag is the static catalog entry described in spec §3's TraceTag
// entity: a named subset of kernel trace events.
type TraceTag struct {
	Description string   `toml:"description"`
	FlagBit     uint64    `toml:"flag_bit"`
	Kind        string   `toml:"kind"` // "user" | "kernel"
	EnablePaths []string `toml:"enable_paths"`
	FormatPaths []string `toml:"format_paths"`
}

// LoadConfigFile loads and merges a TOML configuration file into c. A
// missing file is not an error: FillupWithDefaults has already populated c
// with built-in defaults, and spec §7 requires the core never refuse to
// start because of a bad or absent config file.
func LoadConfigFile(path string, c *Config) error {
	if path == "" {
		return nil
	}
	tree, err := toml.LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "load config file %q", path)
	}
	if err := tree.Unmarshal(c); err != nil {
		return errors.Wrapf(err, "unmarshal config file %q", path)
	}
	return nil
}

// FillupWithDefaults applies NewDefaultConfig()'s values for any field the
// loaded TOML left at its zero value, then attempts to load configPath on
// top. Per spec §7, a configuration-parse failure logs a warning and keeps
// running on defaults rather than aborting startup.
func FillupWithDefaults(configPath string) *Config {
	c := NewDefaultConfig()

	if err := LoadConfigFile(configPath, c); err != nil {
		// The caller's logger may not be set up yet; fall through to the
		// standard logrus default output rather than failing startup.
		logrus.Warnf("failed to load config file %q, using defaults: %v", configPath, err)
	}

	if c.LogDir == "" {
		c.LogDir = c.RootDir + "/" + logging.DefaultLogDirName
	}
	if c.AgeingParams == nil {
		c.AgeingParams = defaultAgeingParams()
	}
	if c.DefaultBufferSizeKb == 0 {
		c.DefaultBufferSizeKb = NewDefaultConfig().DefaultBufferSizeKb
	}
	if c.DefaultFileSizeBytes == 0 {
		c.DefaultFileSizeBytes = NewDefaultConfig().DefaultFileSizeBytes
	}
	if c.PoolBlockSizeBytes == 0 {
		c.PoolBlockSizeBytes = NewDefaultConfig().PoolBlockSizeBytes
	}
	if c.PoolCeilingBytes == 0 {
		c.PoolCeilingBytes = NewDefaultConfig().PoolCeilingBytes
	}
	if c.PipeTimeout == 0 {
		c.PipeTimeout = NewDefaultConfig().PipeTimeout
	}

	return c
}

// AgeingParamFor returns the configured ageing parameters for kind,
// defaulting to a Count checker at constant.DefaultMaxFileCount when the
// kind is absent from the map.
func (c *Config) AgeingParamFor(kind string) AgeingParam {
	if p, ok := c.AgeingParams[kind]; ok {
		return p
	}
	return AgeingParam{FileCountLimit: 5, RootEnable: true}
}
