/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFillupWithDefaultsNoFile(t *testing.T) {
	c := FillupWithDefaults("")
	require.Equal(t, constDefaultLogLevel(), c.LogLevel)
	require.NotZero(t, c.PoolCeilingBytes)
	require.NotZero(t, c.PoolBlockSizeBytes)
	require.Contains(t, c.AgeingParams, KindSnapshot)
}

func TestLoadConfigFileMissingIsNotFatal(t *testing.T) {
	c := NewDefaultConfig()
	err := LoadConfigFile(filepath.Join(t.TempDir(), "does-not-exist.toml"), c)
	require.NoError(t, err)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracecore.toml")
	contents := `
output_dir = "/tmp/traces"
default_buffer_size_kb = 4096

[ageing.snapshot]
file_count_limit = 3
root_enable = true

[tags.sched]
description = "scheduler events"
flag_bit = 2
kind = "kernel"
enable_paths = ["events/sched/enable"]
format_paths = ["events/sched/sched_switch/format"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	c := NewDefaultConfig()
	require.NoError(t, LoadConfigFile(path, c))
	require.Equal(t, "/tmp/traces", c.OutputDir)
	require.Equal(t, 4096, c.DefaultBufferSizeKb)
	require.Equal(t, 3, c.AgeingParams[KindSnapshot].FileCountLimit)
	require.Equal(t, "kernel", c.Tags["sched"].Kind)
}

func TestAgeingParamForUnknownKind(t *testing.T) {
	c := NewDefaultConfig()
	p := c.AgeingParamFor("bogus")
	require.Equal(t, 5, p.FileCountLimit)
}

func constDefaultLogLevel() string { return "info" }
