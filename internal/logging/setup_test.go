/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testLogDirName = "test-rotate-logs"

func countRotatedFiles(testLogDir string, suffix string) int {
	i := 0
	err := filepath.Walk(testLogDir, func(fname string, fi os.FileInfo, _ error) error {
		if fi != nil && !fi.IsDir() && strings.HasSuffix(fname, suffix) {
			i++
		}
		return nil
	})
	if err != nil {
		log.L.Fatal("walk path")
	}
	return i
}

func TestSetUp(t *testing.T) {
	os.RemoveAll(testLogDirName)
	defer os.RemoveAll(testLogDirName)

	logRotateArgs := &RotateLogArgs{
		RotateLogMaxSize:    1, // 1MB
		RotateLogMaxBackups: 5,
		RotateLogMaxAge:     0,
		RotateLogLocalTime:  true,
		RotateLogCompress:   true,
	}
	logLevel := logrus.InfoLevel.String()

	err := SetUp(logLevel, true, testLogDirName, "controller.log", nil)
	require.NoError(t, err)

	err = SetUp(logLevel, false, testLogDirName, "controller.log", nil)
	require.ErrorContains(t, err, "logRotateArgs is needed when logToStdout is false")

	err = SetUp(logLevel, false, testLogDirName, "controller.log", logRotateArgs)
	require.NoError(t, err)
	for i := 0; i < 100000; i++ {
		log.L.Infof("test log, now: %s", time.Now().Format("2006-01-02 15:04:05"))
	}
	require.Equal(t, logRotateArgs.RotateLogMaxBackups, countRotatedFiles(testLogDirName, "log.gz"))
}
