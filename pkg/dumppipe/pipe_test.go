/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumppipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t1 := &TraceDumpTask{
		TimeNs:       12345,
		Status:       StatusWriteDone,
		Code:         errdefs.Success,
		OutputPath:   "/data/log/hitrace/trace_20240101000000@1-0.sys",
		FileSize:     4096,
		TraceStartNs: 100,
		TraceEndNs:   200,
		Mode: ModePayload{
			Kind:           0,
			MaxDurationMs:  5000,
			SizeLimitBytes: 1 << 20,
		},
	}

	buf, err := Encode(t1)
	require.NoError(t, err)
	require.Len(t, buf, RecordSize())

	t2, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, t1.TimeNs, t2.TimeNs)
	require.Equal(t, t1.Status, t2.Status)
	require.Equal(t, t1.Code, t2.Code)
	require.Equal(t, t1.OutputPath, t2.OutputPath)
	require.Equal(t, t1.FileSize, t2.FileSize)
	require.Equal(t, t1.TraceStartNs, t2.TraceStartNs)
	require.Equal(t, t1.TraceEndNs, t2.TraceEndNs)
	require.Equal(t, t1.Mode.MaxDurationMs, t2.Mode.MaxDurationMs)
	require.Equal(t, t1.Mode.SizeLimitBytes, t2.Mode.SizeLimitBytes)
}

func TestEncodeRejectsOversizePath(t *testing.T) {
	longPath := make([]byte, 300)
	for i := range longPath {
		longPath[i] = 'a'
	}
	_, err := Encode(&TraceDumpTask{OutputPath: string(longPath)})
	require.Error(t, err)
}

func TestControllerWorkerRoundTripOverFifos(t *testing.T) {
	dir := NewDir(t.TempDir())
	require.NoError(t, dir.Ensure())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	workerDone := make(chan error, 1)
	var worker *Worker
	go func() {
		var err error
		worker, err = OpenWorker(ctx, dir)
		workerDone <- err
	}()

	controller, err := OpenController(ctx, dir)
	require.NoError(t, err)
	defer controller.Close()

	require.NoError(t, <-workerDone)
	defer worker.Close()

	task := &TraceDumpTask{TimeNs: 42, Status: StatusPending, OutputPath: "/tmp/x.sys"}
	require.NoError(t, controller.TaskSubmit.WriteTask(task))

	got, err := worker.TaskSubmit.ReadTask(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, task.TimeNs, got.TimeNs)
	require.Equal(t, task.OutputPath, got.OutputPath)
}

func TestReadTaskTimesOutWhenNothingWritten(t *testing.T) {
	dir := NewDir(t.TempDir())
	require.NoError(t, dir.Ensure())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	workerDone := make(chan error, 1)
	var worker *Worker
	go func() {
		var err error
		worker, err = OpenWorker(ctx, dir)
		workerDone <- err
	}()

	controller, err := OpenController(ctx, dir)
	require.NoError(t, err)
	defer controller.Close()
	require.NoError(t, <-workerDone)
	defer worker.Close()

	_, err = worker.TaskSubmit.ReadTask(150 * time.Millisecond)
	require.Error(t, err)
	require.Equal(t, errdefs.OutOfTime, errdefs.CodeOf(err))
}
