/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Command tracecore-worker is the out-of-process dump worker spec §4.5
// describes: forked by the controller, it owns the Dump Strategy's hot
// path and reports back over the Dump Pipe. It takes the pipe directory
// and the controller's PID as positional arguments and exits once the
// controller process disappears.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/containerd/log"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/internal/logging"
	"github.com/hitrace/tracecore/pkg/dumppipe"
	"github.com/hitrace/tracecore/pkg/executor"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <pipe-dir> <controller-pid> [config-path]\n", os.Args[0])
		os.Exit(2)
	}

	pipeDir := os.Args[1]
	controllerPid, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid controller pid %q: %v\n", os.Args[2], err)
		os.Exit(2)
	}
	configPath := ""
	if len(os.Args) > 3 {
		configPath = os.Args[3]
	}

	cfg := config.FillupWithDefaults(configPath)
	logRotateArgs := &logging.RotateLogArgs{
		RotateLogMaxSize:    cfg.RotateLogMaxSize,
		RotateLogMaxBackups: cfg.RotateLogMaxBackups,
		RotateLogMaxAge:     cfg.RotateLogMaxAge,
		RotateLogLocalTime:  cfg.RotateLogLocalTime,
		RotateLogCompress:   cfg.RotateLogCompress,
	}
	if err := logging.SetUp(cfg.LogLevel, cfg.LogToStdout, cfg.LogDir, "tracecore-worker.log", logRotateArgs); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logger: %v\n", err)
		os.Exit(1)
	}

	log.L.Infof("tracecore-worker starting, pid %d, controller pid %d, pipe dir %s", os.Getpid(), controllerPid, pipeDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	loop, err := executor.NewWorkerLoop(ctx, cfg, dumppipe.NewDir(pipeDir))
	if err != nil {
		log.L.WithError(err).Fatal("failed to open dump pipe")
	}
	defer loop.Close()

	go watchController(ctx, cancel, controllerPid)

	if err := loop.Run(ctx); err != nil {
		log.L.WithError(err).Fatal("worker loop exited with error")
	}
	log.L.Info("tracecore-worker exiting")
}

// watchController polls for the controller process's continued existence,
// so an orphaned worker does not linger after its controller dies without
// a chance to signal it (spec §4.5's "worker process" liveness note).
func watchController(ctx context.Context, cancel context.CancelFunc, pid int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := syscall.Kill(pid, 0); err != nil {
				log.L.Warnf("controller pid %d no longer present, shutting down: %v", pid, err)
				cancel()
				return
			}
		}
	}
}
