/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/xid"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/pkg/dumppipe"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

// WorkerHandle is the controller side of a spawned out-of-process dump
// worker: the opened Dump Pipe plus the means to tear both down together.
type WorkerHandle struct {
	Pipe    *dumppipe.Controller
	dir     *dumppipe.Dir
	process *os.Process
}

// SpawnWorker forks cfg.WorkerBinaryPath as the out-of-process dump worker
// (spec §4.5), giving it a freshly named pipe directory under cfg.RootDir.
// The directory name is an xid so repeated spawns across controller
// restarts never collide (SPEC_FULL.md §2's rationale for depending on
// rs/xid). It is the caller's job to decide whether to use WorkerHandle or
// drive dumpstrategy.Run in-process via Executor directly; both are valid
// deployments of the same template (see executor.go's doc comment).
func SpawnWorker(ctx context.Context, cfg *config.Config) (*WorkerHandle, error) {
	if cfg.WorkerBinaryPath == "" {
		return nil, errdefs.New(errdefs.ForkError, "no worker_binary_path configured")
	}

	pipeDir := filepath.Join(cfg.RootDir, "pipe-"+xid.New().String())
	dir := dumppipe.NewDir(pipeDir)
	if err := dir.Ensure(); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.WorkerBinaryPath, pipeDir, strconv.Itoa(os.Getpid()))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		dir.Destroy()
		return nil, errdefs.Wrap(errdefs.ForkError, err, "start dump worker process")
	}

	pipe, err := dumppipe.OpenController(ctx, dir)
	if err != nil {
		_ = cmd.Process.Kill()
		dir.Destroy()
		return nil, err
	}

	return &WorkerHandle{Pipe: pipe, dir: dir, process: cmd.Process}, nil
}

// Close tears down the pipe and signals the worker process to exit; the
// worker's own watchController loop also exits once it observes the
// controller PID disappear, so Close is a courtesy, not the only path out.
func (h *WorkerHandle) Close() error {
	h.Pipe.Close()
	h.dir.Destroy()
	return h.process.Signal(os.Interrupt)
}
