/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dumppipe

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/fifo"

	"github.com/hitrace/tracecore/internal/constant"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

// Role distinguishes which side of a pipe a process opens it as, since
// the open flags differ by direction (spec §4.5).
type Role int

const (
	RoleController Role = iota
	RoleWorker
)

// Dir is the fixed directory holding the three named FIFOs, created by
// the controller before the worker is spawned.
type Dir struct {
	path string
}

func NewDir(path string) *Dir { return &Dir{path: path} }

func (d *Dir) taskSubmitPath() string  { return filepath.Join(d.path, constant.TaskSubmitPipeName) }
func (d *Dir) syncReturnPath() string  { return filepath.Join(d.path, constant.SyncReturnPipeName) }
func (d *Dir) asyncReturnPath() string { return filepath.Join(d.path, constant.AsyncReturnPipeName) }

// Ensure creates the pipe directory and the three FIFOs, mode 0666, if
// they do not already exist. Called by the controller before the worker
// is spawned.
func (d *Dir) Ensure() error {
	if err := os.MkdirAll(d.path, constant.FifoDirPerm); err != nil {
		return errdefs.Wrap(errdefs.PipeCreateError, err, "create dump pipe directory")
	}
	for _, p := range []string{d.taskSubmitPath(), d.syncReturnPath(), d.asyncReturnPath()} {
		if err := syscall.Mkfifo(p, 0666); err != nil && err != syscall.EEXIST {
			return errdefs.Wrapf(errdefs.PipeCreateError, err, "create fifo %s", p)
		}
	}
	return nil
}

// Destroy unlinks the three FIFOs on orderly shutdown (spec §4.5).
func (d *Dir) Destroy() {
	for _, p := range []string{d.taskSubmitPath(), d.syncReturnPath(), d.asyncReturnPath()} {
		_ = os.Remove(p)
	}
}

// Pipe is one opened end of a named FIFO.
type Pipe struct {
	f    io.ReadWriteCloser
	name string
}

// openTaskSubmit opens task-submit: worker reads non-blocking, controller
// writes blocking (spec §4.5).
func openTaskSubmit(ctx context.Context, d *Dir, role Role) (*Pipe, error) {
	flags := syscall.O_CREAT
	if role == RoleWorker {
		flags |= syscall.O_RDONLY | syscall.O_NONBLOCK
	} else {
		flags |= syscall.O_WRONLY
	}
	return open(ctx, d.taskSubmitPath(), flags)
}

// openReturnPipe opens sync-return or async-return: worker writes
// blocking, controller reads non-blocking (spec §4.5).
func openReturnPipe(ctx context.Context, path string, role Role) (*Pipe, error) {
	flags := syscall.O_CREAT
	if role == RoleWorker {
		flags |= syscall.O_WRONLY
	} else {
		flags |= syscall.O_RDONLY | syscall.O_NONBLOCK
	}
	return open(ctx, path, flags)
}

func open(ctx context.Context, path string, flags int) (*Pipe, error) {
	f, err := fifo.OpenFifo(ctx, path, flags, 0666)
	if err != nil {
		return nil, errdefs.Wrapf(errdefs.PipeCreateError, err, "open fifo %s", path)
	}
	return &Pipe{f: f, name: path}, nil
}

func (p *Pipe) Close() error {
	return p.f.Close()
}

// WriteTask writes one TraceDumpTask record. The write is atomic because
// recordSize is well under PIPE_BUF.
func (p *Pipe) WriteTask(t *TraceDumpTask) error {
	buf, err := Encode(t)
	if err != nil {
		return err
	}
	if _, err := p.f.Write(buf); err != nil {
		return errdefs.Wrapf(errdefs.PipeCreateError, err, "write task record to %s", p.name)
	}
	return nil
}

// ReadTask polls for one TraceDumpTask record, sleeping
// constant.PipePollInterval between attempts, until timeout elapses.
// Timing out returns errdefs.OutOfTime, a recoverable condition.
func (p *Pipe) ReadTask(timeout time.Duration) (*TraceDumpTask, error) {
	buf := make([]byte, RecordSize())
	deadline := time.Now().Add(timeout)

	for {
		n, err := p.f.Read(buf)
		if err == nil && n == len(buf) {
			return Decode(buf)
		}
		if err != nil && !isAgainOrEmpty(err) {
			return nil, errdefs.Wrapf(errdefs.PipeCreateError, err, "read task record from %s", p.name)
		}

		if time.Now().After(deadline) {
			return nil, errdefs.New(errdefs.OutOfTime, "timed out waiting for task record on "+p.name)
		}
		time.Sleep(constant.PipePollInterval)
	}
}

func isAgainOrEmpty(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, io.EOF)
}

// Controller bundles the three pipe ends as the controller process uses
// them: blocking write to task-submit, non-blocking read of both returns.
type Controller struct {
	TaskSubmit  *Pipe
	SyncReturn  *Pipe
	AsyncReturn *Pipe
}

// OpenController opens all three pipes from the controller's side. The
// directory and FIFOs must already exist (see Dir.Ensure).
func OpenController(ctx context.Context, d *Dir) (*Controller, error) {
	submit, err := openTaskSubmit(ctx, d, RoleController)
	if err != nil {
		return nil, err
	}
	sync, err := openReturnPipe(ctx, d.syncReturnPath(), RoleController)
	if err != nil {
		submit.Close()
		return nil, err
	}
	async, err := openReturnPipe(ctx, d.asyncReturnPath(), RoleController)
	if err != nil {
		submit.Close()
		sync.Close()
		return nil, err
	}
	return &Controller{TaskSubmit: submit, SyncReturn: sync, AsyncReturn: async}, nil
}

func (c *Controller) Close() {
	c.TaskSubmit.Close()
	c.SyncReturn.Close()
	c.AsyncReturn.Close()
}

// Worker bundles the three pipe ends as the dump worker process uses
// them: non-blocking read of task-submit, blocking write of both returns.
type Worker struct {
	TaskSubmit  *Pipe
	SyncReturn  *Pipe
	AsyncReturn *Pipe
}

// OpenWorker opens all three pipes from the worker's side.
func OpenWorker(ctx context.Context, d *Dir) (*Worker, error) {
	submit, err := openTaskSubmit(ctx, d, RoleWorker)
	if err != nil {
		return nil, err
	}
	sync, err := openReturnPipe(ctx, d.syncReturnPath(), RoleWorker)
	if err != nil {
		submit.Close()
		return nil, err
	}
	async, err := openReturnPipe(ctx, d.asyncReturnPath(), RoleWorker)
	if err != nil {
		submit.Close()
		sync.Close()
		return nil, err
	}
	return &Worker{TaskSubmit: submit, SyncReturn: sync, AsyncReturn: async}, nil
}

func (w *Worker) Close() {
	w.TaskSubmit.Close()
	w.SyncReturn.Close()
	w.AsyncReturn.Close()
}
