/*
 * Copyright (c) 2020. Ant Group. All rights reserved.
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package errdefs defines the stable wire-protocol error taxonomy (see
// spec §7) and the small predicate helpers built on top of it, the way
// the teacher's pkg/errdefs builds predicates over sentinel errors.
package errdefs

import (
	"github.com/pkg/errors"
)

// Code is the stable, wire-transmissible error code. Values never change
// once assigned: TraceDumpTask.code travels over the Dump Pipe.
type Code uint8

const (
	Unset Code = iota
	Success
	TraceNotSupported
	TraceIsOccupied
	TagError
	FileError
	WriteTraceInfoError
	WrongTraceMode
	OutOfTime
	ForkError
	InvalidMaxDuration
	EpollWaitError
	PipeCreateError
	AsyncDump
	BufferExhausted
	TraceTaskDumpTimeout
	UnknownTraceDumpType
)

func (c Code) String() string {
	switch c {
	case Unset:
		return "UNSET"
	case Success:
		return "SUCCESS"
	case TraceNotSupported:
		return "TRACE_NOT_SUPPORTED"
	case TraceIsOccupied:
		return "TRACE_IS_OCCUPIED"
	case TagError:
		return "TAG_ERROR"
	case FileError:
		return "FILE_ERROR"
	case WriteTraceInfoError:
		return "WRITE_TRACE_INFO_ERROR"
	case WrongTraceMode:
		return "WRONG_TRACE_MODE"
	case OutOfTime:
		return "OUT_OF_TIME"
	case ForkError:
		return "FORK_ERROR"
	case InvalidMaxDuration:
		return "INVALID_MAX_DURATION"
	case EpollWaitError:
		return "EPOLL_WAIT_ERROR"
	case PipeCreateError:
		return "PIPE_CREATE_ERROR"
	case AsyncDump:
		return "ASYNC_DUMP"
	case BufferExhausted:
		return "BUFFER_EXHAUSTED"
	case TraceTaskDumpTimeout:
		return "TRACE_TASK_DUMP_TIMEOUT"
	case UnknownTraceDumpType:
		return "UNKNOWN_TRACE_DUMP_TYPE"
	default:
		return "UNKNOWN"
	}
}

// TraceError carries a stable Code plus the underlying cause, so callers
// across the Dump Pipe boundary can branch on Code while logs keep the
// full wrapped context.
type TraceError struct {
	Code  Code
	cause error
}

func New(code Code, msg string) *TraceError {
	return &TraceError{Code: code, cause: errors.New(msg)}
}

func Wrap(code Code, cause error, msg string) *TraceError {
	return &TraceError{Code: code, cause: errors.Wrap(cause, msg)}
}

func Wrapf(code Code, cause error, format string, args ...interface{}) *TraceError {
	return &TraceError{Code: code, cause: errors.Wrapf(cause, format, args...)}
}

func (e *TraceError) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.cause.Error()
}

func (e *TraceError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the Code from err: Success for a nil err, Unset if err is
// not a *TraceError.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var te *TraceError
	if errors.As(err, &te) {
		return te.Code
	}
	return Unset
}

// Sentinel errors used internally, mirroring teacher's errdefs package.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrClosed        = errors.New("closed")
)

func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsClosed(err error) bool        { return errors.Is(err, ErrClosed) }
