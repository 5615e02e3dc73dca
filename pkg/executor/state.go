/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package executor implements the Dump Executor: the mode state machine
// and task registry driving the controller side of a dump (spec §4.6).
package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

// State is one of the Dump Executor's four mode states (spec §4.6).
type State int

const (
	StateIdle State = iota
	StateRunning
	StateLooping
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateLooping:
		return "LOOPING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// StateMachine guards the single mutable mode field with a mutex and
// broadcasts every transition on a condition variable, the way the
// controller's loop thread waits on RUNNING/STOPPING (spec §5).
type StateMachine struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State

	// asyncReadCancelled/asyncWriteCancelled mirror the original
	// implementation's independent read/write interrupt flags for an
	// in-flight async snapshot (SPEC_FULL.md §3), separate from the
	// loop run-flag the recording/cache variants observe.
	asyncReadCancelled  atomic.Bool
	asyncWriteCancelled atomic.Bool
}

func NewStateMachine() *StateMachine {
	sm := &StateMachine{state: StateIdle}
	sm.cond = sync.NewCond(&sm.mu)
	return sm
}

func (sm *StateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// TryStartRunning performs the IDLE -> RUNNING transition, used by a
// single synchronous snapshot/cache dump. Fails if not currently IDLE.
func (sm *StateMachine) TryStartRunning() error {
	return sm.transitionFrom(StateIdle, StateRunning)
}

// TryStartLooping performs the IDLE -> LOOPING transition used by
// start_recording_loop/start_cache_loop. This is precheck_loop's
// atomic test-and-set (spec §4.6).
func (sm *StateMachine) TryStartLooping() error {
	return sm.transitionFrom(StateIdle, StateLooping)
}

// RequestStop performs LOOPING -> STOPPING, signalling the loop worker to
// exit cleanly at its next observation point.
func (sm *StateMachine) RequestStop() error {
	return sm.transitionFrom(StateLooping, StateStopping)
}

// Finish performs RUNNING -> IDLE or STOPPING -> IDLE once the worker has
// acknowledged completion.
func (sm *StateMachine) Finish() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = StateIdle
	sm.cond.Broadcast()
}

func (sm *StateMachine) transitionFrom(from, to State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != from {
		return errdefs.New(errdefs.TraceIsOccupied, "cannot transition from "+sm.state.String()+" to "+to.String())
	}
	sm.state = to
	sm.cond.Broadcast()
	return nil
}

// WaitForIdle blocks until the state reaches IDLE or timeout elapses,
// mirroring stop_recording_loop/stop_cache_loop's 5-second hard timeout
// on the condition-variable wait (spec §4.6, §5).
func (sm *StateMachine) WaitForIdle(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		sm.mu.Lock()
		for sm.state != StateIdle {
			sm.cond.Wait()
		}
		sm.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errdefs.New(errdefs.TraceTaskDumpTimeout, "timed out waiting for IDLE state")
	}
}

// CancelAsyncRead requests that an in-flight async dump's read phase stop
// at its next observation point, independent of CancelAsyncWrite.
func (sm *StateMachine) CancelAsyncRead() { sm.asyncReadCancelled.Store(true) }

// CancelAsyncWrite requests that an in-flight async dump's write phase
// (container assembly, after the read phase has produced its buffers)
// stop at its next observation point.
func (sm *StateMachine) CancelAsyncWrite() { sm.asyncWriteCancelled.Store(true) }

// AsyncReadCancelled reports and clears the read-cancel flag.
func (sm *StateMachine) AsyncReadCancelled() bool {
	return sm.asyncReadCancelled.CompareAndSwap(true, false)
}

// AsyncWriteCancelled reports and clears the write-cancel flag.
func (sm *StateMachine) AsyncWriteCancelled() bool {
	return sm.asyncWriteCancelled.CompareAndSwap(true, false)
}
