/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package executor

import (
	"sync"

	"github.com/hitrace/tracecore/pkg/dumppipe"
)

// Task is one in-flight or completed dump tracked by the registry, keyed
// by its submission time (spec §4.6's add/update/remove-by-time).
type Task struct {
	TimeNs     uint64
	Status     dumppipe.Status
	Wire       dumppipe.TraceDumpTask // latest wire snapshot for this task
	OnComplete func(*dumppipe.TraceDumpTask)
}

// Registry is the Executor's task registry, guarded by its own mutex
// separate from the StateMachine's (spec §4.6's concurrency note).
type Registry struct {
	mu    sync.Mutex
	tasks map[uint64]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uint64]*Task)}
}

func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.TimeNs] = t
}

// Update applies fn to the task submitted at timeNs, if tracked.
func (r *Registry) Update(timeNs uint64, fn func(*Task)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[timeNs]
	if !ok {
		return false
	}
	fn(t)
	return true
}

func (r *Registry) Remove(timeNs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, timeNs)
}

func (r *Registry) Get(timeNs uint64) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[timeNs]
	return t, ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) IsEmpty() bool {
	return r.Count() == 0
}
