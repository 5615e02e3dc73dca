/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package bufferpool implements the process-wide Buffer Pool (spec §4.2):
// a bounded set of fixed-size blocks, indexed by task id and tagged with
// CPU index, enforcing a global byte ceiling. The ceiling is enforced with
// a weighted semaphore the same way pkg/supervisor bounds concurrent
// control-message handlers in the teacher.
package bufferpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

// TaskID identifies one dump task; it doubles as the Buffer Pool key
// (spec §3, GLOSSARY).
type TaskID uint64

// Pool is the process-wide Buffer Pool. All metadata operations
// (Allocate/Release/BlocksOf bookkeeping) are serialized by mu; the large
// byte copies inside Block.Append happen without holding mu, since they
// operate on a block the caller already owns exclusively (spec §4.2).
type Pool struct {
	mu        sync.Mutex
	blockSize int
	ceiling   int64
	sem       *semaphore.Weighted
	byTask    map[TaskID][]*Block
	used      int64
}

// New creates a Pool with the given fixed block size and total byte
// ceiling.
func New(blockSize int, ceilingBytes int64) *Pool {
	return &Pool{
		blockSize: blockSize,
		ceiling:   ceilingBytes,
		sem:       semaphore.NewWeighted(ceilingBytes),
		byTask:    make(map[TaskID][]*Block),
	}
}

// BlockSize returns the fixed per-block capacity.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Allocate atomically reserves one block of the configured fixed size for
// taskID/cpu. It returns a *TraceError with code BufferExhausted, and a
// nil block, if the pool ceiling would be exceeded.
func (p *Pool) Allocate(taskID TaskID, cpu int) (*Block, error) {
	if !p.sem.TryAcquire(int64(p.blockSize)) {
		return nil, errdefs.New(errdefs.BufferExhausted, "buffer pool ceiling reached")
	}

	b := newBlock(cpu, p.blockSize)

	p.mu.Lock()
	p.byTask[taskID] = append(p.byTask[taskID], b)
	p.used += int64(p.blockSize)
	p.mu.Unlock()

	return b, nil
}

// Release drops all blocks owned by taskID, reclaiming their capacity in
// one step. Safe to call on an unknown or already-released task id.
func (p *Pool) Release(taskID TaskID) {
	p.mu.Lock()
	blocks := p.byTask[taskID]
	delete(p.byTask, taskID)
	freed := int64(len(blocks)) * int64(p.blockSize)
	p.used -= freed
	p.mu.Unlock()

	if freed > 0 {
		p.sem.Release(freed)
	}
}

// BlocksOf returns a snapshot view of taskID's blocks, in allocation
// order, for the assembler to serialize.
func (p *Pool) BlocksOf(taskID TaskID) []*Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	blocks := p.byTask[taskID]
	out := make([]*Block, len(blocks))
	copy(out, blocks)
	return out
}

// UsedBytes returns the byte total currently held by taskID.
func (p *Pool) UsedBytes(taskID TaskID) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.byTask[taskID])) * int64(p.blockSize)
}

// TotalUsed returns the pool-wide allocated byte total.
func (p *Pool) TotalUsed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Ceiling returns the configured pool-wide byte ceiling.
func (p *Pool) Ceiling() int64 {
	return p.ceiling
}

// waitAllocate is used only by tests that want to assert blocking
// behavior against the underlying semaphore; production callers always
// use the non-blocking Allocate.
func (p *Pool) waitAllocate(ctx context.Context, taskID TaskID, cpu int) (*Block, error) {
	if err := p.sem.Acquire(ctx, int64(p.blockSize)); err != nil {
		return nil, err
	}
	b := newBlock(cpu, p.blockSize)
	p.mu.Lock()
	p.byTask[taskID] = append(p.byTask[taskID], b)
	p.used += int64(p.blockSize)
	p.mu.Unlock()
	return b, nil
}
