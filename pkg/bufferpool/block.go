/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package bufferpool

import "sync"

// Block is a fixed-capacity byte region owned by the Pool (spec §4.2). A
// block carries no back-pointer to its owning Pool or task — per
// DESIGN.md, it is a move-only value in a table the Pool owns, shared with
// readers/writers within one task via ordinary Go pointer aliasing (the
// garbage collector, not manual refcounting, reclaims the backing array
// once the Pool drops its own reference in Release).
type Block struct {
	cpu  int
	data []byte
	used int
	mu   sync.Mutex
}

func newBlock(cpu int, size int) *Block {
	return &Block{cpu: cpu, data: make([]byte, size)}
}

// CPU returns the CPU index this block is tagged with.
func (b *Block) CPU() int {
	return b.cpu
}

// Append copies src into the block's free tail. It returns false, copying
// nothing, if src would not fit — the caller should then request a new
// block from the Pool. Append is serialized within a block: concurrent
// callers on the same block are safe, but the Dump Strategy's hot path
// only ever has one writer per block at a time (spec §4.2).
func (b *Block) Append(src []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(src) > len(b.data)-b.used {
		return false
	}
	copy(b.data[b.used:], src)
	b.used += len(src)
	return true
}

// Bytes returns a snapshot of the block's written region. The assembler
// reads this to serialize the per-CPU raw segment; it must not retain the
// slice past the block's Release.
func (b *Block) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[:b.used]
}

// UsedBytes returns how many bytes have been appended so far.
func (b *Block) UsedBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the free tail length.
func (b *Block) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.used
}
