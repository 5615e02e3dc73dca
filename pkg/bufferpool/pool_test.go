/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package bufferpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitrace/tracecore/pkg/errdefs"
)

func TestAllocateRespectsCeiling(t *testing.T) {
	p := New(10, 20)

	b1, err := p.Allocate(1, 0)
	require.NoError(t, err)
	require.NotNil(t, b1)

	b2, err := p.Allocate(1, 1)
	require.NoError(t, err)
	require.NotNil(t, b2)

	_, err = p.Allocate(1, 2)
	require.Error(t, err)
	require.Equal(t, errdefs.BufferExhausted, errdefs.CodeOf(err))
}

func TestReleaseReclaimsCapacity(t *testing.T) {
	p := New(10, 10)

	_, err := p.Allocate(1, 0)
	require.NoError(t, err)

	_, err = p.Allocate(2, 0)
	require.Error(t, err)

	p.Release(1)
	require.Equal(t, int64(0), p.TotalUsed())

	b, err := p.Allocate(2, 0)
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestBlocksOfSnapshot(t *testing.T) {
	p := New(4, 100)
	_, _ = p.Allocate(7, 0)
	_, _ = p.Allocate(7, 1)

	blocks := p.BlocksOf(7)
	require.Len(t, blocks, 2)
	require.Equal(t, 0, blocks[0].CPU())
	require.Equal(t, 1, blocks[1].CPU())
}

func TestAppendRespectsCapacity(t *testing.T) {
	p := New(4, 100)
	b, _ := p.Allocate(1, 0)

	require.True(t, b.Append([]byte{1, 2}))
	require.True(t, b.Append([]byte{3}))
	require.False(t, b.Append([]byte{4, 5}))
	require.Equal(t, []byte{1, 2, 3}, b.Bytes())
}

func TestWaitAllocateBlocksUntilReleased(t *testing.T) {
	p := New(10, 10)
	_, err := p.Allocate(1, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := p.waitAllocate(ctx, 2, 0)
		require.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitAllocate did not unblock after release")
	}
}
