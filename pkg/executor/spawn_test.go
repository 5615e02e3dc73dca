/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/pkg/errdefs"
)

func TestSpawnWorkerRejectsMissingBinaryPath(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.WorkerBinaryPath = ""

	_, err := SpawnWorker(context.Background(), cfg)
	require.Error(t, err)
	require.Equal(t, errdefs.ForkError, errdefs.CodeOf(err))
}
