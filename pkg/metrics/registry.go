/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide collector registry. It is created and
// populated at package init whatever config.Config.EnableMetrics says;
// FileExporter writes it to a file, and no HTTP endpoint serves it.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		DumpElapsedHists,
		DumpTotal,
		BufferPoolUsedBytes,
		BufferExhaustedTotal,
		AgeingDeletedTotal,
		PipeTimeoutTotal,
	)
}
