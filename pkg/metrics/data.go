/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package metrics exposes the tracing core's Prometheus metrics (spec's
// ambient-stack expansion): dump durations, buffer pool occupancy, ageing
// deletion counts, and pipe timeouts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var dumpDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30}

var (
	DumpElapsedHists = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracecore_dump_elapsed_seconds",
			Help:    "Elapsed wall time of a single dump, by trace kind.",
			Buckets: dumpDurationBuckets,
		},
		[]string{"kind"},
	)

	DumpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracecore_dump_total",
			Help: "Total dumps completed, by trace kind and final status code.",
		},
		[]string{"kind", "status"},
	)

	BufferPoolUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracecore_buffer_pool_used_bytes",
			Help: "Bytes currently checked out of the Buffer Pool across all tasks.",
		},
	)

	BufferExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracecore_buffer_exhausted_total",
			Help: "Number of times a dump ended early because the Buffer Pool ceiling was hit.",
		},
	)

	AgeingDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracecore_ageing_deleted_total",
			Help: "Files removed by ageing, by trace kind.",
		},
		[]string{"kind"},
	)

	PipeTimeoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracecore_pipe_timeout_total",
			Help: "Dump Pipe reads that hit OUT_OF_TIME, by pipe name.",
		},
		[]string{"pipe"},
	)
)
