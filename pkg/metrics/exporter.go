/*
 * Copyright (c) 2021. Alibaba Cloud. All rights reserved.
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package metrics

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/expfmt"
)

// FileExporter periodically snapshots Registry to a plain-text file, the
// way a log-shipping agent would tail it, instead of scraping an HTTP
// endpoint.
type FileExporter struct {
	outputFile string
}

// NewFileExporter creates (truncating) outputFile and returns an exporter
// ready to Export().
func NewFileExporter(outputFile string) (*FileExporter, error) {
	if outputFile == "" {
		return nil, errors.New("metrics file path is empty")
	}
	if _, err := os.Create(outputFile); err != nil {
		return nil, errors.Wrapf(err, "create metrics file %s", outputFile)
	}
	return &FileExporter{outputFile: outputFile}, nil
}

// Export gathers every registered metric family and overwrites
// outputFile with their text-format rendering.
func (e *FileExporter) Export() error {
	families, err := Registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metric families")
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return errors.Wrap(err, "encode metric family")
		}
	}

	return os.WriteFile(e.outputFile, buf.Bytes(), 0644)
}

// RunPeriodic calls Export every interval until stop is closed, logging
// (via the caller-supplied onErr) rather than aborting on a single failed
// write.
func (e *FileExporter) RunPeriodic(interval time.Duration, stop <-chan struct{}, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := e.Export(); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
