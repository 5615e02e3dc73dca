/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package ageing

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/log"

	"github.com/hitrace/tracecore/config"
	"github.com/hitrace/tracecore/pkg/container"
)

// HandleAgeing applies the configured checker for kind to files and
// deletes whatever it selects for removal, returning the surviving list.
// Deletion errors are logged and otherwise ignored — ageing is best
// effort and must never fail a dump.
func HandleAgeing(kind container.Kind, files []FileInfo, param config.AgeingParam) []FileInfo {
	keep, del := Select(kind, files, param)
	for _, f := range del {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			log.L.Warnf("ageing: failed to remove %s: %v", f.Path, err)
		}
	}
	return keep
}

// CleanOrphans deletes any file in dir whose name carries kind's filename
// prefix but is not present in known — files the in-memory list lost
// track of across a crash or restart (spec §4.7).
func CleanOrphans(dir string, kind container.Kind, known map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	prefix := kind.Prefix()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		path := filepath.Join(dir, name)
		if known[path] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.L.Warnf("ageing: failed to remove orphan %s: %v", path, err)
		}
	}
	return nil
}
