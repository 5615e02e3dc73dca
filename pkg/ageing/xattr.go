/*
 * Copyright (c) 2024. Hitrace Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package ageing enforces retention on the file lists the Dump Executor
// maintains per trace kind (spec §4.7).
package ageing

import (
	"golang.org/x/sys/unix"

	"github.com/hitrace/tracecore/internal/constant"
)

// IsPinned reports whether path carries a non-empty user.linknum extended
// attribute, marking a snapshot file exempt from ageing (spec §4.7, §6.3).
func IsPinned(path string) bool {
	size, err := unix.Getxattr(path, constant.PinnedXattrName, nil)
	if err != nil || size <= 0 {
		return false
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(path, constant.PinnedXattrName, buf)
	return err == nil && n > 0
}

func neverPinned(string) bool { return false }
