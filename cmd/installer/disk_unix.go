// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package main

import (
	"syscall"
)

// freeDiskBytes returns the free disk space in bytes for the filesystem
// holding path on Unix systems.
func freeDiskBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t

	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}

	// Bavail (space available to non-root users) rather than Bfree, since
	// the claim store runs unprivileged.
	return stat.Bavail * uint64(stat.Bsize), nil
}
