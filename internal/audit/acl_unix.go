//go:build !windows
// +build !windows

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

// verifyWindowsACL is a stub for Unix systems. Key file protection on Unix
// is verified through mode bits in verifyKeyFileProtection; the runtime.GOOS
// check there keeps this from ever being called.
func verifyWindowsACL(path string) error {
	panic("verifyWindowsACL called on non-Windows platform")
}
