// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// claimroute.
//
// TOML configuration with sensible defaults, environment variable overrides,
// and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - RoutingConfig: Decision thresholds (auto-approve limit, fraud bounds)
//   - ServerConfig: Intake API bind address, keys, and rate limits
//   - AuditConfig: Tamper-evident decision trail settings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CLAIMROUTE_*)
//   - $CLAIMROUTE_CONFIG_DIR/config.toml or ~/.claimroute/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access engine thresholds:
//
//	th := cfg.Thresholds()
//	limit := th.AutoApproveLimitCents
package config
