// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution for claimroute.
//
// This package implements all CLI commands for the claim routing engine,
// providing both interactive surfaces (dashboard, console) and
// non-interactive commands suitable for scripts and cron jobs.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global flags
//   - ArgParser: Unified per-command flag and positional parsing
//   - JSONResponse: Envelope for machine-readable output
//
// # Usage
//
// Parse and execute commands:
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdRoute:
//	    return cli.HandleRoute(args)
//	case cli.CmdClaims:
//	    return cli.HandleClaims(args)
//	// ... other commands
//	}
//
// # Commands Overview
//
// Routing commands:
//   - route: Evaluate a claim against its assessments and commit the decision
//   - claims: Register, list, and inspect claims
//   - decisions: Show the decision history for a claim
//   - override: Enroll adjusters and apply authorized manual state changes
//
// Operational commands:
//   - serve: Run the HTTP intake and routing API
//   - intake: Watch a drop directory for assessment files
//   - dashboard: Live terminal view of the routing queue
//   - console: Interactive REPL for adjusters
//   - audit: Inspect and verify the tamper-evident audit trail
//   - stats: Store counts and routing telemetry
//   - config, init, keygen: Installation and configuration management
//
// All commands support --json flag for scripting.
package cli
