// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry aggregates routing activity for the stats surfaces.
//
// A Tracker accumulates counters for the current window (per-state and
// per-rule decision counts, amounts routed, overrides, commit conflicts,
// high-risk volume) and persists closed windows as JSON files so the stats
// command and dashboard can show trends across restarts.
//
// # Key Types
//
//   - Tracker: in-memory accumulator, safe for concurrent use
//   - Window: counters for one tracking window
//   - Trends: aggregation across stored windows with a daily breakdown
//   - Storage: JSON file persistence for closed windows
//
// # Usage
//
// Record a committed decision:
//
//	tracker.RecordDecision(decision, claim.AmountCents, bundle.FraudScore)
//
// Snapshot for display:
//
//	w := tracker.CurrentWindow()
//	fmt.Printf("auto-approval rate: %.0f%%\n", w.AutoApprovalRate()*100)
//
// # Privacy
//
// Telemetry stores counters and amounts only. Claim descriptions, assessment
// payloads, and any other free text never enter this package.
package telemetry
