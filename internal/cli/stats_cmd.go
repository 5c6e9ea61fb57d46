// stats_cmd.go - Stats command implementation for claimroute.
//
// Command: stats
// Short:   Display store counts and routing throughput
//
// Examples:
//   claimroute stats                 Store counts plus last 7 days
//   claimroute stats --days 30       Widen the trend window
//   claimroute stats --json          Stats in JSON format
//   claimroute stats --verbose       Include per-rule breakdown
//
// Stats Sections:
//   Store:      Claim, bundle, and decision counts with per-state split
//   Last N Days: Routing volume, auto-approval rate, overrides, conflicts
//   Telemetry:  Where the window snapshots live
//
// Flags:
//   --days N            Trend window in days (default 7)
//   --json              Output in JSON format
//   --verbose           Show per-rule decision counts
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/telemetry"
	"github.com/jeranaias/claimroute/internal/util"
)

const defaultTrendDays = 7

// HandleStats handles the "stats" command.
func HandleStats(args Args) error {
	parser := NewArgParser(args.Raw)
	days := parser.FlagIntOrDefault("days", defaultTrendDays)
	if days <= 0 {
		return NewValidationErrorWithExample("days", fmt.Sprintf("%d", days),
			"must be a positive number of days", "claimroute stats --days 30")
	}

	rt, err := OpenReadOnlyRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	st, err := rt.Store.Stats(ctx)
	if err != nil {
		return NewCommandError("stats", "read store statistics", "", err)
	}

	storeInfo := StatsStoreInfo{
		Claims:       int64(st.ClaimCount),
		Bundles:      int64(st.BundleCount),
		Decisions:    int64(st.DecisionCount),
		ByState:      make(map[string]int64, len(st.ByState)),
		DatabaseSize: st.DatabaseSize,
		DatabasePath: rt.Store.Path(),
	}
	for state, n := range st.ByState {
		storeInfo.ByState[state.String()] = int64(n)
	}

	var trends *telemetry.Trends
	windowInfo := StatsWindowInfo{Days: days}
	telemetryInfo := StatsTelemetryInfo{}
	if rt.Metrics != nil {
		// Persist the active window so today's decisions count.
		if err := rt.Metrics.Flush(); err != nil && !args.Quiet {
			StderrPrint("Warning: could not flush telemetry window: %v\n", err)
		}
		trends = rt.Metrics.GetTrends(days)
		windowInfo = summarizeTrends(trends)
		telemetryInfo.StorageDir = rt.Metrics.StorageDir()
	}

	if args.JSON {
		data := &StatsData{Store: storeInfo, Window: windowInfo, Telemetry: telemetryInfo}
		return NewJSONResponse("stats", data).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("claimroute Stats"))
	fmt.Println(RenderSeparator(41))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Store"))
	fmt.Printf("  %s%d\n", RenderLabel("Claims:"), storeInfo.Claims)
	fmt.Printf("  %s%d\n", RenderLabel("Bundles:"), storeInfo.Bundles)
	fmt.Printf("  %s%d\n", RenderLabel("Decisions:"), storeInfo.Decisions)
	for _, state := range claim.AllStates {
		if n := storeInfo.ByState[state.String()]; n > 0 {
			fmt.Printf("    %s %s\n", RenderState(state), DimStyle.Render(fmt.Sprintf("%d", n)))
		}
	}
	fmt.Printf("  %s%s %s\n", RenderLabel("Database:"),
		formatBytes(storeInfo.DatabaseSize), DimStyle.Render(storeInfo.DatabasePath))
	fmt.Println()

	fmt.Println(SectionStyle.Render(fmt.Sprintf("Last %d Days", days)))
	if trends == nil {
		fmt.Println(DimStyle.Render("  Telemetry unavailable."))
	} else {
		printTrendLines(windowInfo)
		if args.Verbose && len(trends.ByRule) > 0 {
			fmt.Println()
			fmt.Println(SectionStyle.Render("By Rule"))
			printRuleBreakdown(trends.ByRule)
		}
	}
	fmt.Println()

	if telemetryInfo.StorageDir != "" {
		fmt.Printf("%s\n", DimStyle.Render("Windows: "+telemetryInfo.StorageDir))
		fmt.Println()
	}

	return nil
}

// summarizeTrends flattens aggregated trends into the stats payload.
func summarizeTrends(trends *telemetry.Trends) StatsWindowInfo {
	info := StatsWindowInfo{
		Days:            trends.Days,
		Decisions:       trends.Decisions,
		AutoApproved:    trends.AutoApproved,
		ManualReview:    trends.ByState[string(claim.StateManualReview)],
		FraudReferrals:  trends.ByState[string(claim.StateFraudInvestigation)],
		Rejected:        trends.ByState[string(claim.StateRejected)],
		Overrides:       trends.Overrides,
		Conflicts:       trends.Conflicts,
		HighRisk:        trends.HighRiskCount,
		AmountRouted:    util.FormatCents(trends.AmountRoutedCents),
		AutoApprovedAmt: util.FormatCents(trends.AutoApprovedCents),
	}
	if trends.Decisions > 0 {
		info.AutoApprovalPct = float64(trends.AutoApproved) * 100 / float64(trends.Decisions)
	}
	return info
}

// printTrendLines renders the rolling-window section of the human output.
func printTrendLines(w StatsWindowInfo) {
	fmt.Printf("  %s%d\n", RenderLabel("Decisions:"), w.Decisions)
	fmt.Printf("  %s%s\n", RenderLabel("Auto-approved:"),
		SuccessStyle.Render(fmt.Sprintf("%d (%.0f%%)", w.AutoApproved, w.AutoApprovalPct)))
	fmt.Printf("  %s%d\n", RenderLabel("Manual review:"), w.ManualReview)
	fmt.Printf("  %s%d\n", RenderLabel("Fraud referrals:"), w.FraudReferrals)
	fmt.Printf("  %s%d\n", RenderLabel("Rejected:"), w.Rejected)
	fmt.Printf("  %s%d\n", RenderLabel("Overrides:"), w.Overrides)

	conflictStr := fmt.Sprintf("%d", w.Conflicts)
	if w.Conflicts > 0 {
		conflictStr = WarningStyle.Render(conflictStr)
	}
	fmt.Printf("  %s%s\n", RenderLabel("Commit conflicts:"), conflictStr)
	fmt.Printf("  %s%d\n", RenderLabel("High risk:"), w.HighRisk)
	fmt.Printf("  %s%s\n", RenderLabel("Amount routed:"), w.AmountRouted)
	fmt.Printf("  %s%s\n", RenderLabel("Auto-approved $:"), w.AutoApprovedAmt)
}

// printRuleBreakdown lists decision counts per rule, highest first.
func printRuleBreakdown(byRule map[string]int64) {
	type ruleCount struct {
		name string
		n    int64
	}
	rules := make([]ruleCount, 0, len(byRule))
	for name, n := range byRule {
		rules = append(rules, ruleCount{name, n})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].n != rules[j].n {
			return rules[i].n > rules[j].n
		}
		return rules[i].name < rules[j].name
	})
	for _, r := range rules {
		fmt.Printf("  %s%d\n", RenderLabel(r.name+":"), r.n)
	}
}
