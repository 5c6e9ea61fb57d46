// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/override"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
)

// defaultListLimit bounds a bare `list` so a deep queue stays readable.
const defaultListLimit = 25

// resolve looks a claim up by storage ID or carrier claim number.
func (s *Session) resolve(ctx context.Context, ref string) (*claim.Claim, error) {
	if strings.HasPrefix(ref, "clm_") {
		return s.store.GetClaim(ctx, ref)
	}
	return s.store.GetClaimByNumber(ctx, strings.ToUpper(ref))
}

// =============================================================================
// LIST
// =============================================================================

// cmdList lists claims, newest first. Arguments may be a state name, a
// numeric limit, or both in either order.
func (s *Session) cmdList(ctx context.Context, args []string) error {
	var stateFilter claim.State
	limit := defaultListLimit

	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			if n <= 0 {
				return fmt.Errorf("limit must be positive, got %d", n)
			}
			limit = n
			continue
		}
		st, err := claim.ParseState(arg)
		if err != nil {
			return fmt.Errorf("%q is neither a state nor a limit (states: %s)",
				arg, stateNames())
		}
		stateFilter = st
	}

	claims, err := s.store.ListClaims(ctx, stateFilter, limit)
	if err != nil {
		return fmt.Errorf("list claims: %w", err)
	}

	if len(claims) == 0 {
		if stateFilter != "" {
			fmt.Printf("%s\n", infoStyle.Render("No claims in state "+string(stateFilter)))
		} else {
			fmt.Printf("%s\n", infoStyle.Render("No claims registered"))
		}
		return nil
	}

	fmt.Println()
	fmt.Print(s.render.claimTable(claims))
	fmt.Println()
	return nil
}

func stateNames() string {
	names := make([]string, len(claim.AllStates))
	for i, st := range claim.AllStates {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}

// =============================================================================
// SHOW
// =============================================================================

// cmdShow displays a claim. Modes: default summary, `explain` for the
// rendered decision rationale, `json` for a highlighted raw dump.
func (s *Session) cmdShow(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: show REF [explain|json]")
	}

	c, err := s.resolve(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("claim %q not found", args[0])
		}
		return err
	}

	mode := ""
	if len(args) > 1 {
		mode = strings.ToLower(strings.TrimPrefix(args[1], "--"))
	}

	switch mode {
	case "explain":
		return s.showExplain(ctx, c)
	case "json":
		return s.showJSON(ctx, c)
	case "":
		return s.showSummary(ctx, c)
	default:
		return fmt.Errorf("unknown show mode %q (expected explain or json)", args[1])
	}
}

// showSummary prints the claim header and the latest decision, if any.
func (s *Session) showSummary(ctx context.Context, c *claim.Claim) error {
	fmt.Println()
	fmt.Println(headerStyle.Render(c.ClaimNumber))
	fmt.Printf("  %s %s\n", infoStyle.Render("State:"), stateStyles[c.State].Render(string(c.State)))
	fmt.Printf("  %s %s (%s)\n", infoStyle.Render("Amount:"), s.render.money(c.AmountCents), c.Type)
	fmt.Printf("  %s %s\n", infoStyle.Render("Policy:"), c.PolicyNumber)
	fmt.Printf("  %s %d\n", infoStyle.Render("Version:"), c.Version)
	fmt.Printf("  %s %s (%s ago)\n",
		infoStyle.Render("Updated:"),
		c.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		formatAge(c.UpdatedAt))

	if b, err := s.store.LatestBundle(ctx, c.ID); err == nil {
		fmt.Printf("  %s confidence %.2f, fraud %.2f (%s), %s\n",
			infoStyle.Render("Bundle:"),
			b.DamageConfidence,
			b.FraudScore,
			b.RiskLevel(),
			b.CoverageResult)
	} else if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("  %s %s\n", infoStyle.Render("Bundle:"), warningStyle.Render("none attached"))
	}

	d, err := s.store.LatestDecision(ctx, c.ID)
	switch {
	case err == nil:
		fmt.Println()
		fmt.Print(s.render.decisionBlock(d, 0))
		fmt.Printf("  %s show %s explain\n", infoStyle.Render("Rationale:"), c.ClaimNumber)
	case errors.Is(err, store.ErrNotFound):
		fmt.Printf("  %s not routed yet\n", infoStyle.Render("Decision:"))
	default:
		return err
	}

	fmt.Println()
	return nil
}

// showExplain renders the markdown rationale report for the latest decision.
func (s *Session) showExplain(ctx context.Context, c *claim.Claim) error {
	d, err := s.store.LatestDecision(ctx, c.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s has no decision to explain; route it first", c.ClaimNumber)
		}
		return err
	}

	// Explain against the exact bundle the decision consumed when it is
	// still retrievable, else fall back to the latest.
	var b *assessment.Bundle
	if d.BundleID != "" {
		b, _ = s.store.GetBundle(ctx, d.BundleID)
	}
	if b == nil {
		b, _ = s.store.LatestBundle(ctx, c.ID)
	}

	var th routing.Thresholds
	if s.engine != nil {
		th = s.engine.Thresholds()
	} else {
		th = routing.DefaultThresholds()
	}

	fmt.Print(s.render.markdownOut(s.render.explainReport(c, b, d, th)))
	return nil
}

// showJSON dumps the claim, latest bundle, and full decision history.
func (s *Session) showJSON(ctx context.Context, c *claim.Claim) error {
	doc := struct {
		Claim     *claim.Claim        `json:"claim"`
		Bundle    *assessment.Bundle  `json:"bundle,omitempty"`
		Decisions []*routing.Decision `json:"decisions,omitempty"`
	}{Claim: c}

	if b, err := s.store.LatestBundle(ctx, c.ID); err == nil {
		doc.Bundle = b
	}
	if ds, err := s.store.Decisions(ctx, c.ID); err == nil {
		doc.Decisions = ds
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}

	fmt.Println(s.render.highlightJSON(string(data)))
	return nil
}

// =============================================================================
// ROUTE
// =============================================================================

// cmdRoute routes a claim against its latest assessment bundle.
func (s *Session) cmdRoute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: route REF")
	}

	c, err := s.resolve(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("claim %q not found", args[0])
		}
		return err
	}

	result, err := s.pipe.RouteLatest(ctx, c.ID)
	if result == nil {
		switch {
		case errors.Is(err, assessment.ErrIncompleteAssessment):
			return fmt.Errorf("%s cannot be routed: %v", c.ClaimNumber, err)
		case errors.Is(err, store.ErrConcurrentModification):
			return fmt.Errorf("%s is being modified concurrently; retry in a moment", c.ClaimNumber)
		default:
			return err
		}
	}

	s.routed++
	fmt.Println()
	fmt.Printf("%s %s\n", commandStyle.Render("[Routed]"), result.Claim.ClaimNumber)
	fmt.Print(s.render.decisionBlock(result.Decision, result.Attempts))
	fmt.Println()

	// The decision committed; err past this point is trail or dispatch
	// trouble worth surfacing without undoing the display.
	if err != nil {
		fmt.Printf("%s %v\n", warningStyle.Render("[Warning]"), err)
	}
	return nil
}

// =============================================================================
// OVERRIDE
// =============================================================================

// cmdOverride applies a supervisor override after TOTP verification.
// Justification and the verification code are prompted interactively.
func (s *Session) cmdOverride(ctx context.Context, args []string) error {
	if s.guard == nil {
		return fmt.Errorf("override is unavailable: no supervisor enrollment registry")
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: override REF STATE (states: %s)", stateNames())
	}

	c, err := s.resolve(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("claim %q not found", args[0])
		}
		return err
	}

	to, err := claim.ParseState(args[1])
	if err != nil {
		return fmt.Errorf("invalid target state %q (states: %s)", args[1], stateNames())
	}

	justification, err := s.reader.ReadInput("justification> ")
	if err != nil {
		return fmt.Errorf("override cancelled")
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return fmt.Errorf("override requires a justification")
	}

	code, err := override.PromptCode(fmt.Sprintf("Verification code for %s: ", s.actor))
	if err != nil {
		return fmt.Errorf("read verification code: %w", err)
	}

	if err := s.guard.Authorize(s.actor, code); err != nil {
		return err
	}

	result, overrideErr := s.pipe.OverrideState(ctx, c.ID, to, s.actor, justification)
	if result == nil {
		return overrideErr
	}

	fmt.Println()
	fmt.Printf("%s %s\n", commandStyle.Render("[Override applied]"), result.Claim.ClaimNumber)
	fmt.Print(s.render.decisionBlock(result.Decision, result.Attempts))
	fmt.Println()

	if overrideErr != nil {
		fmt.Printf("%s %v\n", warningStyle.Render("[Warning]"), overrideErr)
	}
	return nil
}

// =============================================================================
// VERIFY
// =============================================================================

// cmdVerify checks the decision trail hash chain and reports findings.
func (s *Session) cmdVerify() error {
	if s.auditor == nil {
		fmt.Println(warningStyle.Render("Audit trail is disabled; nothing to verify"))
		return nil
	}

	report, err := s.auditor.Verify()
	if err != nil {
		return fmt.Errorf("verify decision trail: %w", err)
	}

	fmt.Println()
	if report.Verified {
		fmt.Printf("%s chain intact, %d entries\n",
			commandStyle.Render("[Verified]"),
			report.ChainLength)
	} else {
		fmt.Printf("%s chain FAILED verification (%d entries)\n",
			errorStyle.Render("[Tampered]"),
			report.ChainLength)
		for _, issue := range report.Issues {
			fmt.Printf("  %s %s\n", errorStyle.Render("-"), issue)
		}
	}
	for _, issue := range report.PermissionIssues {
		fmt.Printf("  %s %s\n", warningStyle.Render("-"), issue)
	}
	fmt.Println()
	return nil
}

// =============================================================================
// STATS
// =============================================================================

// cmdStats prints store totals and recent routing activity. An optional
// argument widens the trend window from its 7-day default.
func (s *Session) cmdStats(ctx context.Context, args []string) error {
	days := 7
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("days must be a positive number, got %q", args[0])
		}
		days = n
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read store stats: %w", err)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Store"))
	fmt.Printf("  %s %d\n", infoStyle.Render("Claims:"), stats.ClaimCount)
	fmt.Printf("  %s %d\n", infoStyle.Render("Decisions:"), stats.DecisionCount)
	for _, st := range claim.AllStates {
		if n := stats.ByState[st]; n > 0 {
			fmt.Printf("  %s %d\n", infoStyle.Render(string(st)+":"), n)
		}
	}

	if s.metrics != nil {
		// Flush so the active window participates in the trend query.
		if err := s.metrics.Flush(); err == nil {
			if trends := s.metrics.GetTrends(days); trends != nil && trends.Decisions > 0 {
				fmt.Println()
				fmt.Println(headerStyle.Render(fmt.Sprintf("Last %d Days", days)))
				fmt.Printf("  %s %d\n", infoStyle.Render("Decisions:"), trends.Decisions)
				pct := float64(trends.AutoApproved) * 100 / float64(trends.Decisions)
				fmt.Printf("  %s %d (%.1f%%)\n", infoStyle.Render("Auto-approved:"), trends.AutoApproved, pct)
				fmt.Printf("  %s %s\n", infoStyle.Render("Amount routed:"), s.render.money(trends.AmountRoutedCents))
				if trends.Conflicts > 0 {
					fmt.Printf("  %s %d\n", warningStyle.Render("Commit conflicts:"), trends.Conflicts)
				}
				if trends.Overrides > 0 {
					fmt.Printf("  %s %d\n", infoStyle.Render("Overrides:"), trends.Overrides)
				}
			}
		}
	}

	fmt.Println()
	return nil
}
