// claims_cmd.go - Claim management CLI commands for claimroute.
//
// Command: claims [subcommand]
// Short:   Register, list, and inspect claims
// Aliases: claim
//
// Subcommands:
//   list (default)      List claims, newest first
//   show <claim>        Show one claim with its decision history
//   register <claim-number> <policy-number> <amount>
//                       Register a new claim in the pending state
//
// Examples:
//   claimroute claims                                List recent claims
//   claimroute claims list --state manual_review     Claims waiting on review
//   claimroute claims list --limit 10 --json         Ten newest, as JSON
//   claimroute claims show CLM-2025-104217           One claim in detail
//   claimroute claims register CLM-2025-104217 POL-884201 3200.00 --type auto_collision
//
// Flags:
//   --state STATE     Filter by routing state
//   --limit N         Show at most N claims (default: 50)
//   --type TYPE       Claim type for register (default: other)
//   --json            Output in JSON format
//
// This file also implements the "decisions" command, which shows the
// append-only decision history for one claim.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/util"
)

// HandleClaims handles the "claims" command with its subcommands.
func HandleClaims(args Args) error {
	parser := NewArgParser(args.Raw)

	switch parser.Subcommand() {
	case "", "list":
		return handleClaimsList(args, parser)
	case "show":
		return handleClaimsShow(args, parser)
	case "register", "add":
		return handleClaimsRegister(args, parser)
	default:
		return fmt.Errorf("unknown claims subcommand: %s\n\nUsage:\n"+
			"  claimroute claims list [--state STATE] [--limit N]\n"+
			"  claimroute claims show <claim>\n"+
			"  claimroute claims register <claim-number> <policy-number> <amount> [--type TYPE]",
			parser.Subcommand())
	}
}

// =============================================================================
// CLAIMS LIST
// =============================================================================

// handleClaimsList lists claims, optionally filtered by state.
func handleClaimsList(args Args, parser *ArgParser) error {
	rt, err := OpenReadOnlyRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	var stateFilter claim.State
	if raw := parser.Flag("state"); raw != "" {
		stateFilter, err = claim.ParseState(raw)
		if err != nil {
			return NewValidationErrorWithExample("state", raw, "unknown routing state",
				"pending, auto_approved, manual_review, fraud_investigation, rejected")
		}
	}

	limit := parser.FlagIntOrDefault("limit", 50)

	ctx := context.Background()
	claims, err := rt.Store.ListClaims(ctx, stateFilter, limit)
	if err != nil {
		return NewCommandError("claims", "list claims", "", err)
	}

	if args.JSON {
		data := &ClaimListData{Claims: claims, Count: len(claims), StateFilter: string(stateFilter)}
		return NewJSONResponse("claims", data).Print()
	}

	if len(claims) == 0 {
		fmt.Println()
		if stateFilter != "" {
			fmt.Println(DimStyle.Render(fmt.Sprintf("No claims in state %s.", stateFilter)))
		} else {
			fmt.Println(DimStyle.Render("No claims registered yet."))
			fmt.Println("Register one with:")
			fmt.Println("  claimroute claims register CLM-2025-000001 POL-000001 1250.00")
		}
		fmt.Println()
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Claims"))
	if stateFilter != "" {
		fmt.Printf("Filter: %s\n", DimStyle.Render("state="+string(stateFilter)))
	}
	fmt.Println()

	// Header
	fmt.Printf("  %s %s %s %s %s %s\n",
		util.PadWidth("CLAIM", 16),
		util.PadWidth("TYPE", 16),
		util.PadWidth("AMOUNT", 12),
		util.PadWidth("STATE", 20),
		util.PadWidth("VER", 4),
		"AGE")
	fmt.Println("  " + SeparatorStyle.Render(strings.Repeat("-", 76)))

	for _, c := range claims {
		fmt.Printf("  %s %s %s %s %s %s\n",
			util.PadWidth(c.ClaimNumber, 16),
			DimStyle.Render(util.PadWidth(string(c.Type), 16)),
			util.PadWidth(util.FormatCents(c.AmountCents), 12),
			RenderState(c.State)+strings.Repeat(" ", max(0, 20-len(string(c.State)))),
			util.PadWidth(fmt.Sprintf("v%d", c.Version), 4),
			DimStyle.Render(formatAge(c.SubmittedAt)))
	}

	fmt.Println()
	fmt.Printf("%d claims\n", len(claims))
	fmt.Println()
	return nil
}

// =============================================================================
// CLAIMS SHOW
// =============================================================================

// handleClaimsShow displays one claim with its decision history.
func handleClaimsShow(args Args, parser *ArgParser) error {
	claimRef := parser.Positional(1)
	if claimRef == "" {
		return ErrMissingArgument("claim", "claimroute claims show <claim-number>")
	}

	rt, err := OpenReadOnlyRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	c, err := rt.ResolveClaim(ctx, claimRef)
	if err != nil {
		return NewCommandError("claims", "look up claim "+claimRef, "", err)
	}

	decisions, err := rt.Store.Decisions(ctx, c.ID)
	if err != nil {
		return NewCommandError("claims", "load decision history", "", err)
	}

	hasBundle := true
	if _, err := rt.Store.LatestBundle(ctx, c.ID); errors.Is(err, store.ErrNotFound) {
		hasBundle = false
	}

	if args.JSON {
		data := &ClaimDetailData{Claim: c, Decisions: decisions, HasBundle: hasBundle}
		return NewJSONResponse("claims", data).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Claim " + c.ClaimNumber))
	fmt.Println(RenderSeparator(60))
	fmt.Println()
	fmt.Printf("  %s%s\n", RenderLabel("ID:"), DimStyle.Render(c.ID))
	fmt.Printf("  %s%s\n", RenderLabel("Policy:"), c.PolicyNumber)
	fmt.Printf("  %s%s\n", RenderLabel("Type:"), string(c.Type))
	fmt.Printf("  %s%s\n", RenderLabel("Priority:"), string(c.Priority))
	fmt.Printf("  %s%s\n", RenderLabel("Amount:"), util.FormatCents(c.AmountCents))
	fmt.Printf("  %s%s\n", RenderLabel("State:"), RenderState(c.State))
	fmt.Printf("  %s%d\n", RenderLabel("Version:"), c.Version)
	fmt.Printf("  %s%s\n", RenderLabel("Submitted:"), c.SubmittedAt.Format("2006-01-02 15:04:05"))
	if !c.IncidentDate.IsZero() {
		fmt.Printf("  %s%s\n", RenderLabel("Incident:"), c.IncidentDate.Format("2006-01-02"))
	}
	if c.Description != "" {
		fmt.Printf("  %s%s\n", RenderLabel("Description:"), c.Description)
	}
	if !hasBundle {
		fmt.Printf("  %s%s\n", RenderLabel("Assessments:"), DimStyle.Render("none on record"))
	}

	if len(decisions) > 0 {
		fmt.Println()
		fmt.Println(SectionStyle.Render("Decision History"))
		fmt.Println()
		for _, d := range decisions {
			printDecisionLine(d.DecidedAt.Format("2006-01-02 15:04:05"), string(d.PriorState),
				string(d.ResultingState), d.RuleName, d.PrimaryReason(), d.Override, d.OverrideActor)
		}
	}

	fmt.Println()
	return nil
}

// printDecisionLine renders one compact decision history row.
func printDecisionLine(when, from, to, rule, reason string, override bool, actor string) {
	marker := " "
	if override {
		marker = WarningStyle.Render("*")
	}
	line := fmt.Sprintf("  %s %s  %s -> %s  %s",
		marker,
		DimStyle.Render(when),
		from,
		RenderState(claim.State(to)),
		DimStyle.Render(rule))
	if reason != "" {
		line += "  " + DimStyle.Render("("+reason+")")
	}
	if override && actor != "" {
		line += "  " + WarningStyle.Render("by "+actor)
	}
	fmt.Println(line)
}

// =============================================================================
// CLAIMS REGISTER
// =============================================================================

// handleClaimsRegister registers a new claim in the pending state.
func handleClaimsRegister(args Args, parser *ArgParser) error {
	claimNumber := parser.Positional(1)
	policyNumber := parser.Positional(2)
	amountRaw := parser.Positional(3)

	if claimNumber == "" || policyNumber == "" || amountRaw == "" {
		return ErrMissingArgument("claim-number policy-number amount",
			"claimroute claims register CLM-2025-104217 POL-884201 3200.00")
	}

	amountCents, err := util.ParseCents(amountRaw)
	if err != nil {
		return NewValidationErrorWithExample("amount", amountRaw, "not a valid currency amount", "3200.00")
	}

	claimType := claim.TypeOther
	if raw := parser.Flag("type"); raw != "" {
		claimType = claim.Type(strings.ToLower(raw))
		if !claimType.IsValid() {
			return NewValidationErrorWithExample("type", raw, "unknown claim type",
				"auto_collision, auto_theft, property_damage, water_damage, fire_damage, liability, other")
		}
	}

	rt, err := OpenRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	c, err := rt.Pipe.Register(ctx, claimNumber, policyNumber, claimType, amountCents)
	if err != nil {
		return NewCommandError("claims", "register claim "+claimNumber, "", err)
	}

	if args.JSON {
		return NewJSONResponse("claims", &RegisterData{Claim: c}).Print()
	}

	fmt.Println()
	fmt.Printf("%s Registered %s\n", SuccessStyle.Render("[OK]"), c.ClaimNumber)
	fmt.Printf("  %s%s\n", RenderLabel("ID:"), DimStyle.Render(c.ID))
	fmt.Printf("  %s%s\n", RenderLabel("Amount:"), util.FormatCents(c.AmountCents))
	fmt.Printf("  %s%s\n", RenderLabel("State:"), RenderState(c.State))
	fmt.Println()
	fmt.Println(DimStyle.Render("Route it once assessments arrive:"))
	fmt.Printf("  claimroute route %s --file bundle.json\n", c.ClaimNumber)
	fmt.Println()
	return nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// HandleDecisions handles the "decisions" command: the append-only
// decision history for one claim, oldest first.
func HandleDecisions(args Args) error {
	parser := NewArgParser(args.Raw)

	claimRef := parser.Positional(0)
	if claimRef == "" {
		return ErrMissingArgument("claim", "claimroute decisions <claim-number>")
	}

	rt, err := OpenReadOnlyRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	c, err := rt.ResolveClaim(ctx, claimRef)
	if err != nil {
		return NewCommandError("decisions", "look up claim "+claimRef, "", err)
	}

	decisions, err := rt.Store.Decisions(ctx, c.ID)
	if err != nil {
		return NewCommandError("decisions", "load decision history", "", err)
	}

	if args.JSON {
		data := &DecisionListData{
			ClaimID:   c.ID,
			ClaimNum:  c.ClaimNumber,
			Decisions: decisions,
			Count:     len(decisions),
		}
		return NewJSONResponse("decisions", data).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Decisions for " + c.ClaimNumber))
	fmt.Println()

	if len(decisions) == 0 {
		fmt.Println(DimStyle.Render("No decisions yet; the claim has not been routed."))
		fmt.Println()
		return nil
	}

	for i, d := range decisions {
		fmt.Printf("%s %s\n", SectionStyle.Render(fmt.Sprintf("#%d", i+1)), DimStyle.Render(d.ID))
		fmt.Printf("  %s%s\n", RenderLabel("Decided:"), d.DecidedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  %s%s %s %s\n", RenderLabel("Transition:"),
			RenderState(d.PriorState), DimStyle.Render("->"), RenderState(d.ResultingState))
		fmt.Printf("  %s%s\n", RenderLabel("Rule:"), d.RuleName)
		fmt.Printf("  %s%s\n", RenderLabel("Reasons:"), strings.Join(d.ReasonCodes, ", "))
		fmt.Printf("  %sv%d (ruleset %s)\n", RenderLabel("Claim version:"), d.ClaimVersion, d.RulesetVersion)
		if d.BundleID != "" {
			fmt.Printf("  %s%s\n", RenderLabel("Bundle:"), DimStyle.Render(d.BundleID))
		}
		if d.Override {
			fmt.Printf("  %s%s\n", RenderLabel("Override by:"), WarningStyle.Render(d.OverrideActor))
		}
		if d.PriorDecisionID != "" {
			fmt.Printf("  %s%s\n", RenderLabel("Supersedes:"), DimStyle.Render(d.PriorDecisionID))
		}
		fmt.Println()
	}

	return nil
}
