// override_cmd.go - Supervisor override CLI commands for claimroute.
//
// Command: override [subcommand | <claim>]
// Short:   Enroll supervisors and apply authorized manual state changes
//
// Overrides are step-up protected: the acting supervisor must present a
// TOTP code from an enrolled authenticator app. Denials land in the
// decision trail as access_denied events.
//
// Subcommands:
//   <claim> --to STATE     Apply an override to a claim (default form)
//   enroll <actor>         Enroll a supervisor and print the TOTP secret
//   revoke <actor>         Remove an enrollment
//   list                   List enrolled supervisors
//
// Examples:
//   claimroute override enroll dana.cho
//   claimroute override CLM-2025-104217 --to manual_review --actor dana.cho \
//       --justification adjuster_requested
//   claimroute override CLM-2025-104217 --to rejected --actor dana.cho --code 492817
//   claimroute override revoke dana.cho --confirm
//   claimroute override list --json
//
// Flags:
//   --to STATE            Target routing state (required for apply)
//   --actor NAME          Acting supervisor (default: current user)
//   --code CODE           TOTP code; prompted for when omitted
//   --justification TEXT  Reason code recorded on the decision
//   --confirm, -y         Skip the revoke confirmation prompt
//   --json                Output in JSON format
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/config"
	"github.com/jeranaias/claimroute/internal/override"
)

// HandleOverride handles the "override" command. The first positional is
// either a management subcommand or a claim reference to override.
func HandleOverride(args Args) error {
	parser := NewArgParser(args.Raw)

	switch parser.Subcommand() {
	case "":
		return ErrMissingArgument("claim",
			"claimroute override <claim> --to STATE  (or: enroll, revoke, list)")
	case "enroll":
		return handleOverrideEnroll(args, parser)
	case "revoke":
		return handleOverrideRevoke(args, parser)
	case "list":
		return handleOverrideList(args)
	default:
		// Anything else is a claim reference.
		return handleOverrideApply(args, parser)
	}
}

// =============================================================================
// ENROLLMENT MANAGEMENT
// =============================================================================

// handleOverrideEnroll enrolls a supervisor and prints the TOTP secret.
func handleOverrideEnroll(args Args, parser *ArgParser) error {
	actor := parser.Positional(1)
	if actor == "" {
		return ErrMissingArgument("actor", "claimroute override enroll dana.cho")
	}

	registry, _, err := OpenOverrideRegistry(&args)
	if err != nil {
		return err
	}

	replacing := registry.Enrolled(actor)

	key, err := registry.Enroll(actor)
	if err != nil {
		return NewCommandError("override", "enroll "+actor, "", err)
	}

	if args.JSON {
		data := &EnrollData{Actor: actor, Secret: key.Secret(), URL: key.URL()}
		return NewJSONResponse("override", data).Print()
	}

	fmt.Println()
	fmt.Printf("%s Enrolled %s\n", SuccessStyle.Render("[OK]"), actor)
	if replacing {
		fmt.Println(WarningStyle.Render("Previous secret replaced; old authenticator entries stop working."))
	}
	fmt.Println()
	fmt.Printf("  %s%s\n", RenderLabel("Secret:"), key.Secret())
	fmt.Printf("  %s%s\n", RenderLabel("URL:"), DimStyle.Render(key.URL()))
	fmt.Println()
	fmt.Println(DimStyle.Render("Add the secret to an authenticator app. It is shown once;"))
	fmt.Println(DimStyle.Render("re-enroll to rotate it."))
	fmt.Println()
	return nil
}

// handleOverrideRevoke removes an enrollment after confirmation.
func handleOverrideRevoke(args Args, parser *ArgParser) error {
	actor := parser.Positional(1)
	if actor == "" {
		return ErrMissingArgument("actor", "claimroute override revoke dana.cho")
	}

	registry, _, err := OpenOverrideRegistry(&args)
	if err != nil {
		return err
	}

	if !registry.Enrolled(actor) {
		if args.JSON {
			return NewJSONResponse("override", map[string]interface{}{
				"actor": actor, "revoked": false, "message": "not enrolled",
			}).Print()
		}
		fmt.Println()
		fmt.Println(DimStyle.Render(actor + " is not enrolled; nothing to revoke."))
		fmt.Println()
		return nil
	}

	confirmed, err := RequireConfirmation("revoke override access for "+actor, ConfirmationOptions{
		ConfirmFlag: parser.BoolFlag("confirm") || parser.BoolFlag("y"),
		JSONMode:    args.JSON,
	})
	if err != nil {
		return err
	}
	if !confirmed {
		ShowCancellationMessage()
		return nil
	}

	if err := registry.Revoke(actor); err != nil {
		return NewCommandError("override", "revoke "+actor, "", err)
	}

	if args.JSON {
		return NewJSONResponse("override", map[string]interface{}{
			"actor": actor, "revoked": true,
		}).Print()
	}

	fmt.Println()
	fmt.Printf("%s Revoked override access for %s\n", SuccessStyle.Render("[OK]"), actor)
	fmt.Println()
	return nil
}

// handleOverrideList lists enrolled supervisors.
func handleOverrideList(args Args) error {
	registry, _, err := OpenOverrideRegistry(&args)
	if err != nil {
		return err
	}

	actors, err := registry.Actors()
	if err != nil {
		return NewCommandError("override", "list enrollments", "", err)
	}
	sort.Strings(actors)

	if args.JSON {
		data := &OverrideListData{Count: len(actors)}
		for _, a := range actors {
			data.Actors = append(data.Actors, OverrideActorData{Actor: a})
		}
		return NewJSONResponse("override", data).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Enrolled Supervisors"))
	fmt.Println()
	if len(actors) == 0 {
		fmt.Println(DimStyle.Render("No supervisors enrolled."))
		fmt.Println("Enroll one with:")
		fmt.Println("  claimroute override enroll <actor>")
	} else {
		for _, a := range actors {
			fmt.Printf("  %s\n", a)
		}
		fmt.Println()
		fmt.Printf("%d enrolled\n", len(actors))
	}
	fmt.Println()
	return nil
}

// =============================================================================
// OVERRIDE APPLY
// =============================================================================

// handleOverrideApply verifies the supervisor and commits a forced state
// change through the pipeline, so the decision gets the same audit and
// dispatch treatment as an engine-routed one.
func handleOverrideApply(args Args, parser *ArgParser) error {
	claimRef := parser.Positional(0)

	toRaw := parser.Flag("to")
	if toRaw == "" {
		return ErrMissingArgument("to",
			"claimroute override "+claimRef+" --to manual_review --actor dana.cho")
	}
	to, err := claim.ParseState(toRaw)
	if err != nil {
		return NewValidationErrorWithExample("to", toRaw, "unknown routing state",
			"auto_approved, manual_review, fraud_investigation, rejected")
	}

	actor := parser.Flag("actor")
	if actor == "" {
		actor = currentActor()
	}

	justification := parser.Flag("justification")
	if justification == "" {
		justification = parser.Flag("j")
	}

	rt, err := OpenRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Step-up verification before anything touches the claim.
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	guard := override.NewGuard(override.OpenRegistry(dir), rt.Audit)

	code := parser.Flag("code")
	if code == "" {
		if err := RequiresTTY("read a verification code"); err != nil {
			return fmt.Errorf("%w; pass --code", override.ErrCodeRequired)
		}
		code, err = override.PromptCode(fmt.Sprintf("Verification code for %s: ", actor))
		if err != nil {
			return NewCommandError("override", "read verification code", "", err)
		}
	}
	if err := guard.Authorize(actor, code); err != nil {
		return err
	}

	ctx := context.Background()
	c, err := rt.ResolveClaim(ctx, claimRef)
	if err != nil {
		return NewCommandError("override", "look up claim "+claimRef, "", err)
	}

	result, overrideErr := rt.Pipe.OverrideState(ctx, c.ID, to, actor, justification)
	if result == nil && overrideErr != nil {
		return overrideErr
	}
	if overrideErr != nil && !args.Quiet {
		StderrPrintln(WarningStyle.Render(fmt.Sprintf("Warning: override committed but fan-out failed: %v", overrideErr)))
	}

	if args.JSON {
		data := &RouteData{Claim: result.Claim, Decision: result.Decision, Attempts: result.Attempts}
		if err := NewJSONResponse("override", data).Print(); err != nil {
			return err
		}
		return overrideErr
	}

	fmt.Println()
	fmt.Printf("%s Override committed by %s\n", SuccessStyle.Render("[OK]"), actor)
	fmt.Printf("  %s%s %s %s\n", RenderLabel("Transition:"),
		RenderState(result.Decision.PriorState), DimStyle.Render("->"), RenderState(result.Decision.ResultingState))
	if justification != "" {
		fmt.Printf("  %s%s\n", RenderLabel("Justification:"), justification)
	}
	fmt.Printf("  %s%s\n", RenderLabel("Decision ID:"), DimStyle.Render(result.Decision.ID))
	fmt.Println()
	return overrideErr
}
