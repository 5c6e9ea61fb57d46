// route_cmd.go - Claim routing CLI command for claimroute.
//
// Command: route <claim> [flags]
// Short:   Evaluate a claim against an assessment bundle and commit the decision
//
// The assessment bundle comes from one of three places:
//   --file PATH    Read the bundle JSON from a file
//   stdin          Pipe the bundle JSON in (non-TTY stdin)
//   --latest       Re-route the most recent bundle already on record
//
// Examples:
//   claimroute route CLM-2025-104217 --file assessments/104217.json
//   cat bundle.json | claimroute route CLM-2025-104217
//   claimroute route CLM-2025-104217 --latest
//   claimroute route clm_9f2e61a30c84d512 --file b.json --json
//
// Flags:
//   --file PATH, -f   Assessment bundle JSON file
//   --latest          Use the latest stored bundle instead of new input
//   --json            Output in JSON format
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/pipeline"
	"github.com/jeranaias/claimroute/internal/util"
)

// maxBundleFileBytes bounds how much assessment JSON the CLI will read.
// Matches the HTTP intake limit so a bundle accepted here is accepted there.
const maxBundleFileBytes = 1 << 20

// HandleRoute handles the "route" command.
func HandleRoute(args Args) error {
	parser := NewArgParser(args.Raw)

	claimRef := parser.Positional(0)
	if claimRef == "" {
		return ErrMissingArgument("claim", "claimroute route <claim-number> --file bundle.json")
	}

	rt, err := OpenRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	c, err := rt.ResolveClaim(ctx, claimRef)
	if err != nil {
		return NewCommandError("route", "look up claim "+claimRef, "", err)
	}

	var result *pipeline.Result
	var routeErr error
	if parser.BoolFlag("latest") {
		result, routeErr = rt.Pipe.RouteLatest(ctx, c.ID)
	} else {
		filePath := parser.Flag("file")
		if filePath == "" {
			filePath = parser.Flag("f")
		}
		input, readErr := readAssessmentInput(filePath)
		if readErr != nil {
			return readErr
		}
		result, routeErr = rt.Pipe.RouteWith(ctx, c.ID, input)
	}

	// A non-nil result alongside an error means the decision committed but
	// fan-out (audit, dispatch) failed. Show the decision either way; the
	// error still decides the exit code.
	if result == nil && routeErr != nil {
		return routeErr
	}
	if routeErr != nil && !args.Quiet {
		StderrPrintln(WarningStyle.Render(fmt.Sprintf("Warning: decision committed but fan-out failed: %v", routeErr)))
	}

	if args.JSON {
		data := &RouteData{Claim: result.Claim, Decision: result.Decision, Attempts: result.Attempts}
		if routeErr != nil {
			// Decision is durable; report the envelope as success with
			// the fan-out failure preserved in the exit code.
			if err := NewJSONResponse("route", data).Print(); err != nil {
				return err
			}
			return routeErr
		}
		return NewJSONResponse("route", data).Print()
	}

	printDecision(result)
	return routeErr
}

// readAssessmentInput loads an assessment bundle from a file or stdin.
func readAssessmentInput(path string) (*assessment.Input, error) {
	var data []byte
	var err error

	switch {
	case path != "":
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, NewCommandError("route", "read assessment file", path, err)
		}
	case !IsTTY():
		data, err = io.ReadAll(io.LimitReader(os.Stdin, maxBundleFileBytes))
		if err != nil {
			return nil, NewCommandError("route", "read assessment from stdin", "", err)
		}
	default:
		return nil, ErrMissingArgument("assessment",
			"provide a bundle with --file PATH, pipe JSON on stdin, or pass --latest")
	}

	if len(data) > maxBundleFileBytes {
		return nil, fmt.Errorf("%w: bundle exceeds %d bytes", assessment.ErrMalformedAssessment, maxBundleFileBytes)
	}

	var input assessment.Input
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("%w: %v", assessment.ErrMalformedAssessment, err)
	}
	return &input, nil
}

// printDecision renders a committed routing decision for humans.
func printDecision(result *pipeline.Result) {
	c := result.Claim
	d := result.Decision

	fmt.Println()
	fmt.Println(TitleStyle.Render("Routing Decision"))
	fmt.Println(RenderSeparator(60))
	fmt.Println()

	fmt.Printf("  %s%s\n", RenderLabel("Claim:"), c.ClaimNumber)
	fmt.Printf("  %s%s\n", RenderLabel("Amount:"), util.FormatCents(c.AmountCents))
	fmt.Printf("  %s%s %s %s\n", RenderLabel("Transition:"),
		RenderState(d.PriorState), DimStyle.Render("->"), RenderState(d.ResultingState))
	fmt.Printf("  %s%s\n", RenderLabel("Rule:"), d.RuleName)
	fmt.Printf("  %s%s\n", RenderLabel("Reasons:"), strings.Join(d.ReasonCodes, ", "))
	fmt.Printf("  %s%s\n", RenderLabel("Decision ID:"), DimStyle.Render(d.ID))
	fmt.Printf("  %s%s\n", RenderLabel("Ruleset:"), DimStyle.Render(d.RulesetVersion))
	if result.Attempts > 1 {
		fmt.Printf("  %s%s\n", RenderLabel("Attempts:"),
			WarningStyle.Render(fmt.Sprintf("%d (commit was contended)", result.Attempts)))
	}
	fmt.Println()
}
