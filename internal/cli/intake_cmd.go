// intake_cmd.go - Drop-directory intake service command for claimroute.
//
// Command: intake
// Short:   Watch a drop directory and route submissions as they arrive
//
// Batch feeds and legacy adjuster tools that cannot call the HTTP API
// write submission JSON files into the intake directory instead. The
// service picks each file up once it has settled, registers the claim if
// needed, routes any attached assessment, and moves the file to
// processed/ or failed/ with an error sidecar.
//
// Examples:
//   claimroute intake                 Watch the configured intake directory
//   claimroute intake --dir /srv/claims/drop --workers 8
//
// Flags:
//   --dir PATH          Drop directory (default from config)
//   --workers N         Concurrent routing workers (default from config)
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/claimroute/internal/intake"
)

const intakeStatsInterval = 30 * time.Second

// HandleIntake handles the "intake" command. Blocks until interrupted.
func HandleIntake(args Args) error {
	parser := NewArgParser(args.Raw)

	rt, err := OpenRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config
	if !cfg.Intake.Enabled {
		return NewCommandError("intake", "start service",
			"intake disabled in config (set intake.enabled = true)", nil)
	}

	dir := parser.Flag("dir")
	if dir == "" {
		dir, err = cfg.IntakeDir()
		if err != nil {
			return err
		}
	}
	workers := parser.FlagIntOrDefault("workers", cfg.Intake.Workers)

	svc, err := intake.NewService(rt.Pipe, dir, workers)
	if err != nil {
		return NewCommandError("intake", "open drop directory "+dir, "", err)
	}
	svc.WithDebounce(time.Duration(cfg.Intake.DebounceMs) * time.Millisecond)

	if err := svc.Start(); err != nil {
		return NewCommandError("intake", "start watching "+dir, "", err)
	}

	if !args.Quiet {
		fmt.Println()
		fmt.Println(TitleStyle.Render("claimroute Intake"))
		fmt.Printf("  %s%s\n", RenderLabel("Watching:"), HighlightStyle.Render(svc.Root()))
		fmt.Printf("  %s%d\n", RenderLabel("Workers:"), workers)
		fmt.Printf("  %s%dms\n", RenderLabel("Debounce:"), cfg.Intake.DebounceMs)
		fmt.Println()
		fmt.Println(DimStyle.Render("Drop submission .json files into the directory. Ctrl+C to stop."))
		fmt.Println()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(intakeStatsInterval)
	defer ticker.Stop()

	var last intake.Stats
	for {
		select {
		case <-ctx.Done():
			svc.Stop()
			printIntakeStats(svc.Stats(), args.JSON)
			return nil
		case <-ticker.C:
			st := svc.Stats()
			if st != last && !args.Quiet {
				fmt.Printf("%s processed=%d routed=%d registered=%d failed=%d\n",
					DimStyle.Render(time.Now().Format("15:04:05")),
					st.Processed, st.Routed, st.Registered, st.Failed)
				last = st
			}
		}
	}
}

// printIntakeStats prints the final counters at shutdown.
func printIntakeStats(st intake.Stats, jsonMode bool) {
	if jsonMode {
		_ = NewJSONResponse("intake", st).Print()
		return
	}
	fmt.Println()
	fmt.Printf("%s Intake stopped\n", SuccessStyle.Render("[OK]"))
	fmt.Printf("  %s%d\n", RenderLabel("Processed:"), st.Processed)
	fmt.Printf("  %s%d\n", RenderLabel("Registered:"), st.Registered)
	fmt.Printf("  %s%d\n", RenderLabel("Routed:"), st.Routed)
	failedStr := fmt.Sprintf("%d", st.Failed)
	if st.Failed > 0 {
		failedStr = WarningStyle.Render(failedStr + "  (see failed/ sidecars)")
	}
	fmt.Printf("  %s%s\n", RenderLabel("Failed:"), failedStr)
	fmt.Println()
}
