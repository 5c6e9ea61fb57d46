// console_cmd.go - Interactive review console command for claimroute.
//
// Command: console
// Short:   Start the interactive claim review console
// Aliases: repl
//
// The console is a REPL over the same routing pipeline the other surfaces
// use: list the queue, inspect claims and decision rationale, route pending
// claims, apply supervisor overrides, and verify the decision trail without
// re-opening the database per command. Input history persists across
// sessions.
//
// Examples:
//   claimroute console                    Start the review console
//   claimroute console --actor ops-lead   Record overrides under ops-lead
//   claimroute console -q                 Skip the welcome banner
//
// Flags:
//   --actor NAME    Actor recorded on overrides (default: current user)
//   -q, --quiet     Suppress banner and exit summary
//
// Interactive Commands (inside the console):
//   list [state] [n]      List claims, optionally filtered
//   show REF [explain]    Claim detail; explain renders the rationale
//   route REF             Route against the latest bundle
//   override REF STATE    Supervisor override (prompts for TOTP code)
//   verify                Verify the decision trail hash chain
//   stats [days]          Store totals and routing activity
//   quit, Ctrl+D          Exit
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jeranaias/claimroute/internal/config"
	"github.com/jeranaias/claimroute/internal/console"
	"github.com/jeranaias/claimroute/internal/override"
)

// HandleConsole handles the "console" command.
func HandleConsole(args Args) error {
	if err := RequiresTTY("run the review console"); err != nil {
		return err
	}

	parser := NewArgParser(args.Raw)

	actor := parser.Flag("actor")
	if actor == "" {
		actor = currentActor()
	}

	rt, err := OpenRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	historyFile, err := rt.Config.ConsoleHistoryFile()
	if err != nil {
		// History is a convenience; run without it.
		historyFile = ""
	}

	// Overrides stay available in-session when an enrollment registry can
	// be located; Authorize rejects actors who never enrolled.
	var guard *override.Guard
	if dir, err := config.ConfigDir(); err == nil {
		guard = override.NewGuard(override.OpenRegistry(dir), rt.Audit)
	}

	session, err := console.New(console.Deps{
		Store:       rt.Store,
		Engine:      rt.Engine,
		Pipe:        rt.Pipe,
		Audit:       rt.Audit,
		Metrics:     rt.Metrics,
		Guard:       guard,
		Actor:       actor,
		HistoryFile: historyFile,
		Quiet:       args.Quiet,
	})
	if err != nil {
		return NewCommandError("console", "start review console", "", err)
	}

	// SIGTERM ends the session between prompts; Ctrl+C is handled by the
	// line reader as a prompt abort.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return session.Run(ctx)
}
