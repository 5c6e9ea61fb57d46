// dashboard_cmd.go - Terminal operations dashboard command for claimroute.
//
// Command: dashboard (default when no command is given)
// Short:   Live operations dashboard
// Aliases: dash
//
// Full-screen read-only view of the routing operation: state counts, the
// recent queue with fraud risk bands, the auto-approval rate over the last
// week, and intake backlog. Polls the store on a ticker; never mutates.
//
// Examples:
//   claimroute                       Open the dashboard
//   claimroute dashboard             Same, explicitly
//   claimroute dash --interval 10    Poll every 10 seconds
//
// Flags:
//   --interval SECONDS    Refresh interval (default 3)
//
// Keys:
//   r    Force refresh
//   q    Quit
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/claimroute/internal/dashboard"
)

// HandleDashboard handles the "dashboard" command.
func HandleDashboard(args Args) error {
	// The dashboard is a full-screen surface; piped output gets pointed at
	// the plain-text equivalent instead of raw escape sequences.
	if !IsStdoutTTY() {
		return NewCommandError("dashboard", "render the dashboard",
			"stdout is not a terminal (use 'claimroute stats' for plain output)", nil)
	}

	parser := NewArgParser(args.Raw)

	interval := time.Duration(parser.FlagIntOrDefault("interval", 0)) * time.Second
	if interval < 0 {
		return NewValidationErrorWithExample("interval", parser.Flag("interval"),
			"refresh interval must be positive", "claimroute dashboard --interval 10")
	}

	rt, err := OpenReadOnlyRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	deps := dashboard.Deps{
		Store:           rt.Store,
		Metrics:         rt.Metrics,
		RefreshInterval: interval,
	}
	if rt.Config.Intake.Enabled {
		if dir, err := rt.Config.IntakeDir(); err == nil {
			deps.IntakeDir = dir
		}
	}

	p := tea.NewProgram(
		dashboard.New(deps),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return NewCommandError("dashboard", "run the dashboard", "", err)
	}
	return nil
}
