// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main provides the claimroute guided setup - a first-run experience
// that provisions the workspace, thresholds, and decision trail key.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

const version = "1.0.0"

func main() {
	// Check for --text flag for copy/paste friendly output
	for _, arg := range os.Args[1:] {
		if arg == "--text" || arg == "-t" || arg == "--simple" {
			runTextSetup()
			return
		}
		if arg == "--welcome" || arg == "-w" {
			runWelcomeTour()
			return
		}
		if arg == "--help" || arg == "-h" {
			printHelp()
			return
		}
		if arg == "--version" || arg == "-v" {
			fmt.Printf("claimroute setup v%s\n", version)
			return
		}
	}

	// Check if running in a terminal
	if !isTerminal() {
		fmt.Println("claimroute setup requires an interactive terminal.")
		fmt.Println("Run with --text for a simple text-based setup.")
		os.Exit(1)
	}

	// Create and run the TUI setup
	// Mouse capture disabled to allow terminal text selection/copy
	p := tea.NewProgram(
		NewInstaller(),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running setup: %v\n", err)
		os.Exit(1)
	}
}

// printHelp shows usage information
func printHelp() {
	fmt.Println(`claimroute setup v` + version + `

Usage: claimroute-setup [OPTIONS]

Options:
  --text, -t     Run in text mode (copy/paste friendly)
  --welcome, -w  Replay the first-run command tour
  --help, -h     Show this help
  --version, -v  Show version

The default mode is an interactive TUI that checks the system, lets you
pick a routing threshold profile, and provisions ~/.claimroute. Use
--text for environments where a TUI is not available.`)
}

// isTerminal checks if we're running in an interactive terminal
func isTerminal() bool {
	if isWindows() {
		return true // Windows terminal detection is complex, assume yes
	}

	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// runWelcomeTour replays the post-setup command tour on its own.
func runWelcomeTour() {
	p := tea.NewProgram(NewWelcomeScreen(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running tour: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// TEXT MODE SETUP (Copy/Paste Friendly)
// =============================================================================

func runTextSetup() {
	reader := bufio.NewReader(os.Stdin)

	// Header
	fmt.Println()
	fmt.Println("================================================================================")
	fmt.Println("                              CLAIMROUTE SETUP")
	fmt.Println("         " + tagline)
	fmt.Println("================================================================================")
	fmt.Println()

	// Welcome
	fmt.Println("This setup will:")
	fmt.Println("  [1] Check your system")
	fmt.Println("  [2] Let you choose a routing threshold profile")
	fmt.Println("  [3] Create the configuration and data directories")
	fmt.Println("  [4] Generate the decision trail signing key")
	fmt.Println()
	fmt.Print("Press Enter to continue (or 'q' to quit): ")
	input, _ := reader.ReadString('\n')
	if strings.TrimSpace(input) == "q" {
		fmt.Println("Setup cancelled.")
		return
	}

	fmt.Println()
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Println("                                SYSTEM CHECK")
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Println()

	keyNeeded := false
	for _, check := range setupChecks() {
		result := check()
		tag := "[OK]"
		if result.Status == "warn" {
			tag = "[!!]"
		} else if result.Status == "fail" {
			tag = "[FAIL]"
		}
		fmt.Printf("  %s %s: %s\n", tag, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("       -> %s\n", result.Fix)
		}
		if result.Name == checkNameTrailKey && result.Status != "pass" {
			keyNeeded = true
		}
	}
	fmt.Println()

	if keyNeeded {
		fmt.Println("A signing key protects the decision trail from silent edits. Setup")
		fmt.Println("will generate one; back the key file up once it exists.")
		fmt.Println()
	}

	// Profile selection
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Println("                           CHOOSE A ROUTING PROFILE")
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Println()
	profiles := setupProfiles()
	for i, p := range profiles {
		fmt.Printf("  [%d] %-13s %s\n", i+1, p.Name, p.Description)
	}
	fmt.Println()
	fmt.Printf("Enter choice [1-%d]: ", len(profiles))
	input, _ = reader.ReadString('\n')
	choice := strings.TrimSpace(input)

	selected := 0
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(profiles) {
		selected = n - 1
	}
	profile := profiles[selected]

	fmt.Println()
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Println("                                PROVISIONING")
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Println()

	for _, step := range provisionSteps(profile) {
		result := step.Run()
		tag := "[OK]"
		if result.Status == "warn" {
			tag = "[!!]"
		} else if result.Status == "fail" {
			tag = "[FAIL]"
		}
		fmt.Printf("  %s %s: %s\n", tag, step.Name, result.Message)
		if result.Status == "fail" {
			fmt.Println()
			fmt.Println("Setup stopped. Fix the problem above and run claimroute-setup again.")
			return
		}
	}

	// Done!
	fmt.Println()
	fmt.Println("================================================================================")
	fmt.Println("                              SETUP COMPLETE!")
	fmt.Println("================================================================================")
	fmt.Println()
	fmt.Println("What you got:")
	fmt.Println("  * Deterministic routing  - Four rules, first match decides")
	fmt.Println("  * Decision trail         - HMAC-chained, tamper-evident")
	fmt.Println("  * Downstream queues      - Settlements, review items, notices")
	fmt.Println("  * Intake watcher         - Drop bundle files, get decisions")
	fmt.Println("  * Review console         - Interactive claim review")
	fmt.Println()
	fmt.Println("Try it:")
	fmt.Println()
	fmt.Println("    claimroute claims register CLM-2025-000001 POL-778231 1850.00 --type auto_collision")
	fmt.Println("    claimroute route CLM-2025-000001 --file assessment.json")
	fmt.Println("    claimroute console")
	fmt.Println()
	fmt.Print("Press Enter to exit (or 'l' to open the review console): ")
	input, _ = reader.ReadString('\n')
	if strings.TrimSpace(input) == "l" {
		fmt.Println("\nOpening the review console...")
		launchConsoleTerminal()
	}
	fmt.Println()
	fmt.Println("Happy routing!")
}
