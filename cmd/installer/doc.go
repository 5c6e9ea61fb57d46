// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package main provides the claimroute guided setup - a first-run experience
that provisions everything the routing engine needs.

# Overview

The setup is a terminal TUI built with Bubble Tea that checks the system,
lets the operator choose a routing threshold profile, and provisions the
workspace: configuration, data directories, and the decision trail signing
key. A text mode covers environments where a TUI is not available. The
scriptable equivalent is `claimroute init` plus `claimroute keygen`; this
binary exists for first runs where a walkthrough beats flags.

# Features

  - System checks (data directory, existing data, signing key, disk space)
  - Routing threshold profiles (standard, conservative, high-volume,
    manual-first, or keep the existing configuration)
  - Configuration file generation (~/.claimroute/config.toml)
  - Decision trail HMAC key generation
  - Release binary download from GitHub when claimroute is not installed
  - First-run command tour (replayable with --welcome)

# Building

Build the setup binary:

	go build -o claimroute-setup ./cmd/installer

Or build with version information:

	go build -ldflags "-X main.version=1.0.0" -o claimroute-setup ./cmd/installer

# Command Line Options

	--text, -t     Run in text mode (copy/paste friendly, no TUI)
	--welcome, -w  Replay the first-run command tour
	--help, -h     Show help information
	--version, -v  Show version number

# Usage Examples

Run the interactive TUI setup (default):

	claimroute-setup

Run in text mode for non-interactive environments:

	claimroute-setup --text

# Files Created

The setup creates the following directory structure:

	~/.claimroute/
	    config.toml          # Configuration with the chosen thresholds
	    audit/               # Decision trail chain and signing key
	    intake/              # Bundle drop directory
	    outbound/            # Settlement, review, and notice queues
	    metrics/             # Rolling telemetry snapshots

	~/.local/bin/
	    claimroute           # Main binary (or claimroute.exe on Windows)

# Architecture

The setup consists of three main components:

  - main.go: Entry point, CLI argument parsing, text mode implementation
  - installer.go: TUI model with phases, the shared checks, and the shared
    provisioning steps both modes run
  - welcome.go: First-run command tour

The TUI uses a phase-based state machine:

  - PhaseWelcome: Introduction
  - PhaseSystemCheck: Verifies the environment
  - PhaseKeySetup: Explains key generation when no signing key exists
  - PhaseProfileSelect: Routing threshold profile choice
  - PhaseProvision: Writes config, creates directories, generates the key
  - PhaseComplete: Success screen with a console launch option

# Dependencies

  - github.com/charmbracelet/bubbletea - TUI framework
  - github.com/charmbracelet/bubbles - TUI components (spinner, progress)
  - github.com/charmbracelet/lipgloss - Terminal styling
*/
package main
