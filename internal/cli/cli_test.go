// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution.
//
// This test file covers argument parsing, command dispatch, and exit code
// mapping. Every handler parses through ArgParser, so its behavior is
// load-bearing for the whole surface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/override"
	"github.com/jeranaias/claimroute/internal/store"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"list"},
			wantSub: "list",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"list", "--limit", "50"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("limit") != "50" {
					t.Errorf("Flag(limit) = %q, want %q", p.Flag("limit"), "50")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"list", "--state=manual_review"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("state") != "manual_review" {
					t.Errorf("Flag(state) = %q, want %q", p.Flag("state"), "manual_review")
				}
			},
		},
		{
			name:    "boolean flag",
			args:    []string{"verify", "--json"},
			wantSub: "verify",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("json") {
					t.Error("BoolFlag(json) should be true")
				}
			},
		},
		{
			name:    "multiple positional args",
			args:    []string{"CLM-2025-104217", "manual_review", "reopened", "per", "adjuster"},
			wantSub: "CLM-2025-104217",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 5 {
					t.Errorf("PositionalCount() = %d, want 5", p.PositionalCount())
				}
				joined := strings.Join(p.PositionalFrom(2), " ")
				if joined != "reopened per adjuster" {
					t.Errorf("PositionalFrom(2) joined = %q, want %q", joined, "reopened per adjuster")
				}
			},
		},
		{
			name:    "mixed flags and positional",
			args:    []string{"show", "--format", "json", "CLM-2025-104217"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("format") != "json" {
					t.Errorf("Flag(format) = %q, want %q", p.Flag("format"), "json")
				}
				if p.Positional(1) != "CLM-2025-104217" {
					t.Errorf("Positional(1) = %q, want %q", p.Positional(1), "CLM-2025-104217")
				}
			},
		},
		{
			name:    "explicit boolean value",
			args:    []string{"set", "--force=false"},
			wantSub: "set",
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("force") {
					t.Error("BoolFlag(force) should be false for --force=false")
				}
				if !p.HasFlag("force") {
					t.Error("HasFlag(force) should be true for --force=false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewArgParser(tt.args)
			if parser.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", parser.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, parser)
			}
		})
	}
}

func TestArgParser_FlagIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		flagName   string
		defaultVal int
		want       int
	}{
		{
			name:       "flag present",
			args:       []string{"list", "--limit", "10"},
			flagName:   "limit",
			defaultVal: 50,
			want:       10,
		},
		{
			name:       "flag missing uses default",
			args:       []string{"list"},
			flagName:   "limit",
			defaultVal: 50,
			want:       50,
		},
		{
			name:       "invalid int uses default",
			args:       []string{"list", "--limit", "abc"},
			flagName:   "limit",
			defaultVal: 50,
			want:       50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewArgParser(tt.args)
			got := parser.FlagIntOrDefault(tt.flagName, tt.defaultVal)
			if got != tt.want {
				t.Errorf("FlagIntOrDefault(%q, %d) = %d, want %d", tt.flagName, tt.defaultVal, got, tt.want)
			}
		})
	}
}

func TestArgParser_HasFlag(t *testing.T) {
	parser := NewArgParser([]string{"list", "--follow", "--limit", "50"})

	if !parser.HasFlag("follow") {
		t.Error("HasFlag(follow) should be true")
	}
	if !parser.HasFlag("limit") {
		t.Error("HasFlag(limit) should be true")
	}
	if parser.HasFlag("nonexistent") {
		t.Error("HasFlag(nonexistent) should be false")
	}
}

func TestJoinPositionalArgs(t *testing.T) {
	parser := NewArgParser([]string{"CLM-2025-000042", "rejected", "duplicate", "of", "CLM-2025-000041"})

	got := JoinPositionalArgs(parser, 2)
	want := "duplicate of CLM-2025-000041"
	if got != want {
		t.Errorf("JoinPositionalArgs(2) = %q, want %q", got, want)
	}

	if JoinPositionalArgs(parser, 99) != "" {
		t.Error("JoinPositionalArgs past the end should be empty")
	}
}

// =============================================================================
// PARSE BOOL STRING TESTS
// =============================================================================

func TestParseBoolString(t *testing.T) {
	trueValues := []string{"true", "TRUE", "True", "yes", "YES", "y", "Y", "1", "on", "ON"}
	falseValues := []string{"false", "FALSE", "False", "no", "NO", "n", "N", "0", "off", "OFF"}

	for _, v := range trueValues {
		t.Run("true_"+v, func(t *testing.T) {
			got, err := ParseBoolString(v)
			if err != nil {
				t.Errorf("ParseBoolString(%q) error = %v", v, err)
			}
			if !got {
				t.Errorf("ParseBoolString(%q) = false, want true", v)
			}
		})
	}

	for _, v := range falseValues {
		t.Run("false_"+v, func(t *testing.T) {
			got, err := ParseBoolString(v)
			if err != nil {
				t.Errorf("ParseBoolString(%q) error = %v", v, err)
			}
			if got {
				t.Errorf("ParseBoolString(%q) = true, want false", v)
			}
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseBoolString("maybe")
		if err == nil {
			t.Error("ParseBoolString(maybe) should error")
		}
	})
}

// =============================================================================
// PARSE INT WITH VALIDATION TESTS
// =============================================================================

func TestParseIntWithValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		field   string
		want    int
		wantErr bool
	}{
		{"valid positive", "42", "limit", 42, false},
		{"valid one", "1", "limit", 1, false},
		{"zero is invalid", "0", "limit", 0, true},
		{"negative is invalid", "-5", "limit", 0, true},
		{"empty is invalid", "", "limit", 0, true},
		{"non-numeric is invalid", "abc", "limit", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIntWithValidation(tt.input, tt.field)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseIntWithValidation(%q, %q) error = %v, wantErr %v", tt.input, tt.field, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseIntWithValidation(%q, %q) = %d, want %d", tt.input, tt.field, got, tt.want)
			}
		})
	}
}

// =============================================================================
// INTEGRATION-STYLE TESTS (testing Parse() with os.Args simulation)
// =============================================================================

// TestParse_Integration tests the actual Parse() function by temporarily
// modifying os.Args. This is an integration test of the full CLI parsing.
func TestParse_Integration(t *testing.T) {
	// Save original args
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	tests := []struct {
		name        string
		args        []string
		wantCommand Command
		validate    func(*testing.T, Args)
	}{
		{
			name:        "no args defaults to dashboard",
			args:        []string{"claimroute"},
			wantCommand: CmdDashboard,
		},
		{
			name:        "route command",
			args:        []string{"claimroute", "route", "CLM-2025-104217", "--latest"},
			wantCommand: CmdRoute,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "CLM-2025-104217" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "CLM-2025-104217")
				}
			},
		},
		{
			name:        "claims list",
			args:        []string{"claimroute", "claims", "list", "--state", "pending"},
			wantCommand: CmdClaims,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "list" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "list")
				}
			},
		},
		{
			name:        "claim alias",
			args:        []string{"claimroute", "claim", "show", "CLM-2025-000001"},
			wantCommand: CmdClaims,
		},
		{
			name:        "decisions command",
			args:        []string{"claimroute", "decisions", "CLM-2025-000001"},
			wantCommand: CmdDecisions,
		},
		{
			name:        "serve alias server",
			args:        []string{"claimroute", "server", "--port", "9000"},
			wantCommand: CmdServe,
		},
		{
			name:        "console alias repl",
			args:        []string{"claimroute", "repl"},
			wantCommand: CmdConsole,
		},
		{
			name:        "audit alias trail",
			args:        []string{"claimroute", "trail", "verify"},
			wantCommand: CmdAudit,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "verify" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "verify")
				}
			},
		},
		{
			name:        "stats alias s",
			args:        []string{"claimroute", "s"},
			wantCommand: CmdStats,
		},
		{
			name:        "config show",
			args:        []string{"claimroute", "config", "show"},
			wantCommand: CmdConfig,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "show" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "show")
				}
			},
		},
		{
			name:        "global json flag",
			args:        []string{"claimroute", "--json", "stats"},
			wantCommand: CmdStats,
			validate: func(t *testing.T, a Args) {
				if !a.JSON {
					t.Error("JSON should be true")
				}
			},
		},
		{
			name:        "global quiet flag",
			args:        []string{"claimroute", "-q", "intake"},
			wantCommand: CmdIntake,
			validate: func(t *testing.T, a Args) {
				if !a.Quiet {
					t.Error("Quiet should be true")
				}
			},
		},
		{
			name:        "explicit config path",
			args:        []string{"claimroute", "--config", "/tmp/alt.toml", "stats"},
			wantCommand: CmdStats,
			validate: func(t *testing.T, a Args) {
				if a.ConfigPath != "/tmp/alt.toml" {
					t.Errorf("ConfigPath = %q, want %q", a.ConfigPath, "/tmp/alt.toml")
				}
			},
		},
		{
			name:        "help command",
			args:        []string{"claimroute", "help"},
			wantCommand: CmdHelp,
		},
		{
			name:        "version flag",
			args:        []string{"claimroute", "--version"},
			wantCommand: CmdVersion,
		},
		{
			name:        "unknown command",
			args:        []string{"claimroute", "frobnicate"},
			wantCommand: CmdUnknown,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "frobnicate" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "frobnicate")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			cmd, args := Parse()

			if cmd != tt.wantCommand {
				t.Errorf("Command = %v, want %v", cmd, tt.wantCommand)
			}

			if tt.validate != nil {
				tt.validate(t, args)
			}
		})
	}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, ExitSuccess},
		{"validation error", NewValidationError("amount", "-5", "must be positive"), ExitUsageError},
		{"missing argument", ErrMissingArgument("claim", "claimroute route <claim>"), ExitUsageError},
		{"invalid override code", override.ErrInvalidCode, ExitAuthError},
		{"actor not enrolled", fmt.Errorf("authorize: %w", override.ErrNotEnrolled), ExitAuthError},
		{"lost commit race", fmt.Errorf("route: %w", store.ErrConcurrentModification), ExitConflictError},
		{"duplicate claim", store.ErrDuplicateClaim, ExitConflictError},
		{"terminal claim", claim.ErrClaimTerminal, ExitConflictError},
		{"claim not found", fmt.Errorf("lookup: %w", store.ErrNotFound), ExitNotFoundError},
		{"plain error", errors.New("something broke"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestArgParser_EmptyArgs(t *testing.T) {
	parser := NewArgParser([]string{})
	if parser.Subcommand() != "" {
		t.Errorf("Subcommand() = %q, want empty", parser.Subcommand())
	}
	if parser.PositionalCount() != 0 {
		t.Errorf("PositionalCount() = %d, want 0", parser.PositionalCount())
	}
}

func TestArgParser_OnlyFlags(t *testing.T) {
	parser := NewArgParser([]string{"--follow", "--json"})
	if parser.Subcommand() != "" {
		t.Errorf("Subcommand() = %q, want empty", parser.Subcommand())
	}
	if !parser.BoolFlag("follow") {
		t.Error("BoolFlag(follow) should be true")
	}
	if !parser.BoolFlag("json") {
		t.Error("BoolFlag(json) should be true")
	}
}

func TestArgParser_FlagOrDefault(t *testing.T) {
	parser := NewArgParser([]string{"list", "--state", "pending"})

	if parser.FlagOrDefault("state", "manual_review") != "pending" {
		t.Error("FlagOrDefault should return actual value when present")
	}
	if parser.FlagOrDefault("missing", "manual_review") != "manual_review" {
		t.Error("FlagOrDefault should return default when missing")
	}
}

// =============================================================================
// BENCHMARKS
// =============================================================================

func BenchmarkArgParser_Simple(b *testing.B) {
	args := []string{"show", "CLM-2025-104217"}
	for i := 0; i < b.N; i++ {
		NewArgParser(args)
	}
}

func BenchmarkArgParser_Complex(b *testing.B) {
	args := []string{"list", "--state", "manual_review", "--limit=20", "--json", "-q", "CLM-2025-104217"}
	for i := 0; i < b.N; i++ {
		NewArgParser(args)
	}
}

func BenchmarkArgParser_ManyFlags(b *testing.B) {
	args := []string{
		"cmd",
		"--flag1", "value1",
		"--flag2", "value2",
		"--flag3", "value3",
		"--flag4", "value4",
		"--flag5", "value5",
		"--bool1",
		"--bool2",
		"--bool3",
		"positional1",
		"positional2",
	}
	for i := 0; i < b.N; i++ {
		NewArgParser(args)
	}
}
