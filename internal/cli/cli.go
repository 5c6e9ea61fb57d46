// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command handlers for claimroute.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdDashboard Command = iota // Operations dashboard (default)
	CmdRoute                    // Route a claim against an assessment bundle
	CmdClaims                   // Claim management (list/show/register)
	CmdDecisions                // Decision history for a claim
	CmdServe                    // Intake HTTP API
	CmdIntake                   // Drop-directory intake service
	CmdConsole                  // Interactive review console
	CmdAudit                    // Decision trail management (show/verify/export/status)
	CmdOverride                 // Supervisor state overrides (TOTP step-up)
	CmdConfig                   // Configuration (show/set/path)
	CmdStats                    // Routing statistics
	CmdInit                     // First-run setup
	CmdKeygen                   // Decision trail HMAC key generation
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // Explicit config file (--config PATH)
	JSON       bool   // Output in JSON format
	Quiet      bool
	Verbose    bool

	// Subcommand is the first positional argument after the command, for
	// commands that take one (claims list, audit verify, ...).
	Subcommand string

	// Raw args (remaining after command and global-flag extraction).
	// Command handlers parse these with NewArgParser.
	Raw []string
}

const usageText = `claimroute - deterministic insurance claim routing

Claimroute routes insurance claims through fixed-priority rules: coverage
denial, fraud escalation, instant approval, manual review. Decisions are
evaluated against immutable assessment bundles, committed with optimistic
version checks so exactly one concurrent decision wins, and recorded on a
tamper-evident audit trail.

Usage:
  claimroute                         Operations dashboard (default)
  claimroute route <claim> [flags]   Route a claim with an assessment bundle
  claimroute claims [subcommand]     Claim management
  claimroute decisions <claim>       Decision history for a claim
  claimroute serve                   Start the intake HTTP API
  claimroute intake                  Run the drop-directory intake service
  claimroute console                 Interactive review console
  claimroute audit [subcommand]      Decision trail management
  claimroute override [subcommand]   Supervisor state overrides
  claimroute config [show|set|path]  Configuration
  claimroute stats                   Routing statistics
  claimroute init                    First-run setup (config, directories)
  claimroute keygen                  Generate the decision trail HMAC key
  claimroute version                 Version information

Route Command:
  claimroute route CLM-2025-104217 --file bundle.json
                                    Route using an assessment bundle file
  cat bundle.json | claimroute route CLM-2025-104217
                                    Route using a bundle read from stdin
  claimroute route CLM-2025-104217 --latest
                                    Re-route the most recent stored bundle
    --json                          Print the full decision as JSON

Claim Commands:
  claimroute claims list            List claims, newest first
    --state STATE                   Filter by routing state
    --limit N                       Show at most N claims (default: 50)
  claimroute claims show <claim>    Show one claim with its latest decision
  claimroute claims register <claim-number> <policy-number> <amount>
                                    Register a claim for routing
    --type TYPE                     Loss type (default: other)
    --description TEXT              Policyholder's account of the incident

  States: pending, auto_approved, manual_review, fraud_investigation, rejected
  Types:  auto_collision, auto_theft, property_damage, water_damage,
          fire_damage, liability, other

Audit Commands:
  claimroute audit show             Show recent decision trail events
    --limit N                       Show last N events (default: 50)
    --follow                        Keep printing new events as they land
  claimroute audit verify           Verify hash chain and witness integrity
  claimroute audit export           Export the trail for downstream review
    --format json|csv               Export format (default: json)
    --output FILE                   Write to file (default: stdout)
  claimroute audit status           Show chain length, head, and key source

Override Commands:
  claimroute override <claim> --to STATE --actor NAME
                                    Force a routing state with step-up auth
    --code N                        TOTP code (prompted when omitted)
    --justification TEXT            Reason recorded on the decision
  claimroute override enroll <actor>    Enroll a supervisor for TOTP codes
  claimroute override revoke <actor>    Remove an enrollment
  claimroute override list              List enrolled supervisors

Config Commands:
  claimroute config show            Show current configuration
  claimroute config set KEY VALUE   Set a configuration value
  claimroute config path            Print the config file path

  Keys: routing.auto_approve_limit     routing.confidence_threshold
        routing.fraud_investigation_threshold
        routing.auto_approve_fraud_ceiling
        routing.commit_retries         server.host
        server.port                    server.rate_per_second
        intake.workers                 intake.debounce_ms
        audit.halt_on_failure          audit.redact_pii

Global Flags:
  --config PATH   Use an explicit config file
  -q, --quiet     Minimal output
  -v, --verbose   Debug output
  --json          Machine-readable JSON output

Examples:
  # First run
  claimroute init
  claimroute keygen

  # Register and route a claim
  claimroute claims register CLM-2025-104217 POL-884201 3200.00 --type auto_collision
  claimroute route CLM-2025-104217 --file assessments/104217.json

  # Watch the queue
  claimroute                          Open the dashboard
  claimroute claims list --state manual_review
  claimroute stats --json

  # Supervisor override with step-up verification
  claimroute override enroll dana.cho
  claimroute override CLM-2025-104217 --to manual_review --actor dana.cho \
      --justification "customer provided police report"

  # Integrity checks
  claimroute audit verify
  claimroute audit export --format csv --output trail.csv

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("claimroute version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	args := os.Args[1:]

	// Parse global flags first
	remaining, parsedArgs := parseGlobalFlags(args)

	// If no remaining args, default to the dashboard
	if len(remaining) == 0 {
		return CmdDashboard, parsedArgs
	}

	// Check first argument for command
	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining
	if len(remaining) > 0 && !strings.HasPrefix(remaining[0], "-") {
		parsedArgs.Subcommand = remaining[0]
	}

	switch cmd {
	case "dashboard", "dash":
		return CmdDashboard, parsedArgs

	case "route":
		return CmdRoute, parsedArgs

	case "claims", "claim":
		return CmdClaims, parsedArgs

	case "decisions", "decision":
		return CmdDecisions, parsedArgs

	case "serve", "server":
		return CmdServe, parsedArgs

	case "intake":
		return CmdIntake, parsedArgs

	case "console", "repl":
		return CmdConsole, parsedArgs

	case "audit", "trail":
		// Argument parsing is done in audit_cmd.go HandleAudit
		return CmdAudit, parsedArgs

	case "override", "overrides":
		// Argument parsing is done in override_cmd.go HandleOverride
		return CmdOverride, parsedArgs

	case "config":
		return CmdConfig, parsedArgs

	case "stats", "s":
		return CmdStats, parsedArgs

	case "init", "setup":
		return CmdInit, parsedArgs

	case "keygen":
		return CmdKeygen, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Not a known command; report it rather than guessing intent.
		parsedArgs.Subcommand = cmd
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--config":
			if i+1 < len(args) {
				i++
				parsedArgs.ConfigPath = args[i]
			}
		default:
			// Check for --config=value format
			if strings.HasPrefix(arg, "--config=") {
				parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
		i++
	}

	return remaining, parsedArgs
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// Command implementations live in their *_cmd.go files:
//   route_cmd.go     HandleRoute
//   claims_cmd.go    HandleClaims, HandleDecisions
//   serve_cmd.go     HandleServe
//   intake_cmd.go    HandleIntake
//   audit_cmd.go     HandleAudit
//   override_cmd.go  HandleOverride
//   config_cmd.go    HandleConfig
//   stats_cmd.go     HandleStats
//   init_cmd.go      HandleInit, HandleKeygen
//   console_cmd.go   HandleConsole
//   dashboard_cmd.go HandleDashboard

// HandleVersion handles the "version" command.
func HandleVersion() {
	PrintVersion()
}

// HandleVersionWithJSON handles the "version" command with JSON output support.
func HandleVersionWithJSON(args Args) {
	if args.JSON {
		data := VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		resp := NewJSONResponse("version", data)
		resp.Print()
		return
	}
	PrintVersion()
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}

// HandleUnknown reports an unrecognized command and exits with a usage error.
func HandleUnknown(args Args) {
	fmt.Fprintf(os.Stderr, "claimroute: unknown command %q\n", args.Subcommand)
	fmt.Fprintln(os.Stderr, "Run 'claimroute help' for usage.")
	os.Exit(ExitUsageError)
}
