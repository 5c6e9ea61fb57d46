// audit_cmd.go - Decision trail management CLI commands for claimroute.
//
// Command: audit [subcommand]
// Short:   Inspect and verify the tamper-evident decision trail
// Aliases: trail
//
// Subcommands:
//   show (default)      Display recent decision trail events
//   verify              Verify hash chain and witness integrity
//   export              Export the trail for downstream review
//   status              Show chain length, head hash, and key source
//
// Examples:
//   claimroute audit                          Show recent events (default)
//   claimroute audit show --limit 100         Show last 100 events
//   claimroute audit show --kind override_applied
//   claimroute audit show --claim CLM-2025-104217
//   claimroute audit show --follow            Tail new events as they land
//   claimroute audit verify                   Verify trail integrity
//   claimroute audit export --format csv --output trail.csv
//   claimroute audit status --json
//
// Flags:
//   --limit N, -n N     Number of events to show (default: 50)
//   --kind KIND         Filter by event kind
//   --claim REF         Filter by claim number or ID
//   --follow            Keep watching for new events (show only)
//   --format FORMAT     Export format: json, csv
//   --output FILE, -o   Export to file (default: stdout)
//   --json              Output in JSON format
//
// Event kinds:
//   claim_registered, bundle_received, decision_committed,
//   decision_conflict, override_applied, access_denied,
//   dispatch_queued, config_reloaded
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/claimroute/internal/audit"
)

// followPollInterval is how often --follow re-reads the event file.
const followPollInterval = 2 * time.Second

// eventKindColors maps event kinds to display styles.
var eventKindColors = map[string]lipgloss.Style{
	audit.EventClaimRegistered:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),  // Cyan
	audit.EventBundleReceived:    lipgloss.NewStyle().Foreground(lipgloss.Color("75")),  // Blue
	audit.EventDecisionCommitted: lipgloss.NewStyle().Foreground(lipgloss.Color("82")),  // Green
	audit.EventDecisionConflict:  lipgloss.NewStyle().Foreground(lipgloss.Color("208")), // Orange
	audit.EventOverrideApplied:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")), // Yellow
	audit.EventAccessDenied:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red
	audit.EventDispatchQueued:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")), // Gray
	audit.EventConfigReloaded:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")), // Gray
}

// =============================================================================
// AUDIT ARGUMENTS
// =============================================================================

// AuditCmdArgs holds parsed audit command arguments.
type AuditCmdArgs struct {
	Subcommand string
	Limit      int
	Kind       string
	Claim      string
	Follow     bool
	Format     string
	Output     string
	JSON       bool
}

// parseAuditCmdArgs parses audit command specific arguments.
func parseAuditCmdArgs(args *Args) AuditCmdArgs {
	parser := NewArgParser(args.Raw)

	limit := parser.FlagIntOrDefault("limit", 0)
	if limit == 0 {
		limit = parser.FlagIntOrDefault("n", 50)
	}

	output := parser.Flag("output")
	if output == "" {
		output = parser.Flag("o")
	}

	return AuditCmdArgs{
		Subcommand: parser.Subcommand(),
		Limit:      limit,
		Kind:       strings.ToLower(parser.Flag("kind")),
		Claim:      parser.Flag("claim"),
		Follow:     parser.BoolFlag("follow"),
		Format:     strings.ToLower(parser.FlagOrDefault("format", "json")),
		Output:     output,
		JSON:       args.JSON,
	}
}

// =============================================================================
// HANDLE AUDIT
// =============================================================================

// HandleAudit handles the "audit" command with its subcommands.
func HandleAudit(args Args) error {
	auditArgs := parseAuditCmdArgs(&args)

	log, path, err := openAuditForInspection(&args)
	if err != nil {
		return err
	}
	defer log.Close()

	switch auditArgs.Subcommand {
	case "", "show":
		return handleAuditShow(log, auditArgs)
	case "verify":
		return handleAuditVerify(log, auditArgs)
	case "export":
		return handleAuditExport(log, auditArgs)
	case "status":
		return handleAuditStatus(log, path, auditArgs)
	default:
		return fmt.Errorf("unknown audit subcommand: %s\n\nUsage:\n"+
			"  claimroute audit show [--limit N] [--kind KIND] [--claim REF] [--follow]\n"+
			"  claimroute audit verify\n"+
			"  claimroute audit export [--format json|csv] [--output FILE]\n"+
			"  claimroute audit status", auditArgs.Subcommand)
	}
}

// openAuditForInspection opens the decision trail for reading. Inspection
// needs the HMAC key (verification recomputes the chain), so a missing key
// fails here with the keygen hint from the key manager.
func openAuditForInspection(args *Args) (*audit.Log, string, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, "", WrapError(err, "load configuration")
	}
	dir, err := cfg.AuditDir()
	if err != nil {
		return nil, "", err
	}
	log, err := audit.Open(dir, audit.Options{})
	if err != nil {
		return nil, "", WrapError(err, "open decision trail")
	}
	return log, dir, nil
}

// =============================================================================
// AUDIT SHOW
// =============================================================================

// handleAuditShow displays recent decision trail events, oldest first.
func handleAuditShow(log *audit.Log, auditArgs AuditCmdArgs) error {
	events, err := log.Events()
	if err != nil {
		return WrapError(err, "read decision trail")
	}

	filtered := filterEvents(events, auditArgs.Kind, auditArgs.Claim)

	shown := filtered
	if auditArgs.Limit > 0 && len(shown) > auditArgs.Limit {
		shown = shown[len(shown)-auditArgs.Limit:]
	}

	if auditArgs.JSON && !auditArgs.Follow {
		return NewJSONResponse("audit", map[string]interface{}{
			"events": shown,
			"count":  len(shown),
			"total":  len(events),
		}).Print()
	}

	if len(shown) == 0 && !auditArgs.Follow {
		fmt.Println()
		fmt.Println(DimStyle.Render("No decision trail events match the given filters."))
		fmt.Println()
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Decision Trail"))
	printAuditFilters(auditArgs)
	fmt.Println()

	for _, ev := range shown {
		printAuditEvent(ev)
	}

	if !auditArgs.Follow {
		fmt.Println()
		fmt.Printf("Showing %d of %d events\n", len(shown), len(events))
		fmt.Println()
		return nil
	}

	return followAuditEvents(log, auditArgs, len(events))
}

// followAuditEvents polls for new events until interrupted.
func followAuditEvents(log *audit.Log, auditArgs AuditCmdArgs, seen int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println()
	fmt.Println(DimStyle.Render("Following decision trail (Ctrl+C to stop)..."))

	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
			events, err := log.Events()
			if err != nil {
				return WrapError(err, "read decision trail")
			}
			if len(events) <= seen {
				continue
			}
			for _, ev := range filterEvents(events[seen:], auditArgs.Kind, auditArgs.Claim) {
				printAuditEvent(ev)
			}
			seen = len(events)
		}
	}
}

// filterEvents applies kind and claim filters.
func filterEvents(events []audit.Event, kind, claimRef string) []audit.Event {
	if kind == "" && claimRef == "" {
		return events
	}
	var out []audit.Event
	for _, ev := range events {
		if kind != "" && ev.Kind != kind {
			continue
		}
		if claimRef != "" && ev.ClaimID != claimRef && ev.ClaimNumber != claimRef {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// printAuditFilters shows active filters under the title.
func printAuditFilters(auditArgs AuditCmdArgs) {
	var filters []string
	if auditArgs.Kind != "" {
		filters = append(filters, "kind="+auditArgs.Kind)
	}
	if auditArgs.Claim != "" {
		filters = append(filters, "claim="+auditArgs.Claim)
	}
	if len(filters) > 0 {
		fmt.Printf("Filters: %s\n", DimStyle.Render(strings.Join(filters, ", ")))
	}
}

// printAuditEvent formats and prints a single trail event.
func printAuditEvent(ev audit.Event) {
	kindStyle := ValueStyle
	if style, ok := eventKindColors[ev.Kind]; ok {
		kindStyle = style
	}

	line := fmt.Sprintf("%s  %s",
		DimStyle.Render(ev.Timestamp.Format("2006-01-02 15:04:05")),
		kindStyle.Render(fmt.Sprintf("%-20s", ev.Kind)))

	if ev.ClaimNumber != "" {
		line += "  " + ev.ClaimNumber
	} else if ev.ClaimID != "" {
		line += "  " + DimStyle.Render(ev.ClaimID)
	}
	if ev.Actor != "" {
		line += "  " + WarningStyle.Render(ev.Actor)
	}
	fmt.Println(line)

	// One compact detail line: the state transition when present,
	// otherwise the first few detail keys.
	if len(ev.Detail) > 0 {
		if from, ok := ev.Detail["prior_state"]; ok {
			fmt.Printf("           %s\n",
				DimStyle.Render(fmt.Sprintf("%s -> %s (%s)", from, ev.Detail["resulting_state"], ev.Detail["rule"])))
			return
		}
		keys := make([]string, 0, len(ev.Detail))
		for k := range ev.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 3 {
			keys = keys[:3]
		}
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+ev.Detail[k])
		}
		fmt.Printf("           %s\n", DimStyle.Render(strings.Join(parts, " ")))
	}
}

// =============================================================================
// AUDIT VERIFY
// =============================================================================

// handleAuditVerify verifies the hash chain and witness file.
func handleAuditVerify(log *audit.Log, auditArgs AuditCmdArgs) error {
	report, err := log.Verify()
	if err != nil {
		return WrapError(err, "verify decision trail")
	}

	if auditArgs.JSON {
		data := &AuditVerifyData{
			Verified:         report.Verified,
			ChainLength:      report.ChainLength,
			Issues:           report.Issues,
			PermissionIssues: report.PermissionIssues,
			CheckedAt:        report.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := NewJSONResponse("audit", data).Print(); err != nil {
			return err
		}
		if !report.Verified {
			return fmt.Errorf("decision trail verification failed: %d issue(s)", len(report.Issues))
		}
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Decision Trail Verification"))
	fmt.Println(RenderSeparator(60))
	fmt.Println()
	fmt.Printf("  %s%d entries\n", RenderLabel("Chain:"), report.ChainLength)

	if report.Verified {
		fmt.Printf("  %s%s\n", RenderLabel("Integrity:"), RenderStatus("verified"))
	} else {
		fmt.Printf("  %s%s\n", RenderLabel("Integrity:"), RenderStatus("tampered"))
		fmt.Println()
		for _, issue := range report.Issues {
			fmt.Printf("  %s %s\n", ErrorStyle.Render("!"), issue)
		}
	}

	for _, issue := range report.PermissionIssues {
		fmt.Printf("  %s %s\n", WarningStyle.Render("~"), issue)
	}

	fmt.Println()

	if !report.Verified {
		return fmt.Errorf("decision trail verification failed: %d issue(s)", len(report.Issues))
	}
	return nil
}

// =============================================================================
// AUDIT EXPORT
// =============================================================================

// handleAuditExport exports the decision trail as JSON or CSV.
func handleAuditExport(log *audit.Log, auditArgs AuditCmdArgs) error {
	events, err := log.Events()
	if err != nil {
		return WrapError(err, "read decision trail")
	}
	events = filterEvents(events, auditArgs.Kind, auditArgs.Claim)

	if len(events) == 0 {
		return fmt.Errorf("no decision trail events to export")
	}

	var output io.Writer = os.Stdout
	if auditArgs.Output != "" {
		validatedPath, err := ValidateOutputPath(auditArgs.Output)
		if err != nil {
			return WrapError(err, "invalid output path")
		}
		if dir := filepath.Dir(validatedPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return WrapError(err, "create output directory")
			}
		}
		file, err := os.OpenFile(validatedPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return WrapError(err, "create export file")
		}
		defer file.Close()
		output = file
	}

	switch auditArgs.Format {
	case "json":
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(events); err != nil {
			return WrapError(err, "encode export")
		}
	case "csv":
		if err := exportEventsCSV(output, events); err != nil {
			return WrapError(err, "write CSV export")
		}
	default:
		return ErrUnsupportedFormat(auditArgs.Format, []string{"json", "csv"})
	}

	if auditArgs.Output != "" {
		StderrPrintln(SuccessStyle.Render("[OK]") + fmt.Sprintf(" Exported %d events to %s", len(events), auditArgs.Output))
	}
	return nil
}

// exportEventsCSV writes events as CSV with detail flattened to one column.
func exportEventsCSV(w io.Writer, events []audit.Event) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"timestamp", "kind", "claim_id", "claim_number", "decision_id", "actor", "detail"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, ev := range events {
		detail := ""
		if len(ev.Detail) > 0 {
			keys := make([]string, 0, len(ev.Detail))
			for k := range ev.Detail {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, k+"="+ev.Detail[k])
			}
			detail = strings.Join(parts, ";")
		}
		record := []string{
			ev.Timestamp.UTC().Format(time.RFC3339),
			ev.Kind,
			ev.ClaimID,
			ev.ClaimNumber,
			ev.DecisionID,
			ev.Actor,
			detail,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// =============================================================================
// AUDIT STATUS
// =============================================================================

// handleAuditStatus shows chain length, head hash, and key provenance.
func handleAuditStatus(log *audit.Log, path string, auditArgs AuditCmdArgs) error {
	report, err := log.Verify()
	if err != nil {
		return WrapError(err, "verify decision trail")
	}

	keySource := string(audit.KeySourceNone)
	fingerprint := ""
	if meta := log.KeyMetadata(); meta != nil {
		keySource = string(meta.Source)
		fingerprint = meta.Fingerprint
	}

	if auditArgs.JSON {
		data := &AuditStatusData{
			ChainLength: log.ChainLength(),
			Head:        log.Head(),
			KeySource:   keySource,
			Verified:    report.Verified,
			Issues:      len(report.Issues),
			Path:        path,
		}
		return NewJSONResponse("audit", data).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Decision Trail Status"))
	fmt.Println(RenderSeparator(60))
	fmt.Println()
	fmt.Printf("  %s%s\n", RenderLabel("Location:"), path)
	fmt.Printf("  %s%d entries\n", RenderLabel("Chain length:"), log.ChainLength())
	if head := log.Head(); head != "" {
		fmt.Printf("  %s%s\n", RenderLabel("Head:"), DimStyle.Render(head))
	}
	fmt.Printf("  %s%s", RenderLabel("HMAC key:"), keySource)
	if fingerprint != "" {
		fmt.Printf(" %s", DimStyle.Render("("+fingerprint+")"))
	}
	fmt.Println()
	if report.Verified {
		fmt.Printf("  %s%s\n", RenderLabel("Integrity:"), RenderStatus("verified"))
	} else {
		fmt.Printf("  %s%s %s\n", RenderLabel("Integrity:"), RenderStatus("tampered"),
			ErrorStyle.Render(strconv.Itoa(len(report.Issues))+" issue(s); run 'claimroute audit verify'"))
	}
	fmt.Println()
	return nil
}
