// json_output.go - JSON output support for scripting and automation.
//
// Provides a standardized JSON envelope for all CLI commands so that
// downstream tooling (claims dashboards, batch jobs, jq pipelines) can
// consume claimroute output without scraping human-formatted text.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/config"
	"github.com/jeranaias/claimroute/internal/routing"
)

// JSONResponse is the standardized response format for all CLI commands.
// Every command that supports --json emits exactly one of these on stdout;
// human-readable chatter goes to stderr via StderrPrint.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the ISO8601 timestamp when the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Error:     nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Data:      nil,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponseStr creates a new error JSON response from a string.
func NewJSONErrorResponseStr(command string, errMsg string) *JSONResponse {
	return &JSONResponse{
		Success:   false,
		Data:      nil,
		Error:     &errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print outputs the JSON response to stdout.
// Human-readable messages should go to stderr when JSON mode is enabled.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// PrintCompact outputs the JSON response without indentation.
// Useful for piping to other tools or log aggregation.
func (r *JSONResponse) PrintCompact() error {
	return json.NewEncoder(os.Stdout).Encode(r)
}

// String returns the JSON response as a string.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// OutputJSON is a helper function that outputs either JSON or runs a normal handler.
// If jsonMode is true, it outputs JSON and handles errors. Otherwise it runs the handler.
func OutputJSON(jsonMode bool, command string, handler func() (interface{}, error)) error {
	if !jsonMode {
		_, err := handler()
		return err
	}

	data, err := handler()
	if err != nil {
		resp := NewJSONErrorResponse(command, err)
		resp.Print()
		return err
	}

	resp := NewJSONResponse(command, data)
	return resp.Print()
}

// StderrPrint prints a message to stderr (for human-readable output in JSON mode).
func StderrPrint(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// StderrPrintln prints a line to stderr (for human-readable output in JSON mode).
func StderrPrintln(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// RouteData represents the data returned by the route command: the claim
// after routing together with the decision that was committed for it.
type RouteData struct {
	Claim    *claim.Claim      `json:"claim"`
	Decision *routing.Decision `json:"decision"`

	// Attempts is how many commit attempts the engine needed. Values
	// above 1 mean the claim was contended and routing was retried.
	Attempts int `json:"attempts"`
}

// ClaimListData represents the data returned by the claims list command.
type ClaimListData struct {
	Claims []*claim.Claim `json:"claims"`
	Count  int            `json:"count"`

	// StateFilter echoes the --state filter when one was applied.
	StateFilter string `json:"state_filter,omitempty"`
}

// ClaimDetailData represents the data returned by the claims show command.
type ClaimDetailData struct {
	Claim     *claim.Claim        `json:"claim"`
	Decisions []*routing.Decision `json:"decisions,omitempty"`
	HasBundle bool                `json:"has_bundle"`
}

// RegisterData represents the data returned by the claims register command.
type RegisterData struct {
	Claim *claim.Claim `json:"claim"`
}

// DecisionListData represents the data returned by the decisions command.
type DecisionListData struct {
	ClaimID   string              `json:"claim_id"`
	ClaimNum  string              `json:"claim_number"`
	Decisions []*routing.Decision `json:"decisions"`
	Count     int                 `json:"count"`
}

// StatsData represents the data returned by the stats command.
type StatsData struct {
	Store     StatsStoreInfo     `json:"store"`
	Window    StatsWindowInfo    `json:"window"`
	Telemetry StatsTelemetryInfo `json:"telemetry"`
}

// StatsStoreInfo contains persistent store counts for the stats command.
type StatsStoreInfo struct {
	Claims       int64            `json:"claims"`
	Bundles      int64            `json:"bundles"`
	Decisions    int64            `json:"decisions"`
	ByState      map[string]int64 `json:"by_state"`
	DatabaseSize int64            `json:"database_size_bytes"`
	DatabasePath string           `json:"database_path"`
}

// StatsWindowInfo contains rolling-window routing metrics.
type StatsWindowInfo struct {
	Days            int     `json:"days"`
	Decisions       int64   `json:"decisions"`
	AutoApproved    int64   `json:"auto_approved"`
	ManualReview    int64   `json:"manual_review"`
	FraudReferrals  int64   `json:"fraud_referrals"`
	Rejected        int64   `json:"rejected"`
	AutoApprovalPct float64 `json:"auto_approval_pct"`
	Overrides       int64   `json:"overrides"`
	Conflicts       int64   `json:"conflicts"`
	HighRisk        int64   `json:"high_risk"`
	AmountRouted    string  `json:"amount_routed"`
	AutoApprovedAmt string  `json:"auto_approved_amount"`
}

// StatsTelemetryInfo identifies where telemetry snapshots live on disk.
type StatsTelemetryInfo struct {
	StorageDir string `json:"storage_dir"`
}

// AuditStatusData represents the data returned by the audit status command.
type AuditStatusData struct {
	ChainLength int    `json:"chain_length"`
	Head        string `json:"head,omitempty"`
	KeySource   string `json:"key_source"`
	Verified    bool   `json:"verified"`
	Issues      int    `json:"issues"`
	Path        string `json:"path"`
}

// AuditVerifyData represents the data returned by the audit verify command.
type AuditVerifyData struct {
	Verified         bool     `json:"verified"`
	ChainLength      int      `json:"chain_length"`
	Issues           []string `json:"issues,omitempty"`
	PermissionIssues []string `json:"permission_issues,omitempty"`
	CheckedAt        string   `json:"checked_at"`
}

// OverrideActorData describes one enrolled override actor.
type OverrideActorData struct {
	Actor string `json:"actor"`
}

// OverrideListData represents the data returned by the override list command.
type OverrideListData struct {
	Actors []OverrideActorData `json:"actors"`
	Count  int                 `json:"count"`
}

// EnrollData represents the data returned by the override enroll command.
// The secret is included so automation can provision authenticator apps;
// it is never written to the audit trail.
type EnrollData struct {
	Actor  string `json:"actor"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// InitData represents the data returned by the init command.
type InitData struct {
	ConfigDir  string   `json:"config_dir"`
	ConfigPath string   `json:"config_path"`
	Created    []string `json:"created"`
}

// KeygenData represents the data returned by the keygen command.
type KeygenData struct {
	KeyPath string `json:"key_path"`
}

// ConfigShowData represents the data returned by the config show command.
type ConfigShowData struct {
	Config *config.Config `json:"config"`
	Path   string         `json:"path"`
	Exists bool           `json:"exists"`
}
