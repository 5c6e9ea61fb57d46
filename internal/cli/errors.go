// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for all claimroute CLI commands.
//
// STANDARDIZED PATTERN:
//   - Handlers ALWAYS return errors (never just print and return nil)
//   - main decides how to display errors and which code to exit with
//   - Exit codes are derived from the domain sentinels, so scripts can
//     distinguish a lost routing race from a missing claim

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/override"
	"github.com/jeranaias/claimroute/internal/store"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage, arguments, or input
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a step-up verification failure
	ExitAuthError = 4
	// ExitConflictError indicates a lost concurrency race or a transition
	// the claim's current state refuses
	ExitConflictError = 5
	// ExitAuditError indicates a decision trail failure
	ExitAuditError = 6
	// ExitNotFoundError indicates a claim, bundle, or decision was not found
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "route", "audit")
	Action  string // Action being performed (e.g., "show", "export")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{
		Command: command,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Example: example,
	}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(
		argName,
		"",
		"required argument missing",
		usage,
	)
}

// ErrUnsupportedFormat creates an error for unsupported export formats.
func ErrUnsupportedFormat(format string, supportedFormats []string) error {
	return NewValidationErrorWithExample(
		"format",
		format,
		"unsupported format",
		fmt.Sprintf("supported formats: %v", supportedFormats),
	)
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// =============================================================================
// ERROR DISPLAY HELPERS
// =============================================================================

// DisplayError displays an error in a consistent format.
//
// In JSON mode, outputs structured JSON error.
// In normal mode, displays a formatted error message.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		DisplayErrorJSON(err)
		return
	}

	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// DisplayErrorJSON outputs an error as JSON on stdout.
func DisplayErrorJSON(err error) {
	output := map[string]interface{}{
		"error":    err.Error(),
		"success":  false,
		"category": errorCategory(err),
	}

	var cmdErr *CommandError
	var valErr *ValidationError
	switch {
	case errors.As(err, &cmdErr):
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
		output["reason"] = cmdErr.Reason
		if cmdErr.Err != nil {
			output["underlying_error"] = cmdErr.Err.Error()
		}

	case errors.As(err, &valErr):
		output["field"] = valErr.Field
		output["value"] = valErr.Value
		output["reason"] = valErr.Reason
		if valErr.Example != "" {
			output["example"] = valErr.Example
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}

// HandleErrorAndExit displays an error and exits with an appropriate code.
// Use this for fatal errors in main command handlers.
func HandleErrorAndExit(err error, jsonMode bool) {
	if err == nil {
		return
	}

	DisplayError(err, jsonMode)
	os.Exit(GetExitCode(err))
}

// =============================================================================
// EXIT CODE CLASSIFICATION
// =============================================================================

// GetExitCode determines the appropriate exit code for an error. Domain
// sentinels are checked first; message content is a fallback for wrapped
// errors from outside the domain packages.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	// Invalid input: bad arguments, bad amounts, rejected assessments.
	case isValidationFailure(err):
		return ExitUsageError

	// Step-up verification failures.
	case errors.Is(err, override.ErrInvalidCode),
		errors.Is(err, override.ErrNotEnrolled),
		errors.Is(err, override.ErrCodeRequired):
		return ExitAuthError

	// Lost races and transitions the claim's state refuses.
	case errors.Is(err, store.ErrConcurrentModification),
		errors.Is(err, store.ErrDuplicateClaim),
		errors.Is(err, claim.ErrClaimTerminal),
		errors.Is(err, claim.ErrNotRoutable),
		errors.Is(err, claim.ErrInvalidTransition):
		return ExitConflictError

	case errors.Is(err, store.ErrNotFound):
		return ExitNotFoundError

	case errors.Is(err, audit.ErrAuditSaveFailed):
		return ExitAuditError
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}

	// Message-content fallback for errors wrapped outside the domain packages.
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "config") ||
		strings.Contains(errMsg, "configuration") {
		return ExitConfigError
	}

	if strings.Contains(errMsg, "not found") {
		return ExitNotFoundError
	}

	if strings.Contains(errMsg, "audit") ||
		strings.Contains(errMsg, "tamper") ||
		strings.Contains(errMsg, "hmac") {
		return ExitAuditError
	}

	return ExitGeneralError
}

// isValidationFailure reports whether err is one of the domain's
// invalid-input sentinels.
func isValidationFailure(err error) bool {
	return errors.Is(err, claim.ErrInvalidClaimAmount) ||
		errors.Is(err, claim.ErrInvalidClaimNumber) ||
		errors.Is(err, claim.ErrUnknownState) ||
		errors.Is(err, assessment.ErrIncompleteAssessment) ||
		errors.Is(err, assessment.ErrMalformedAssessment)
}

// errorCategory names the exit-code bucket for JSON output.
func errorCategory(err error) string {
	switch GetExitCode(err) {
	case ExitUsageError:
		return "validation"
	case ExitConfigError:
		return "config"
	case ExitAuthError:
		return "auth"
	case ExitConflictError:
		return "conflict"
	case ExitAuditError:
		return "audit"
	case ExitNotFoundError:
		return "not_found"
	default:
		return "general"
	}
}
