// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit writes the tamper-evident record of every routing action.
//
// Events are appended as JSON lines and covered by an HMAC hash chain with
// an external witness file. The chain detects edits, deletions, and
// reordering; the witness detects wholesale chain replacement. Keys are
// operator-configured and never generated silently.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jeranaias/claimroute/internal/routing"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event kinds recorded in the audit trail.
const (
	EventClaimRegistered   = "claim_registered"
	EventBundleReceived    = "bundle_received"
	EventDecisionCommitted = "decision_committed"
	EventDecisionConflict  = "decision_conflict"
	EventOverrideApplied   = "override_applied"
	EventAccessDenied      = "access_denied"
	EventDispatchQueued    = "dispatch_queued"
	EventConfigReloaded    = "config_reloaded"
)

// Event is a single audit record.
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	Kind        string            `json:"kind"`
	ClaimID     string            `json:"claim_id,omitempty"`
	ClaimNumber string            `json:"claim_number,omitempty"`
	DecisionID  string            `json:"decision_id,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// DecisionEvent builds the audit event for a committed routing decision.
func DecisionEvent(d *routing.Decision) Event {
	kind := EventDecisionCommitted
	if d.Override {
		kind = EventOverrideApplied
	}
	return Event{
		Kind:        kind,
		ClaimID:     d.ClaimID,
		ClaimNumber: d.ClaimNumber,
		DecisionID:  d.ID,
		Actor:       d.OverrideActor,
		Detail: map[string]string{
			"prior_state":     d.PriorState.String(),
			"resulting_state": d.ResultingState.String(),
			"rule":            d.RuleName,
			"reason":          d.PrimaryReason(),
			"claim_version":   strconv.FormatInt(d.ClaimVersion, 10),
			"ruleset_version": d.RulesetVersion,
		},
	}
}

// =============================================================================
// TAMPER REPORT
// =============================================================================

// TamperReport contains the results of an integrity check.
type TamperReport struct {
	Timestamp        time.Time `json:"timestamp"`
	Verified         bool      `json:"verified"`
	ChainLength      int       `json:"chain_length"`
	Issues           []string  `json:"issues"`
	PermissionIssues []string  `json:"permission_issues"`
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// ErrAuditSaveFailed is returned when an audit append cannot be persisted
// after all retries. With HaltOnFailure set, callers must treat this as a
// stop condition for the operation being audited.
var ErrAuditSaveFailed = errors.New("audit save failed after all retries")

// Options configure an audit log.
type Options struct {
	// HaltOnFailure makes Append return an error when the event cannot be
	// durably recorded, halting the audited operation.
	HaltOnFailure bool

	// RedactPII scrubs detail values through the redactor before writing.
	RedactPII bool
}

// Log is the append-only audit log: a JSON-lines event file plus the hash
// chain that seals it.
type Log struct {
	dir       string
	eventFile string
	chain     *chain
	keys      *KeyManager
	redactor  *Redactor
	opts      Options
	mu        sync.Mutex
}

// Open opens (creating if necessary) the audit log in dir. It fails when
// no HMAC key is configured; see KeyManager for the accepted sources.
func Open(dir string, opts Options) (*Log, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	keys := NewKeyManager(dir)
	key, _, err := keys.LoadKey()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HMAC key: %w", err)
	}

	l := &Log{
		dir:       dir,
		eventFile: filepath.Join(dir, "events.log"),
		chain:     newChain(filepath.Join(dir, "chain.json"), filepath.Join(dir, "witness.txt"), key),
		keys:      keys,
		opts:      opts,
	}
	if opts.RedactPII {
		l.redactor = NewRedactor()
	}

	if err := l.chain.load(); err != nil {
		keys.Close()
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	return l, nil
}

// Append records an event: the JSON line is written first, then the chain
// entry sealing it. A chain failure with HaltOnFailure set surfaces as
// ErrAuditSaveFailed so the caller can stop the audited operation.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if l.redactor != nil {
		ev.Detail = l.redactor.RedactDetail(ev.Detail)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := l.appendLine(line); err != nil {
		if l.opts.HaltOnFailure {
			return fmt.Errorf("%w: event write: %v", ErrAuditSaveFailed, err)
		}
		fmt.Fprintf(os.Stderr, "[audit] event write failed: %v\n", err)
		return nil
	}

	if err := l.chain.sign(line, ev.Timestamp); err != nil {
		if l.opts.HaltOnFailure {
			return fmt.Errorf("%w: %v", ErrAuditSaveFailed, err)
		}
		fmt.Fprintf(os.Stderr, "[audit] chain update failed: %v\n", err)
	}
	return nil
}

// appendLine writes one JSON line to the event file and syncs it.
func (l *Log) appendLine(line []byte) error {
	file, err := os.OpenFile(l.eventFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	return file.Sync()
}

// Events reads back all recorded events in append order.
func (l *Log) Events() ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.eventFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt event line: %w", err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// ChainLength returns the number of sealed entries.
func (l *Log) ChainLength() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chain.entries)
}

// Head returns the current chain head hash.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.head()
}

// KeyMetadata returns metadata about the HMAC key in use.
func (l *Log) KeyMetadata() *KeyMetadata {
	return l.keys.Metadata()
}

// Close releases resources and zeros key material.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys != nil {
		l.keys.Close()
	}
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Verify checks the chain, the witness, the event file against the chain,
// and file permissions, returning a consolidated report.
func (l *Log) Verify() (*TamperReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := &TamperReport{
		Timestamp:   time.Now().UTC(),
		ChainLength: len(l.chain.entries),
		Issues:      make([]string, 0),
	}

	chainOK, chainIssues := l.chain.verifyIntegrity()
	report.Issues = append(report.Issues, chainIssues...)

	witnessOK, witnessIssues, err := l.chain.verifyWitness()
	if err != nil {
		return nil, err
	}
	report.Issues = append(report.Issues, witnessIssues...)

	eventsOK, eventIssues, err := l.verifyEventFile()
	if err != nil {
		return nil, err
	}
	report.Issues = append(report.Issues, eventIssues...)

	l.checkFilePermissions(report)

	report.Verified = chainOK && witnessOK && eventsOK && len(report.PermissionIssues) == 0
	return report, nil
}

// verifyEventFile recomputes each event line's HMAC against the chain.
func (l *Log) verifyEventFile() (bool, []string, error) {
	issues := make([]string, 0)

	file, err := os.Open(l.eventFile)
	if err != nil {
		if os.IsNotExist(err) {
			if len(l.chain.entries) > 0 {
				issues = append(issues, "event file missing for non-empty chain")
				return false, issues, nil
			}
			return true, nil, nil
		}
		return false, issues, fmt.Errorf("failed to open event file: %w", err)
	}
	defer file.Close()

	lineCount := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if lineCount < len(l.chain.entries) {
			expected := l.chain.entries[lineCount].EventHash
			if got := l.chain.computeHash(line); got != expected {
				issues = append(issues, fmt.Sprintf("event line %d does not match chain entry hash", lineCount))
			}
		}
		lineCount++
	}
	if err := scanner.Err(); err != nil {
		return false, issues, err
	}

	if lineCount != len(l.chain.entries) {
		issues = append(issues, fmt.Sprintf("event file has %d lines but chain has %d entries",
			lineCount, len(l.chain.entries)))
	}
	return len(issues) == 0, issues, nil
}

// checkFilePermissions flags world- or group-accessible audit files.
func (l *Log) checkFilePermissions(report *TamperReport) {
	report.PermissionIssues = make([]string, 0)

	for _, path := range []string{l.eventFile, l.chain.chainFile} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0077 != 0 {
			report.PermissionIssues = append(report.PermissionIssues,
				fmt.Sprintf("%s has overly permissive mode %o", filepath.Base(path), info.Mode().Perm()))
		}
	}
}
