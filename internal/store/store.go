// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/routing"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateClaim         = errors.New("claim number already registered")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDatabaseError          = errors.New("database error")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed system of record for claims, bundles, and
// decisions. Decisions and transitions are append-only; the claim row
// carries the version token that serializes commits per claim.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the claim database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrDatabaseError)
	}

	// Create database directory if needed
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also keeps the version CAS free of driver-level write races.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the database schema
func (s *Store) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	_, err := s.db.Exec(InitMetadata)
	return err
}

// Close closes the store and releases resources
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// CLAIMS
// =============================================================================

// CreateClaim registers a new claim. The claim number must be unique.
func (s *Store) CreateClaim(ctx context.Context, c *claim.Claim) error {
	if c == nil {
		return fmt.Errorf("%w: nil claim", ErrDatabaseError)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM claims WHERE claim_number = ?)", c.ClaimNumber,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClaim, c.ClaimNumber)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claims (id, claim_number, policy_number, claim_type, priority,
			amount_cents, description, incident_date, submitted_at, state, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ClaimNumber, c.PolicyNumber, string(c.Type), string(c.Priority),
		c.AmountCents, c.Description, unixOrZero(c.IncidentDate), c.SubmittedAt.Unix(),
		string(c.State), c.Version, c.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetClaim returns the claim with the given ID.
func (s *Store) GetClaim(ctx context.Context, id string) (*claim.Claim, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, claim_number, policy_number, claim_type, priority,
			amount_cents, description, incident_date, submitted_at, state, version, updated_at
		FROM claims WHERE id = ?
	`, id)
	return scanClaim(row)
}

// GetClaimByNumber returns the claim with the given claim number.
func (s *Store) GetClaimByNumber(ctx context.Context, number string) (*claim.Claim, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, claim_number, policy_number, claim_type, priority,
			amount_cents, description, incident_date, submitted_at, state, version, updated_at
		FROM claims WHERE claim_number = ?
	`, number)
	return scanClaim(row)
}

// ListClaims returns claims, newest first, optionally filtered by state.
// A non-positive limit defaults to 50.
func (s *Store) ListClaims(ctx context.Context, state claim.State, limit int) ([]*claim.Claim, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, claim_number, policy_number, claim_type, priority,
			amount_cents, description, incident_date, submitted_at, state, version, updated_at
		FROM claims`
	args := []any{}
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY submitted_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var claims []*claim.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(sc scanner) (*claim.Claim, error) {
	var (
		c                            claim.Claim
		claimType, priority, state   string
		incident, submitted, updated int64
	)
	err := sc.Scan(&c.ID, &c.ClaimNumber, &c.PolicyNumber, &claimType, &priority,
		&c.AmountCents, &c.Description, &incident, &submitted, &state, &c.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	c.Type = claim.Type(claimType)
	c.Priority = claim.Priority(priority)
	c.State = claim.State(state)
	c.IncidentDate = timeOrZero(incident)
	c.SubmittedAt = time.Unix(submitted, 0).UTC()
	c.UpdatedAt = time.Unix(updated, 0).UTC()
	return &c, nil
}

// =============================================================================
// BUNDLES
// =============================================================================

// PutBundle stores an assessment bundle snapshot. Bundles are immutable
// once stored; re-assessment stores a new bundle.
func (s *Store) PutBundle(ctx context.Context, b *assessment.Bundle) error {
	if b == nil {
		return fmt.Errorf("%w: nil bundle", ErrDatabaseError)
	}
	if err := b.Validate(); err != nil {
		return err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM claims WHERE id = ?)", b.ClaimID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if !exists {
		return fmt.Errorf("%w: claim %s", ErrNotFound, b.ClaimID)
	}

	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bundles (id, claim_id, fingerprint, payload, collected_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.ClaimID, b.Fingerprint(), string(payload), b.CollectedAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetBundle returns the bundle with the given ID.
func (s *Store) GetBundle(ctx context.Context, id string) (*assessment.Bundle, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM bundles WHERE id = ?", id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bundle %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return decodeBundle(payload)
}

// LatestBundle returns the most recently stored bundle for a claim.
func (s *Store) LatestBundle(ctx context.Context, claimID string) (*assessment.Bundle, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM bundles WHERE claim_id = ? ORDER BY seq DESC LIMIT 1", claimID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no assessment bundle for claim %s", ErrNotFound, claimID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return decodeBundle(payload)
}

func decodeBundle(payload string) (*assessment.Bundle, error) {
	var b assessment.Bundle
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	return &b, nil
}

// =============================================================================
// DECISION COMMIT
// =============================================================================

// CommitDecision atomically applies a routing decision in one transaction:
// the evaluated bundle is stored if new, the claim row is advanced with a
// compare-and-swap on the version the decision evaluated, and the decision
// plus its transition are appended to the audit trail. The bundle may be
// nil for overrides, which are not evaluated against one.
//
// If another decision committed first, the CAS matches zero rows and
// ErrConcurrentModification is returned; the caller should reload the
// claim and re-evaluate against a fresh bundle.
func (s *Store) CommitDecision(ctx context.Context, d *routing.Decision, b *assessment.Bundle) (*claim.Claim, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil decision", ErrDatabaseError)
	}
	if b != nil {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if b.ID != d.BundleID {
			return nil, fmt.Errorf("%w: decision references bundle %s, got %s", ErrDatabaseError, d.BundleID, b.ID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		UPDATE claims SET state = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(d.ResultingState), now, d.ClaimID, d.ClaimVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if affected == 0 {
		var current int64
		err := tx.QueryRowContext(ctx,
			"SELECT version FROM claims WHERE id = ?", d.ClaimID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: claim %s", ErrNotFound, d.ClaimID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		return nil, fmt.Errorf("%w: claim %s evaluated at version %d, now at %d",
			ErrConcurrentModification, d.ClaimID, d.ClaimVersion, current)
	}

	if b != nil {
		payload, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode bundle: %w", err)
		}
		// Already-stored bundles are left untouched; bundle rows never change.
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO bundles (id, claim_id, fingerprint, payload, collected_at, stored_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, b.ID, b.ClaimID, b.Fingerprint(), string(payload), b.CollectedAt.Unix(), now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}

	reasons, err := json.Marshal(d.ReasonCodes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reason codes: %w", err)
	}
	trace, err := json.Marshal(d.Trace)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trace: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (id, claim_id, claim_number, bundle_id, bundle_fingerprint,
			prior_state, resulting_state, rule_name, reason_codes, trace,
			decided_at, ruleset_version, claim_version, prior_decision_id, override, override_actor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ClaimID, d.ClaimNumber, d.BundleID, d.BundleFingerprint,
		string(d.PriorState), string(d.ResultingState), d.RuleName, string(reasons), string(trace),
		d.DecidedAt.Unix(), d.RulesetVersion, d.ClaimVersion, d.PriorDecisionID,
		boolToInt(d.Override), d.OverrideActor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transitions (claim_id, from_state, to_state, decision_id, at)
		VALUES (?, ?, ?, ?, ?)
	`, d.ClaimID, string(d.PriorState), string(d.ResultingState), d.ID, d.DecidedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return s.GetClaim(ctx, d.ClaimID)
}

// =============================================================================
// AUDIT TRAIL QUERIES
// =============================================================================

// Decisions returns the full decision history for a claim in commit order.
func (s *Store) Decisions(ctx context.Context, claimID string) ([]*routing.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, claim_id, claim_number, bundle_id, bundle_fingerprint,
			prior_state, resulting_state, rule_name, reason_codes, trace,
			decided_at, ruleset_version, claim_version, prior_decision_id, override, override_actor
		FROM decisions WHERE claim_id = ? ORDER BY seq ASC
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var decisions []*routing.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// GetDecision returns a single decision by ID.
func (s *Store) GetDecision(ctx context.Context, id string) (*routing.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, claim_id, claim_number, bundle_id, bundle_fingerprint,
			prior_state, resulting_state, rule_name, reason_codes, trace,
			decided_at, ruleset_version, claim_version, prior_decision_id, override, override_actor
		FROM decisions WHERE id = ?
	`, id)
	d, err := scanDecision(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: decision %s", ErrNotFound, id)
	}
	return d, err
}

// LatestDecision returns the most recent decision for a claim.
func (s *Store) LatestDecision(ctx context.Context, claimID string) (*routing.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, claim_id, claim_number, bundle_id, bundle_fingerprint,
			prior_state, resulting_state, rule_name, reason_codes, trace,
			decided_at, ruleset_version, claim_version, prior_decision_id, override, override_actor
		FROM decisions WHERE claim_id = ? ORDER BY seq DESC LIMIT 1
	`, claimID)
	d, err := scanDecision(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: no decisions for claim %s", ErrNotFound, claimID)
	}
	return d, err
}

func scanDecision(sc scanner) (*routing.Decision, error) {
	var (
		d                    routing.Decision
		prior, resulting     string
		reasonsRaw, traceRaw string
		decidedAt            int64
		override             int
	)
	err := sc.Scan(&d.ID, &d.ClaimID, &d.ClaimNumber, &d.BundleID, &d.BundleFingerprint,
		&prior, &resulting, &d.RuleName, &reasonsRaw, &traceRaw,
		&decidedAt, &d.RulesetVersion, &d.ClaimVersion, &d.PriorDecisionID, &override, &d.OverrideActor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: decision", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	d.PriorState = claim.State(prior)
	d.ResultingState = claim.State(resulting)
	d.DecidedAt = time.Unix(decidedAt, 0).UTC()
	d.Override = override != 0
	if err := json.Unmarshal([]byte(reasonsRaw), &d.ReasonCodes); err != nil {
		return nil, fmt.Errorf("failed to decode reason codes: %w", err)
	}
	if traceRaw != "" && traceRaw != "null" {
		if err := json.Unmarshal([]byte(traceRaw), &d.Trace); err != nil {
			return nil, fmt.Errorf("failed to decode trace: %w", err)
		}
	}
	return &d, nil
}

// Transitions returns the state change history for a claim in commit order.
func (s *Store) Transitions(ctx context.Context, claimID string) ([]*claim.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT claim_id, from_state, to_state, decision_id, at
		FROM transitions WHERE claim_id = ? ORDER BY seq ASC
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var transitions []*claim.Transition
	for rows.Next() {
		var (
			tr       claim.Transition
			from, to string
			at       int64
		)
		if err := rows.Scan(&tr.ClaimID, &from, &to, &tr.DecisionID, &at); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		tr.From = claim.State(from)
		tr.To = claim.State(to)
		tr.At = time.Unix(at, 0).UTC()
		transitions = append(transitions, &tr)
	}
	return transitions, rows.Err()
}

// =============================================================================
// STATISTICS
// =============================================================================

// Stats summarizes store contents.
type Stats struct {
	ClaimCount    int
	BundleCount   int
	DecisionCount int
	ByState       map[claim.State]int
	DatabaseSize  int64
}

// Stats returns current store statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByState: make(map[claim.State]int)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM claims").Scan(&stats.ClaimCount); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bundles").Scan(&stats.BundleCount); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions").Scan(&stats.DecisionCount); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM claims GROUP BY state")
	if err != nil {
		return stats, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		stats.ByState[claim.State(state)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
