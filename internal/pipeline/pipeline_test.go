// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/dispatch"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "claims.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tracker, err := telemetry.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	return &Service{
		Store:   st,
		Engine:  routing.NewEngine(routing.DefaultThresholds()),
		Metrics: tracker,
	}
}

func approvableInput(confidence, fraud float64, coverage string) *assessment.Input {
	estimate := int64(400000)
	limit := int64(1000000)
	return &assessment.Input{
		DamageEstimateCents: &estimate,
		DamageConfidence:    &confidence,
		FraudScore:          &fraud,
		CoverageResult:      coverage,
		CoverageLimitCents:  &limit,
		DeductibleCents:     50000,
	}
}

func registerClaim(t *testing.T, s *Service, amountCents int64) *claim.Claim {
	t.Helper()
	c, err := s.Register(context.Background(), "CLM-2024-000300", "POL-88300", claim.TypePropertyDamage, amountCents)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return c
}

// =============================================================================
// ROUTING TESTS
// =============================================================================

func TestService_RouteWithCommitsAndDispatches(t *testing.T) {
	s := newTestService(t)
	fq, err := dispatch.NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileQueue failed: %v", err)
	}
	s.Dispatcher = fq

	c := registerClaim(t, s, 120000)

	res, err := s.RouteWith(context.Background(), c.ID, approvableInput(0.95, 0.05, "covered"))
	if err != nil {
		t.Fatalf("RouteWith failed: %v", err)
	}

	if res.Claim.State != claim.StateAutoApproved {
		t.Errorf("State = %s, want auto_approved", res.Claim.State)
	}
	if res.Claim.Version != 2 {
		t.Errorf("Version = %d, want 2", res.Claim.Version)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}

	// The bundle was persisted alongside the decision.
	b, err := s.Store.LatestBundle(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("LatestBundle failed: %v", err)
	}
	if b.ID != res.Decision.BundleID {
		t.Errorf("Stored bundle %s, decision references %s", b.ID, res.Decision.BundleID)
	}

	// The settlement draft reached the queue.
	n, err := fq.Pending(dispatch.QueueSettlements)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Settlement queue has %d files, want 1", n)
	}

	// Telemetry saw the decision.
	w := s.Metrics.CurrentWindow()
	if w.Decisions != 1 || w.AutoApprovedCents != 120000 {
		t.Errorf("Telemetry window = %+v", w)
	}
}

func TestService_RouteLatestUsesStoredBundle(t *testing.T) {
	s := newTestService(t)
	c := registerClaim(t, s, 700000)

	if _, err := s.AttachBundle(context.Background(), c.ID, approvableInput(0.9, 0.2, "covered")); err != nil {
		t.Fatalf("AttachBundle failed: %v", err)
	}

	res, err := s.RouteLatest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("RouteLatest failed: %v", err)
	}

	// 700000 cents exceeds the auto-approval limit.
	if res.Claim.State != claim.StateManualReview {
		t.Errorf("State = %s, want manual_review", res.Claim.State)
	}
	if res.Decision.BundleID == "" {
		t.Error("Decision has no bundle reference")
	}
}

func TestService_RouteLatestWithoutBundle(t *testing.T) {
	s := newTestService(t)
	c := registerClaim(t, s, 100000)

	_, err := s.RouteLatest(context.Background(), c.ID)
	if !errors.Is(err, assessment.ErrIncompleteAssessment) {
		t.Errorf("Error = %v, want ErrIncompleteAssessment", err)
	}
}

func TestService_RouteUnknownClaim(t *testing.T) {
	s := newTestService(t)

	_, err := s.RouteLatest(context.Background(), "clm_ffffffffffffffff")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// CONFLICT RETRY TESTS
// =============================================================================

func TestService_ConflictRetriesWithFreshRead(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	c := registerClaim(t, s, 700000)
	b, err := s.AttachBundle(ctx, c.ID, approvableInput(0.9, 0.4, "covered"))
	if err != nil {
		t.Fatalf("AttachBundle failed: %v", err)
	}

	// Take a stale snapshot, then advance the claim behind its back.
	stale, err := s.Store.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	fresh, err := s.Store.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	d, err := s.Engine.Route(fresh, b)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if _, err := s.Store.CommitDecision(ctx, d, b); err != nil {
		t.Fatalf("CommitDecision failed: %v", err)
	}

	// The stale snapshot loses the race, re-reads, and succeeds on the
	// second attempt.
	res, err := s.routeAndCommit(ctx, stale, b)
	if err != nil {
		t.Fatalf("routeAndCommit failed: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if res.Claim.Version != 3 {
		t.Errorf("Version = %d, want 3", res.Claim.Version)
	}

	if w := s.Metrics.CurrentWindow(); w.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", w.Conflicts)
	}
}

func TestService_ConflictRetriesBounded(t *testing.T) {
	s := newTestService(t)
	s.CommitRetries = 1
	ctx := context.Background()

	c := registerClaim(t, s, 700000)
	b, err := s.AttachBundle(ctx, c.ID, approvableInput(0.9, 0.4, "covered"))
	if err != nil {
		t.Fatalf("AttachBundle failed: %v", err)
	}

	stale, err := s.Store.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	fresh, err := s.Store.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	d, err := s.Engine.Route(fresh, b)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if _, err := s.Store.CommitDecision(ctx, d, b); err != nil {
		t.Fatalf("CommitDecision failed: %v", err)
	}

	// With a single attempt allowed, the stale routing pass surfaces the
	// conflict instead of retrying.
	_, err = s.routeAndCommit(ctx, stale, b)
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("Error = %v, want ErrConcurrentModification", err)
	}
}

// =============================================================================
// OVERRIDE TESTS
// =============================================================================

func TestService_OverrideState(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	c := registerClaim(t, s, 700000)
	if _, err := s.AttachBundle(ctx, c.ID, approvableInput(0.9, 0.4, "covered")); err != nil {
		t.Fatalf("AttachBundle failed: %v", err)
	}
	first, err := s.RouteLatest(ctx, c.ID)
	if err != nil {
		t.Fatalf("RouteLatest failed: %v", err)
	}

	res, err := s.OverrideState(ctx, c.ID, claim.StateFraudInvestigation, "supervisor-7", "tip_line_report")
	if err != nil {
		t.Fatalf("OverrideState failed: %v", err)
	}

	if res.Claim.State != claim.StateFraudInvestigation {
		t.Errorf("State = %s, want fraud_investigation", res.Claim.State)
	}
	if !res.Decision.Override {
		t.Error("Decision not marked as override")
	}
	if res.Decision.OverrideActor != "supervisor-7" {
		t.Errorf("OverrideActor = %q", res.Decision.OverrideActor)
	}
	if res.Decision.PriorDecisionID != first.Decision.ID {
		t.Errorf("PriorDecisionID = %q, want %q", res.Decision.PriorDecisionID, first.Decision.ID)
	}

	if w := s.Metrics.CurrentWindow(); w.Overrides != 1 {
		t.Errorf("Overrides = %d, want 1", w.Overrides)
	}
}

func TestService_OverrideApprovalEnrichesSettlement(t *testing.T) {
	s := newTestService(t)
	fq, err := dispatch.NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileQueue failed: %v", err)
	}
	s.Dispatcher = fq
	ctx := context.Background()

	c := registerClaim(t, s, 700000)
	if _, err := s.AttachBundle(ctx, c.ID, approvableInput(0.9, 0.4, "covered")); err != nil {
		t.Fatalf("AttachBundle failed: %v", err)
	}
	if _, err := s.RouteLatest(ctx, c.ID); err != nil {
		t.Fatalf("RouteLatest failed: %v", err)
	}

	if _, err := s.OverrideState(ctx, c.ID, claim.StateAutoApproved, "supervisor-7", "review_complete"); err != nil {
		t.Fatalf("OverrideState failed: %v", err)
	}

	n, err := fq.Pending(dispatch.QueueSettlements)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Settlement queue has %d files, want 1", n)
	}
}

func TestService_OverrideTerminalClaim(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	c := registerClaim(t, s, 100000)
	if _, err := s.RouteWith(ctx, c.ID, approvableInput(0.9, 0.1, "not_covered")); err != nil {
		t.Fatalf("RouteWith failed: %v", err)
	}

	_, err := s.OverrideState(ctx, c.ID, claim.StateManualReview, "supervisor-7", "")
	if !errors.Is(err, claim.ErrInvalidTransition) {
		t.Errorf("Error = %v, want ErrInvalidTransition", err)
	}
}

// =============================================================================
// AUDIT TRAIL TESTS
// =============================================================================

func TestService_AuditTrail(t *testing.T) {
	key := make([]byte, audit.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	t.Setenv(audit.KeyEnvVar, hex.EncodeToString(key))

	s := newTestService(t)
	log, err := audit.Open(t.TempDir(), audit.Options{})
	if err != nil {
		t.Fatalf("audit.Open failed: %v", err)
	}
	t.Cleanup(log.Close)
	s.Audit = log

	c := registerClaim(t, s, 120000)
	if _, err := s.RouteWith(context.Background(), c.ID, approvableInput(0.95, 0.05, "covered")); err != nil {
		t.Fatalf("RouteWith failed: %v", err)
	}

	events, err := log.Events()
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Got %d audit events, want 2", len(events))
	}
	if events[0].Kind != audit.EventClaimRegistered {
		t.Errorf("First event kind = %q", events[0].Kind)
	}
	if events[1].Kind != audit.EventDecisionCommitted {
		t.Errorf("Second event kind = %q", events[1].Kind)
	}
	if events[1].ClaimNumber != c.ClaimNumber {
		t.Errorf("Event claim number = %q", events[1].ClaimNumber)
	}
}
