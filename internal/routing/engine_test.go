// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package routing

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
)

// testClaim builds a pending claim with the given amount in cents.
func testClaim(t *testing.T, amountCents int64) *claim.Claim {
	t.Helper()
	c, err := claim.New("CLM-2024-000100", "POL-55100", claim.TypeAutoCollision, amountCents)
	if err != nil {
		t.Fatalf("claim.New: %v", err)
	}
	return c
}

// testBundle builds a valid bundle for the claim with the given readings.
func testBundle(t *testing.T, c *claim.Claim, confidence, fraud float64, coverage assessment.CoverageResult, signals ...string) *assessment.Bundle {
	t.Helper()
	estimate := c.AmountCents
	limit := int64(10000000)
	in := &assessment.Input{
		DamageEstimateCents: &estimate,
		DamageConfidence:    &confidence,
		FraudScore:          &fraud,
		FraudSignals:        signals,
		CoverageResult:      coverage.String(),
		CoverageLimitCents:  &limit,
	}
	b, err := in.Build(c.ID)
	if err != nil {
		t.Fatalf("bundle Build: %v", err)
	}
	return b
}

// TestRouteOutcomes verifies the documented worked examples and the
// priority order of the rule table. Amounts are dollars in the comments,
// cents in the values.
func TestRouteOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		amountCents int64
		confidence  float64
		fraud       float64
		coverage    assessment.CoverageResult
		signals     []string
		wantState   claim.State
		wantRule    string
		wantReasons []string
	}{
		{
			// amount=3000, confidence=0.9, fraud=0.1, covered
			name:        "small confident low-risk claim auto-approves",
			amountCents: 300000,
			confidence:  0.9,
			fraud:       0.1,
			coverage:    assessment.Covered,
			wantState:   claim.StateAutoApproved,
			wantRule:    "auto_approval",
			wantReasons: []string{ReasonAutoApprovalCriteriaMet},
		},
		{
			// amount=3000, confidence=0.9, fraud=0.1, not covered
			name:        "uncovered loss rejects regardless of assessments",
			amountCents: 300000,
			confidence:  0.9,
			fraud:       0.1,
			coverage:    assessment.NotCovered,
			wantState:   claim.StateRejected,
			wantRule:    "coverage_denial",
			wantReasons: []string{ReasonCoverageDenied},
		},
		{
			// amount=20000, fraud=0.8, covered; confidence is irrelevant
			name:        "high fraud score escalates regardless of confidence",
			amountCents: 2000000,
			confidence:  0.99,
			fraud:       0.8,
			coverage:    assessment.Covered,
			signals:     []string{assessment.SignalVelocityAnomaly, assessment.SignalPhotoReuse},
			wantState:   claim.StateFraudInvestigation,
			wantRule:    "fraud_escalation",
			wantReasons: []string{
				ReasonFraudScoreExceedsThreshold,
				assessment.SignalVelocityAnomaly,
				assessment.SignalPhotoReuse,
			},
		},
		{
			// amount=8000, confidence=0.5, fraud=0.2, covered
			name:        "large low-confidence claim goes to manual review",
			amountCents: 800000,
			confidence:  0.5,
			fraud:       0.2,
			coverage:    assessment.Covered,
			wantState:   claim.StateManualReview,
			wantRule:    "manual_review",
			wantReasons: []string{
				ReasonExceedsAutoApprovalCriteria,
				ReasonAmountAboveAutoLimit,
				ReasonConfidenceBelowThreshold,
			},
		},
		{
			name:        "coverage denial outranks fraud escalation",
			amountCents: 500000,
			confidence:  0.9,
			fraud:       0.95,
			coverage:    assessment.NotCovered,
			signals:     []string{assessment.SignalStagedDamage},
			wantState:   claim.StateRejected,
			wantRule:    "coverage_denial",
			wantReasons: []string{ReasonCoverageDenied},
		},
		{
			name:        "fraud escalation outranks auto-approval",
			amountCents: 100000,
			confidence:  0.99,
			fraud:       0.75,
			coverage:    assessment.Covered,
			wantState:   claim.StateFraudInvestigation,
			wantRule:    "fraud_escalation",
			wantReasons: []string{ReasonFraudScoreExceedsThreshold},
		},
		{
			name:        "amount exactly at limit still auto-approves",
			amountCents: 500000,
			confidence:  0.85,
			fraud:       0.29,
			coverage:    assessment.Covered,
			wantState:   claim.StateAutoApproved,
			wantRule:    "auto_approval",
			wantReasons: []string{ReasonAutoApprovalCriteriaMet},
		},
		{
			name:        "fraud exactly at ceiling blocks auto-approval",
			amountCents: 100000,
			confidence:  0.95,
			fraud:       0.30,
			coverage:    assessment.Covered,
			wantState:   claim.StateManualReview,
			wantRule:    "manual_review",
			wantReasons: []string{
				ReasonExceedsAutoApprovalCriteria,
				ReasonFraudScoreAboveCeiling,
			},
		},
		{
			name:        "confidence just under threshold goes to review",
			amountCents: 100000,
			confidence:  0.84,
			fraud:       0.1,
			coverage:    assessment.Covered,
			wantState:   claim.StateManualReview,
			wantRule:    "manual_review",
			wantReasons: []string{
				ReasonExceedsAutoApprovalCriteria,
				ReasonConfidenceBelowThreshold,
			},
		},
	}

	engine := NewEngine(DefaultThresholds())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClaim(t, tt.amountCents)
			b := testBundle(t, c, tt.confidence, tt.fraud, tt.coverage, tt.signals...)

			d, err := engine.Route(c, b)
			if err != nil {
				t.Fatalf("Route: %v", err)
			}

			if d.ResultingState != tt.wantState {
				t.Errorf("ResultingState = %s, want %s", d.ResultingState, tt.wantState)
			}
			if d.RuleName != tt.wantRule {
				t.Errorf("RuleName = %s, want %s", d.RuleName, tt.wantRule)
			}
			if !reflect.DeepEqual(d.ReasonCodes, tt.wantReasons) {
				t.Errorf("ReasonCodes = %v, want %v", d.ReasonCodes, tt.wantReasons)
			}
			if d.PriorState != claim.StatePending {
				t.Errorf("PriorState = %s, want pending", d.PriorState)
			}
			if d.BundleID != b.ID {
				t.Errorf("BundleID = %s, want %s", d.BundleID, b.ID)
			}
			if d.BundleFingerprint != b.Fingerprint() {
				t.Error("decision does not reference the bundle fingerprint")
			}
			if d.ClaimVersion != c.Version {
				t.Errorf("ClaimVersion = %d, want %d", d.ClaimVersion, c.Version)
			}
			if d.RulesetVersion != RulesetVersion {
				t.Errorf("RulesetVersion = %q", d.RulesetVersion)
			}
		})
	}
}

// TestRouteDeterministic verifies identical inputs always produce the same
// outcome and justification.
func TestRouteDeterministic(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	c := testClaim(t, 300000)
	b := testBundle(t, c, 0.9, 0.1, assessment.Covered)

	first, err := engine.Route(c, b)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	for i := 0; i < 10; i++ {
		d, err := engine.Route(c, b)
		if err != nil {
			t.Fatalf("Route iteration %d: %v", i, err)
		}
		if d.ResultingState != first.ResultingState {
			t.Fatalf("outcome changed between evaluations: %s vs %s", d.ResultingState, first.ResultingState)
		}
		if !reflect.DeepEqual(d.ReasonCodes, first.ReasonCodes) {
			t.Fatalf("reasons changed between evaluations: %v vs %v", d.ReasonCodes, first.ReasonCodes)
		}
		if d.BundleFingerprint != first.BundleFingerprint {
			t.Fatal("bundle fingerprint changed between evaluations")
		}
	}
}

// TestRouteTrace verifies the evaluation trace covers every rule up to the
// match, in priority order.
func TestRouteTrace(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	c := testClaim(t, 800000)
	b := testBundle(t, c, 0.5, 0.2, assessment.Covered)

	d, err := engine.Route(c, b)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	wantTrace := []RuleCheck{
		{Rule: "coverage_denial", Matched: false},
		{Rule: "fraud_escalation", Matched: false},
		{Rule: "auto_approval", Matched: false},
		{Rule: "manual_review", Matched: true},
	}
	if !reflect.DeepEqual(d.Trace, wantTrace) {
		t.Errorf("Trace = %v, want %v", d.Trace, wantTrace)
	}
}

// TestRouteValidation verifies the input checks ahead of rule evaluation.
func TestRouteValidation(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	t.Run("nil claim", func(t *testing.T) {
		c := testClaim(t, 100000)
		b := testBundle(t, c, 0.9, 0.1, assessment.Covered)
		if _, err := engine.Route(nil, b); !errors.Is(err, ErrNilClaim) {
			t.Errorf("err = %v, want ErrNilClaim", err)
		}
	})

	t.Run("nil bundle", func(t *testing.T) {
		c := testClaim(t, 100000)
		if _, err := engine.Route(c, nil); !errors.Is(err, assessment.ErrIncompleteAssessment) {
			t.Errorf("err = %v, want ErrIncompleteAssessment", err)
		}
	})

	t.Run("non-positive amount never reaches rules", func(t *testing.T) {
		c := testClaim(t, 100000)
		b := testBundle(t, c, 0.9, 0.1, assessment.Covered)
		c.AmountCents = 0
		if _, err := engine.Route(c, b); !errors.Is(err, claim.ErrInvalidClaimAmount) {
			t.Errorf("err = %v, want ErrInvalidClaimAmount", err)
		}
	})

	t.Run("terminal claim is frozen", func(t *testing.T) {
		c := testClaim(t, 100000)
		b := testBundle(t, c, 0.9, 0.1, assessment.Covered)
		c.State = claim.StateRejected
		if _, err := engine.Route(c, b); !errors.Is(err, claim.ErrClaimTerminal) {
			t.Errorf("err = %v, want ErrClaimTerminal", err)
		}
	})

	t.Run("bundle for another claim", func(t *testing.T) {
		c := testClaim(t, 100000)
		other := testClaim(t, 200000)
		b := testBundle(t, other, 0.9, 0.1, assessment.Covered)
		if _, err := engine.Route(c, b); !errors.Is(err, ErrBundleClaimMismatch) {
			t.Errorf("err = %v, want ErrBundleClaimMismatch", err)
		}
	})

	t.Run("malformed bundle", func(t *testing.T) {
		c := testClaim(t, 100000)
		b := testBundle(t, c, 0.9, 0.1, assessment.Covered)
		b.FraudScore = 1.5
		if _, err := engine.Route(c, b); !errors.Is(err, assessment.ErrMalformedAssessment) {
			t.Errorf("err = %v, want ErrMalformedAssessment", err)
		}
	})
}

// TestRouteReevaluation verifies a claim in manual_review can be routed
// again with a fresh bundle.
func TestRouteReevaluation(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	c := testClaim(t, 800000)

	// First pass: low confidence sends it to review.
	b1 := testBundle(t, c, 0.5, 0.2, assessment.Covered)
	d1, err := engine.Route(c, b1)
	if err != nil {
		t.Fatalf("first Route: %v", err)
	}
	if err := c.ApplyDecision(d1.ResultingState, d1.DecidedAt); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}

	// Second pass: fraud service now flags it hard.
	b2 := testBundle(t, c, 0.9, 0.9, assessment.Covered, assessment.SignalNetworkLink)
	d2, err := engine.Route(c, b2)
	if err != nil {
		t.Fatalf("second Route: %v", err)
	}
	if d2.ResultingState != claim.StateFraudInvestigation {
		t.Errorf("ResultingState = %s, want fraud_investigation", d2.ResultingState)
	}
	if d2.PriorState != claim.StateManualReview {
		t.Errorf("PriorState = %s, want manual_review", d2.PriorState)
	}
}

// TestThresholdSwap verifies SetThresholds changes outcomes for subsequent
// evaluations.
func TestThresholdSwap(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	c := testClaim(t, 700000) // 7000 units, above the default limit
	b := testBundle(t, c, 0.95, 0.05, assessment.Covered)

	d, err := engine.Route(c, b)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ResultingState != claim.StateManualReview {
		t.Fatalf("ResultingState = %s, want manual_review before raise", d.ResultingState)
	}

	th := DefaultThresholds()
	th.AutoApproveLimitCents = 1000000
	engine.SetThresholds(th)

	d, err = engine.Route(c, b)
	if err != nil {
		t.Fatalf("Route after raise: %v", err)
	}
	if d.ResultingState != claim.StateAutoApproved {
		t.Errorf("ResultingState = %s, want auto_approved after raise", d.ResultingState)
	}
}

// TestOverride verifies supervisor overrides respect the transition table.
func TestOverride(t *testing.T) {
	c := testClaim(t, 800000)
	c.State = claim.StateFraudInvestigation

	d, err := Override(c, claim.StateManualReview, "supervisor-7", "investigation_cleared", "dec-123")
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if !d.Override || d.OverrideActor != "supervisor-7" {
		t.Error("override metadata not recorded")
	}
	if got := d.ReasonCodes; len(got) != 2 || got[0] != ReasonSupervisorOverride || got[1] != "investigation_cleared" {
		t.Errorf("ReasonCodes = %v", got)
	}
	if d.PriorDecisionID != "dec-123" {
		t.Errorf("PriorDecisionID = %q", d.PriorDecisionID)
	}

	t.Run("terminal claim stays frozen", func(t *testing.T) {
		c := testClaim(t, 100000)
		c.State = claim.StateAutoApproved
		if _, err := Override(c, claim.StateManualReview, "supervisor-7", "", ""); !errors.Is(err, claim.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("actor required", func(t *testing.T) {
		c := testClaim(t, 100000)
		if _, err := Override(c, claim.StateManualReview, "", "", ""); !errors.Is(err, ErrMissingActor) {
			t.Errorf("err = %v, want ErrMissingActor", err)
		}
	})
}

// BenchmarkRoute measures a full rule table evaluation.
func BenchmarkRoute(b *testing.B) {
	engine := NewEngine(DefaultThresholds())
	c, err := claim.New("CLM-2024-000100", "POL-55100", claim.TypeAutoCollision, 300000)
	if err != nil {
		b.Fatalf("claim.New: %v", err)
	}
	estimate, confidence, fraud := int64(290000), 0.9, 0.1
	limit := int64(10000000)
	in := &assessment.Input{
		DamageEstimateCents: &estimate,
		DamageConfidence:    &confidence,
		FraudScore:          &fraud,
		CoverageResult:      "covered",
		CoverageLimitCents:  &limit,
	}
	bundle, err := in.Build(c.ID)
	if err != nil {
		b.Fatalf("Build: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Route(c, bundle); err != nil {
			b.Fatal(err)
		}
	}
}
