// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package claim

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// TestNewClaim verifies registration validation.
func TestNewClaim(t *testing.T) {
	c, err := New("CLM-2024-000123", "POL-88421", TypeAutoCollision, 300000)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if c.State != StatePending {
		t.Errorf("State = %s, want %s", c.State, StatePending)
	}
	if c.Version != 1 {
		t.Errorf("Version = %d, want 1", c.Version)
	}
	if !strings.HasPrefix(c.ID, "clm_") {
		t.Errorf("ID = %q, want clm_ prefix", c.ID)
	}
	if len(c.ID) != len("clm_")+16 {
		t.Errorf("ID length = %d, want %d", len(c.ID), len("clm_")+16)
	}
	if c.Priority != PriorityNormal {
		t.Errorf("Priority = %s, want %s", c.Priority, PriorityNormal)
	}
}

// TestNewClaimRejectsBadAmounts verifies non-positive amounts never produce a claim.
func TestNewClaimRejectsBadAmounts(t *testing.T) {
	for _, amount := range []int64{0, -1, -500000} {
		_, err := New("CLM-2024-000123", "POL-88421", TypeAutoCollision, amount)
		if !errors.Is(err, ErrInvalidClaimAmount) {
			t.Errorf("amount %d: err = %v, want ErrInvalidClaimAmount", amount, err)
		}
	}
}

// TestNewClaimRejectsBadClaimNumbers verifies the CLM-YYYY-NNNNNN format check.
func TestNewClaimRejectsBadClaimNumbers(t *testing.T) {
	bad := []string{
		"",
		"CLM-24-000123",
		"CLM-2024-123",
		"clm-2024-000123",
		"CLAIM-2024-000123",
		"CLM-2024-000123X",
	}

	for _, num := range bad {
		if _, err := New(num, "POL-1", TypeOther, 1000); !errors.Is(err, ErrInvalidClaimNumber) {
			t.Errorf("claim number %q: err = %v, want ErrInvalidClaimNumber", num, err)
		}
	}
}

// TestStateProperties verifies terminal and re-evaluation classification.
func TestStateProperties(t *testing.T) {
	tests := []struct {
		state      State
		terminal   bool
		reevaluate bool
	}{
		{StatePending, false, true},
		{StateAutoApproved, true, false},
		{StateManualReview, false, true},
		{StateFraudInvestigation, false, true},
		{StateRejected, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.state.AllowsReevaluation(); got != tt.reevaluate {
				t.Errorf("AllowsReevaluation() = %v, want %v", got, tt.reevaluate)
			}
			if !tt.state.IsValid() {
				t.Errorf("IsValid() = false for %s", tt.state)
			}
		})
	}
}

// TestValidTransition verifies the full transition table.
func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"pending to auto_approved", StatePending, StateAutoApproved, true},
		{"pending to manual_review", StatePending, StateManualReview, true},
		{"pending to fraud_investigation", StatePending, StateFraudInvestigation, true},
		{"pending to rejected", StatePending, StateRejected, true},
		{"pending idempotent", StatePending, StatePending, true},
		{"manual_review to auto_approved", StateManualReview, StateAutoApproved, true},
		{"manual_review to fraud_investigation", StateManualReview, StateFraudInvestigation, true},
		{"manual_review to rejected", StateManualReview, StateRejected, true},
		{"manual_review idempotent", StateManualReview, StateManualReview, true},
		{"manual_review back to pending", StateManualReview, StatePending, false},
		{"fraud_investigation to manual_review", StateFraudInvestigation, StateManualReview, true},
		{"fraud_investigation to auto_approved", StateFraudInvestigation, StateAutoApproved, true},
		{"fraud_investigation to rejected", StateFraudInvestigation, StateRejected, true},
		{"auto_approved frozen", StateAutoApproved, StateManualReview, false},
		{"auto_approved not even idempotent", StateAutoApproved, StateAutoApproved, false},
		{"rejected frozen", StateRejected, StatePending, false},
		{"rejected not even idempotent", StateRejected, StateRejected, false},
		{"unknown from", State("bogus"), StatePending, false},
		{"unknown to", StatePending, State("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// TestApplyDecision verifies version bumps and transition enforcement.
func TestApplyDecision(t *testing.T) {
	c, err := New("CLM-2024-000001", "POL-1", TypePropertyDamage, 800000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	decidedAt := time.Now().UTC()
	if err := c.ApplyDecision(StateManualReview, decidedAt); err != nil {
		t.Fatalf("ApplyDecision: %v", err)
	}
	if c.State != StateManualReview {
		t.Errorf("State = %s, want %s", c.State, StateManualReview)
	}
	if c.Version != 2 {
		t.Errorf("Version = %d, want 2", c.Version)
	}

	// Rejecting from review is allowed; the claim then freezes.
	if err := c.ApplyDecision(StateRejected, decidedAt); err != nil {
		t.Fatalf("ApplyDecision to rejected: %v", err)
	}
	if err := c.ApplyDecision(StateManualReview, decidedAt); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ApplyDecision on terminal claim: err = %v, want ErrInvalidTransition", err)
	}
	if c.Version != 3 {
		t.Errorf("Version after failed transition = %d, want 3", c.Version)
	}
}

// TestRoutable verifies pre-routing state checks.
func TestRoutable(t *testing.T) {
	c, _ := New("CLM-2024-000002", "POL-2", TypeWaterDamage, 120000)

	if err := c.Routable(); err != nil {
		t.Errorf("pending claim should be routable: %v", err)
	}

	c.State = StateAutoApproved
	if err := c.Routable(); !errors.Is(err, ErrClaimTerminal) {
		t.Errorf("terminal claim: err = %v, want ErrClaimTerminal", err)
	}

	c.State = StateFraudInvestigation
	if err := c.Routable(); err != nil {
		t.Errorf("fraud_investigation claim should allow re-evaluation: %v", err)
	}
}

// TestParseState verifies round-tripping of state strings.
func TestParseState(t *testing.T) {
	for _, s := range AllStates {
		parsed, err := ParseState(s.String())
		if err != nil {
			t.Errorf("ParseState(%q): %v", s, err)
		}
		if parsed != s {
			t.Errorf("ParseState(%q) = %s", s, parsed)
		}
	}

	if _, err := ParseState("approved"); !errors.Is(err, ErrUnknownState) {
		t.Errorf("ParseState(approved): err = %v, want ErrUnknownState", err)
	}
}

// TestFormatClaimNumber verifies the carrier number format.
func TestFormatClaimNumber(t *testing.T) {
	got := FormatClaimNumber(2024, 123)
	if got != "CLM-2024-000123" {
		t.Errorf("FormatClaimNumber = %q, want CLM-2024-000123", got)
	}
	if !claimNumberPattern.MatchString(got) {
		t.Errorf("generated number %q does not match its own pattern", got)
	}
}

// TestAmountDollars verifies cents-to-dollars conversion.
func TestAmountDollars(t *testing.T) {
	c, _ := New("CLM-2024-000003", "POL-3", TypeOther, 300050)
	if got := c.AmountDollars(); got != 3000.50 {
		t.Errorf("AmountDollars = %v, want 3000.50", got)
	}
}

// BenchmarkValidTransition measures transition table lookups.
func BenchmarkValidTransition(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ValidTransition(StatePending, StateAutoApproved)
		ValidTransition(StateManualReview, StateRejected)
		ValidTransition(StateAutoApproved, StatePending)
	}
}
