// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch hands committed routing decisions to downstream systems.
//
// Every committed decision has exactly one destination, chosen by its
// resulting state: auto-approved claims produce a settlement draft, claims
// routed to a human land on the review queue, and rejected claims produce a
// claimant notice. The FileQueue implementation writes one JSON document per
// decision into a destination directory; a payment processor or case
// management integration would implement Dispatcher instead.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/routing"
)

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher delivers a committed decision to its downstream destination.
// The bundle is the assessment the decision was made from; it is nil for
// supervisor overrides, which carry no fresh assessment.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *claim.Claim, b *assessment.Bundle, d *routing.Decision) error
}

// Nop discards every decision. Used when downstream hand-off is disabled.
type Nop struct{}

// Dispatch implements Dispatcher.
func (Nop) Dispatch(context.Context, *claim.Claim, *assessment.Bundle, *routing.Decision) error {
	return nil
}

// =============================================================================
// QUEUE DOCUMENTS
// =============================================================================

// SettlementDraft is the payment instruction emitted for an auto-approved
// claim. Payable amount is min(damage estimate, coverage limit) minus the
// deductible, floored at zero.
type SettlementDraft struct {
	ClaimID      string `json:"claim_id"`
	ClaimNumber  string `json:"claim_number"`
	PolicyNumber string `json:"policy_number"`
	DecisionID   string `json:"decision_id"`

	ClaimedCents        int64 `json:"claimed_cents"`
	DamageEstimateCents int64 `json:"damage_estimate_cents"`
	CoverageLimitCents  int64 `json:"coverage_limit_cents"`
	DeductibleCents     int64 `json:"deductible_cents"`
	PayableCents        int64 `json:"payable_cents"`

	PreparedAt time.Time `json:"prepared_at"`
}

// ReviewItem is a work queue entry for claims routed to a human: manual
// review and fraud investigation both land here, distinguished by State.
type ReviewItem struct {
	ClaimID     string `json:"claim_id"`
	ClaimNumber string `json:"claim_number"`
	DecisionID  string `json:"decision_id"`

	State        claim.State          `json:"state"`
	AmountCents  int64                `json:"amount_cents"`
	ReasonCodes  []string             `json:"reason_codes"`
	RiskLevel    assessment.RiskLevel `json:"risk_level,omitempty"`
	FraudScore   float64              `json:"fraud_score,omitempty"`
	FraudSignals []string             `json:"fraud_signals,omitempty"`

	QueuedAt time.Time `json:"queued_at"`
}

// ClaimNotice is the rejection notice emitted for a claimant-facing letter.
type ClaimNotice struct {
	ClaimID     string `json:"claim_id"`
	ClaimNumber string `json:"claim_number"`
	DecisionID  string `json:"decision_id"`

	ReasonCodes []string  `json:"reason_codes"`
	IssuedAt    time.Time `json:"issued_at"`
}

// =============================================================================
// SETTLEMENT MATH
// =============================================================================

// ComputePayable returns the settlement amount for an approved claim: the
// damage estimate capped at the coverage limit, less the deductible, never
// below zero.
func ComputePayable(damageEstimateCents, coverageLimitCents, deductibleCents int64) int64 {
	payable := damageEstimateCents
	if coverageLimitCents < payable {
		payable = coverageLimitCents
	}
	payable -= deductibleCents
	if payable < 0 {
		payable = 0
	}
	return payable
}

// buildDocument produces the destination-specific queue document for a
// decision. Shared by FileQueue and any future transport implementation.
func buildDocument(c *claim.Claim, b *assessment.Bundle, d *routing.Decision, now time.Time) (queue string, doc any, err error) {
	switch d.ResultingState {
	case claim.StateAutoApproved:
		draft := &SettlementDraft{
			ClaimID:      c.ID,
			ClaimNumber:  c.ClaimNumber,
			PolicyNumber: c.PolicyNumber,
			DecisionID:   d.ID,
			ClaimedCents: c.AmountCents,
			PreparedAt:   now,
		}
		if b != nil {
			draft.DamageEstimateCents = b.DamageEstimateCents
			draft.CoverageLimitCents = b.CoverageLimitCents
			draft.DeductibleCents = b.DeductibleCents
			draft.PayableCents = ComputePayable(b.DamageEstimateCents, b.CoverageLimitCents, b.DeductibleCents)
		} else {
			// Override approvals carry no assessment; the draft falls back to
			// the claimed amount and settlement review adjusts it downstream.
			draft.PayableCents = c.AmountCents
		}
		return QueueSettlements, draft, nil

	case claim.StateManualReview, claim.StateFraudInvestigation:
		item := &ReviewItem{
			ClaimID:     c.ID,
			ClaimNumber: c.ClaimNumber,
			DecisionID:  d.ID,
			State:       d.ResultingState,
			AmountCents: c.AmountCents,
			ReasonCodes: append([]string(nil), d.ReasonCodes...),
			QueuedAt:    now,
		}
		if b != nil {
			item.RiskLevel = b.RiskLevel()
			item.FraudScore = b.FraudScore
			item.FraudSignals = append([]string(nil), b.FraudSignals...)
		}
		return QueueReview, item, nil

	case claim.StateRejected:
		return QueueNotices, &ClaimNotice{
			ClaimID:     c.ID,
			ClaimNumber: c.ClaimNumber,
			DecisionID:  d.ID,
			ReasonCodes: append([]string(nil), d.ReasonCodes...),
			IssuedAt:    now,
		}, nil

	default:
		return "", nil, fmt.Errorf("no dispatch destination for state %q", d.ResultingState)
	}
}
