// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package routing

import (
	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
)

// =============================================================================
// THRESHOLDS
// =============================================================================

// Thresholds holds the tunable bounds the rule table evaluates against.
// Amounts are cents. Values come from configuration; these defaults mirror
// the documented tiers.
type Thresholds struct {
	// AutoApproveLimitCents is the maximum claimed amount eligible for
	// auto-approval.
	AutoApproveLimitCents int64

	// ConfidenceThreshold is the minimum damage confidence for auto-approval.
	ConfidenceThreshold float64

	// FraudInvestigationThreshold escalates a claim to fraud investigation
	// when the fraud score meets or exceeds it.
	FraudInvestigationThreshold float64

	// AutoApproveFraudCeiling is the fraud score a claim must stay strictly
	// below to auto-approve.
	AutoApproveFraudCeiling float64
}

// DefaultThresholds returns the documented default bounds: instant approval
// under 5,000 currency units with confidence at or above 0.85 and fraud
// below 0.30; fraud investigation at 0.75 and above.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoApproveLimitCents:       500000,
		ConfidenceThreshold:         0.85,
		FraudInvestigationThreshold: 0.75,
		AutoApproveFraudCeiling:     0.30,
	}
}

// =============================================================================
// RULE TABLE
// =============================================================================

// Rule is one row of the routing rule table: a predicate, the outcome state
// it routes to, and the reason codes that justify it.
//
// Rules are evaluated in table order and the first match wins. The table is
// data, not control flow: adding or auditing a rule never touches Route.
type Rule struct {
	// Name identifies the rule in decisions, traces, and audits.
	Name string

	// Outcome is the state a matching claim routes to.
	Outcome claim.State

	// Applies reports whether the rule matches the claim and bundle under
	// the given thresholds. Must be pure.
	Applies func(c *claim.Claim, b *assessment.Bundle, t Thresholds) bool

	// Reasons builds the ordered reason codes for a match. Must be pure.
	Reasons func(c *claim.Claim, b *assessment.Bundle, t Thresholds) []string
}

// RulesetVersion identifies the rule table revision carried on every
// decision. Bump when the table's semantics change.
const RulesetVersion = "2024.1"

// DefaultRules returns the routing rule table, highest priority first.
//
// ========================================================================
// RULE PRIORITY ORDER (DO NOT REORDER):
// 1. Coverage denial (FIRST - an uncovered loss is rejected no matter
//    how clean the assessments look)
// 2. Fraud escalation (a high fraud score blocks approval and review
//    paths regardless of amount or confidence)
// 3. Auto-approval (small, confident, low-risk claims skip review)
// 4. Manual review (catch-all - no claim matches zero rules)
// ========================================================================
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "coverage_denial",
			Outcome: claim.StateRejected,
			Applies: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) bool {
				return b.CoverageResult == assessment.NotCovered
			},
			Reasons: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) []string {
				return []string{ReasonCoverageDenied}
			},
		},
		{
			Name:    "fraud_escalation",
			Outcome: claim.StateFraudInvestigation,
			Applies: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) bool {
				return b.FraudScore >= t.FraudInvestigationThreshold
			},
			Reasons: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) []string {
				// The triggering signals follow the threshold code, in the
				// order the fraud service reported them.
				reasons := make([]string, 0, 1+len(b.FraudSignals))
				reasons = append(reasons, ReasonFraudScoreExceedsThreshold)
				reasons = append(reasons, b.FraudSignals...)
				return reasons
			},
		},
		{
			Name:    "auto_approval",
			Outcome: claim.StateAutoApproved,
			Applies: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) bool {
				return c.AmountCents <= t.AutoApproveLimitCents &&
					b.DamageConfidence >= t.ConfidenceThreshold &&
					b.FraudScore < t.AutoApproveFraudCeiling
			},
			Reasons: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) []string {
				return []string{ReasonAutoApprovalCriteriaMet}
			},
		},
		{
			Name:    "manual_review",
			Outcome: claim.StateManualReview,
			Applies: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) bool {
				// Catch-all. Every claim that reaches this row matches it.
				return true
			},
			Reasons: func(c *claim.Claim, b *assessment.Bundle, t Thresholds) []string {
				// Name the specific unmet auto-approval criteria after the
				// catch-all code so reviewers see why approval was withheld.
				reasons := []string{ReasonExceedsAutoApprovalCriteria}
				if c.AmountCents > t.AutoApproveLimitCents {
					reasons = append(reasons, ReasonAmountAboveAutoLimit)
				}
				if b.DamageConfidence < t.ConfidenceThreshold {
					reasons = append(reasons, ReasonConfidenceBelowThreshold)
				}
				if b.FraudScore >= t.AutoApproveFraudCeiling {
					reasons = append(reasons, ReasonFraudScoreAboveCeiling)
				}
				return reasons
			},
		},
	}
}
