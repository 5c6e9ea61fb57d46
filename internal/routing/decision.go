// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package routing

import (
	"time"

	"github.com/jeranaias/claimroute/internal/claim"
)

// =============================================================================
// REASON CODES
// =============================================================================

// Reason codes attached to routing decisions, in the order rules emit them.
// Codes are stable identifiers consumed by downstream systems and audits;
// changing one is a breaking change to the decision contract.
const (
	// ReasonCoverageDenied: policy does not cover the claimed loss.
	ReasonCoverageDenied = "coverage_denied"

	// ReasonFraudScoreExceedsThreshold: fraud score at or above the
	// investigation threshold. Followed by the triggering fraud signals.
	ReasonFraudScoreExceedsThreshold = "fraud_score_exceeds_threshold"

	// ReasonAutoApprovalCriteriaMet: amount, confidence, and fraud score all
	// inside the auto-approval envelope.
	ReasonAutoApprovalCriteriaMet = "auto_approval_criteria_met"

	// ReasonExceedsAutoApprovalCriteria: catch-all for claims needing human
	// review. Followed by the specific unmet criteria.
	ReasonExceedsAutoApprovalCriteria = "exceeds_auto_approval_criteria"

	// ReasonAmountAboveAutoLimit: claimed amount above the auto-approve limit.
	ReasonAmountAboveAutoLimit = "amount_above_auto_limit"

	// ReasonConfidenceBelowThreshold: damage confidence below the
	// auto-approve threshold.
	ReasonConfidenceBelowThreshold = "confidence_below_threshold"

	// ReasonFraudScoreAboveCeiling: fraud score at or above the auto-approve
	// ceiling.
	ReasonFraudScoreAboveCeiling = "fraud_score_above_ceiling"

	// ReasonSupervisorOverride: a supervisor manually redirected the claim.
	// Followed by the operator-supplied justification code.
	ReasonSupervisorOverride = "supervisor_override"
)

// =============================================================================
// ROUTING DECISION
// =============================================================================

// Decision is the immutable record of one routing outcome and its
// justification. Decisions are append-only: a correction is a new decision
// whose PriorDecisionID references the one it supersedes.
type Decision struct {
	// ID is the decision identifier (UUID).
	ID string `json:"id"`

	// ClaimID and ClaimNumber identify the routed claim.
	ClaimID     string `json:"claim_id"`
	ClaimNumber string `json:"claim_number"`

	// BundleID references the exact assessment bundle that produced this
	// decision; BundleFingerprint is its canonical-JSON SHA-256, so the
	// inputs can be proven after the fact.
	BundleID          string `json:"bundle_id,omitempty"`
	BundleFingerprint string `json:"bundle_fingerprint,omitempty"`

	// PriorState and ResultingState describe the transition committed by
	// this decision.
	PriorState     claim.State `json:"prior_state"`
	ResultingState claim.State `json:"resulting_state"`

	// RuleName names the first matching rule.
	RuleName string `json:"rule"`

	// ReasonCodes justify the outcome, most significant first.
	ReasonCodes []string `json:"reason_codes"`

	// Trace records each rule evaluated, in priority order, up to and
	// including the match. Diagnostic; not part of the decision contract.
	Trace []RuleCheck `json:"trace,omitempty"`

	// DecidedAt is when the engine produced the decision.
	DecidedAt time.Time `json:"decided_at"`

	// RulesetVersion is the rule table revision that produced the decision.
	RulesetVersion string `json:"ruleset_version"`

	// ClaimVersion is the claim version this decision was evaluated
	// against; the store's compare-and-swap commits against exactly this
	// version.
	ClaimVersion int64 `json:"claim_version"`

	// PriorDecisionID references the decision this one supersedes, if any.
	PriorDecisionID string `json:"prior_decision_id,omitempty"`

	// Override marks a supervisor-forced decision; OverrideActor records
	// who forced it.
	Override      bool   `json:"override,omitempty"`
	OverrideActor string `json:"override_actor,omitempty"`
}

// RuleCheck is one entry in a decision's evaluation trace.
type RuleCheck struct {
	Rule    string `json:"rule"`
	Matched bool   `json:"matched"`
}

// Terminal reports whether the decision lands the claim in a terminal state.
func (d *Decision) Terminal() bool {
	return d.ResultingState.IsTerminal()
}

// PrimaryReason returns the first reason code, or "" for an empty decision.
func (d *Decision) PrimaryReason() string {
	if len(d.ReasonCodes) == 0 {
		return ""
	}
	return d.ReasonCodes[0]
}
