// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assessment defines the immutable snapshot of upstream assessment
// results consumed by the routing engine.
//
// A Bundle captures, for one routing attempt, the already-resolved outputs of
// the damage assessment, fraud detection, and policy coverage services. The
// engine never calls those services itself; it only consumes bundles. Bundles
// are never mutated after creation — re-evaluating a claim means collecting a
// new bundle.
package assessment

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// COVERAGE RESULT
// =============================================================================

// CoverageResult is the policy coverage service's verdict for the claim.
type CoverageResult string

const (
	// Covered indicates the policy covers the claimed loss.
	Covered CoverageResult = "covered"

	// NotCovered indicates the policy does not cover the claimed loss.
	NotCovered CoverageResult = "not_covered"
)

// String returns the string representation of the coverage result.
func (c CoverageResult) String() string {
	return string(c)
}

// IsValid reports whether c is a recognized coverage result.
func (c CoverageResult) IsValid() bool {
	return c == Covered || c == NotCovered
}

// =============================================================================
// RISK LEVEL
// =============================================================================

// RiskLevel bands a fraud score for display and queue triage. The bands are
// diagnostic; the routing engine compares raw scores against configured
// thresholds, not against these bands.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// RiskLevelFor bands a fraud score: low below 0.3, medium below 0.5, high
// below 0.75, critical at or above 0.75.
func RiskLevelFor(fraudScore float64) RiskLevel {
	switch {
	case fraudScore < 0.3:
		return RiskLow
	case fraudScore < 0.5:
		return RiskMedium
	case fraudScore < 0.75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// =============================================================================
// FRAUD SIGNALS
// =============================================================================

// Well-known fraud signal codes emitted by the fraud detection service.
// The bundle accepts arbitrary signal strings; these are the ones the
// upstream model documents.
const (
	SignalVelocityAnomaly   = "velocity_anomaly"
	SignalRepeatedClaimant  = "repeated_claimant"
	SignalPhotoReuse        = "photo_reuse"
	SignalStagedDamage      = "staged_damage_pattern"
	SignalNetworkLink       = "fraud_network_link"
	SignalInflatedEstimate  = "inflated_estimate"
	SignalPolicyRecentStart = "policy_recently_started"
)

// FraudBreakdown carries the fraud model's sub-scores, when the upstream
// service provides them. Purely diagnostic.
type FraudBreakdown struct {
	MLModelScore float64 `json:"ml_model_score"`
	GraphScore   float64 `json:"graph_network_score"`
	PatternScore float64 `json:"pattern_matching_score"`
}

// DamageDetail carries the damage assessor's supporting detail, when provided.
// Purely diagnostic.
type DamageDetail struct {
	Severity          string   `json:"severity,omitempty"`            // minor, moderate, severe, total_loss
	SeverityScore     int      `json:"severity_score,omitempty"`      // 0-100
	AffectedAreas     []string `json:"affected_areas,omitempty"`
	EstimateLowCents  int64    `json:"estimate_low_cents,omitempty"`
	EstimateHighCents int64    `json:"estimate_high_cents,omitempty"`
}

// =============================================================================
// ASSESSMENT BUNDLE
// =============================================================================

// Bundle is a per-claim snapshot of upstream assessment outputs for one
// routing attempt. Immutable after construction.
type Bundle struct {
	// ID is the bundle storage identifier ("bnd_" + 16 hex chars).
	ID string `json:"id"`

	// ClaimID is the claim this bundle was collected for.
	ClaimID string `json:"claim_id"`

	// DamageEstimateCents is the damage service's repair estimate in cents.
	DamageEstimateCents int64 `json:"damage_estimate_cents"`

	// DamageConfidence is the damage service's confidence in [0,1].
	DamageConfidence float64 `json:"damage_confidence"`

	// FraudScore is the composite fraud score in [0,1].
	FraudScore float64 `json:"fraud_score"`

	// FraudSignals lists the contributing fraud signals, in the order the
	// fraud service reported them. May be empty.
	FraudSignals []string `json:"fraud_signals,omitempty"`

	// CoverageResult is the policy service's coverage verdict.
	CoverageResult CoverageResult `json:"coverage_result"`

	// CoverageLimitCents is the applicable policy limit in cents.
	CoverageLimitCents int64 `json:"coverage_limit_cents"`

	// DeductibleCents is the policy deductible in cents. Optional; zero when
	// the policy service does not report one.
	DeductibleCents int64 `json:"deductible_cents,omitempty"`

	// FraudBreakdown holds the fraud model sub-scores, when provided.
	FraudBreakdown *FraudBreakdown `json:"fraud_breakdown,omitempty"`

	// DamageDetail holds the damage assessor's detail, when provided.
	DamageDetail *DamageDetail `json:"damage_detail,omitempty"`

	// CollectedAt is when the upstream results were snapshotted.
	CollectedAt time.Time `json:"collected_at"`
}

// RiskLevel bands the bundle's fraud score.
func (b *Bundle) RiskLevel() RiskLevel {
	return RiskLevelFor(b.FraudScore)
}

// Validate enforces the bundle invariants on an already-built bundle:
// probabilities in range, amounts non-negative, coverage verdict recognized.
// Presence of required fields is enforced earlier, by Input.Build.
func (b *Bundle) Validate() error {
	if b.ClaimID == "" {
		return fmt.Errorf("%w: claim_id", ErrIncompleteAssessment)
	}
	if b.DamageConfidence < 0 || b.DamageConfidence > 1 {
		return fmt.Errorf("%w: damage_confidence %v outside [0,1]", ErrMalformedAssessment, b.DamageConfidence)
	}
	if b.FraudScore < 0 || b.FraudScore > 1 {
		return fmt.Errorf("%w: fraud_score %v outside [0,1]", ErrMalformedAssessment, b.FraudScore)
	}
	if b.DamageEstimateCents < 0 {
		return fmt.Errorf("%w: damage_estimate_cents %d negative", ErrMalformedAssessment, b.DamageEstimateCents)
	}
	if b.CoverageLimitCents < 0 {
		return fmt.Errorf("%w: coverage_limit_cents %d negative", ErrMalformedAssessment, b.CoverageLimitCents)
	}
	if b.DeductibleCents < 0 {
		return fmt.Errorf("%w: deductible_cents %d negative", ErrMalformedAssessment, b.DeductibleCents)
	}
	if !b.CoverageResult.IsValid() {
		return fmt.Errorf("%w: coverage_result %q", ErrMalformedAssessment, b.CoverageResult)
	}
	return nil
}

// Fingerprint returns the SHA-256 hex digest of the bundle's canonical JSON
// encoding. Struct field order is fixed, so the digest is deterministic and a
// routing decision can prove exactly which inputs produced it.
func (b *Bundle) Fingerprint() string {
	data, err := json.Marshal(b)
	if err != nil {
		// Marshal of this struct cannot fail; all fields are encodable.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateID returns a new bundle storage identifier.
func GenerateID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "bnd_" + hex.EncodeToString(bytes)
}

// =============================================================================
// BUNDLE INPUT (WIRE FORM)
// =============================================================================

// Input is the wire form of a bundle, as upstream services submit it. The
// required numeric fields are pointers so that an absent field is
// distinguishable from a legitimate zero — a fraud score of 0 is a valid
// reading, a missing fraud score is an incomplete assessment.
type Input struct {
	DamageEstimateCents *int64          `json:"damage_estimate_cents"`
	DamageConfidence    *float64        `json:"damage_confidence"`
	FraudScore          *float64        `json:"fraud_score"`
	FraudSignals        []string        `json:"fraud_signals,omitempty"`
	CoverageResult      string          `json:"coverage_result"`
	CoverageLimitCents  *int64          `json:"coverage_limit_cents"`
	DeductibleCents     int64           `json:"deductible_cents,omitempty"`
	FraudBreakdown      *FraudBreakdown `json:"fraud_breakdown,omitempty"`
	DamageDetail        *DamageDetail   `json:"damage_detail,omitempty"`
	CollectedAt         time.Time       `json:"collected_at,omitempty"`
}

// Build validates presence of every required field and produces an immutable
// Bundle for the given claim. A missing field yields ErrIncompleteAssessment
// naming the field; the caller must resupply a complete bundle — there is no
// partial application.
func (in *Input) Build(claimID string) (*Bundle, error) {
	if claimID == "" {
		return nil, fmt.Errorf("%w: claim_id", ErrIncompleteAssessment)
	}
	if in.DamageEstimateCents == nil {
		return nil, fmt.Errorf("%w: damage_estimate_cents", ErrIncompleteAssessment)
	}
	if in.DamageConfidence == nil {
		return nil, fmt.Errorf("%w: damage_confidence", ErrIncompleteAssessment)
	}
	if in.FraudScore == nil {
		return nil, fmt.Errorf("%w: fraud_score", ErrIncompleteAssessment)
	}
	if in.CoverageResult == "" {
		return nil, fmt.Errorf("%w: coverage_result", ErrIncompleteAssessment)
	}
	if in.CoverageLimitCents == nil {
		return nil, fmt.Errorf("%w: coverage_limit_cents", ErrIncompleteAssessment)
	}

	collectedAt := in.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now().UTC()
	}

	b := &Bundle{
		ID:                  GenerateID(),
		ClaimID:             claimID,
		DamageEstimateCents: *in.DamageEstimateCents,
		DamageConfidence:    *in.DamageConfidence,
		FraudScore:          *in.FraudScore,
		FraudSignals:        append([]string(nil), in.FraudSignals...),
		CoverageResult:      CoverageResult(in.CoverageResult),
		CoverageLimitCents:  *in.CoverageLimitCents,
		DeductibleCents:     in.DeductibleCents,
		FraudBreakdown:      in.FraudBreakdown,
		DamageDetail:        in.DamageDetail,
		CollectedAt:         collectedAt,
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// =============================================================================
// ERRORS
// =============================================================================

// Error represents an assessment validation error.
// It implements the error interface and can be compared using errors.Is.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing assessment errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// ErrIncompleteAssessment is returned when a required bundle field is absent.
// Non-retryable: the caller must resupply a complete bundle.
var ErrIncompleteAssessment = &Error{Message: "incomplete assessment"}

// ErrMalformedAssessment is returned when a bundle field is present but out
// of range or unrecognized. Non-retryable.
var ErrMalformedAssessment = &Error{Message: "malformed assessment"}
