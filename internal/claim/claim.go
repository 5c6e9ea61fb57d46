// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package claim defines claim records, routing states, and the state
// transition rules that govern a claim's lifecycle.
package claim

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// ROUTING STATES
// =============================================================================

// State represents the current routing state of a claim.
type State string

const (
	// StatePending indicates the claim is awaiting its first routing decision.
	StatePending State = "pending"

	// StateAutoApproved indicates the claim was approved without human review.
	// Terminal state.
	StateAutoApproved State = "auto_approved"

	// StateManualReview indicates the claim is queued for an adjuster.
	StateManualReview State = "manual_review"

	// StateFraudInvestigation indicates the claim is escalated to the fraud
	// investigation team.
	StateFraudInvestigation State = "fraud_investigation"

	// StateRejected indicates the claim was denied. Terminal state.
	StateRejected State = "rejected"
)

// AllStates lists every valid routing state, in lifecycle order.
var AllStates = []State{
	StatePending,
	StateAutoApproved,
	StateManualReview,
	StateFraudInvestigation,
	StateRejected,
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid reports whether s is one of the five recognized states.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateAutoApproved, StateManualReview,
		StateFraudInvestigation, StateRejected:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal state. A claim in a terminal
// state is immutable: no further routing decisions may be committed for it.
func (s State) IsTerminal() bool {
	return s == StateAutoApproved || s == StateRejected
}

// AllowsReevaluation reports whether a claim in state s may be routed again
// with a fresh assessment bundle.
func (s State) AllowsReevaluation() bool {
	switch s {
	case StatePending, StateManualReview, StateFraudInvestigation:
		return true
	}
	return false
}

// ParseState converts a raw string into a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, raw)
	}
	return s, nil
}

// ValidTransition reports whether a claim may move from one state to another.
// Same-state transitions are idempotent and always allowed for non-terminal
// states (re-evaluation can reaffirm the current state). Terminal states are
// frozen.
func ValidTransition(from, to State) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}

	// Terminal states accept nothing, not even themselves.
	if from.IsTerminal() {
		return false
	}

	// Idempotent re-affirmation of a non-terminal state.
	if from == to {
		return true
	}

	switch from {
	case StatePending:
		// First routing decision: any outcome.
		return to == StateAutoApproved || to == StateManualReview ||
			to == StateFraudInvestigation || to == StateRejected
	case StateManualReview:
		// An adjuster or a re-evaluation can resolve or escalate.
		return to == StateAutoApproved || to == StateFraudInvestigation ||
			to == StateRejected
	case StateFraudInvestigation:
		// Investigation clears back to review, or concludes the claim.
		return to == StateManualReview || to == StateAutoApproved ||
			to == StateRejected
	default:
		return false
	}
}

// =============================================================================
// CLAIM TYPES AND PRIORITY
// =============================================================================

// Type categorizes the loss a claim covers.
type Type string

const (
	TypeAutoCollision  Type = "auto_collision"
	TypeAutoTheft      Type = "auto_theft"
	TypePropertyDamage Type = "property_damage"
	TypeWaterDamage    Type = "water_damage"
	TypeFireDamage     Type = "fire_damage"
	TypeLiability      Type = "liability"
	TypeOther          Type = "other"
)

// String returns the string representation of the claim type.
func (t Type) String() string {
	return string(t)
}

// IsValid reports whether t is a recognized claim type.
func (t Type) IsValid() bool {
	switch t {
	case TypeAutoCollision, TypeAutoTheft, TypePropertyDamage,
		TypeWaterDamage, TypeFireDamage, TypeLiability, TypeOther:
		return true
	}
	return false
}

// Priority indicates handling urgency, assigned at registration.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// IsValid reports whether p is a recognized priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// =============================================================================
// CLAIM RECORD
// =============================================================================

// claimNumberPattern matches the carrier claim-number format CLM-YYYY-NNNNNN.
var claimNumberPattern = regexp.MustCompile(`^CLM-\d{4}-\d{6}$`)

// Claim is an insurance claim progressing through routing states.
//
// A Claim is owned exclusively by the routing engine once registered. Version
// implements optimistic concurrency: every committed routing decision
// increments it, and a commit against a stale version fails rather than
// overwriting newer state.
type Claim struct {
	// ID is the internal storage identifier ("clm_" + 16 hex chars).
	ID string `json:"id"`

	// ClaimNumber is the carrier-facing number, format CLM-YYYY-NNNNNN.
	ClaimNumber string `json:"claim_number"`

	// PolicyNumber identifies the policy the claim is filed against.
	PolicyNumber string `json:"policy_number"`

	// Type categorizes the loss.
	Type Type `json:"claim_type"`

	// Priority is the handling urgency assigned at registration.
	Priority Priority `json:"priority"`

	// AmountCents is the claimed amount in cents. Always positive.
	AmountCents int64 `json:"amount_cents"`

	// Description is the policyholder's account of the incident.
	Description string `json:"description,omitempty"`

	// IncidentDate is when the loss occurred.
	IncidentDate time.Time `json:"incident_date,omitempty"`

	// SubmittedAt is when the claim entered the routing engine.
	SubmittedAt time.Time `json:"submitted_at"`

	// State is the current routing state.
	State State `json:"state"`

	// Version is the optimistic concurrency token. Starts at 1 and
	// increments on every committed decision.
	Version int64 `json:"version"`

	// UpdatedAt is when the claim record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition records one state change on a claim's history. Transitions are
// appended by committed routing decisions and never rewritten.
type Transition struct {
	ClaimID    string    `json:"claim_id"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	DecisionID string    `json:"decision_id"`
	At         time.Time `json:"at"`
}

// New creates a pending claim ready for registration. The amount must be
// positive; zero and negative amounts are rejected here, before any rule
// evaluation can see them.
func New(claimNumber, policyNumber string, claimType Type, amountCents int64) (*Claim, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: %d cents", ErrInvalidClaimAmount, amountCents)
	}
	if !claimNumberPattern.MatchString(claimNumber) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClaimNumber, claimNumber)
	}
	if !claimType.IsValid() {
		claimType = TypeOther
	}

	now := time.Now().UTC()
	return &Claim{
		ID:           GenerateID(),
		ClaimNumber:  claimNumber,
		PolicyNumber: policyNumber,
		Type:         claimType,
		Priority:     PriorityNormal,
		AmountCents:  amountCents,
		SubmittedAt:  now,
		State:        StatePending,
		Version:      1,
		UpdatedAt:    now,
	}, nil
}

// Validate checks the claim invariants that must hold for routing.
func (c *Claim) Validate() error {
	if c.AmountCents <= 0 {
		return fmt.Errorf("%w: %d cents", ErrInvalidClaimAmount, c.AmountCents)
	}
	if !c.State.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, c.State)
	}
	if !claimNumberPattern.MatchString(c.ClaimNumber) {
		return fmt.Errorf("%w: %q", ErrInvalidClaimNumber, c.ClaimNumber)
	}
	return nil
}

// Routable reports whether the claim may receive a routing decision in its
// current state, returning a descriptive error when it may not.
func (c *Claim) Routable() error {
	if c.State.IsTerminal() {
		return fmt.Errorf("%w: claim %s is %s", ErrClaimTerminal, c.ClaimNumber, c.State)
	}
	if !c.State.AllowsReevaluation() {
		return fmt.Errorf("%w: claim %s is %s", ErrNotRoutable, c.ClaimNumber, c.State)
	}
	return nil
}

// ApplyDecision moves the claim to the new state, validating the transition
// and bumping the version. Storage performs the authoritative compare-and-swap
// on commit; this keeps the in-memory copy coherent with what storage will
// record.
func (c *Claim) ApplyDecision(to State, decidedAt time.Time) error {
	if !ValidTransition(c.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, to)
	}
	c.State = to
	c.Version++
	c.UpdatedAt = decidedAt
	return nil
}

// AmountDollars returns the claimed amount in whole currency units.
func (c *Claim) AmountDollars() float64 {
	return float64(c.AmountCents) / 100
}

// GenerateID returns a new claim storage identifier.
func GenerateID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "clm_" + hex.EncodeToString(bytes)
}

// FormatClaimNumber builds a carrier claim number from a year and sequence.
func FormatClaimNumber(year int, seq int) string {
	return fmt.Sprintf("CLM-%04d-%06d", year, seq)
}

// =============================================================================
// ERRORS
// =============================================================================

// Error represents a claim validation or lifecycle error.
// It implements the error interface and can be compared using errors.Is.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing claim errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// ErrInvalidClaimAmount is returned for zero or negative claim amounts.
// Rejected at input validation, before rule evaluation.
var ErrInvalidClaimAmount = &Error{Message: "invalid claim amount"}

// ErrInvalidClaimNumber is returned when a claim number does not match the
// CLM-YYYY-NNNNNN format.
var ErrInvalidClaimNumber = &Error{Message: "invalid claim number"}

// ErrUnknownState is returned when parsing an unrecognized routing state.
var ErrUnknownState = &Error{Message: "unknown routing state"}

// ErrClaimTerminal is returned when an operation targets a claim already in
// a terminal state.
var ErrClaimTerminal = &Error{Message: "claim is in a terminal state"}

// ErrNotRoutable is returned when a claim's state does not permit routing.
var ErrNotRoutable = &Error{Message: "claim state does not permit routing"}

// ErrInvalidTransition is returned for a disallowed state transition.
var ErrInvalidTransition = &Error{Message: "invalid state transition"}
