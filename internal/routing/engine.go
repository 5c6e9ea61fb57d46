// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package routing decides how an insurance claim is handled, given a claim
// and a snapshot of upstream assessment results.
//
// Routes claims to one of four outcomes:
// rejected -> fraud_investigation -> auto_approved -> manual_review
// evaluated in that fixed priority order, first match wins.
//
// The engine is pure over its inputs: it performs no I/O and calls no
// external service. Persisting the decision and advancing claim state is the
// store's job; the commit step is where per-claim serialization happens.
// Identical claim and bundle always produce an identical decision, so any
// decision can be replayed from its recorded bundle.
package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine evaluates the routing rule table against claims and bundles.
// Thresholds may be swapped at runtime (config hot-reload); rule table
// structure is fixed at construction.
type Engine struct {
	mu    sync.RWMutex
	th    Thresholds
	rules []Rule
}

// NewEngine creates an engine with the default rule table and the given
// thresholds.
func NewEngine(th Thresholds) *Engine {
	return &Engine{
		th:    th,
		rules: DefaultRules(),
	}
}

// Thresholds returns the engine's current thresholds.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.th
}

// SetThresholds atomically replaces the engine's thresholds. In-flight
// evaluations keep the thresholds they started with.
func (e *Engine) SetThresholds(th Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.th = th
}

// Route evaluates the rule table and produces a routing decision for the
// claim and bundle. Pure except for stamping the decision ID and time.
//
// Validation order:
//  1. Claim amount and shape (InvalidClaimAmount never reaches the rules).
//  2. Claim state permits routing (terminal claims are frozen).
//  3. Bundle completeness and ranges (IncompleteAssessment is
//     non-retryable; the caller must resupply a full bundle).
//  4. Bundle belongs to this claim (a decision must reference the exact
//     bundle that produced it).
//
// The returned decision is not yet committed; pass it to the store to
// persist the transition and append the audit record.
func (e *Engine) Route(c *claim.Claim, b *assessment.Bundle) (*Decision, error) {
	if c == nil {
		return nil, fmt.Errorf("route: %w", ErrNilClaim)
	}
	if b == nil {
		return nil, fmt.Errorf("route: %w", assessment.ErrIncompleteAssessment)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("route claim %s: %w", c.ClaimNumber, err)
	}
	if err := c.Routable(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("route claim %s: %w", c.ClaimNumber, err)
	}
	if b.ClaimID != c.ID {
		return nil, fmt.Errorf("%w: bundle %s belongs to %s, not %s",
			ErrBundleClaimMismatch, b.ID, b.ClaimID, c.ID)
	}

	e.mu.RLock()
	th := e.th
	rules := e.rules
	e.mu.RUnlock()

	trace := make([]RuleCheck, 0, len(rules))
	for _, rule := range rules {
		matched := rule.Applies(c, b, th)
		trace = append(trace, RuleCheck{Rule: rule.Name, Matched: matched})
		if !matched {
			continue
		}

		if !claim.ValidTransition(c.State, rule.Outcome) {
			// The transition table and the rule table agree by
			// construction; a mismatch means a misconfigured rule.
			return nil, fmt.Errorf("rule %s: %w: %s -> %s",
				rule.Name, claim.ErrInvalidTransition, c.State, rule.Outcome)
		}

		return &Decision{
			ID:                uuid.New().String(),
			ClaimID:           c.ID,
			ClaimNumber:       c.ClaimNumber,
			BundleID:          b.ID,
			BundleFingerprint: b.Fingerprint(),
			PriorState:        c.State,
			ResultingState:    rule.Outcome,
			RuleName:          rule.Name,
			ReasonCodes:       rule.Reasons(c, b, th),
			Trace:             trace,
			DecidedAt:         time.Now().UTC(),
			RulesetVersion:    RulesetVersion,
			ClaimVersion:      c.Version,
		}, nil
	}

	// The catch-all rule makes this unreachable; guard anyway so a broken
	// custom table fails loudly instead of silently dropping a claim.
	return nil, fmt.Errorf("route claim %s: %w", c.ClaimNumber, ErrNoRuleMatched)
}

// =============================================================================
// SUPERVISOR OVERRIDE
// =============================================================================

// Override builds a supervisor-forced decision moving the claim to a chosen
// state outside normal rule evaluation. The transition table still applies:
// terminal claims stay frozen. justification is an operator-supplied reason
// code recorded after ReasonSupervisorOverride; priorDecisionID references
// the decision being overridden, when known.
func Override(c *claim.Claim, to claim.State, actor, justification, priorDecisionID string) (*Decision, error) {
	if c == nil {
		return nil, fmt.Errorf("override: %w", ErrNilClaim)
	}
	if actor == "" {
		return nil, fmt.Errorf("override claim %s: %w", c.ClaimNumber, ErrMissingActor)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("override claim %s: %w", c.ClaimNumber, err)
	}
	if !claim.ValidTransition(c.State, to) {
		return nil, fmt.Errorf("override claim %s: %w: %s -> %s",
			c.ClaimNumber, claim.ErrInvalidTransition, c.State, to)
	}

	reasons := []string{ReasonSupervisorOverride}
	if justification != "" {
		reasons = append(reasons, justification)
	}

	return &Decision{
		ID:              uuid.New().String(),
		ClaimID:         c.ID,
		ClaimNumber:     c.ClaimNumber,
		PriorState:      c.State,
		ResultingState:  to,
		RuleName:        "supervisor_override",
		ReasonCodes:     reasons,
		DecidedAt:       time.Now().UTC(),
		RulesetVersion:  RulesetVersion,
		ClaimVersion:    c.Version,
		PriorDecisionID: priorDecisionID,
		Override:        true,
		OverrideActor:   actor,
	}, nil
}

// =============================================================================
// ERRORS
// =============================================================================

// Error represents a routing evaluation error.
// It implements the error interface and can be compared using errors.Is.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing routing errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// ErrNilClaim is returned when Route is called without a claim.
var ErrNilClaim = &Error{Message: "nil claim"}

// ErrBundleClaimMismatch is returned when a bundle references a different
// claim than the one being routed.
var ErrBundleClaimMismatch = &Error{Message: "bundle does not belong to claim"}

// ErrNoRuleMatched is returned if the rule table has no catch-all. The
// default table cannot produce it.
var ErrNoRuleMatched = &Error{Message: "no routing rule matched"}

// ErrMissingActor is returned when an override carries no actor identity.
var ErrMissingActor = &Error{Message: "override requires an actor"}
