// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline runs a complete routing pass: evaluate the rule table,
// commit the decision with bounded retry on version conflicts, then fan out
// to the audit log, telemetry, and the downstream dispatcher.
//
// The server, the intake workers, and the CLI all route through one Service
// so every surface gets identical conflict handling and an identical audit
// trail.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/dispatch"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// SERVICE
// =============================================================================

// DefaultCommitRetries bounds how many times a routing pass re-reads and
// re-evaluates after losing the commit race. Each retry evaluates against
// the fresh claim state, so a claim that became terminal in the meantime
// fails cleanly instead of looping.
const DefaultCommitRetries = 3

// Service wires the routing engine to storage and the fan-out targets.
// Audit, Metrics, and Dispatcher are optional; a nil field disables that
// fan-out.
type Service struct {
	Store      *store.Store
	Engine     *routing.Engine
	Audit      *audit.Log
	Metrics    *telemetry.Tracker
	Dispatcher dispatch.Dispatcher

	// CommitRetries overrides DefaultCommitRetries when positive.
	CommitRetries int
}

// Result is the outcome of a committed routing pass.
//
// When an operation returns both a Result and an error, the decision is
// committed and durable; the error came from fan-out (audit halt, dispatch
// write). Callers decide whether that is fatal for their surface.
type Result struct {
	Claim    *claim.Claim
	Decision *routing.Decision
	Attempts int
}

func (s *Service) retries() int {
	if s.CommitRetries > 0 {
		return s.CommitRetries
	}
	return DefaultCommitRetries
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register creates a pending claim and records it.
func (s *Service) Register(ctx context.Context, claimNumber, policyNumber string, claimType claim.Type, amountCents int64) (*claim.Claim, error) {
	c, err := claim.New(claimNumber, policyNumber, claimType, amountCents)
	if err != nil {
		return nil, err
	}
	if err := s.Store.CreateClaim(ctx, c); err != nil {
		return nil, err
	}

	if s.Audit != nil {
		err := s.Audit.Append(audit.Event{
			Kind:        audit.EventClaimRegistered,
			ClaimID:     c.ID,
			ClaimNumber: c.ClaimNumber,
			Detail: map[string]string{
				"claim_type":   string(c.Type),
				"amount_cents": fmt.Sprintf("%d", c.AmountCents),
			},
		})
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// AttachBundle validates and stores a fresh assessment bundle for a claim
// without routing it.
func (s *Service) AttachBundle(ctx context.Context, claimID string, in *assessment.Input) (*assessment.Bundle, error) {
	c, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	b, err := in.Build(c.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Store.PutBundle(ctx, b); err != nil {
		return nil, err
	}

	if s.Audit != nil {
		err := s.Audit.Append(audit.Event{
			Kind:        audit.EventBundleReceived,
			ClaimID:     c.ID,
			ClaimNumber: c.ClaimNumber,
			Detail: map[string]string{
				"bundle_id":   b.ID,
				"fingerprint": b.Fingerprint(),
			},
		})
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

// =============================================================================
// ROUTING
// =============================================================================

// RouteLatest routes a claim against its most recently stored bundle.
// A claim with no bundle on file cannot be routed; the error unwraps to
// assessment.ErrIncompleteAssessment.
func (s *Service) RouteLatest(ctx context.Context, claimID string) (*Result, error) {
	c, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	b, err := s.Store.LatestBundle(ctx, c.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("claim %s: %w: no assessment bundle on file",
				c.ClaimNumber, assessment.ErrIncompleteAssessment)
		}
		return nil, err
	}

	return s.routeAndCommit(ctx, c, b)
}

// RouteWith builds a bundle from fresh assessment input and routes the claim
// against it. The bundle is persisted in the same transaction as the
// decision.
func (s *Service) RouteWith(ctx context.Context, claimID string, in *assessment.Input) (*Result, error) {
	c, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	b, err := in.Build(c.ID)
	if err != nil {
		return nil, err
	}

	return s.routeAndCommit(ctx, c, b)
}

// routeAndCommit evaluates and commits, retrying with a fresh claim read
// each time the commit loses the version race.
func (s *Service) routeAndCommit(ctx context.Context, c *claim.Claim, b *assessment.Bundle) (*Result, error) {
	retries := s.retries()

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		d, err := s.Engine.Route(c, b)
		if err != nil {
			return nil, err
		}

		updated, err := s.Store.CommitDecision(ctx, d, b)
		if err == nil {
			res := &Result{Claim: updated, Decision: d, Attempts: attempt}
			return res, s.fanOut(ctx, updated, b, d)
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err

		if s.Metrics != nil {
			s.Metrics.RecordConflict()
		}
		if s.Audit != nil {
			if aerr := s.Audit.Append(audit.Event{
				Kind:        audit.EventDecisionConflict,
				ClaimID:     c.ID,
				ClaimNumber: c.ClaimNumber,
				DecisionID:  d.ID,
				Detail:      map[string]string{"error": err.Error()},
			}); aerr != nil {
				return nil, aerr
			}
		}

		c, err = s.Store.GetClaim(ctx, c.ID)
		if err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// =============================================================================
// OVERRIDE
// =============================================================================

// OverrideState applies a supervisor override moving the claim to a chosen
// state outside rule evaluation. The caller is responsible for having
// authenticated the actor.
func (s *Service) OverrideState(ctx context.Context, claimID string, to claim.State, actor, justification string) (*Result, error) {
	retries := s.retries()

	c, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	priorDecisionID := ""
	if prior, err := s.Store.LatestDecision(ctx, c.ID); err == nil {
		priorDecisionID = prior.ID
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		d, err := routing.Override(c, to, actor, justification, priorDecisionID)
		if err != nil {
			return nil, err
		}

		updated, err := s.Store.CommitDecision(ctx, d, nil)
		if err == nil {
			// The settlement draft for an override approval is enriched
			// from the latest stored assessment when one exists.
			b, berr := s.Store.LatestBundle(ctx, c.ID)
			if berr != nil {
				b = nil
			}
			res := &Result{Claim: updated, Decision: d, Attempts: attempt}
			return res, s.fanOut(ctx, updated, b, d)
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err

		if s.Metrics != nil {
			s.Metrics.RecordConflict()
		}
		c, err = s.Store.GetClaim(ctx, c.ID)
		if err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// =============================================================================
// FAN-OUT
// =============================================================================

// fanOut records the committed decision with every configured target. The
// first failure is returned; the decision itself is already durable.
func (s *Service) fanOut(ctx context.Context, c *claim.Claim, b *assessment.Bundle, d *routing.Decision) error {
	if s.Audit != nil {
		if err := s.Audit.Append(audit.DecisionEvent(d)); err != nil {
			return err
		}
	}

	if s.Metrics != nil {
		fraudScore := -1.0
		if b != nil {
			fraudScore = b.FraudScore
		}
		s.Metrics.RecordDecision(d, c.AmountCents, fraudScore)
	}

	if s.Dispatcher != nil {
		if err := s.Dispatcher.Dispatch(ctx, c, b, d); err != nil {
			return fmt.Errorf("decision %s committed, dispatch failed: %w", d.ID, err)
		}
		if s.Audit != nil {
			if err := s.Audit.Append(audit.Event{
				Kind:        audit.EventDispatchQueued,
				ClaimID:     c.ID,
				ClaimNumber: c.ClaimNumber,
				DecisionID:  d.ID,
				Detail:      map[string]string{"state": string(d.ResultingState)},
			}); err != nil {
				return err
			}
		}
	}

	return nil
}
