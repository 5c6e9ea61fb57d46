// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal contains race detection tests for the claim routing
// engine and its storage commit path.
//
// Run with: go test -race -v ./internal/...
//
// The commit path promises that of N concurrent routing passes for the same
// claim, exactly one wins at each version; these tests drive that promise
// with goroutine storms and should be run in CI with -race enabled.
package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/pipeline"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// TEST CONFIGURATION
// =============================================================================

const (
	// Number of concurrent goroutines for race tests
	raceConcurrency = 50
	// Number of iterations per goroutine for in-memory components
	raceIterations = 200
	// Timeout for race tests
	raceTimeout = 60 * time.Second
)

// Shared fixtures (claim inputs, store and seed helpers) live in
// integration_test.go.

// =============================================================================
// COMMIT EXCLUSIVITY
// =============================================================================

// TestConcurrency_CommitExclusivity drives N raw commits built against the
// same claim snapshot. The version compare-and-swap must admit exactly one;
// every loser must observe ErrConcurrentModification and leave no trace in
// the decision history.
func TestConcurrency_CommitExclusivity(t *testing.T) {
	s := openTestStore(t)
	c := seedClaim(t, s, "CLM-2025-700001", 82000)
	b := seedBundle(t, s, c, reviewInput())
	engine := routing.NewEngine(routing.DefaultThresholds())

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var committed, conflicted int64
	errChan := make(chan error, raceConcurrency)

	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every goroutine evaluates the identical stale snapshot.
			d, err := engine.Route(c, b)
			if err != nil {
				errChan <- fmt.Errorf("Route: %w", err)
				return
			}
			_, err = s.CommitDecision(ctx, d, b)
			switch {
			case err == nil:
				atomic.AddInt64(&committed, 1)
			case errors.Is(err, store.ErrConcurrentModification):
				atomic.AddInt64(&conflicted, 1)
			default:
				errChan <- fmt.Errorf("CommitDecision: %w", err)
			}
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		t.Errorf("unexpected error: %v", err)
	}

	if committed != 1 {
		t.Errorf("committed = %d, want exactly 1", committed)
	}
	if conflicted != raceConcurrency-1 {
		t.Errorf("conflicted = %d, want %d", conflicted, raceConcurrency-1)
	}

	decisions, err := s.Decisions(ctx, c.ID)
	if err != nil {
		t.Fatalf("Decisions() error = %v", err)
	}
	if len(decisions) != 1 {
		t.Errorf("decision history length = %d, want 1 (losers must not append)", len(decisions))
	}

	final, err := s.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim() error = %v", err)
	}
	if final.Version != c.Version+1 {
		t.Errorf("final version = %d, want %d (exactly one bump)", final.Version, c.Version+1)
	}
	if final.State != claim.StateManualReview {
		t.Errorf("final state = %s, want %s", final.State, claim.StateManualReview)
	}
}

// TestConcurrency_PipelineSerializedCommits storms one re-routable claim
// through the full pipeline with retries sized so every goroutine must
// eventually win. Each pass re-reads and re-evaluates at the fresh version,
// so the history ends up with exactly one decision per goroutine and the
// version count matches.
func TestConcurrency_PipelineSerializedCommits(t *testing.T) {
	s := openTestStore(t)
	c := seedClaim(t, s, "CLM-2025-700002", 82000)
	seedBundle(t, s, c, reviewInput())

	tracker, err := telemetry.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}

	svc := &pipeline.Service{
		Store:   s,
		Engine:  routing.NewEngine(routing.DefaultThresholds()),
		Metrics: tracker,
		// A goroutine can lose at most one race per competing success, so
		// concurrency+1 attempts guarantee termination with a win.
		CommitRetries: raceConcurrency + 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var totalAttempts int64
	errChan := make(chan error, raceConcurrency)

	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RouteLatest(ctx, c.ID)
			if err != nil {
				errChan <- err
				return
			}
			if res.Decision.ResultingState != claim.StateManualReview {
				errChan <- fmt.Errorf("resulting state = %s, want %s",
					res.Decision.ResultingState, claim.StateManualReview)
				return
			}
			atomic.AddInt64(&totalAttempts, int64(res.Attempts))
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		t.Errorf("RouteLatest: %v", err)
	}

	decisions, err := s.Decisions(ctx, c.ID)
	if err != nil {
		t.Fatalf("Decisions() error = %v", err)
	}
	if len(decisions) != raceConcurrency {
		t.Errorf("decision history length = %d, want %d", len(decisions), raceConcurrency)
	}

	final, err := s.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim() error = %v", err)
	}
	if final.Version != c.Version+raceConcurrency {
		t.Errorf("final version = %d, want %d", final.Version, c.Version+raceConcurrency)
	}

	// Every attempt beyond a goroutine's first is a lost race recorded as a
	// conflict by the pipeline.
	w := tracker.CurrentWindow()
	if w.Decisions != raceConcurrency {
		t.Errorf("tracked decisions = %d, want %d", w.Decisions, raceConcurrency)
	}
	wantConflicts := atomic.LoadInt64(&totalAttempts) - raceConcurrency
	if w.Conflicts != wantConflicts {
		t.Errorf("tracked conflicts = %d, want %d (attempts %d - %d wins)",
			w.Conflicts, wantConflicts, totalAttempts, raceConcurrency)
	}
}

// TestConcurrency_TerminalClaimSingleWinner storms a claim whose bundle
// qualifies for instant approval. The first committed decision freezes the
// claim; everyone else must fail with the terminal-claim error after their
// retry re-reads the frozen state. The history must show exactly one
// decision no matter how the storm interleaves.
func TestConcurrency_TerminalClaimSingleWinner(t *testing.T) {
	s := openTestStore(t)
	c := seedClaim(t, s, "CLM-2025-700003", 82000)
	seedBundle(t, s, c, approveInput())

	svc := &pipeline.Service{
		Store:         s,
		Engine:        routing.NewEngine(routing.DefaultThresholds()),
		CommitRetries: raceConcurrency + 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var wins int64
	errChan := make(chan error, raceConcurrency)

	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RouteLatest(ctx, c.ID)
			if err == nil {
				if res.Decision.ResultingState != claim.StateAutoApproved {
					errChan <- fmt.Errorf("winner state = %s, want %s",
						res.Decision.ResultingState, claim.StateAutoApproved)
				}
				atomic.AddInt64(&wins, 1)
				return
			}
			if !errors.Is(err, claim.ErrClaimTerminal) {
				errChan <- fmt.Errorf("loser error = %v, want terminal-claim", err)
			}
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		t.Errorf("unexpected outcome: %v", err)
	}

	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}

	decisions, err := s.Decisions(ctx, c.ID)
	if err != nil {
		t.Fatalf("Decisions() error = %v", err)
	}
	if len(decisions) != 1 {
		t.Errorf("decision history length = %d, want 1", len(decisions))
	}

	final, err := s.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim() error = %v", err)
	}
	if final.State != claim.StateAutoApproved {
		t.Errorf("final state = %s, want %s", final.State, claim.StateAutoApproved)
	}
	if final.Version != c.Version+1 {
		t.Errorf("final version = %d, want %d", final.Version, c.Version+1)
	}
}

// TestConcurrency_DistinctClaimsNoInterference routes one claim per
// goroutine. Claims contend only on their own version token, so every pass
// must win on its first attempt.
func TestConcurrency_DistinctClaimsNoInterference(t *testing.T) {
	s := openTestStore(t)

	claims := make([]*claim.Claim, raceConcurrency)
	for i := range claims {
		claims[i] = seedClaim(t, s, fmt.Sprintf("CLM-2025-71%04d", i), 82000)
	}

	svc := &pipeline.Service{
		Store:  s,
		Engine: routing.NewEngine(routing.DefaultThresholds()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, raceConcurrency)

	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := svc.RouteWith(ctx, claims[idx].ID, reviewInput())
			if err != nil {
				errChan <- fmt.Errorf("claim %d: %w", idx, err)
				return
			}
			if res.Attempts != 1 {
				errChan <- fmt.Errorf("claim %d: attempts = %d, want 1 (no cross-claim contention)", idx, res.Attempts)
			}
		}(i)
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		t.Errorf("%v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.ClaimCount != raceConcurrency {
		t.Errorf("claim count = %d, want %d", stats.ClaimCount, raceConcurrency)
	}
	if stats.DecisionCount != raceConcurrency {
		t.Errorf("decision count = %d, want %d", stats.DecisionCount, raceConcurrency)
	}
}

// TestConcurrency_ReadersDuringRouting interleaves history and stats reads
// with a commit storm on the same claim. WAL mode must give readers a
// coherent view throughout; a read may be stale but never broken.
func TestConcurrency_ReadersDuringRouting(t *testing.T) {
	s := openTestStore(t)
	c := seedClaim(t, s, "CLM-2025-700004", 82000)
	seedBundle(t, s, c, reviewInput())

	svc := &pipeline.Service{
		Store:         s,
		Engine:        routing.NewEngine(routing.DefaultThresholds()),
		CommitRetries: raceConcurrency + 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, raceConcurrency*2)

	// Writers
	for i := 0; i < raceConcurrency/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RouteLatest(ctx, c.ID); err != nil {
				errChan <- fmt.Errorf("writer: %w", err)
			}
		}()
	}

	// Readers
	for i := 0; i < raceConcurrency/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < raceIterations/10; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				got, err := s.GetClaim(ctx, c.ID)
				if err != nil {
					errChan <- fmt.Errorf("GetClaim: %w", err)
					return
				}
				if got.Version < 1 {
					errChan <- fmt.Errorf("GetClaim: version = %d, want >= 1", got.Version)
					return
				}
				if _, err := s.Decisions(ctx, c.ID); err != nil {
					errChan <- fmt.Errorf("Decisions: %w", err)
					return
				}
				// LatestDecision legitimately misses before the first commit.
				if _, err := s.LatestDecision(ctx, c.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
					errChan <- fmt.Errorf("LatestDecision: %w", err)
					return
				}
				if _, err := s.Stats(ctx); err != nil {
					errChan <- fmt.Errorf("Stats: %w", err)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		t.Errorf("%v", err)
	}

	decisions, err := s.Decisions(ctx, c.ID)
	if err != nil {
		t.Fatalf("Decisions() error = %v", err)
	}
	if len(decisions) != raceConcurrency/2 {
		t.Errorf("decision history length = %d, want %d", len(decisions), raceConcurrency/2)
	}
}

// =============================================================================
// ENGINE CONCURRENCY
// =============================================================================

// TestConcurrency_ThresholdReloadDuringRouting swaps thresholds (the config
// hot-reload path) while evaluations run. An in-flight evaluation must see
// one coherent threshold set; the outcome is always one of the two states
// the competing threshold sets can produce.
func TestConcurrency_ThresholdReloadDuringRouting(t *testing.T) {
	engine := routing.NewEngine(routing.DefaultThresholds())

	c, err := claim.New("CLM-2025-700005", "POL-889123", claim.TypeAutoCollision, 82000)
	if err != nil {
		t.Fatalf("claim.New() error = %v", err)
	}
	b, err := approveInput().Build(c.ID)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// Default thresholds approve this bundle; the tightened set drops the
	// approval limit below the claim amount, forcing manual review.
	tightened := routing.DefaultThresholds()
	tightened.AutoApproveLimitCents = 50000

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, raceConcurrency)

	for i := 0; i < raceConcurrency/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				d, err := engine.Route(c, b)
				if err != nil {
					errChan <- fmt.Errorf("Route: %w", err)
					return
				}
				if d.ResultingState != claim.StateAutoApproved && d.ResultingState != claim.StateManualReview {
					errChan <- fmt.Errorf("resulting state = %s, want approval or review", d.ResultingState)
					return
				}
			}
		}()
	}

	for i := 0; i < raceConcurrency/2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations/4; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if (idx+j)%2 == 0 {
					engine.SetThresholds(tightened)
				} else {
					engine.SetThresholds(routing.DefaultThresholds())
				}
				_ = engine.Thresholds()
			}
		}(i)
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		t.Errorf("%v", err)
	}
}

// =============================================================================
// TELEMETRY CONCURRENCY
// =============================================================================

// TestConcurrency_TrackerRecording hammers the metrics tracker from
// recorders, conflict counters, and snapshot readers at once, then checks
// the window totals balance.
func TestConcurrency_TrackerRecording(t *testing.T) {
	tracker, err := telemetry.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}

	d := &routing.Decision{
		ID:             "dec-race",
		ClaimID:        "clm_race",
		ClaimNumber:    "CLM-2025-700006",
		ResultingState: claim.StateManualReview,
		RuleName:       "manual_review",
	}

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var recorded, conflicts int64

	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations/4; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				switch (idx + j) % 3 {
				case 0:
					tracker.RecordDecision(d, 82000, 0.45)
					atomic.AddInt64(&recorded, 1)
				case 1:
					tracker.RecordConflict()
					atomic.AddInt64(&conflicts, 1)
				default:
					w := tracker.CurrentWindow()
					if w.Decisions < 0 || w.Conflicts < 0 {
						return
					}
				}
			}
		}(i)
	}

	wg.Wait()

	w := tracker.CurrentWindow()
	if w.Decisions != atomic.LoadInt64(&recorded) {
		t.Errorf("window decisions = %d, want %d", w.Decisions, recorded)
	}
	if w.Conflicts != atomic.LoadInt64(&conflicts) {
		t.Errorf("window conflicts = %d, want %d", w.Conflicts, conflicts)
	}

	if err := tracker.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	trends := tracker.GetTrends(1)
	if trends.Decisions != atomic.LoadInt64(&recorded) {
		t.Errorf("trends decisions = %d, want %d", trends.Decisions, recorded)
	}
}

// =============================================================================
// BENCHMARK TESTS FOR CONCURRENCY OVERHEAD
// =============================================================================

// BenchmarkConcurrent_EngineRoute benchmarks parallel rule evaluation.
func BenchmarkConcurrent_EngineRoute(b *testing.B) {
	engine := routing.NewEngine(routing.DefaultThresholds())
	c, err := claim.New("CLM-2025-700100", "POL-889123", claim.TypeAutoCollision, 82000)
	if err != nil {
		b.Fatalf("claim.New() error = %v", err)
	}
	bundle, err := reviewInput().Build(c.ID)
	if err != nil {
		b.Fatalf("Build() error = %v", err)
	}

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			d, err := engine.Route(c, bundle)
			if err != nil {
				b.Fatal(err)
			}
			_ = d.ResultingState
		}
	})
}

// BenchmarkConcurrent_ThresholdsRead benchmarks parallel threshold snapshots.
func BenchmarkConcurrent_ThresholdsRead(b *testing.B) {
	engine := routing.NewEngine(routing.DefaultThresholds())
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			th := engine.Thresholds()
			_ = th.AutoApproveLimitCents
		}
	})
}

// BenchmarkConcurrent_TrackerRecord benchmarks parallel decision recording.
func BenchmarkConcurrent_TrackerRecord(b *testing.B) {
	tracker, err := telemetry.NewTracker(b.TempDir())
	if err != nil {
		b.Fatalf("NewTracker() error = %v", err)
	}
	d := &routing.Decision{
		ID:             "dec-bench",
		ClaimID:        "clm_bench",
		ResultingState: claim.StateManualReview,
		RuleName:       "manual_review",
	}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tracker.RecordDecision(d, 82000, 0.45)
		}
	})
}
