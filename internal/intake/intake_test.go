// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package intake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/pipeline"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestIntake(t *testing.T) *Service {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "claims.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tracker, err := telemetry.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	p := &pipeline.Service{
		Store:   st,
		Engine:  routing.NewEngine(routing.DefaultThresholds()),
		Metrics: tracker,
	}

	svc, err := NewService(p, filepath.Join(t.TempDir(), "drop"), 1)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func dropFile(t *testing.T, svc *Service, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(svc.Root(), name)
	if err := os.WriteFile(path, contents, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func dropSubmission(t *testing.T, svc *Service, name string, sub Submission) string {
	t.Helper()
	data, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return dropFile(t, svc, name, data)
}

func submissionWithAssessment(claimNumber string, confidence, fraud float64, coverage string) Submission {
	estimate := int64(200000)
	limit := int64(1000000)
	return Submission{
		ClaimNumber:  claimNumber,
		PolicyNumber: "POL-44100",
		ClaimType:    "water_damage",
		AmountCents:  250000,
		Assessment: &assessment.Input{
			DamageEstimateCents: &estimate,
			DamageConfidence:    &confidence,
			FraudScore:          &fraud,
			CoverageResult:      coverage,
			CoverageLimitCents:  &limit,
		},
	}
}

// =============================================================================
// PROCESSING TESTS
// =============================================================================

func TestService_ProcessRegistersAndRoutes(t *testing.T) {
	svc := newTestIntake(t)
	ctx := context.Background()

	path := dropSubmission(t, svc, "clm-400.json",
		submissionWithAssessment("CLM-2024-000400", 0.95, 0.05, "covered"))

	svc.Process(ctx, path)

	c, err := svc.pipeline.Store.GetClaimByNumber(ctx, "CLM-2024-000400")
	if err != nil {
		t.Fatalf("Claim not registered: %v", err)
	}
	if c.State != claim.StateAutoApproved {
		t.Errorf("State = %s, want auto_approved", c.State)
	}

	if _, err := os.Stat(filepath.Join(svc.Root(), processedDirName, "clm-400.json")); err != nil {
		t.Errorf("Submission not moved to processed/: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Submission still present in drop directory")
	}

	stats := svc.Stats()
	if stats.Processed != 1 || stats.Registered != 1 || stats.Routed != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestService_ProcessRegistrationOnly(t *testing.T) {
	svc := newTestIntake(t)
	ctx := context.Background()

	sub := Submission{
		ClaimNumber:  "CLM-2024-000401",
		PolicyNumber: "POL-44101",
		ClaimType:    "fire_damage",
		AmountCents:  900000,
	}
	path := dropSubmission(t, svc, "clm-401.json", sub)

	svc.Process(ctx, path)

	c, err := svc.pipeline.Store.GetClaimByNumber(ctx, "CLM-2024-000401")
	if err != nil {
		t.Fatalf("Claim not registered: %v", err)
	}
	if c.State != claim.StatePending {
		t.Errorf("State = %s, want pending", c.State)
	}

	stats := svc.Stats()
	if stats.Processed != 1 || stats.Routed != 0 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestService_ProcessExistingClaimRoutesFreshAssessment(t *testing.T) {
	svc := newTestIntake(t)
	ctx := context.Background()

	// First drop registers and routes to manual review (low confidence).
	first := dropSubmission(t, svc, "clm-402-a.json",
		submissionWithAssessment("CLM-2024-000402", 0.60, 0.10, "covered"))
	svc.Process(ctx, first)

	c, err := svc.pipeline.Store.GetClaimByNumber(ctx, "CLM-2024-000402")
	if err != nil {
		t.Fatalf("GetClaimByNumber failed: %v", err)
	}
	if c.State != claim.StateManualReview {
		t.Fatalf("State after first drop = %s, want manual_review", c.State)
	}

	// Second drop reuses the claim and escalates on the new assessment.
	second := dropSubmission(t, svc, "clm-402-b.json",
		submissionWithAssessment("CLM-2024-000402", 0.60, 0.90, "covered"))
	svc.Process(ctx, second)

	c, err = svc.pipeline.Store.GetClaimByNumber(ctx, "CLM-2024-000402")
	if err != nil {
		t.Fatalf("GetClaimByNumber failed: %v", err)
	}
	if c.State != claim.StateFraudInvestigation {
		t.Errorf("State after second drop = %s, want fraud_investigation", c.State)
	}
	if c.Version != 3 {
		t.Errorf("Version = %d, want 3", c.Version)
	}

	if stats := svc.Stats(); stats.Registered != 1 {
		t.Errorf("Registered = %d, want 1 (second drop reuses the claim)", stats.Registered)
	}
}

func TestService_ProcessMalformedJSON(t *testing.T) {
	svc := newTestIntake(t)

	path := dropFile(t, svc, "garbage.json", []byte("{not json"))
	svc.Process(context.Background(), path)

	if _, err := os.Stat(filepath.Join(svc.Root(), failedDirName, "garbage.json")); err != nil {
		t.Errorf("Submission not moved to failed/: %v", err)
	}

	sidecar := filepath.Join(svc.Root(), failedDirName, "garbage.json.error.txt")
	data, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatalf("Error sidecar not written: %v", err)
	}
	if !strings.Contains(string(data), "parse submission") {
		t.Errorf("Sidecar contents = %q", string(data))
	}

	if stats := svc.Stats(); stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestService_ProcessInvalidAmount(t *testing.T) {
	svc := newTestIntake(t)

	sub := Submission{
		ClaimNumber:  "CLM-2024-000403",
		PolicyNumber: "POL-44103",
		ClaimType:    "other",
		AmountCents:  0,
	}
	path := dropSubmission(t, svc, "clm-403.json", sub)
	svc.Process(context.Background(), path)

	sidecar := filepath.Join(svc.Root(), failedDirName, "clm-403.json.error.txt")
	data, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatalf("Error sidecar not written: %v", err)
	}
	if !strings.Contains(string(data), "invalid claim amount") {
		t.Errorf("Sidecar contents = %q", string(data))
	}
}

func TestService_ProcessConsumedPathIsNoop(t *testing.T) {
	svc := newTestIntake(t)
	ctx := context.Background()

	path := dropSubmission(t, svc, "clm-404.json",
		submissionWithAssessment("CLM-2024-000404", 0.95, 0.05, "covered"))

	svc.Process(ctx, path)
	// Duplicate watcher event for the same (now moved) path.
	svc.Process(ctx, path)

	if stats := svc.Stats(); stats.Processed != 1 {
		t.Errorf("Processed = %d after duplicate event, want 1", stats.Processed)
	}
}

func TestService_MoveCollisionKeepsBothFiles(t *testing.T) {
	svc := newTestIntake(t)
	ctx := context.Background()

	path := dropSubmission(t, svc, "clm-405.json",
		submissionWithAssessment("CLM-2024-000405", 0.95, 0.05, "covered"))
	svc.Process(ctx, path)

	// Same file name dropped again; the claim exists now, so it re-routes
	// and the processed/ name collides.
	path = dropSubmission(t, svc, "clm-405.json",
		submissionWithAssessment("CLM-2024-000405", 0.95, 0.05, "covered"))
	svc.Process(ctx, path)

	entries, err := os.ReadDir(filepath.Join(svc.Root(), processedDirName))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("processed/ has %d files, want 2", len(entries))
	}
}

// =============================================================================
// SERVICE LIFECYCLE TESTS
// =============================================================================

func TestService_StartDrainsBacklog(t *testing.T) {
	svc := newTestIntake(t)

	dropSubmission(t, svc, "backlog-1.json",
		submissionWithAssessment("CLM-2024-000410", 0.95, 0.05, "covered"))
	dropSubmission(t, svc, "backlog-2.json",
		submissionWithAssessment("CLM-2024-000411", 0.95, 0.05, "covered"))

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Stats().Processed == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if stats := svc.Stats(); stats.Processed != 2 {
		t.Fatalf("Processed = %d, want 2", stats.Processed)
	}

	c, err := svc.pipeline.Store.GetClaimByNumber(context.Background(), "CLM-2024-000411")
	if err != nil {
		t.Fatalf("Backlog claim not registered: %v", err)
	}
	if c.State != claim.StateAutoApproved {
		t.Errorf("State = %s, want auto_approved", c.State)
	}
}

func TestService_WatcherPicksUpNewDrop(t *testing.T) {
	svc := newTestIntake(t)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	dropSubmission(t, svc, "live-1.json",
		submissionWithAssessment("CLM-2024-000412", 0.95, 0.05, "covered"))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Stats().Processed == 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if stats := svc.Stats(); stats.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", stats.Processed)
	}
}

// =============================================================================
// WATCHER TESTS
// =============================================================================

func TestPollingWatcher_NotifiesOnNewFile(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var seen []string
	pw := NewPollingWatcher(dir, 50*time.Millisecond, func(path string) {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
	})
	if err := pw.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer pw.Close()

	path := filepath.Join(dir, "drop.json")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("Polling watcher never noticed the dropped file")
	}
	if seen[0] != path {
		t.Errorf("Notified path = %q, want %q", seen[0], path)
	}
}

func TestPollingWatcher_IgnoresNonSubmissionFiles(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	count := 0
	pw := NewPollingWatcher(dir, 50*time.Millisecond, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err := pw.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer pw.Close()

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600)
	os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte("{}"), 0600)

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("Watcher notified %d times for non-submission files", count)
	}
}

func TestSubmissionFile(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"/drop/claim.json", true},
		{"/drop/CLAIM.JSON", true},
		{"/drop/claim.txt", false},
		{"/drop/.partial.json", false},
		{"/drop/claim", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			if got := submissionFile(tc.path); got != tc.expected {
				t.Errorf("submissionFile(%q) = %v, want %v", tc.path, got, tc.expected)
			}
		})
	}
}
