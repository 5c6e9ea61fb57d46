// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "claims.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedClaim(t *testing.T, s *store.Store, number string, amountCents int64) *claim.Claim {
	t.Helper()
	c, err := claim.New(number, "POL-445010", claim.TypeAutoCollision, amountCents)
	if err != nil {
		t.Fatalf("claim.New(%s) failed: %v", number, err)
	}
	if err := s.CreateClaim(context.Background(), c); err != nil {
		t.Fatalf("CreateClaim(%s) failed: %v", number, err)
	}
	return c
}

func seedBundle(t *testing.T, s *store.Store, c *claim.Claim, fraudScore float64) *assessment.Bundle {
	t.Helper()
	in := &assessment.Input{
		DamageEstimateCents: i64(120000),
		DamageConfidence:    f64(0.93),
		FraudScore:          f64(fraudScore),
		CoverageResult:      string(assessment.Covered),
		CoverageLimitCents:  i64(5000000),
	}
	b, err := in.Build(c.ID)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := s.PutBundle(context.Background(), b); err != nil {
		t.Fatalf("PutBundle failed: %v", err)
	}
	return b
}

// testSnapshot builds a populated snapshot without touching a database, for
// View tests that only exercise rendering.
func testSnapshot() *snapshot {
	return &snapshot{
		Stats: store.Stats{
			ClaimCount:    4,
			DecisionCount: 3,
			ByState: map[claim.State]int{
				claim.StatePending:      1,
				claim.StateAutoApproved: 2,
				claim.StateManualReview: 1,
			},
		},
		Queue: []queueRow{
			{Number: "CLM-2025-000001", State: claim.StateAutoApproved, AmountCents: 180000, Risk: assessment.RiskLow, HasBundle: true, Age: 42 * time.Second},
			{Number: "CLM-2025-000002", State: claim.StatePending, AmountCents: 2750000, Age: 3 * time.Minute},
		},
		Trends: &telemetry.Trends{
			Days:              7,
			Decisions:         3,
			AutoApproved:      2,
			AmountRoutedCents: 460000,
			HighRiskCount:     1,
		},
		Intake: &intakeCounts{
			Waiting:   2,
			Processed: 5,
			Failed:    1,
		},
		RetrievedAt: time.Now(),
	}
}

// =============================================================================
// MODEL TESTS
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	m := New(Deps{})

	if m.interval != DefaultRefreshInterval {
		t.Errorf("interval: got %v, want %v", m.interval, DefaultRefreshInterval)
	}
	if !m.refreshing {
		t.Error("model should start in the refreshing state")
	}
}

func TestNew_CustomInterval(t *testing.T) {
	m := New(Deps{RefreshInterval: 10 * time.Second})
	if m.interval != 10*time.Second {
		t.Errorf("interval: got %v, want 10s", m.interval)
	}
}

func TestUpdate_WindowSize(t *testing.T) {
	m := New(Deps{})

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)

	if m.width != 120 {
		t.Errorf("width: got %d, want 120", m.width)
	}
	if m.height != 40 {
		t.Errorf("height: got %d, want 40", m.height)
	}
}

func TestUpdate_QuitKey(t *testing.T) {
	m := New(Deps{})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit key should return a command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("quit key produced %T, want tea.QuitMsg", msg)
	}
}

func TestUpdate_SnapshotApplied(t *testing.T) {
	m := New(Deps{})

	snap := testSnapshot()
	updated, cmd := m.Update(snapshotMsg{snap: snap})
	m = updated.(Model)

	if m.refreshing {
		t.Error("snapshot should clear the refreshing flag")
	}
	if m.snap != snap {
		t.Error("snapshot was not stored")
	}
	if m.lastErr != nil {
		t.Errorf("lastErr: got %v, want nil", m.lastErr)
	}
	if cmd == nil {
		t.Error("snapshot should schedule the next tick")
	}
	if m.refreshes != 1 {
		t.Errorf("refreshes: got %d, want 1", m.refreshes)
	}
}

func TestUpdate_SnapshotErrorKeepsOldData(t *testing.T) {
	m := New(Deps{})

	snap := testSnapshot()
	updated, _ := m.Update(snapshotMsg{snap: snap})
	m = updated.(Model)

	updated, _ = m.Update(snapshotMsg{err: os.ErrPermission})
	m = updated.(Model)

	if m.snap != snap {
		t.Error("a failed poll should not discard the previous snapshot")
	}
	if m.lastErr == nil {
		t.Error("lastErr should be set after a failed poll")
	}
}

func TestUpdate_RefreshKey(t *testing.T) {
	m := New(Deps{Store: openTestStore(t)})

	// Land the first poll so the model is idle.
	updated, _ := m.Update(snapshotMsg{snap: testSnapshot()})
	m = updated.(Model)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	m = updated.(Model)

	if !m.refreshing {
		t.Error("refresh key should mark the model refreshing")
	}
	if cmd == nil {
		t.Error("refresh key should dispatch a poll")
	}
}

func TestUpdate_TickSkippedWhileRefreshing(t *testing.T) {
	m := New(Deps{})
	// New starts refreshing; a tick then must not dispatch a second poll.
	updated, cmd := m.Update(refreshTickMsg(time.Now()))
	m = updated.(Model)

	if !m.refreshing {
		t.Error("model should stay in the refreshing state")
	}
	if cmd == nil {
		t.Error("skipped tick should still schedule the next one")
	}
}

// =============================================================================
// DATA COLLECTION TESTS
// =============================================================================

func TestCollect(t *testing.T) {
	s := openTestStore(t)

	withBundle := seedClaim(t, s, "CLM-2025-000001", 180000)
	seedBundle(t, s, withBundle, 0.91)
	seedClaim(t, s, "CLM-2025-000002", 95000)

	tracker, err := telemetry.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	tracker.RecordDecision(&routing.Decision{
		ResultingState: claim.StateAutoApproved,
		RuleName:       "auto_approval",
	}, 95000, 0.02)

	intakeDir := t.TempDir()
	for _, name := range []string{"a.json", "b.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(intakeDir, name), []byte("{}"), 0600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	processed := filepath.Join(intakeDir, "processed")
	if err := os.MkdirAll(processed, 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(processed, "c.json"), []byte("{}"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	snap, err := collect(Deps{Store: s, Metrics: tracker, IntakeDir: intakeDir})
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	if snap.Stats.ClaimCount != 2 {
		t.Errorf("ClaimCount: got %d, want 2", snap.Stats.ClaimCount)
	}
	if len(snap.Queue) != 2 {
		t.Fatalf("queue length: got %d, want 2", len(snap.Queue))
	}

	rows := make(map[string]queueRow, len(snap.Queue))
	for _, row := range snap.Queue {
		rows[row.Number] = row
	}
	if row := rows["CLM-2025-000001"]; !row.HasBundle || row.Risk != assessment.RiskCritical {
		t.Errorf("assessed claim row: got %+v, want critical risk with bundle", row)
	}
	if row := rows["CLM-2025-000002"]; row.HasBundle {
		t.Errorf("unassessed claim should have no bundle: %+v", row)
	}

	if snap.Trends == nil || snap.Trends.Decisions != 1 {
		t.Errorf("trends: got %+v, want 1 decision", snap.Trends)
	}

	if snap.Intake == nil {
		t.Fatal("intake counts missing")
	}
	if snap.Intake.Waiting != 2 {
		t.Errorf("waiting: got %d, want 2 (txt files do not count)", snap.Intake.Waiting)
	}
	if snap.Intake.Processed != 1 {
		t.Errorf("processed: got %d, want 1", snap.Intake.Processed)
	}
	if snap.Intake.Failed != 0 {
		t.Errorf("failed: got %d, want 0 for missing directory", snap.Intake.Failed)
	}
}

func TestCollect_StoreOnly(t *testing.T) {
	s := openTestStore(t)
	seedClaim(t, s, "CLM-2025-000003", 40000)

	snap, err := collect(Deps{Store: s})
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if snap.Trends != nil {
		t.Error("trends should be nil without a tracker")
	}
	if snap.Intake != nil {
		t.Error("intake counts should be nil without a drop directory")
	}
}

func TestCountJSONFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "B.JSON", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub.json"), 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	if n := countJSONFiles(dir); n != 2 {
		t.Errorf("count: got %d, want 2", n)
	}
	if n := countJSONFiles(filepath.Join(dir, "missing")); n != 0 {
		t.Errorf("missing dir count: got %d, want 0", n)
	}
}

func TestSortedStateCounts(t *testing.T) {
	counts := sortedStateCounts(map[claim.State]int{
		claim.StateRejected:     1,
		claim.StatePending:      3,
		claim.StateAutoApproved: 0, // skipped
		claim.StateManualReview: 2,
	})

	want := []stateCount{
		{State: claim.StatePending, Count: 3},
		{State: claim.StateManualReview, Count: 2},
		{State: claim.StateRejected, Count: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("length: got %d, want %d", len(counts), len(want))
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d]: got %+v, want %+v", i, counts[i], want[i])
		}
	}
}

// =============================================================================
// VIEW TESTS
// =============================================================================

func TestView_Loading(t *testing.T) {
	m := New(Deps{})

	output := m.View()
	if !strings.Contains(output, "Loading") {
		t.Error("view without data should show the loading line")
	}
	if !strings.Contains(output, "claimroute operations") {
		t.Error("view should carry the title")
	}
}

func TestView_RendersAllSections(t *testing.T) {
	m := New(Deps{})
	m.snap = testSnapshot()
	m.refreshing = false

	output := m.View()

	expectedStrings := []string{
		"claimroute operations",
		"States",
		"pending",
		"auto_approved",
		"manual_review",
		"Last 7 Days",
		"decisions",
		"auto-approved",
		"66.7%",
		"$4,600.00",
		"1 high-risk",
		"Queue",
		"CLAIM",
		"STATE",
		"AMOUNT",
		"RISK",
		"AGE",
		"CLM-2025-000001",
		"$1,800.00",
		"low",
		"42s",
		"CLM-2025-000002",
		"3m",
		"Intake",
		"waiting",
		"processed",
		"failed",
		"refresh",
		"quit",
	}
	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("output missing expected string: %s", expected)
		}
	}
}

func TestView_EmptySnapshot(t *testing.T) {
	m := New(Deps{})
	m.snap = &snapshot{
		Stats:       store.Stats{ByState: map[claim.State]int{}},
		RetrievedAt: time.Now(),
	}
	m.refreshing = false

	output := m.View()

	expectedStrings := []string{
		"no claims registered",
		"no routing activity recorded",
		"queue is empty",
	}
	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("output missing expected string: %s", expected)
		}
	}
	if strings.Contains(output, "Intake") {
		t.Error("intake panel should collapse when no drop directory is configured")
	}
}

func TestView_RefreshError(t *testing.T) {
	m := New(Deps{})
	updated, _ := m.Update(snapshotMsg{err: os.ErrPermission})
	m = updated.(Model)

	if !strings.Contains(m.View(), "refresh failed") {
		t.Error("view should surface the poll error")
	}
}

func TestFormatQueueAge(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m"},
		{5 * time.Minute, "5m"},
		{2 * time.Hour, "2h"},
		{36 * time.Hour, "1d"},
		{75 * time.Hour, "3d"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatQueueAge(tt.duration); got != tt.want {
				t.Errorf("formatQueueAge(%v): got %s, want %s", tt.duration, got, tt.want)
			}
		})
	}
}
