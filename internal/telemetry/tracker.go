// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/routing"
)

// =============================================================================
// TRACKER
// =============================================================================

// HighRiskFraudScore is the floor above which a routed claim counts toward
// the high-risk volume stat, regardless of which state it landed in.
const HighRiskFraudScore = 0.5

// windowIDCounter ensures unique window IDs even when windows roll rapidly.
var windowIDCounter uint64

// Tracker accumulates routing activity for the current window. All methods
// are safe for concurrent use; the server, intake workers, and CLI share one
// instance.
type Tracker struct {
	mu      sync.RWMutex
	window  *Window
	storage *Storage
}

// Window holds the counters for a single tracking window. A window opens
// when the Tracker is created and closes on EndWindow, which persists it.
type Window struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Decision counts
	Decisions int64            `json:"decisions"`
	ByState   map[string]int64 `json:"by_state"`
	ByRule    map[string]int64 `json:"by_rule"`
	Overrides int64            `json:"overrides"`

	// Commit conflicts observed (stale-version rejections)
	Conflicts int64 `json:"conflicts"`

	// Amounts, in cents
	AmountRoutedCents int64 `json:"amount_routed_cents"`
	AutoApprovedCents int64 `json:"auto_approved_cents"`

	// Decisions whose fraud score was at or above HighRiskFraudScore
	HighRiskCount int64 `json:"high_risk_count"`
}

// AutoApprovalRate returns the fraction of this window's decisions that
// landed in auto_approved, or 0 when the window is empty.
func (w *Window) AutoApprovalRate() float64 {
	if w.Decisions == 0 {
		return 0
	}
	return float64(w.ByState[string(claim.StateAutoApproved)]) / float64(w.Decisions)
}

// Trends aggregates stored windows over a date range.
type Trends struct {
	Days              int              `json:"days"`
	Decisions         int64            `json:"decisions"`
	AutoApproved      int64            `json:"auto_approved"`
	Overrides         int64            `json:"overrides"`
	Conflicts         int64            `json:"conflicts"`
	AmountRoutedCents int64            `json:"amount_routed_cents"`
	AutoApprovedCents int64            `json:"auto_approved_cents"`
	HighRiskCount     int64            `json:"high_risk_count"`
	ByState           map[string]int64 `json:"by_state"`
	ByRule            map[string]int64 `json:"by_rule"`
	DailyBreakdown    []DailyActivity  `json:"daily_breakdown"`
}

// DailyActivity holds one day's routing volume.
type DailyActivity struct {
	Date              time.Time `json:"date"`
	Decisions         int64     `json:"decisions"`
	AutoApproved      int64     `json:"auto_approved"`
	Conflicts         int64     `json:"conflicts"`
	AmountRoutedCents int64     `json:"amount_routed_cents"`
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// NewTracker creates a tracker with persistent window storage rooted at
// storageDir (empty means the default under the user home).
func NewTracker(storageDir string) (*Tracker, error) {
	storage, err := NewStorage(storageDir)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		window:  newWindow(),
		storage: storage,
	}, nil
}

func newWindow() *Window {
	return &Window{
		ID:        generateWindowID(),
		StartTime: time.Now().UTC(),
		ByState:   make(map[string]int64),
		ByRule:    make(map[string]int64),
	}
}

// generateWindowID combines a timestamp with an atomic counter so IDs stay
// unique even when windows roll within the same second.
func generateWindowID() string {
	counter := atomic.AddUint64(&windowIDCounter, 1)
	return time.Now().UTC().Format("20060102-150405") + "-" + fmt.Sprintf("%d", counter)
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordDecision folds a committed decision into the current window.
// amountCents is the claim amount the decision routed; fraudScore is the
// bundle's fraud score, or a negative value when the decision carried no
// assessment (supervisor overrides).
func (t *Tracker) RecordDecision(d *routing.Decision, amountCents int64, fraudScore float64) {
	if d == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window
	w.Decisions++
	w.ByState[string(d.ResultingState)]++
	if d.RuleName != "" {
		w.ByRule[d.RuleName]++
	}
	if d.Override {
		w.Overrides++
	}

	w.AmountRoutedCents += amountCents
	if d.ResultingState == claim.StateAutoApproved {
		w.AutoApprovedCents += amountCents
	}
	if fraudScore >= HighRiskFraudScore {
		w.HighRiskCount++
	}
}

// RecordConflict counts a commit that lost the version race.
func (t *Tracker) RecordConflict() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.Conflicts++
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// CurrentWindow returns a copy of the active window.
func (t *Tracker) CurrentWindow() *Window {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyWindow(t.window)
}

// StorageDir returns where window snapshots are persisted.
func (t *Tracker) StorageDir() string {
	return t.storage.Dir()
}

// GetTrends aggregates stored windows over the trailing number of days. The
// active window is not included; call Flush first if it should count.
func (t *Tracker) GetTrends(days int) *Trends {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	trends := &Trends{
		Days:           days,
		ByState:        make(map[string]int64),
		ByRule:         make(map[string]int64),
		DailyBreakdown: make([]DailyActivity, 0),
	}

	ids, err := t.storage.List(from, to)
	if err != nil {
		return trends
	}

	dailyMap := make(map[string]*DailyActivity)
	for _, id := range ids {
		w, err := t.storage.Load(id)
		if err != nil {
			continue
		}

		trends.Decisions += w.Decisions
		trends.AutoApproved += w.ByState[string(claim.StateAutoApproved)]
		trends.Overrides += w.Overrides
		trends.Conflicts += w.Conflicts
		trends.AmountRoutedCents += w.AmountRoutedCents
		trends.AutoApprovedCents += w.AutoApprovedCents
		trends.HighRiskCount += w.HighRiskCount
		for state, n := range w.ByState {
			trends.ByState[state] += n
		}
		for rule, n := range w.ByRule {
			trends.ByRule[rule] += n
		}

		dateKey := w.StartTime.UTC().Format("2006-01-02")
		daily, ok := dailyMap[dateKey]
		if !ok {
			daily = &DailyActivity{
				Date: w.StartTime.UTC().Truncate(24 * time.Hour),
			}
			dailyMap[dateKey] = daily
		}
		daily.Decisions += w.Decisions
		daily.AutoApproved += w.ByState[string(claim.StateAutoApproved)]
		daily.Conflicts += w.Conflicts
		daily.AmountRoutedCents += w.AmountRoutedCents
	}

	for _, daily := range dailyMap {
		trends.DailyBreakdown = append(trends.DailyBreakdown, *daily)
	}
	sort.Slice(trends.DailyBreakdown, func(i, j int) bool {
		return trends.DailyBreakdown[i].Date.Before(trends.DailyBreakdown[j].Date)
	})

	return trends
}

// =============================================================================
// WINDOW MANAGEMENT
// =============================================================================

// EndWindow closes the current window, persists it, and opens a new one.
func (t *Tracker) EndWindow() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window.EndTime = time.Now().UTC()
	if err := t.storage.Save(t.window); err != nil {
		return err
	}

	t.window = newWindow()
	return nil
}

// Flush persists the active window without closing it, so a crash loses at
// most the activity since the last flush.
func (t *Tracker) Flush() error {
	t.mu.RLock()
	snapshot := copyWindow(t.window)
	t.mu.RUnlock()

	return t.storage.Save(snapshot)
}

// =============================================================================
// HELPERS
// =============================================================================

func copyWindow(src *Window) *Window {
	dst := &Window{
		ID:                src.ID,
		StartTime:         src.StartTime,
		EndTime:           src.EndTime,
		Decisions:         src.Decisions,
		ByState:           make(map[string]int64, len(src.ByState)),
		ByRule:            make(map[string]int64, len(src.ByRule)),
		Overrides:         src.Overrides,
		Conflicts:         src.Conflicts,
		AmountRoutedCents: src.AmountRoutedCents,
		AutoApprovedCents: src.AutoApprovedCents,
		HighRiskCount:     src.HighRiskCount,
	}
	for k, v := range src.ByState {
		dst.ByState[k] = v
	}
	for k, v := range src.ByRule {
		dst.ByRule[k] = v
	}
	return dst
}
