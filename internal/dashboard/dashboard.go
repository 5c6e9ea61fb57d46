// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dashboard provides the terminal operations dashboard.
//
// The dashboard is a read-only Bubble Tea surface over the store, the
// telemetry windows, and the intake drop directory: the recent queue with
// fraud risk bands, state counts, the auto-approval rate, and intake
// backlog, refreshed on a ticker. It never routes or mutates claims.
package dashboard

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultRefreshInterval is how often the dashboard polls for data.
	DefaultRefreshInterval = 3 * time.Second

	// queueDepth is how many recent claims the queue table shows.
	queueDepth = 12

	// trendDays is the telemetry window the summary line covers.
	trendDays = 7

	// refreshTimeout bounds one polling pass so a wedged database cannot
	// freeze the UI loop.
	refreshTimeout = 5 * time.Second
)

// Deps are the data sources the dashboard polls. Store is required;
// Metrics and IntakeDir are optional and their panels collapse when absent.
type Deps struct {
	Store   *store.Store
	Metrics *telemetry.Tracker

	// IntakeDir is the submission drop directory to report backlog for.
	// Empty disables the intake panel.
	IntakeDir string

	// RefreshInterval overrides DefaultRefreshInterval when positive.
	RefreshInterval time.Duration
}

// =============================================================================
// KEY BINDINGS
// =============================================================================

// KeyMap defines the dashboard's keyboard bindings.
type KeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default dashboard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// queueRow is one claim in the dashboard queue table.
type queueRow struct {
	Number      string
	State       claim.State
	AmountCents int64
	Risk        assessment.RiskLevel
	HasBundle   bool
	Age         time.Duration
}

// intakeCounts is the drop-directory backlog at snapshot time.
type intakeCounts struct {
	Waiting   int
	Processed int
	Failed    int
}

// snapshot is one polling pass over all data sources.
type snapshot struct {
	Stats       store.Stats
	Queue       []queueRow
	Trends      *telemetry.Trends
	Intake      *intakeCounts
	RetrievedAt time.Time
}

// =============================================================================
// MESSAGES
// =============================================================================

// refreshTickMsg fires when the polling interval elapses.
type refreshTickMsg time.Time

// snapshotMsg carries a completed polling pass.
type snapshotMsg struct {
	snap *snapshot
	err  error
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the operations dashboard.
type Model struct {
	deps     Deps
	interval time.Duration

	// Latest data
	snap        *snapshot
	lastErr     error
	refreshing  bool
	refreshes   int
	lastRefresh time.Time

	// UI components
	spinner spinner.Model
	keys    KeyMap

	// Dimensions
	width  int
	height int
}

// New builds a dashboard model over the given data sources.
func New(deps Deps) Model {
	interval := deps.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	// Init kicks off the first poll immediately, so the model starts in
	// the refreshing state.
	return Model{
		deps:       deps,
		interval:   interval,
		spinner:    sp,
		keys:       DefaultKeyMap(),
		refreshing: true,
	}
}

// Init starts the first poll and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.spinner.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			if m.refreshing {
				return m, nil
			}
			m.refreshing = true
			return m, m.refreshCmd()
		}
		return m, nil

	case refreshTickMsg:
		if m.refreshing {
			// A slow poll is still in flight; skip this tick.
			return m, m.tickCmd()
		}
		m.refreshing = true
		return m, m.refreshCmd()

	case snapshotMsg:
		m.refreshing = false
		m.lastRefresh = time.Now()
		m.refreshes++
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.lastErr = nil
			m.snap = msg.snap
		}
		return m, m.tickCmd()

	case spinner.TickMsg:
		if m.refreshing {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	return m, nil
}

// tickCmd schedules the next polling pass.
func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

// refreshCmd polls all data sources off the UI goroutine. Callers mark the
// model refreshing before dispatching it.
func (m Model) refreshCmd() tea.Cmd {
	deps := m.deps
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			snap, err := collect(deps)
			return snapshotMsg{snap: snap, err: err}
		},
	)
}

// =============================================================================
// DATA COLLECTION
// =============================================================================

// collect performs one polling pass over the store, telemetry, and the
// intake directory.
func collect(deps Deps) (*snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	stats, err := deps.Store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := deps.Store.ListClaims(ctx, "", queueDepth)
	if err != nil {
		return nil, err
	}

	queue := make([]queueRow, 0, len(claims))
	for _, c := range claims {
		row := queueRow{
			Number:      c.ClaimNumber,
			State:       c.State,
			AmountCents: c.AmountCents,
			Age:         time.Since(c.SubmittedAt),
		}
		if b, err := deps.Store.LatestBundle(ctx, c.ID); err == nil {
			row.Risk = b.RiskLevel()
			row.HasBundle = true
		}
		queue = append(queue, row)
	}

	snap := &snapshot{
		Stats:       stats,
		Queue:       queue,
		RetrievedAt: time.Now(),
	}

	if deps.Metrics != nil {
		// Flush so the active window participates in the trend query.
		if err := deps.Metrics.Flush(); err == nil {
			snap.Trends = deps.Metrics.GetTrends(trendDays)
		}
	}

	if deps.IntakeDir != "" {
		snap.Intake = &intakeCounts{
			Waiting:   countJSONFiles(deps.IntakeDir),
			Processed: countJSONFiles(filepath.Join(deps.IntakeDir, "processed")),
			Failed:    countJSONFiles(filepath.Join(deps.IntakeDir, "failed")),
		}
	}

	return snap, nil
}

// countJSONFiles counts submission documents directly inside dir.
// A missing directory counts as zero.
func countJSONFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			n++
		}
	}
	return n
}

// sortedStateCounts returns state counts in lifecycle order, skipping
// states with no claims, followed by any states outside the known set.
func sortedStateCounts(byState map[claim.State]int) []stateCount {
	counts := make([]stateCount, 0, len(byState))
	seen := make(map[claim.State]bool, len(byState))

	for _, st := range claim.AllStates {
		if n, ok := byState[st]; ok && n > 0 {
			counts = append(counts, stateCount{State: st, Count: n})
			seen[st] = true
		}
	}

	var extra []stateCount
	for st, n := range byState {
		if !seen[st] && n > 0 {
			extra = append(extra, stateCount{State: st, Count: n})
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].State < extra[j].State })

	return append(counts, extra...)
}

// stateCount pairs a state with its claim count for display.
type stateCount struct {
	State claim.State
	Count int
}
