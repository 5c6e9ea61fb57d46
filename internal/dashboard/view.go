// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("14"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	tableHeadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))
)

var dashStateStyles = map[claim.State]lipgloss.Style{
	claim.StatePending:            lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	claim.StateAutoApproved:       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	claim.StateManualReview:       lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	claim.StateFraudInvestigation: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	claim.StateRejected:           lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}

var riskStyles = map[assessment.RiskLevel]lipgloss.Style{
	assessment.RiskLow:      goodStyle,
	assessment.RiskMedium:   warnStyle,
	assessment.RiskHigh:     alertStyle,
	assessment.RiskCritical: alertStyle.Bold(true),
}

// Queue table column widths.
const (
	qColNumber = 15
	qColState  = 19
	qColAmount = 14
	qColRisk   = 8
	qColAge    = 6
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	// Header line with refresh indicator.
	b.WriteString(titleStyle.Render("claimroute operations"))
	if m.refreshing {
		b.WriteString("  " + m.spinner.View())
	} else if !m.lastRefresh.IsZero() {
		b.WriteString(labelStyle.Render(fmt.Sprintf("  refreshed %s", m.lastRefresh.Format("15:04:05"))))
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(strings.Repeat("─", 60)))
	b.WriteString("\n\n")

	if m.lastErr != nil {
		b.WriteString(alertStyle.Render(fmt.Sprintf("refresh failed: %v", m.lastErr)))
		b.WriteString("\n\n")
	}

	if m.snap == nil {
		b.WriteString(labelStyle.Render("Loading..."))
		b.WriteString("\n\n")
		b.WriteString(m.footer())
		return b.String()
	}

	b.WriteString(m.renderStates())
	b.WriteString("\n")
	b.WriteString(m.renderTrends())
	b.WriteString("\n")
	b.WriteString(m.renderQueue())
	if m.snap.Intake != nil {
		b.WriteString("\n")
		b.WriteString(m.renderIntake())
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

// renderStates renders the per-state claim counts.
func (m Model) renderStates() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("States"))
	b.WriteString("\n")

	counts := sortedStateCounts(m.snap.Stats.ByState)
	if len(counts) == 0 {
		b.WriteString(labelStyle.Render("  no claims registered"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("  ")
	for i, sc := range counts {
		if i > 0 {
			b.WriteString("   ")
		}
		style, ok := dashStateStyles[sc.State]
		if !ok {
			style = valueStyle
		}
		b.WriteString(fmt.Sprintf("%s %s",
			style.Render(string(sc.State)),
			valueStyle.Render(fmt.Sprintf("%d", sc.Count))))
	}
	b.WriteString("\n")

	return b.String()
}

// renderTrends renders the telemetry summary line.
func (m Model) renderTrends() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Last %d Days", trendDays)))
	b.WriteString("\n")

	t := m.snap.Trends
	if t == nil || t.Decisions == 0 {
		b.WriteString(labelStyle.Render("  no routing activity recorded"))
		b.WriteString("\n")
		return b.String()
	}

	pct := float64(t.AutoApproved) * 100 / float64(t.Decisions)
	b.WriteString(fmt.Sprintf("  %s %s   %s %s   %s %s\n",
		labelStyle.Render("decisions"),
		valueStyle.Render(fmt.Sprintf("%d", t.Decisions)),
		labelStyle.Render("auto-approved"),
		goodStyle.Render(fmt.Sprintf("%.1f%%", pct)),
		labelStyle.Render("routed"),
		valueStyle.Render(util.FormatCents(t.AmountRoutedCents))))

	if t.Conflicts > 0 || t.HighRiskCount > 0 || t.Overrides > 0 {
		b.WriteString("  ")
		parts := make([]string, 0, 3)
		if t.HighRiskCount > 0 {
			parts = append(parts, warnStyle.Render(fmt.Sprintf("%d high-risk", t.HighRiskCount)))
		}
		if t.Overrides > 0 {
			parts = append(parts, valueStyle.Render(fmt.Sprintf("%d overrides", t.Overrides)))
		}
		if t.Conflicts > 0 {
			parts = append(parts, warnStyle.Render(fmt.Sprintf("%d commit conflicts", t.Conflicts)))
		}
		b.WriteString(strings.Join(parts, "   "))
		b.WriteString("\n")
	}

	return b.String()
}

// renderQueue renders the recent claims table.
func (m Model) renderQueue() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Queue"))
	b.WriteString("\n")

	if len(m.snap.Queue) == 0 {
		b.WriteString(labelStyle.Render("  queue is empty"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("  ")
	b.WriteString(tableHeadStyle.Render(fmt.Sprintf("%s %s %s %s %s",
		util.PadWidth("CLAIM", qColNumber),
		util.PadWidth("STATE", qColState),
		util.PadWidth("AMOUNT", qColAmount),
		util.PadWidth("RISK", qColRisk),
		"AGE")))
	b.WriteString("\n")

	for _, row := range m.snap.Queue {
		stateStyle, ok := dashStateStyles[row.State]
		if !ok {
			stateStyle = valueStyle
		}

		risk := "-"
		riskStyle := labelStyle
		if row.HasBundle {
			risk = string(row.Risk)
			if rs, ok := riskStyles[row.Risk]; ok {
				riskStyle = rs
			}
		}

		b.WriteString(fmt.Sprintf("  %s %s %s %s %s\n",
			valueStyle.Render(util.PadWidth(util.TruncateWidth(row.Number, qColNumber), qColNumber)),
			stateStyle.Render(util.PadWidth(string(row.State), qColState)),
			valueStyle.Render(util.PadWidth(util.FormatCents(row.AmountCents), qColAmount)),
			riskStyle.Render(util.PadWidth(risk, qColRisk)),
			labelStyle.Render(formatQueueAge(row.Age))))
	}

	return b.String()
}

// renderIntake renders the drop-directory backlog line.
func (m Model) renderIntake() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Intake"))
	b.WriteString("\n")

	in := m.snap.Intake
	waitStyle := valueStyle
	if in.Waiting > 0 {
		waitStyle = warnStyle
	}
	failStyle := valueStyle
	if in.Failed > 0 {
		failStyle = alertStyle
	}

	b.WriteString(fmt.Sprintf("  %s %s   %s %s   %s %s\n",
		labelStyle.Render("waiting"),
		waitStyle.Render(fmt.Sprintf("%d", in.Waiting)),
		labelStyle.Render("processed"),
		valueStyle.Render(fmt.Sprintf("%d", in.Processed)),
		labelStyle.Render("failed"),
		failStyle.Render(fmt.Sprintf("%d", in.Failed))))

	return b.String()
}

// footer renders the key hints.
func (m Model) footer() string {
	return footerStyle.Render(fmt.Sprintf("%s refresh · %s quit · every %s",
		m.keys.Refresh.Help().Key,
		m.keys.Quit.Help().Key,
		m.interval))
}

// formatQueueAge renders claim age in the coarsest sensible unit.
func formatQueueAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
