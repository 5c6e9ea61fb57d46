// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/util"
)

// =============================================================================
// RENDERER
// =============================================================================

// renderer bundles the session's output machinery: a glamour renderer for
// markdown reports, chroma highlighting for JSON dumps, and a locale-aware
// printer for amounts. Color degrades to plain text on dumb terminals.
type renderer struct {
	markdown *glamour.TermRenderer
	printer  *message.Printer
	color    bool
}

func newRenderer() *renderer {
	color := termenv.ColorProfile() != termenv.Ascii

	var md *glamour.TermRenderer
	var err error
	if color {
		md, err = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
	} else {
		md, err = glamour.NewTermRenderer(
			glamour.WithStandardStyle("notty"),
			glamour.WithWordWrap(80),
		)
	}
	if err != nil {
		// Reports fall back to raw markdown.
		md = nil
	}

	return &renderer{
		markdown: md,
		printer:  message.NewPrinter(language.English),
		color:    color,
	}
}

// markdownOut renders a markdown document for the terminal. Returns the
// source unchanged if the renderer is unavailable.
func (r *renderer) markdownOut(doc string) string {
	if r.markdown == nil {
		return doc
	}
	out, err := r.markdown.Render(doc)
	if err != nil {
		return doc
	}
	return out
}

// money formats cents as a dollar amount with locale grouping.
func (r *renderer) money(cents int64) string {
	return r.printer.Sprintf("$%.2f", float64(cents)/100)
}

// =============================================================================
// JSON HIGHLIGHTING
// =============================================================================

// highlightJSON applies terminal syntax highlighting to a JSON document.
// Returns the document unchanged on a colorless terminal or lexer failure.
func (r *renderer) highlightJSON(src string) string {
	if !r.color {
		return src
	}

	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, src)
	if err != nil {
		return src
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return src
	}
	return buf.String()
}

// =============================================================================
// STATE COLORING
// =============================================================================

var stateStyles = map[claim.State]lipgloss.Style{
	claim.StatePending:            lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	claim.StateAutoApproved:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	claim.StateManualReview:       lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	claim.StateFraudInvestigation: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	claim.StateRejected:           lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

// stateCell renders a state colored and padded to the widest state name.
func stateCell(s claim.State) string {
	padded := util.PadWidth(string(s), 19)
	if style, ok := stateStyles[s]; ok {
		return style.Render(padded)
	}
	return padded
}

// =============================================================================
// CLAIM TABLE
// =============================================================================

// Column widths for the list table. Claim numbers are fixed-format; the
// type column truncates with an ellipsis on overflow.
const (
	colNumber  = 15
	colState   = 19
	colType    = 10
	colAmount  = 14
	colUpdated = 16
)

// claimTable renders claims as an aligned table with a styled header.
func (r *renderer) claimTable(claims []*claim.Claim) string {
	var b strings.Builder

	head := lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Bold(true)
	b.WriteString(head.Render(fmt.Sprintf("%s %s %s %s %s %s",
		util.PadWidth("CLAIM", colNumber),
		util.PadWidth("STATE", colState),
		util.PadWidth("TYPE", colType),
		util.PadWidth("AMOUNT", colAmount),
		"VER",
		util.PadWidth("UPDATED", colUpdated))))
	b.WriteString("\n")
	b.WriteString(infoStyle.Render(strings.Repeat("─", colNumber+colState+colType+colAmount+colUpdated+9)))
	b.WriteString("\n")

	for _, c := range claims {
		amount := r.money(c.AmountCents)
		b.WriteString(fmt.Sprintf("%s %s %s %s %3d %s\n",
			util.PadWidth(util.TruncateWidth(c.ClaimNumber, colNumber), colNumber),
			stateCell(c.State),
			util.PadWidth(util.TruncateWidth(string(c.Type), colType), colType),
			util.PadWidth(amount, colAmount),
			c.Version,
			c.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}

	return b.String()
}

// =============================================================================
// DECISION REPORT
// =============================================================================

// explainReport builds the markdown rationale report for a decision: the
// rule that matched, the reason codes, configured thresholds against the
// observed assessment values, and the bundle provenance.
func (r *renderer) explainReport(c *claim.Claim, b *assessment.Bundle, d *routing.Decision, th routing.Thresholds) string {
	var md strings.Builder

	fmt.Fprintf(&md, "# Decision %s\n\n", shortID(d.ID))
	fmt.Fprintf(&md, "Claim **%s** routed from `%s` to **%s**", c.ClaimNumber, d.PriorState, d.ResultingState)
	if d.Override {
		fmt.Fprintf(&md, " by supervisor override (%s)", d.OverrideActor)
	} else {
		fmt.Fprintf(&md, " under rule `%s`", d.RuleName)
	}
	fmt.Fprintf(&md, " at %s.\n\n", d.DecidedAt.Local().Format("2006-01-02 15:04:05"))

	md.WriteString("## Reason codes\n\n")
	for i, code := range d.ReasonCodes {
		if i == 0 {
			fmt.Fprintf(&md, "1. **`%s`**\n", code)
		} else {
			fmt.Fprintf(&md, "%d. `%s`\n", i+1, code)
		}
	}
	md.WriteString("\n")

	if b != nil {
		md.WriteString("## Thresholds vs. observed\n\n")
		md.WriteString("| Check | Threshold | Observed | Auto-approve |\n")
		md.WriteString("|---|---|---|---|\n")
		fmt.Fprintf(&md, "| Claimed amount | ≤ %s | %s | %s |\n",
			r.money(th.AutoApproveLimitCents),
			r.money(c.AmountCents),
			passMark(c.AmountCents <= th.AutoApproveLimitCents))
		fmt.Fprintf(&md, "| Damage confidence | ≥ %.2f | %.2f | %s |\n",
			th.ConfidenceThreshold,
			b.DamageConfidence,
			passMark(b.DamageConfidence >= th.ConfidenceThreshold))
		fmt.Fprintf(&md, "| Fraud score | < %.2f | %.2f | %s |\n",
			th.AutoApproveFraudCeiling,
			b.FraudScore,
			passMark(b.FraudScore < th.AutoApproveFraudCeiling))
		fmt.Fprintf(&md, "| Fraud referral | ≥ %.2f refers | %.2f | %s |\n",
			th.FraudInvestigationThreshold,
			b.FraudScore,
			passMark(b.FraudScore < th.FraudInvestigationThreshold))
		fmt.Fprintf(&md, "| Coverage | covered | %s | %s |\n\n",
			b.CoverageResult,
			passMark(b.CoverageResult == assessment.Covered))

		if len(b.FraudSignals) > 0 {
			md.WriteString("## Fraud signals\n\n")
			for _, sig := range b.FraudSignals {
				fmt.Fprintf(&md, "- `%s`\n", sig)
			}
			md.WriteString("\n")
		}
	}

	md.WriteString("## Provenance\n\n")
	fmt.Fprintf(&md, "- Ruleset `%s`, evaluated against claim version %d\n", d.RulesetVersion, d.ClaimVersion)
	if d.BundleID != "" {
		fmt.Fprintf(&md, "- Bundle `%s`\n", d.BundleID)
	}
	if d.BundleFingerprint != "" {
		fmt.Fprintf(&md, "- Bundle fingerprint `%s`\n", d.BundleFingerprint)
	}
	if d.PriorDecisionID != "" {
		fmt.Fprintf(&md, "- Supersedes decision `%s`\n", shortID(d.PriorDecisionID))
	}

	if len(d.Trace) > 0 {
		md.WriteString("\n## Evaluation trace\n\n")
		for _, check := range d.Trace {
			mark := "skipped"
			if check.Matched {
				mark = "**matched**"
			}
			fmt.Fprintf(&md, "- `%s` — %s\n", check.Rule, mark)
		}
	}

	return md.String()
}

// passMark renders a pass/fail cell for the threshold table.
func passMark(ok bool) string {
	if ok {
		return "pass"
	}
	return "FAIL"
}

// shortID abbreviates a UUID to its first segment for display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// =============================================================================
// DECISION SUMMARY
// =============================================================================

// decisionBlock prints a routed decision in the compact form used after
// route and override commands.
func (r *renderer) decisionBlock(d *routing.Decision, attempts int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "  %s %s → %s\n",
		infoStyle.Render("Transition:"),
		d.PriorState,
		stateStyles[d.ResultingState].Render(string(d.ResultingState)))
	fmt.Fprintf(&b, "  %s %s\n", infoStyle.Render("Rule:"), d.RuleName)
	fmt.Fprintf(&b, "  %s %s\n", infoStyle.Render("Reasons:"), strings.Join(d.ReasonCodes, ", "))
	fmt.Fprintf(&b, "  %s %s\n", infoStyle.Render("Decision:"), d.ID)
	if attempts > 1 {
		fmt.Fprintf(&b, "  %s %d (version conflicts retried)\n", infoStyle.Render("Attempts:"), attempts)
	}

	return b.String()
}

// formatAge renders the time since a timestamp in coarse units.
func formatAge(t time.Time) string {
	d := time.Since(t)
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
