// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package console provides the interactive review console.
//
// The console is a line-oriented REPL for adjusters working a queue: list
// claims by state, inspect a claim and the decision that routed it, route
// pending claims, apply supervisor overrides, and spot-check the decision
// trail without leaving the session. Input history persists across sessions
// in the config directory.
//
// Every mutation goes through the same pipeline the server and intake
// surfaces use, so console activity is audited and dispatched identically.
package console

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/override"
	"github.com/jeranaias/claimroute/internal/pipeline"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// Prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Bold(true)

	// Welcome banner style
	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("171")).
			Bold(true)

	// Info style
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// Command style
	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	// Warning style
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// Error style
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	// Section header style
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader provides input history and line editing for the console.
// Supports arrow keys for history navigation; Ctrl+C aborts the prompt.
type LineReader struct {
	line        *liner.State
	historyFile string
}

// NewLineReader creates a LineReader persisting history to the given file.
// An empty historyFile disables persistence.
func NewLineReader(historyFile string) *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &LineReader{
		line:        line,
		historyFile: historyFile,
	}
	r.LoadHistory()
	return r
}

// LoadHistory loads command history from file.
func (r *LineReader) LoadHistory() {
	if r.historyFile == "" {
		return
	}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (r *LineReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history with owner-only permissions.
func (r *LineReader) SaveHistory() {
	if r.historyFile == "" {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	r.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (r *LineReader) Close() {
	r.SaveHistory()
	r.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// Deps are the collaborators a console session works against. Store and
// Pipe are required; the rest degrade gracefully when nil (verify reports
// the trail disabled, override refuses, stats skips trends).
type Deps struct {
	Store   *store.Store
	Engine  *routing.Engine
	Pipe    *pipeline.Service
	Audit   *audit.Log
	Metrics *telemetry.Tracker

	// Guard authorizes supervisor overrides. Nil disables the override
	// command.
	Guard *override.Guard

	// Actor is recorded on overrides applied from this session.
	Actor string

	// HistoryFile persists input history between sessions.
	HistoryFile string

	Quiet bool
}

// Session is one interactive console run.
type Session struct {
	store   *store.Store
	engine  *routing.Engine
	pipe    *pipeline.Service
	auditor *audit.Log
	metrics *telemetry.Tracker
	guard   *override.Guard
	actor   string
	quiet   bool

	reader *LineReader
	render *renderer

	started  time.Time
	commands int
	routed   int
}

// New builds a console session from its dependencies.
func New(deps Deps) (*Session, error) {
	if deps.Store == nil || deps.Pipe == nil {
		return nil, fmt.Errorf("console requires a store and a routing pipeline")
	}

	return &Session{
		store:   deps.Store,
		engine:  deps.Engine,
		pipe:    deps.Pipe,
		auditor: deps.Audit,
		metrics: deps.Metrics,
		guard:   deps.Guard,
		actor:   deps.Actor,
		quiet:   deps.Quiet,
		reader:  NewLineReader(deps.HistoryFile),
		render:  newRenderer(),
		started: time.Now(),
	}, nil
}

// =============================================================================
// REPL LOOP
// =============================================================================

// Run drives the read-eval-print loop until the operator quits or the
// context is cancelled. Input history is saved on every exit path.
func (s *Session) Run(ctx context.Context) error {
	defer s.reader.Close()

	if !s.quiet {
		s.printWelcome(ctx)
	}

	for {
		if ctx.Err() != nil {
			s.printExitSummary()
			return nil
		}

		input, err := s.reader.ReadInput(promptStyle.Render("claimroute> "))
		if err != nil {
			if err == liner.ErrPromptAborted {
				// Ctrl+C at the prompt - exit cleanly
				fmt.Println()
				s.printExitSummary()
				return nil
			}
			// EOF (Ctrl+D) or closed stdin - exit cleanly
			fmt.Println()
			s.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		fields := strings.Fields(input)
		keep, err := s.dispatch(ctx, fields)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
		if !keep {
			s.printExitSummary()
			return nil
		}
	}
}

// dispatch executes one console command.
// Returns (keepRunning, error); keepRunning=false means quit.
func (s *Session) dispatch(ctx context.Context, fields []string) (bool, error) {
	command := strings.ToLower(fields[0])
	args := fields[1:]
	s.commands++

	switch command {
	case "help", "h", "?":
		s.printHelp()
		return true, nil

	case "list", "ls":
		return true, s.cmdList(ctx, args)

	case "show":
		return true, s.cmdShow(ctx, args)

	case "route":
		return true, s.cmdRoute(ctx, args)

	case "override":
		return true, s.cmdOverride(ctx, args)

	case "verify":
		return true, s.cmdVerify()

	case "stats":
		return true, s.cmdStats(ctx, args)

	case "quit", "q", "exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type help for commands)", command)
	}
}

// =============================================================================
// BANNERS
// =============================================================================

// printWelcome prints the session banner with a snapshot of the queue.
func (s *Session) printWelcome(ctx context.Context) {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("claimroute review console"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))

	if stats, err := s.store.Stats(ctx); err == nil {
		fmt.Printf("%s %d claims, %d decisions\n",
			infoStyle.Render("Queue:"),
			stats.ClaimCount,
			stats.DecisionCount)
	}

	if s.engine != nil {
		th := s.engine.Thresholds()
		fmt.Printf("%s auto-approve ≤ %s at confidence ≥ %.2f, fraud referral ≥ %.2f\n",
			infoStyle.Render("Rules:"),
			s.render.money(th.AutoApproveLimitCents),
			th.ConfidenceThreshold,
			th.FraudInvestigationThreshold)
	}

	if s.auditor == nil {
		fmt.Println(warningStyle.Render("Audit trail disabled: console activity is not being recorded"))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Type a command and press Enter. Commands: help, quit"))
	fmt.Println()
}

// printHelp prints available commands.
func (s *Session) printHelp() {
	fmt.Println()
	fmt.Println(headerStyle.Render("Console Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"list [state] [n]", "List claims, optionally filtered by state"},
		{"show REF", "Show a claim and its latest decision"},
		{"show REF explain", "Render the decision rationale report"},
		{"show REF json", "Dump claim, bundle, and decisions as JSON"},
		{"route REF", "Route a claim against its latest bundle"},
		{"override REF STATE", "Apply a supervisor override (prompts for code)"},
		{"verify", "Verify the decision trail hash chain"},
		{"stats [days]", "Store totals and recent routing activity"},
		{"help, ?", "Show this help"},
		{"quit, q", "Exit the console"},
	}

	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-20s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("REF is a claim number (CLM-2024-000123) or storage ID (clm_...)"))
	fmt.Println()
}

// printExitSummary prints the session summary on exit.
func (s *Session) printExitSummary() {
	if s.quiet || s.commands == 0 {
		return
	}

	elapsed := time.Since(s.started).Round(time.Second)

	fmt.Println()
	fmt.Println(headerStyle.Render("Session Summary"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 15)))
	fmt.Printf("  %s %d\n", infoStyle.Render("Commands:"), s.commands)
	if s.routed > 0 {
		fmt.Printf("  %s %d\n", infoStyle.Render("Claims routed:"), s.routed)
	}
	fmt.Printf("  %s %s\n", infoStyle.Render("Duration:"), elapsed.String())
	fmt.Println()
}
