// bootstrap.go - Shared runtime construction for CLI command handlers.
//
// Every command that touches claims goes through OpenRuntime so the
// store, rule engine, audit trail, telemetry, and dispatcher are wired
// identically whether the caller is `route`, `serve`, the intake
// watcher, or the review console.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/config"
	"github.com/jeranaias/claimroute/internal/dispatch"
	"github.com/jeranaias/claimroute/internal/override"
	"github.com/jeranaias/claimroute/internal/pipeline"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/store"
	"github.com/jeranaias/claimroute/internal/telemetry"
)

// =============================================================================
// RUNTIME
// =============================================================================

// Runtime bundles everything a command handler needs to route claims.
// Audit and Metrics may be nil when their subsystems are disabled or
// unavailable; the pipeline treats nil fan-out targets as no-ops.
type Runtime struct {
	Config  *config.Config
	Store   *store.Store
	Engine  *routing.Engine
	Audit   *audit.Log
	Metrics *telemetry.Tracker
	Queue   *dispatch.FileQueue
	Pipe    *pipeline.Service
}

// loadConfig loads configuration, honoring the global --config flag.
func loadConfig(args *Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// OpenRuntime opens the full routing runtime for a command handler.
// Callers must Close the returned runtime.
func OpenRuntime(args *Args) (*Runtime, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, WrapError(err, "load configuration")
	}
	return openRuntimeWithConfig(cfg, args.Quiet)
}

func openRuntimeWithConfig(cfg *config.Config, quiet bool) (*Runtime, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapError(err, "open claim store")
	}

	rt := &Runtime{
		Config: cfg,
		Store:  st,
		Engine: routing.NewEngine(cfg.Thresholds()),
	}

	rt.Audit, err = openAudit(cfg, quiet)
	if err != nil {
		st.Close()
		return nil, err
	}

	rt.Metrics = openTelemetry(quiet)

	queueDir, err := cfg.DispatchDir()
	if err == nil {
		if q, qErr := dispatch.NewFileQueue(queueDir); qErr == nil {
			rt.Queue = q
		} else if !quiet {
			StderrPrintln(WarningStyle.Render(fmt.Sprintf("Warning: dispatch queue unavailable: %v", qErr)))
		}
	}

	rt.Pipe = &pipeline.Service{
		Store:         rt.Store,
		Engine:        rt.Engine,
		Audit:         rt.Audit,
		Metrics:       rt.Metrics,
		CommitRetries: cfg.Routing.CommitRetries,
	}
	if rt.Queue != nil {
		rt.Pipe.Dispatcher = rt.Queue
	}

	return rt, nil
}

// OpenReadOnlyRuntime opens a runtime for commands that only read:
// claim listings, decision history, statistics. It skips the audit
// trail entirely so browsing never demands the HMAC key, and skips the
// dispatcher. Callers must Close the returned runtime.
func OpenReadOnlyRuntime(args *Args) (*Runtime, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, WrapError(err, "load configuration")
	}
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapError(err, "open claim store")
	}
	return &Runtime{
		Config:  cfg,
		Store:   st,
		Engine:  routing.NewEngine(cfg.Thresholds()),
		Metrics: openTelemetry(args.Quiet),
	}, nil
}

// openAudit opens the tamper-evident decision trail. An unavailable
// trail is fatal only when halt_on_failure is set; otherwise routing
// continues without it and a warning is printed.
func openAudit(cfg *config.Config, quiet bool) (*audit.Log, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	auditDir, err := cfg.AuditDir()
	if err != nil {
		return nil, err
	}
	log, err := audit.Open(auditDir, audit.Options{
		HaltOnFailure: cfg.Audit.HaltOnFailure,
		RedactPII:     cfg.Audit.RedactPII,
	})
	if err != nil {
		if cfg.Audit.HaltOnFailure {
			return nil, WrapError(err, "open audit trail")
		}
		if !quiet {
			StderrPrintln(WarningStyle.Render(fmt.Sprintf("Warning: audit trail unavailable: %v", err)))
		}
		return nil, nil
	}
	return log, nil
}

// openTelemetry starts the metrics tracker. Telemetry failures never
// block routing; they just cost visibility.
func openTelemetry(quiet bool) *telemetry.Tracker {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil
	}
	tracker, err := telemetry.NewTracker(filepath.Join(dir, "metrics"))
	if err != nil {
		if !quiet {
			StderrPrintln(WarningStyle.Render(fmt.Sprintf("Warning: telemetry unavailable: %v", err)))
		}
		return nil
	}
	return tracker
}

// OpenOverrideRegistry opens the supervisor enrollment registry stored
// alongside the rest of the configuration.
func OpenOverrideRegistry(args *Args) (*override.Registry, *config.Config, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, nil, WrapError(err, "load configuration")
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, nil, err
	}
	return override.OpenRegistry(dir), cfg, nil
}

// Close releases runtime resources. Telemetry is flushed first so the
// active window survives the exit.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Metrics != nil {
		rt.Metrics.Flush()
	}
	if rt.Audit != nil {
		rt.Audit.Close()
	}
	if rt.Store != nil {
		rt.Store.Close()
	}
}

// =============================================================================
// CLAIM RESOLUTION
// =============================================================================

// ResolveClaim finds a claim by storage ID or claim number. References
// starting with "clm_" are treated as IDs; anything else is looked up
// as a claim number (CLM-2025-104217 style).
func (rt *Runtime) ResolveClaim(ctx context.Context, ref string) (*claim.Claim, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrMissingArgument("claim", "claim ID or claim number")
	}
	if strings.HasPrefix(ref, "clm_") {
		return rt.Store.GetClaim(ctx, ref)
	}
	return rt.Store.GetClaimByNumber(ctx, ref)
}
