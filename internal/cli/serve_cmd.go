// serve_cmd.go - Intake HTTP API server command for claimroute.
//
// Command: serve
// Short:   Start the claim intake HTTP API
//
// Runs the versioned REST API over the routing pipeline: claim
// registration, assessment routing, decision history, and stats. The
// server inherits auth keys and rate limits from the config; while
// running, edits to config.toml retune the routing thresholds without a
// restart.
//
// Examples:
//   claimroute serve                  Listen on the configured host:port
//   claimroute serve --port 9102      Override the listen port
//   claimroute serve --no-watch       Disable config hot reload
//
// Flags:
//   --host HOST         Bind address (default from config, loopback)
//   --port N            Listen port (default from config)
//   --no-watch          Do not reload thresholds on config changes
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/config"
	"github.com/jeranaias/claimroute/internal/server"
)

const serveShutdownTimeout = 10 * time.Second

// HandleServe handles the "serve" command. Blocks until interrupted.
func HandleServe(args Args) error {
	parser := NewArgParser(args.Raw)

	rt, err := OpenRuntime(&args)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.Config
	if !cfg.Server.Enabled {
		return NewCommandError("serve", "start API",
			"server disabled in config (set server.enabled = true)", nil)
	}

	host := parser.FlagOrDefault("host", cfg.Server.Host)
	port := parser.FlagIntOrDefault("port", cfg.Server.Port)

	srv := server.NewServer(rt.Pipe, host, port).
		WithAuth(&server.AuthConfig{
			Enabled: len(cfg.Server.APIKeys) > 0,
			Keys:    cfg.Server.APIKeys,
		}).
		WithRateLimiter(server.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst)).
		WithAudit(rt.Audit)

	if len(cfg.Server.APIKeys) == 0 && !args.Quiet {
		StderrPrintln(WarningStyle.Render(
			"Warning: no API keys configured; requests are unauthenticated. Set server.api_keys or " + config.EnvAPIKey + "."))
	}

	watcher := startThresholdWatcher(&args, rt)
	if watcher != nil {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	if !args.Quiet {
		printServeBanner(srv.Addr(), len(cfg.Server.APIKeys) > 0, watcher != nil)
	}

	select {
	case <-ctx.Done():
		if !args.Quiet {
			StderrPrintln("Shutting down...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return NewCommandError("serve", "shut down", "", err)
		}
		// Drain the ListenAndServe result; expected http.ErrServerClosed.
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return NewCommandError("serve", "listen on "+srv.Addr(), "", err)
		}
		return nil
	}
}

// startThresholdWatcher wires config hot reload into the running engine.
// Returns nil when watching is disabled or unavailable; the server still
// runs, just without live threshold changes.
func startThresholdWatcher(args *Args, rt *Runtime) *config.Watcher {
	parser := NewArgParser(args.Raw)
	if parser.BoolFlag("no-watch") {
		return nil
	}

	path := args.ConfigPath
	if path == "" {
		var err error
		path, err = config.ConfigPath()
		if err != nil {
			return nil
		}
	}

	w, err := config.StartWatcher(path, 0, func(newCfg *config.Config) {
		old := rt.Engine.Thresholds()
		rt.Engine.SetThresholds(newCfg.Thresholds())
		if !args.Quiet {
			StderrPrint("Config reloaded: auto-approve limit %d -> %d\n",
				old.AutoApproveLimitCents/100, newCfg.Routing.AutoApproveLimit)
		}
		if rt.Audit != nil {
			_ = rt.Audit.Append(audit.Event{
				Kind:  audit.EventConfigReloaded,
				Actor: "config-watcher",
				Detail: map[string]string{
					"auto_approve_limit":            fmt.Sprintf("%d", newCfg.Routing.AutoApproveLimit),
					"confidence_threshold":          fmt.Sprintf("%.2f", newCfg.Routing.ConfidenceThreshold),
					"fraud_investigation_threshold": fmt.Sprintf("%.2f", newCfg.Routing.FraudInvestigationThreshold),
				},
			})
		}
	})
	if err != nil {
		if !args.Quiet {
			StderrPrint("Warning: config watching unavailable: %v\n", err)
		}
		return nil
	}
	return w
}

// printServeBanner announces the listen address and key endpoints.
func printServeBanner(addr string, authed, watching bool) {
	fmt.Println()
	fmt.Println(TitleStyle.Render("claimroute API"))
	fmt.Printf("  %s%s\n", RenderLabel("Listening:"), HighlightStyle.Render("http://"+addr))
	authStr := DimStyle.Render("disabled")
	if authed {
		authStr = SuccessStyle.Render("API key")
	}
	fmt.Printf("  %s%s\n", RenderLabel("Auth:"), authStr)
	watchStr := DimStyle.Render("off")
	if watching {
		watchStr = "config.toml"
	}
	fmt.Printf("  %s%s\n", RenderLabel("Hot reload:"), watchStr)
	fmt.Println()
	fmt.Println(DimStyle.Render("  POST /v1/claims              register a claim"))
	fmt.Println(DimStyle.Render("  POST /v1/claims/{id}/route   route with an assessment bundle"))
	fmt.Println(DimStyle.Render("  GET  /v1/claims              list claims"))
	fmt.Println(DimStyle.Render("  GET  /v1/claims/{id}/decisions  decision history"))
	fmt.Println(DimStyle.Render("  GET  /v1/stats               routing stats"))
	fmt.Println(DimStyle.Render("  GET  /health                 liveness"))
	fmt.Println()
	fmt.Println(DimStyle.Render("Ctrl+C to stop."))
	fmt.Println()
}
