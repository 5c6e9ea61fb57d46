// config_cmd.go - Config command implementation for claimroute.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display current configuration
//   set <key> <value>   Set a configuration value
//   reset               Reset to default configuration
//   path                Show configuration file path
//
// Examples:
//   claimroute config                                Show current config
//   claimroute config show --json                    Config in JSON format
//   claimroute config set routing.auto_approve_limit 10000
//   claimroute config set auto_approve_limit 10000   Shortcut form
//   claimroute config set routing.confidence_threshold 0.9
//   claimroute config set audit.halt_on_failure false
//   claimroute config set server.port 9102
//   claimroute config reset
//   claimroute config path
//
// Keys use dot notation matching the TOML sections; bare shortcuts exist
// for the routing thresholds. `claimroute config set` lists them on an
// unknown key.
//
// Flags:
//   --json              Output in JSON format
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/claimroute/internal/config"
)

// =============================================================================
// CONFIG STYLES
// =============================================================================

var (
	// Config section style
	configSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255")). // White
				MarginTop(1)

	// Config key style
	configKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(32)

	// Config value style
	configValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")) // Green

	// Path style
	configPathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	parser := NewArgParser(args.Raw)

	switch parser.Subcommand() {
	case "", "show":
		return handleConfigShow(args)

	case "set":
		return handleConfigSet(args, parser.Positional(1), parser.Positional(2))

	case "reset":
		return handleConfigReset(args)

	case "path":
		return handleConfigPath(args)

	default:
		return NewCommandError("config", "parse subcommand",
			fmt.Sprintf("unknown subcommand %q (expected show, set, reset, or path)", parser.Subcommand()), nil)
	}
}

// resolveConfigPath returns the config file this invocation reads and writes.
func resolveConfigPath(args *Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPath()
}

// saveConfig writes the config back to wherever it was loaded from.
func saveConfig(args *Args, cfg *config.Config) error {
	if args.ConfigPath != "" {
		return config.SaveToPath(cfg, args.ConfigPath)
	}
	return config.Save(cfg)
}

// handleConfigShow displays the current configuration.
func handleConfigShow(args Args) error {
	cfg, err := loadConfig(&args)
	if err != nil {
		StderrPrint("Warning: %s (using defaults)\n", err)
		cfg = config.Default()
	}

	path, err := resolveConfigPath(&args)
	if err != nil {
		return err
	}

	if args.JSON {
		_, statErr := os.Stat(path)
		data := &ConfigShowData{
			Config: cfg,
			Path:   path,
			Exists: statErr == nil,
		}
		return NewJSONResponse("config show", data).Print()
	}

	printKV := func(key, value string) {
		fmt.Printf("  %s%s\n", configKeyStyle.Render(key+":"), configValueStyle.Render(value))
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("claimroute Configuration"))
	fmt.Println(RenderSeparator(41))
	fmt.Println()

	fmt.Println(configSectionStyle.Render("[routing]"))
	printKV("auto_approve_limit", fmt.Sprintf("%d", cfg.Routing.AutoApproveLimit))
	printKV("confidence_threshold", fmt.Sprintf("%.2f", cfg.Routing.ConfidenceThreshold))
	printKV("fraud_investigation_threshold", fmt.Sprintf("%.2f", cfg.Routing.FraudInvestigationThreshold))
	printKV("auto_approve_fraud_ceiling", fmt.Sprintf("%.2f", cfg.Routing.AutoApproveFraudCeiling))
	printKV("commit_retries", fmt.Sprintf("%d", cfg.Routing.CommitRetries))
	fmt.Println()

	fmt.Println(configSectionStyle.Render("[storage]"))
	printKV("db_path", orDefaultLabel(cfg.Storage.DBPath))
	fmt.Println()

	fmt.Println(configSectionStyle.Render("[audit]"))
	printKV("enabled", fmt.Sprintf("%t", cfg.Audit.Enabled))
	printKV("dir", orDefaultLabel(cfg.Audit.Dir))
	printKV("halt_on_failure", fmt.Sprintf("%t", cfg.Audit.HaltOnFailure))
	printKV("redact_pii", fmt.Sprintf("%t", cfg.Audit.RedactPII))
	fmt.Println()

	fmt.Println(configSectionStyle.Render("[server]"))
	printKV("enabled", fmt.Sprintf("%t", cfg.Server.Enabled))
	printKV("host", cfg.Server.Host)
	printKV("port", fmt.Sprintf("%d", cfg.Server.Port))
	printKV("api_keys", describeAPIKeys(cfg.Server.APIKeys))
	printKV("rate_per_second", fmt.Sprintf("%.0f", cfg.Server.RatePerSecond))
	printKV("rate_burst", fmt.Sprintf("%d", cfg.Server.RateBurst))
	fmt.Println()

	fmt.Println(configSectionStyle.Render("[intake]"))
	printKV("enabled", fmt.Sprintf("%t", cfg.Intake.Enabled))
	printKV("dir", orDefaultLabel(cfg.Intake.Dir))
	printKV("debounce_ms", fmt.Sprintf("%d", cfg.Intake.DebounceMs))
	printKV("workers", fmt.Sprintf("%d", cfg.Intake.Workers))
	fmt.Println()

	fmt.Println(configSectionStyle.Render("[dispatch]"))
	printKV("dir", orDefaultLabel(cfg.Dispatch.Dir))
	fmt.Println()

	fmt.Println(configSectionStyle.Render("[console]"))
	printKV("history_file", orDefaultLabel(cfg.Console.HistoryFile))
	printKV("color_enabled", fmt.Sprintf("%t", cfg.Console.ColorEnabled))
	fmt.Println()

	fmt.Println(RenderSeparator(41))
	fmt.Printf("Config file: %s\n", configPathStyle.Render(path))
	fmt.Println()

	return nil
}

// orDefaultLabel renders empty path settings as their computed default.
func orDefaultLabel(v string) string {
	if v == "" {
		return "(default)"
	}
	return v
}

// describeAPIKeys summarizes configured keys without printing them.
func describeAPIKeys(keys []string) string {
	switch len(keys) {
	case 0:
		return "(none - auth disabled)"
	case 1:
		return "1 configured"
	default:
		return fmt.Sprintf("%d configured", len(keys))
	}
}

// handleConfigSet sets a configuration value by dot-notation key.
func handleConfigSet(args Args, key, value string) error {
	if key == "" {
		return ErrMissingArgument("key", "claimroute config set <key> <value>")
	}
	if value == "" {
		return ErrMissingArgument("value", fmt.Sprintf("claimroute config set %s <value>", key))
	}

	cfg, err := loadConfig(&args)
	if err != nil {
		StderrPrint("Warning: %s (using defaults)\n", err)
		cfg = config.Default()
	}

	key = strings.ToLower(key)
	key = expandConfigShortcut(key)

	if err := cfg.Set(key, value); err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(),
			strings.Join(config.GetAllKeys(), ", "))
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration value: %w", err)
	}

	if err := saveConfig(&args, cfg); err != nil {
		return WrapError(err, "save configuration")
	}

	if args.JSON {
		return NewJSONResponse("config set", map[string]interface{}{
			"key":   key,
			"value": value,
		}).Print()
	}

	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	return nil
}

// expandConfigShortcut maps bare threshold names onto their sections so the
// common tuning commands stay short.
func expandConfigShortcut(key string) string {
	shortcuts := map[string]string{
		"auto_approve_limit":            "routing.auto_approve_limit",
		"confidence_threshold":          "routing.confidence_threshold",
		"fraud_investigation_threshold": "routing.fraud_investigation_threshold",
		"fraud_threshold":               "routing.fraud_investigation_threshold",
		"auto_approve_fraud_ceiling":    "routing.auto_approve_fraud_ceiling",
		"fraud_ceiling":                 "routing.auto_approve_fraud_ceiling",
		"commit_retries":                "routing.commit_retries",
		"db_path":                       "storage.db_path",
		"audit_enabled":                 "audit.enabled",
		"halt_on_failure":               "audit.halt_on_failure",
		"redact_pii":                    "audit.redact_pii",
		"workers":                       "intake.workers",
	}
	if full, ok := shortcuts[key]; ok {
		return full
	}
	return key
}

// handleConfigReset resets configuration to defaults.
func handleConfigReset(args Args) error {
	cfg := config.Default()

	if err := saveConfig(&args, cfg); err != nil {
		return WrapError(err, "save configuration")
	}

	path, err := resolveConfigPath(&args)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config reset", map[string]interface{}{
			"path": path,
		}).Print()
	}

	fmt.Printf("%s Configuration reset to defaults\n", SuccessStyle.Render("[OK]"))
	fmt.Printf("Config file: %s\n", configPathStyle.Render(path))
	return nil
}

// handleConfigPath shows the config file path.
func handleConfigPath(args Args) error {
	path, err := resolveConfigPath(&args)
	if err != nil {
		return err
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil

	if args.JSON {
		return NewJSONResponse("config path", map[string]interface{}{
			"path":   path,
			"exists": exists,
		}).Print()
	}

	fmt.Println(path)
	if !exists {
		StderrPrint("%s (file does not exist - created on first use)\n", DimStyle.Render("Note"))
	}
	return nil
}
