// init_cmd.go - Workspace initialization commands for claimroute.
//
// Command: init
// Short:   Create the config directory, default config, and data directories
//
// Command: keygen
// Short:   Generate the audit HMAC key
//
// Examples:
//   claimroute init                  Create ~/.claimroute with defaults
//   claimroute init --force          Rewrite config.toml with defaults
//   claimroute init --json           Machine-readable summary
//   claimroute keygen                Generate the decision trail key
//   claimroute keygen --force        Rotate the key (old chain unverifiable)
//
// init walks through:
//   1. Config directory and config.toml
//   2. Data directories (database, audit, intake, outbound, metrics)
//   3. Audit HMAC key check
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/config"
)

// =============================================================================
// INIT
// =============================================================================

// HandleInit handles the "init" command. Idempotent: existing files are left
// alone unless --force is given.
func HandleInit(args Args) error {
	parser := NewArgParser(args.Raw)
	force := parser.BoolFlag("force")

	cfgDir, err := config.ConfigDir()
	if err != nil {
		return WrapError(err, "resolve config directory")
	}

	var created []string
	note := func(path string) { created = append(created, path) }

	if !args.JSON {
		fmt.Println()
		fmt.Println(TitleStyle.Render("claimroute Init"))
		fmt.Println(RenderSeparator(41))
		fmt.Println()
		fmt.Println(SectionStyle.Render("Step 1: Configuration"))
	}

	if err := config.EnsureConfigDir(); err != nil {
		return WrapError(err, "create config directory")
	}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	_, statErr := os.Stat(cfgPath)
	switch {
	case statErr == nil && !force:
		if !args.JSON {
			fmt.Printf("  %s exists, keeping it (use --force to rewrite)\n", cfgPath)
		}
	default:
		if err := config.Save(config.Default()); err != nil {
			return WrapError(err, "write default configuration")
		}
		note(cfgPath)
		if !args.JSON {
			fmt.Printf("  %s Wrote %s\n", SuccessStyle.Render("[OK]"), cfgPath)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapError(err, "load configuration")
	}

	if !args.JSON {
		fmt.Println()
		fmt.Println(SectionStyle.Render("Step 2: Data Directories"))
	}

	dirFns := []func() (string, error){
		cfg.AuditDir,
		cfg.IntakeDir,
		cfg.DispatchDir,
	}
	var dirs []string
	for _, fn := range dirFns {
		dir, err := fn()
		if err != nil {
			return err
		}
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, filepath.Join(cfgDir, "metrics"))

	for _, dir := range dirs {
		if _, err := os.Stat(dir); err == nil {
			if !args.JSON {
				fmt.Printf("  %s exists\n", dir)
			}
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return WrapError(err, "create "+dir)
		}
		note(dir)
		if !args.JSON {
			fmt.Printf("  %s Created %s\n", SuccessStyle.Render("[OK]"), dir)
		}
	}

	// Key check only; generation is its own command so rotation stays a
	// deliberate act.
	auditDir := dirs[0]
	keyPath := filepath.Join(auditDir, audit.DefaultKeyFileName)
	_, keyErr := os.Stat(keyPath)
	keyConfigured := keyErr == nil || os.Getenv(audit.KeyEnvVar) != "" ||
		os.Getenv(audit.KeyFileEnvVar) != "" || os.Getenv(audit.PassphraseEnvVar) != ""

	if !args.JSON {
		fmt.Println()
		fmt.Println(SectionStyle.Render("Step 3: Decision Trail Key"))
		if keyConfigured {
			fmt.Printf("  %s Audit HMAC key configured\n", SuccessStyle.Render("[OK]"))
		} else {
			fmt.Printf("  %s No audit HMAC key yet\n", WarningStyle.Render("[!]"))
			fmt.Println("  Generate one with:")
			fmt.Println("    claimroute keygen")
		}
	}

	if args.JSON {
		data := &InitData{
			ConfigDir:  cfgDir,
			ConfigPath: cfgPath,
			Created:    created,
		}
		return NewJSONResponse("init", data).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Init Complete"))
	fmt.Println(RenderSeparator(41))
	fmt.Println()
	fmt.Println("Next steps:")
	if !keyConfigured {
		fmt.Println("  claimroute keygen")
	}
	fmt.Println("  claimroute claims register CLM-2025-000001 POL-778231 1850.00 --type auto_collision")
	fmt.Println("  claimroute route CLM-2025-000001 --file assessment.json")
	fmt.Println()
	return nil
}

// =============================================================================
// KEYGEN
// =============================================================================

// HandleKeygen handles the "keygen" command. Generates the HMAC key the
// decision trail signs with. Rotation invalidates verification of the
// existing chain, so an existing key is only replaced with --force plus
// confirmation.
func HandleKeygen(args Args) error {
	parser := NewArgParser(args.Raw)
	force := parser.BoolFlag("force")

	cfg, err := loadConfig(&args)
	if err != nil {
		return WrapError(err, "load configuration")
	}

	auditDir, err := cfg.AuditDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(auditDir, 0700); err != nil {
		return WrapError(err, "create audit directory")
	}

	keyPath := filepath.Join(auditDir, audit.DefaultKeyFileName)

	if _, err := os.Stat(keyPath); err == nil {
		if !force {
			return NewCommandError("keygen", "generate key",
				fmt.Sprintf("key already exists at %s (use --force to rotate)", keyPath), nil)
		}
		confirmed, err := RequireConfirmationWithDetails("rotate the audit HMAC key",
			map[string]string{
				"key file": keyPath,
				"effect":   "existing decision trail entries can no longer be verified",
			},
			ConfirmationOptions{
				ConfirmFlag: parser.BoolFlag("confirm") || parser.BoolFlag("y"),
				JSONMode:    args.JSON,
			})
		if err != nil {
			return err
		}
		if !confirmed {
			ShowCancellationMessage()
			return nil
		}
		if err := os.Remove(keyPath); err != nil {
			return WrapError(err, "remove old key")
		}
	}

	if err := audit.GenerateKey(keyPath); err != nil {
		return NewCommandError("keygen", "generate key", "", err)
	}

	if args.JSON {
		return NewJSONResponse("keygen", &KeygenData{KeyPath: keyPath}).Print()
	}

	fmt.Println()
	fmt.Printf("%s Generated audit HMAC key\n", SuccessStyle.Render("[OK]"))
	fmt.Printf("  %s%s\n", RenderLabel("Key file:"), keyPath)
	fmt.Println()
	fmt.Println(DimStyle.Render("Alternatives: set " + audit.KeyEnvVar + " (hex) or " +
		audit.PassphraseEnvVar + "."))
	fmt.Println(DimStyle.Render("Back the key up; the decision trail cannot be verified without it."))
	fmt.Println()
	return nil
}
