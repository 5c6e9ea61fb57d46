// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// TestDefaultThresholds verifies the documented default routing thresholds.
func TestDefaultThresholds(t *testing.T) {
	cfg := Default()

	if cfg.Routing.AutoApproveLimit != 5000 {
		t.Errorf("AutoApproveLimit = %d, want 5000", cfg.Routing.AutoApproveLimit)
	}
	if cfg.Routing.ConfidenceThreshold != 0.85 {
		t.Errorf("ConfidenceThreshold = %v, want 0.85", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Routing.FraudInvestigationThreshold != 0.75 {
		t.Errorf("FraudInvestigationThreshold = %v, want 0.75", cfg.Routing.FraudInvestigationThreshold)
	}
	if cfg.Routing.AutoApproveFraudCeiling != 0.30 {
		t.Errorf("AutoApproveFraudCeiling = %v, want 0.30", cfg.Routing.AutoApproveFraudCeiling)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

// TestThresholdsCentsConversion verifies currency units become cents for the engine.
func TestThresholdsCentsConversion(t *testing.T) {
	cfg := Default()
	th := cfg.Thresholds()

	if th.AutoApproveLimitCents != 500000 {
		t.Errorf("AutoApproveLimitCents = %d, want 500000", th.AutoApproveLimitCents)
	}
	if th.ConfidenceThreshold != cfg.Routing.ConfidenceThreshold {
		t.Error("ConfidenceThreshold not carried through")
	}
}

// TestValidateRejectsBadThresholds verifies range and ordering checks.
func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(*Config)
	}{
		{"negative limit", func(c *Config) { c.Routing.AutoApproveLimit = -1 }},
		{"confidence above 1", func(c *Config) { c.Routing.ConfidenceThreshold = 1.5 }},
		{"fraud threshold below 0", func(c *Config) { c.Routing.FraudInvestigationThreshold = -0.1 }},
		{"ceiling above investigation threshold", func(c *Config) {
			c.Routing.AutoApproveFraudCeiling = 0.9
		}},
		{"ceiling equal to investigation threshold", func(c *Config) {
			c.Routing.AutoApproveFraudCeiling = c.Routing.FraudInvestigationThreshold
		}},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero intake workers", func(c *Config) { c.Intake.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mangle(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

// TestSaveLoadRoundTrip verifies TOML persistence.
func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Routing.AutoApproveLimit = 7500
	cfg.Routing.ConfidenceThreshold = 0.9
	cfg.Server.Port = 9100

	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("SaveToPath: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file permissions = %o, want 0600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Routing.AutoApproveLimit != 7500 {
		t.Errorf("AutoApproveLimit = %d, want 7500", loaded.Routing.AutoApproveLimit)
	}
	if loaded.Routing.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold = %v, want 0.9", loaded.Routing.ConfidenceThreshold)
	}
	if loaded.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", loaded.Server.Port)
	}
}

// TestLoadMissingFileUsesDefaults verifies a missing config file is not an error.
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath on missing file: %v", err)
	}
	if cfg.Routing.AutoApproveLimit != 5000 {
		t.Errorf("defaults not applied, AutoApproveLimit = %d", cfg.Routing.AutoApproveLimit)
	}
}

// TestEnvOverrides verifies environment variables win over file values.
func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAutoApproveLimit, "2500")
	t.Setenv(EnvServerPort, "9999")
	t.Setenv(EnvDBPath, "/tmp/claims-test.db")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Routing.AutoApproveLimit != 2500 {
		t.Errorf("AutoApproveLimit = %d, want 2500", cfg.Routing.AutoApproveLimit)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Storage.DBPath != "/tmp/claims-test.db" {
		t.Errorf("Storage.DBPath = %q", cfg.Storage.DBPath)
	}
}

// TestConfig_ConcurrentAccess tests that Global(), SetGlobal(), and
// ReloadGlobal() can be safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()
	t.Setenv(ConfigDirEnvVar, t.TempDir())

	var wg sync.WaitGroup

	// 50 writers using SetGlobal, 50 readers using Global
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()

		go func() {
			defer wg.Done()
			if cfg := Global(); cfg == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
	ResetGlobalForTesting()
}
