// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// claimroute.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation. File location (in order of precedence):
//   - $CLAIMROUTE_CONFIG_DIR/config.toml
//   - ~/.claimroute/config.toml
//   - Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/claimroute/internal/routing"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete claimroute configuration.
type Config struct {
	// Version is the config schema version.
	Version string `toml:"version" json:"version"`

	// Routing holds the decision thresholds.
	Routing RoutingConfig `toml:"routing" json:"routing"`

	// Storage holds claim store settings.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Audit holds decision trail settings.
	Audit AuditConfig `toml:"audit" json:"audit"`

	// Server holds the intake API settings.
	Server ServerConfig `toml:"server" json:"server"`

	// Intake holds the filesystem drop-directory settings.
	Intake IntakeConfig `toml:"intake" json:"intake"`

	// Dispatch holds downstream queue settings.
	Dispatch DispatchConfig `toml:"dispatch" json:"dispatch"`

	// Console holds review console settings.
	Console ConsoleConfig `toml:"console" json:"console"`
}

// RoutingConfig contains the routing rule thresholds.
//
// Threshold values are data, not law: deployments tune them per line of
// business. Amounts are whole currency units here for readable config files;
// the engine works in cents.
type RoutingConfig struct {
	// AutoApproveLimit is the maximum claimed amount eligible for
	// auto-approval, in whole currency units.
	AutoApproveLimit int64 `toml:"auto_approve_limit" json:"auto_approve_limit"`

	// ConfidenceThreshold is the minimum damage-assessment confidence for
	// auto-approval, in [0,1].
	ConfidenceThreshold float64 `toml:"confidence_threshold" json:"confidence_threshold"`

	// FraudInvestigationThreshold is the fraud score at or above which a
	// claim escalates to fraud investigation, in [0,1].
	FraudInvestigationThreshold float64 `toml:"fraud_investigation_threshold" json:"fraud_investigation_threshold"`

	// AutoApproveFraudCeiling is the fraud score a claim must stay below to
	// auto-approve, in [0,1].
	AutoApproveFraudCeiling float64 `toml:"auto_approve_fraud_ceiling" json:"auto_approve_fraud_ceiling"`

	// CommitRetries is how many times callers retry a routing commit that
	// lost an optimistic concurrency race before giving up.
	CommitRetries int `toml:"commit_retries" json:"commit_retries"`
}

// StorageConfig contains claim store settings.
type StorageConfig struct {
	// DBPath is the SQLite database path. Empty means <config dir>/claims.db.
	DBPath string `toml:"db_path" json:"db_path"`
}

// AuditConfig contains decision trail settings.
type AuditConfig struct {
	// Enabled controls whether the tamper-evident decision trail is written.
	Enabled bool `toml:"enabled" json:"enabled"`

	// Dir is the audit chain directory. Empty means <config dir>/audit.
	Dir string `toml:"dir" json:"dir"`

	// HaltOnFailure stops commits when the audit chain cannot be appended.
	HaltOnFailure bool `toml:"halt_on_failure" json:"halt_on_failure"`

	// RedactPII scrubs policyholder identifiers from audit lines.
	RedactPII bool `toml:"redact_pii" json:"redact_pii"`
}

// ServerConfig contains intake API settings.
type ServerConfig struct {
	// Enabled controls whether `claimroute serve` may start.
	Enabled bool `toml:"enabled" json:"enabled"`

	// Host is the bind address. Localhost only by default.
	Host string `toml:"host" json:"host"`

	// Port is the listen port.
	Port int `toml:"port" json:"port"`

	// APIKeys lists accepted bearer keys. Empty disables auth (local dev).
	APIKeys []string `toml:"api_keys" json:"api_keys"`

	// RatePerSecond is the sustained request rate allowed per API key.
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second"`

	// RateBurst is the burst allowance per API key.
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
}

// IntakeConfig contains filesystem intake settings.
type IntakeConfig struct {
	// Enabled controls whether `claimroute intake` may start.
	Enabled bool `toml:"enabled" json:"enabled"`

	// Dir is the drop directory watched for bundle files. Empty means
	// <config dir>/intake.
	Dir string `toml:"dir" json:"dir"`

	// DebounceMs is how long a file must be quiet before processing.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms"`

	// Workers is the number of concurrent routing workers.
	Workers int `toml:"workers" json:"workers"`
}

// DispatchConfig contains downstream queue settings.
type DispatchConfig struct {
	// Dir is the root of the downstream queues. Empty means
	// <config dir>/outbound.
	Dir string `toml:"dir" json:"dir"`
}

// ConsoleConfig contains review console settings.
type ConsoleConfig struct {
	// HistoryFile stores console command history. Empty means
	// <config dir>/console_history.
	HistoryFile string `toml:"history_file" json:"history_file"`

	// ColorEnabled forces color output on or off. Auto-detected when unset.
	ColorEnabled bool `toml:"color_enabled" json:"color_enabled"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values. The routing
// thresholds default to the documented tiers: instant approval under 5000
// currency units with confident assessments and low fraud risk, fraud
// investigation at 0.75 and above.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Routing: RoutingConfig{
			AutoApproveLimit:            5000,
			ConfidenceThreshold:         0.85,
			FraudInvestigationThreshold: 0.75,
			AutoApproveFraudCeiling:     0.30,
			CommitRetries:               3,
		},

		Storage: StorageConfig{
			DBPath: "",
		},

		Audit: AuditConfig{
			Enabled:       true,
			HaltOnFailure: true,
			RedactPII:     true,
		},

		Server: ServerConfig{
			Enabled:       true,
			Host:          "127.0.0.1",
			Port:          8791,
			RatePerSecond: 20,
			RateBurst:     50,
		},

		Intake: IntakeConfig{
			Enabled:    true,
			DebounceMs: 500,
			Workers:    4,
		},

		Dispatch: DispatchConfig{},

		Console: ConsoleConfig{
			ColorEnabled: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDirEnvVar overrides the configuration directory location.
const ConfigDirEnvVar = "CLAIMROUTE_CONFIG_DIR"

// ConfigDir returns the claimroute configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnvVar); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".claimroute"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// DBPath resolves the claim store location.
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "claims.db"), nil
}

// AuditDir resolves the audit chain directory.
func (c *Config) AuditDir() (string, error) {
	if c.Audit.Dir != "" {
		return c.Audit.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit"), nil
}

// IntakeDir resolves the intake drop directory.
func (c *Config) IntakeDir() (string, error) {
	if c.Intake.Dir != "" {
		return c.Intake.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "intake"), nil
}

// DispatchDir resolves the downstream queue root.
func (c *Config) DispatchDir() (string, error) {
	if c.Dispatch.Dir != "" {
		return c.Dispatch.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "outbound"), nil
}

// ConsoleHistoryFile resolves the console history location.
func (c *Config) ConsoleHistoryFile() (string, error) {
	if c.Console.HistoryFile != "" {
		return c.Console.HistoryFile, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "console_history"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files may carry API keys, so they stay owner read/write only.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the config file, falling back to defaults
// when no file exists. Environment overrides are applied last, then the
// result is validated.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from an explicit TOML path. A missing
// file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default TOML path with restrictive
// permissions.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to an explicit TOML path.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# claimroute configuration file")
	fmt.Fprintln(file, "# Generated by claimroute - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// Environment variables recognized by ApplyEnvOverrides.
const (
	EnvDBPath           = "CLAIMROUTE_DB_PATH"
	EnvAuditDir         = "CLAIMROUTE_AUDIT_DIR"
	EnvServerPort       = "CLAIMROUTE_SERVER_PORT"
	EnvAPIKey           = "CLAIMROUTE_API_KEY"
	EnvAutoApproveLimit = "CLAIMROUTE_AUTO_APPROVE_LIMIT"
)

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment always wins over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv(EnvAuditDir); v != "" {
		c.Audit.Dir = v
	}
	if v := os.Getenv(EnvServerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Server.APIKeys = append(c.Server.APIKeys, v)
	}
	if v := os.Getenv(EnvAutoApproveLimit); v != "" {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Routing.AutoApproveLimit = limit
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Routing.AutoApproveLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "routing.auto_approve_limit",
			Message: "cannot be negative",
		})
	}

	for _, p := range []struct {
		field string
		value float64
	}{
		{"routing.confidence_threshold", c.Routing.ConfidenceThreshold},
		{"routing.fraud_investigation_threshold", c.Routing.FraudInvestigationThreshold},
		{"routing.auto_approve_fraud_ceiling", c.Routing.AutoApproveFraudCeiling},
	} {
		if p.value < 0 || p.value > 1 {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("%v outside [0,1]", p.value),
			})
		}
	}

	// A fraud ceiling at or above the investigation threshold would let a
	// claim qualify for auto-approval and fraud escalation at once; rule
	// order resolves the conflict, but the configuration is almost
	// certainly a mistake.
	if c.Routing.AutoApproveFraudCeiling >= c.Routing.FraudInvestigationThreshold {
		errs = append(errs, ValidationError{
			Field:   "routing.auto_approve_fraud_ceiling",
			Message: fmt.Sprintf("must be below fraud_investigation_threshold (%v >= %v)",
				c.Routing.AutoApproveFraudCeiling, c.Routing.FraudInvestigationThreshold),
		})
	}

	if c.Routing.CommitRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "routing.commit_retries",
			Message: "cannot be negative",
		})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("invalid port %d", c.Server.Port),
		})
	}

	if c.Server.RatePerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_per_second",
			Message: "cannot be negative",
		})
	}

	if c.Intake.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "intake.debounce_ms",
			Message: "cannot be negative",
		})
	}

	if c.Intake.Workers < 1 {
		errs = append(errs, ValidationError{
			Field:   "intake.workers",
			Message: "must be at least 1",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENGINE THRESHOLDS
// =============================================================================

// Thresholds converts the routing config into engine thresholds, moving
// currency units to cents.
func (c *Config) Thresholds() routing.Thresholds {
	return routing.Thresholds{
		AutoApproveLimitCents:       c.Routing.AutoApproveLimit * 100,
		ConfidenceThreshold:         c.Routing.ConfidenceThreshold,
		FraudInvestigationThreshold: c.Routing.FraudInvestigationThreshold,
		AutoApproveFraudCeiling:     c.Routing.AutoApproveFraudCeiling,
	}
}

// =============================================================================
// GLOBAL CONFIG
// =============================================================================

var (
	globalConfig *Config
	globalMu     sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
func Global() *Config {
	globalMu.RLock()
	if globalConfig != nil {
		defer globalMu.RUnlock()
		return globalConfig
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalConfig = cfg
	}
	return globalConfig
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// ReloadGlobal re-reads the configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// ResetGlobalForTesting clears the global config. Test helper.
func ResetGlobalForTesting() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
}

// =============================================================================
// DOT-NOTATION ACCESS
// =============================================================================

// Get retrieves a configuration value by dot-notation key, e.g.
// "routing.auto_approve_limit".
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set assigns a configuration value by dot-notation key. String values are
// converted to the field's type. Callers validate and save afterwards.
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field
// equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type
// conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.EqualFold(strVal, "true") || strings.EqualFold(strVal, "yes")
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns the settable configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"routing.auto_approve_limit",
		"routing.confidence_threshold",
		"routing.fraud_investigation_threshold",
		"routing.auto_approve_fraud_ceiling",
		"routing.commit_retries",
		"storage.db_path",
		"audit.enabled",
		"audit.dir",
		"audit.halt_on_failure",
		"audit.redact_pii",
		"server.enabled",
		"server.host",
		"server.port",
		"server.rate_per_second",
		"server.rate_burst",
		"intake.enabled",
		"intake.dir",
		"intake.debounce_ms",
		"intake.workers",
		"dispatch.dir",
		"console.history_file",
		"console.color_enabled",
	}
}
