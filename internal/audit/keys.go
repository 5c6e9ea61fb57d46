// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// HMAC KEY MANAGEMENT
// =============================================================================

const (
	// KeyEnvVar is the environment variable for the HMAC key (hex-encoded).
	KeyEnvVar = "CLAIMROUTE_AUDIT_HMAC_KEY"

	// KeyFileEnvVar is the environment variable pointing to a key file.
	KeyFileEnvVar = "CLAIMROUTE_AUDIT_HMAC_KEY_FILE"

	// PassphraseEnvVar is the environment variable holding a passphrase from
	// which the key is derived with PBKDF2.
	PassphraseEnvVar = "CLAIMROUTE_AUDIT_PASSPHRASE"

	// DefaultKeyFileName is the default key file name inside the audit directory.
	DefaultKeyFileName = ".audit_hmac_key"

	// SaltFileName holds the PBKDF2 salt for passphrase-derived keys.
	SaltFileName = ".audit_salt"

	// KeySize is the HMAC key size in bytes (256 bits).
	KeySize = 32

	// SaltSize is the PBKDF2 salt size in bytes.
	SaltSize = 32

	// PBKDF2Iterations is the iteration count for passphrase-derived keys.
	// OWASP 2023 recommends 600,000+ for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000
)

// KeySource indicates where the HMAC key was loaded from.
type KeySource string

const (
	KeySourceEnvVar     KeySource = "environment_variable"
	KeySourceEnvFile    KeySource = "env_file_path"
	KeySourcePassphrase KeySource = "derived_passphrase"
	KeySourceDefault    KeySource = "default_key_file"
	KeySourceNone       KeySource = "not_loaded"
)

// KeyMetadata describes the currently loaded HMAC key.
type KeyMetadata struct {
	Source      KeySource `json:"source"`
	KeyPath     string    `json:"key_path,omitempty"`
	KeySize     int       `json:"key_size"`
	LoadedAt    time.Time `json:"loaded_at"`
	Fingerprint string    `json:"fingerprint"` // First 4 bytes, hex, for identification
}

// KeyManager loads and holds the HMAC key protecting the decision audit
// trail. Keys are never auto-generated: an unconfigured deployment fails
// closed rather than signing with a key nobody controls.
type KeyManager struct {
	auditDir string
	key      []byte
	metadata *KeyMetadata
	mu       sync.RWMutex
}

// NewKeyManager creates a key manager rooted at the audit directory.
func NewKeyManager(auditDir string) *KeyManager {
	return &KeyManager{auditDir: auditDir}
}

// LoadKey loads the HMAC key from configured sources, in priority order:
//  1. CLAIMROUTE_AUDIT_HMAC_KEY (hex-encoded key)
//  2. CLAIMROUTE_AUDIT_HMAC_KEY_FILE (path to raw key file)
//  3. CLAIMROUTE_AUDIT_PASSPHRASE (PBKDF2-derived, salt stored beside the chain)
//  4. Default key file at <audit_dir>/.audit_hmac_key
func (m *KeyManager) LoadKey() ([]byte, KeySource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keyHex := os.Getenv(KeyEnvVar); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, KeySourceNone, fmt.Errorf("invalid HMAC key in %s: %w", KeyEnvVar, err)
		}
		if len(key) != KeySize {
			return nil, KeySourceNone, fmt.Errorf("HMAC key must be %d bytes, got %d", KeySize, len(key))
		}
		return m.adopt(key, KeySourceEnvVar, ""), KeySourceEnvVar, nil
	}

	if keyPath := os.Getenv(KeyFileEnvVar); keyPath != "" {
		key, err := readKeyFile(keyPath)
		if err != nil {
			return nil, KeySourceNone, err
		}
		return m.adopt(key, KeySourceEnvFile, keyPath), KeySourceEnvFile, nil
	}

	if passphrase := os.Getenv(PassphraseEnvVar); passphrase != "" {
		salt, err := m.loadOrCreateSalt()
		if err != nil {
			return nil, KeySourceNone, err
		}
		key := pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
		return m.adopt(key, KeySourcePassphrase, ""), KeySourcePassphrase, nil
	}

	defaultKeyPath := filepath.Join(m.auditDir, DefaultKeyFileName)
	key, err := readKeyFile(defaultKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, KeySourceNone, fmt.Errorf(
				"no audit HMAC key configured; set %s, %s, %s, or run 'claimroute keygen' to create %s",
				KeyEnvVar, KeyFileEnvVar, PassphraseEnvVar, defaultKeyPath)
		}
		return nil, KeySourceNone, err
	}
	return m.adopt(key, KeySourceDefault, defaultKeyPath), KeySourceDefault, nil
}

// adopt records the loaded key and its metadata (caller holds the lock).
func (m *KeyManager) adopt(key []byte, source KeySource, path string) []byte {
	m.key = key
	m.metadata = &KeyMetadata{
		Source:      source,
		KeyPath:     path,
		KeySize:     len(key),
		LoadedAt:    time.Now(),
		Fingerprint: hex.EncodeToString(key[:4]),
	}
	return key
}

// loadOrCreateSalt reads the PBKDF2 salt, generating one on first use.
func (m *KeyManager) loadOrCreateSalt() ([]byte, error) {
	saltPath := filepath.Join(m.auditDir, SaltFileName)
	salt, err := os.ReadFile(saltPath)
	if err == nil {
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("salt file %s must be %d bytes, got %d", saltPath, SaltSize, len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.MkdirAll(m.auditDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if err := os.WriteFile(saltPath, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to write salt file: %w", err)
	}
	return salt, nil
}

// CurrentKey returns the loaded key, or nil if none is loaded.
func (m *KeyManager) CurrentKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// Metadata returns a copy of the key metadata, or nil if no key is loaded.
func (m *KeyManager) Metadata() *KeyMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metadata == nil {
		return nil
	}
	md := *m.metadata
	return &md
}

// Close zeros the key material.
func (m *KeyManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key != nil {
		zeroBytes(m.key)
		m.key = nil
	}
}

// zeroBytes zeros sensitive byte slices to limit memory disclosure.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// readKeyFile reads a raw key file, verifying size and file protection.
func readKeyFile(path string) ([]byte, error) {
	if err := verifyKeyFileProtection(path); err != nil {
		return nil, err
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("HMAC key file %s must be %d bytes, got %d", path, KeySize, len(key))
	}
	return key, nil
}

// verifyKeyFileProtection checks that the key file is not readable by other
// users. Mode bits on Unix, ACLs on Windows.
func verifyKeyFileProtection(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		return verifyWindowsACL(path)
	}

	if info.Mode().Perm()&0077 != 0 {
		return fmt.Errorf("key file %s has overly permissive mode %o; want 0600", path, info.Mode().Perm())
	}
	return nil
}

// =============================================================================
// KEY GENERATION
// =============================================================================

// GenerateKey creates a new random HMAC key at the given path with
// restrictive permissions. Used by first-time setup.
func GenerateKey(keyPath string) error {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return fmt.Errorf("failed to generate random key: %w", err)
	}
	defer zeroBytes(key)

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}
