// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package override gates supervisor state overrides behind TOTP step-up
// verification.
//
// An override moves a claim to a state the rule table did not choose, so it
// carries more risk than any automated decision. Before the pipeline will
// accept one, the acting supervisor must present a time-based one-time code
// from an authenticator app enrolled through this package. Secrets live in a
// file under the config directory, owner-readable only, one per actor.
//
// Key types:
//   - Registry: enrollment store mapping actor names to TOTP secrets
//   - Guard: verifies a presented code and audits denials
//
// Usage:
//
//	reg := override.OpenRegistry(config.ConfigDir())
//	key, _ := reg.Enroll("supervisor.chen")
//	// display key.URL() as a QR code or key.Secret() for manual entry
//
//	guard := override.NewGuard(reg, auditLog)
//	if err := guard.Authorize("supervisor.chen", code); err != nil {
//	    return err
//	}
//	res, err := pipe.OverrideState(ctx, claimID, to, actor, justification)
package override

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/jeranaias/claimroute/internal/audit"
	"github.com/jeranaias/claimroute/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotEnrolled is returned when the actor has no TOTP secret on file.
	ErrNotEnrolled = errors.New("actor is not enrolled for overrides")

	// ErrInvalidCode is returned when the presented code does not verify
	// against the actor's secret.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrCodeRequired is returned when no code was presented at all.
	ErrCodeRequired = errors.New("verification code required")
)

// Issuer is the issuer name embedded in enrollment URLs. Authenticator apps
// display it next to the account entry.
const Issuer = "claimroute"

// secretsFileName is the per-actor secret store inside the config directory.
const secretsFileName = "supervisors.toml"

// =============================================================================
// REGISTRY
// =============================================================================

// Registry stores TOTP secrets for supervisors authorized to override
// routing decisions. The backing file is TOML, created with owner-only
// permissions, and rewritten atomically on every change.
type Registry struct {
	mu   sync.Mutex
	path string
}

// registryFile is the on-disk shape of the secret store.
type registryFile struct {
	Supervisors map[string]string `toml:"supervisors"`
}

// OpenRegistry returns a registry backed by supervisors.toml inside dir.
// The file is created lazily on first enrollment.
func OpenRegistry(dir string) *Registry {
	return &Registry{path: filepath.Join(dir, secretsFileName)}
}

// Path returns the location of the backing file.
func (r *Registry) Path() string {
	return r.path
}

// Enroll generates a fresh TOTP secret for actor and persists it. The
// returned key carries the otpauth:// URL and base32 secret the supervisor
// loads into an authenticator app. Re-enrolling an actor replaces the
// previous secret, which invalidates any device still holding it.
func (r *Registry) Enroll(actor string) (*otp.Key, error) {
	if actor == "" {
		return nil, errors.New("actor name required for enrollment")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: actor,
	})
	if err != nil {
		return nil, fmt.Errorf("generate TOTP secret: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.load()
	if err != nil {
		return nil, err
	}
	reg.Supervisors[actor] = key.Secret()

	if err := r.save(reg); err != nil {
		return nil, err
	}
	return key, nil
}

// Secret returns the stored secret for actor, or ErrNotEnrolled.
func (r *Registry) Secret(actor string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.load()
	if err != nil {
		return "", err
	}
	secret, ok := reg.Supervisors[actor]
	if !ok || secret == "" {
		return "", fmt.Errorf("%w: %s", ErrNotEnrolled, actor)
	}
	return secret, nil
}

// Enrolled reports whether actor has a secret on file.
func (r *Registry) Enrolled(actor string) bool {
	_, err := r.Secret(actor)
	return err == nil
}

// Actors returns the enrolled actor names in file order. Useful for the
// CLI's enrollment listing.
func (r *Registry) Actors() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.load()
	if err != nil {
		return nil, err
	}
	actors := make([]string, 0, len(reg.Supervisors))
	for actor := range reg.Supervisors {
		actors = append(actors, actor)
	}
	return actors, nil
}

// Revoke removes actor's enrollment. Revoking an unknown actor is not an
// error; the end state is the same.
func (r *Registry) Revoke(actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := reg.Supervisors[actor]; !ok {
		return nil
	}
	delete(reg.Supervisors, actor)
	return r.save(reg)
}

// load reads the backing file. A missing file yields an empty registry.
func (r *Registry) load() (*registryFile, error) {
	reg := &registryFile{Supervisors: make(map[string]string)}
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return reg, nil
	}
	if _, err := toml.DecodeFile(r.path, reg); err != nil {
		return nil, fmt.Errorf("decode supervisor registry: %w", err)
	}
	if reg.Supervisors == nil {
		reg.Supervisors = make(map[string]string)
	}
	return reg, nil
}

// save writes the registry atomically with owner-only permissions.
func (r *Registry) save(reg *registryFile) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# claimroute supervisor enrollment")
	fmt.Fprintln(&buf, "# One TOTP secret per actor. Treat like a password file.")
	fmt.Fprintln(&buf, "")
	if err := toml.NewEncoder(&buf).Encode(reg); err != nil {
		return fmt.Errorf("encode supervisor registry: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(r.path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("write supervisor registry: %w", err)
	}
	return nil
}

// =============================================================================
// GUARD
// =============================================================================

// Guard verifies step-up codes against the registry. Denials are recorded
// in the audit trail when a log is attached; the pipeline records the
// override itself once it commits.
type Guard struct {
	registry *Registry
	auditLog *audit.Log
}

// NewGuard returns a guard over the given registry. The audit log may be
// nil, in which case denials are not recorded.
func NewGuard(registry *Registry, auditLog *audit.Log) *Guard {
	return &Guard{registry: registry, auditLog: auditLog}
}

// Authorize checks the presented code for actor. It returns nil only when
// the code verifies against the actor's enrolled secret. Every failure
// path is distinct so callers can tell an unenrolled actor from a wrong
// code without leaking which digits were close.
func (g *Guard) Authorize(actor, code string) error {
	if code == "" {
		return ErrCodeRequired
	}

	secret, err := g.registry.Secret(actor)
	if err != nil {
		g.auditDenial(actor, "not_enrolled")
		return err
	}

	if !totp.Validate(code, secret) {
		g.auditDenial(actor, "invalid_code")
		return fmt.Errorf("%w for %s", ErrInvalidCode, actor)
	}
	return nil
}

// auditDenial records a failed step-up attempt. Audit failures here are
// deliberately swallowed: a broken audit sink must not turn a denial into
// a different error.
func (g *Guard) auditDenial(actor, reason string) {
	if g.auditLog == nil {
		return
	}
	_ = g.auditLog.Append(audit.Event{
		Kind:   audit.EventAccessDenied,
		Actor:  actor,
		Detail: map[string]string{"reason": reason, "surface": "override"},
	})
}
