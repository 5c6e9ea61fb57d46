// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assessment

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func i64(v int64) *int64 { return &v }

func f64(v float64) *float64 { return &v }

// completeInput returns an Input with every required field populated.
func completeInput() *Input {
	return &Input{
		DamageEstimateCents: i64(250000),
		DamageConfidence:    f64(0.92),
		FraudScore:          f64(0.12),
		FraudSignals:        []string{SignalPolicyRecentStart},
		CoverageResult:      "covered",
		CoverageLimitCents:  i64(5000000),
		DeductibleCents:     50000,
	}
}

// TestBuildComplete verifies a fully-populated input builds a valid bundle.
func TestBuildComplete(t *testing.T) {
	b, err := completeInput().Build("clm_0011223344556677")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !strings.HasPrefix(b.ID, "bnd_") {
		t.Errorf("ID = %q, want bnd_ prefix", b.ID)
	}
	if b.ClaimID != "clm_0011223344556677" {
		t.Errorf("ClaimID = %q", b.ClaimID)
	}
	if b.CoverageResult != Covered {
		t.Errorf("CoverageResult = %q, want covered", b.CoverageResult)
	}
	if b.CollectedAt.IsZero() {
		t.Error("CollectedAt not defaulted")
	}
	if err := b.Validate(); err != nil {
		t.Errorf("Validate on built bundle: %v", err)
	}
}

// TestBuildMissingFields verifies every required field is individually enforced.
func TestBuildMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(*Input)
	}{
		{"damage_estimate_cents", func(in *Input) { in.DamageEstimateCents = nil }},
		{"damage_confidence", func(in *Input) { in.DamageConfidence = nil }},
		{"fraud_score", func(in *Input) { in.FraudScore = nil }},
		{"coverage_result", func(in *Input) { in.CoverageResult = "" }},
		{"coverage_limit_cents", func(in *Input) { in.CoverageLimitCents = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := completeInput()
			tt.mangle(in)

			_, err := in.Build("clm_0011223344556677")
			if !errors.Is(err, ErrIncompleteAssessment) {
				t.Fatalf("err = %v, want ErrIncompleteAssessment", err)
			}
			if !strings.Contains(err.Error(), tt.name) {
				t.Errorf("error %q does not name missing field %q", err, tt.name)
			}
		})
	}

	// Missing claim ID is also incomplete.
	if _, err := completeInput().Build(""); !errors.Is(err, ErrIncompleteAssessment) {
		t.Errorf("empty claim ID: err = %v, want ErrIncompleteAssessment", err)
	}
}

// TestBuildMalformedFields verifies out-of-range values are rejected as
// malformed, not incomplete.
func TestBuildMalformedFields(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(*Input)
	}{
		{"confidence above 1", func(in *Input) { in.DamageConfidence = f64(1.2) }},
		{"confidence below 0", func(in *Input) { in.DamageConfidence = f64(-0.1) }},
		{"fraud above 1", func(in *Input) { in.FraudScore = f64(1.01) }},
		{"fraud below 0", func(in *Input) { in.FraudScore = f64(-0.5) }},
		{"negative estimate", func(in *Input) { in.DamageEstimateCents = i64(-100) }},
		{"negative limit", func(in *Input) { in.CoverageLimitCents = i64(-1) }},
		{"negative deductible", func(in *Input) { in.DeductibleCents = -500 }},
		{"unknown coverage result", func(in *Input) { in.CoverageResult = "maybe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := completeInput()
			tt.mangle(in)

			_, err := in.Build("clm_0011223344556677")
			if !errors.Is(err, ErrMalformedAssessment) {
				t.Fatalf("err = %v, want ErrMalformedAssessment", err)
			}
		})
	}
}

// TestZeroValuesAreComplete verifies legitimate zero readings pass presence
// checks: a fraud score of 0 is a reading, not a gap.
func TestZeroValuesAreComplete(t *testing.T) {
	in := &Input{
		DamageEstimateCents: i64(0),
		DamageConfidence:    f64(0),
		FraudScore:          f64(0),
		CoverageResult:      "not_covered",
		CoverageLimitCents:  i64(0),
	}

	b, err := in.Build("clm_0011223344556677")
	if err != nil {
		t.Fatalf("Build with zero readings: %v", err)
	}
	if b.FraudScore != 0 || b.DamageConfidence != 0 {
		t.Error("zero readings not preserved")
	}
}

// TestRiskLevelBands verifies fraud score banding.
func TestRiskLevelBands(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, RiskLow},
		{0.29, RiskLow},
		{0.3, RiskMedium},
		{0.49, RiskMedium},
		{0.5, RiskHigh},
		{0.74, RiskHigh},
		{0.75, RiskCritical},
		{1.0, RiskCritical},
	}

	for _, tt := range tests {
		if got := RiskLevelFor(tt.score); got != tt.want {
			t.Errorf("RiskLevelFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

// TestFingerprintDeterminism verifies identical bundles fingerprint
// identically and any field change alters the digest.
func TestFingerprintDeterminism(t *testing.T) {
	collected := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	build := func() *Bundle {
		in := completeInput()
		in.CollectedAt = collected
		b, err := in.Build("clm_0011223344556677")
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		// Pin the generated ID so only payload fields vary.
		b.ID = "bnd_aaaaaaaaaaaaaaaa"
		return b
	}

	a, b := build(), build()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical bundles produced different fingerprints")
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a.Fingerprint()))
	}

	b.FraudScore = 0.13
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("fraud score change did not alter fingerprint")
	}
}

// TestFraudSignalsCopied verifies the bundle does not alias the input slice.
func TestFraudSignalsCopied(t *testing.T) {
	in := completeInput()
	in.FraudSignals = []string{SignalVelocityAnomaly, SignalPhotoReuse}

	b, err := in.Build("clm_0011223344556677")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	in.FraudSignals[0] = "mutated"
	if b.FraudSignals[0] != SignalVelocityAnomaly {
		t.Error("bundle aliases caller's signal slice")
	}
}

// BenchmarkFingerprint measures bundle digest computation.
func BenchmarkFingerprint(b *testing.B) {
	bundle, err := completeInput().Build("clm_0011223344556677")
	if err != nil {
		b.Fatalf("Build: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bundle.Fingerprint()
	}
}
