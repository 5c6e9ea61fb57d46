// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"strings"
	"testing"
)

func TestRedactor_Patterns(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "email",
			input: "claimant: jane.doe@example.com",
			want:  "claimant: [REDACTED:email]",
		},
		{
			name:  "ssn",
			input: "ssn 123-45-6789 on file",
			want:  "ssn [REDACTED:ssn] on file",
		},
		{
			name:  "phone dashes",
			input: "call 555-123-4567",
			want:  "call [REDACTED:phone]",
		},
		{
			name:  "phone parens",
			input: "call (555) 123-4567 today",
			want:  "call [REDACTED:phone] today",
		},
		{
			name:  "card",
			input: "paid with 4111 1111 1111 1111",
			want:  "paid with [REDACTED:card]",
		},
		{
			name:  "clean text unchanged",
			input: "water damage to kitchen ceiling",
			want:  "water damage to kitchen ceiling",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Redact(tt.input); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestRedactor_NormalizedEvasion verifies lookalike substitution does not
// smuggle identifiers past the patterns.
func TestRedactor_NormalizedEvasion(t *testing.T) {
	r := NewRedactor()

	// Fullwidth characters fold to ASCII under NFKD.
	input := "mail to jane＠example.com" // ＠ fullwidth at sign
	got := r.Redact(input)
	if strings.Contains(got, "example.com") {
		t.Errorf("lookalike email survived redaction: %q", got)
	}
	if !strings.HasPrefix(got, "[REDACTED:") {
		t.Errorf("whole value should be replaced on normalized match, got %q", got)
	}
}

func TestRedactor_RedactDetail(t *testing.T) {
	r := NewRedactor()

	detail := map[string]string{
		"contact": "jane.doe@example.com",
		"summary": "rear-end collision",
	}
	got := r.RedactDetail(detail)

	if got["contact"] != "[REDACTED:email]" {
		t.Errorf("contact = %q", got["contact"])
	}
	if got["summary"] != "rear-end collision" {
		t.Errorf("summary changed: %q", got["summary"])
	}
	// Source map untouched
	if detail["contact"] != "jane.doe@example.com" {
		t.Error("RedactDetail mutated its input")
	}

	if r.RedactDetail(nil) != nil {
		t.Error("RedactDetail(nil) should return nil")
	}
}
