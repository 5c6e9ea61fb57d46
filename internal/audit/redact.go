// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// PII REDACTION
// =============================================================================

// redactPattern pairs a pattern with the marker that replaces its matches.
type redactPattern struct {
	name string
	re   *regexp.Regexp
}

// defaultRedactPatterns cover the personal data that routinely leaks into
// claim detail fields. Patterns run against both the raw value and a
// normalized form so Unicode lookalikes cannot slip identifiers through.
var defaultRedactPatterns = []redactPattern{
	{name: "email", re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{name: "ssn", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{name: "phone", re: regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`)},
	{name: "card", re: regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
}

// Redactor scrubs personally identifiable information from audit detail
// values before they are written to disk.
type Redactor struct {
	patterns []redactPattern
}

// NewRedactor returns a redactor with the default pattern set.
func NewRedactor() *Redactor {
	return &Redactor{patterns: defaultRedactPatterns}
}

// Redact replaces PII matches in s with [REDACTED:<kind>] markers. If a
// pattern only matches after normalization, the whole value is replaced,
// since the match position no longer maps back to the original text.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	out := s
	for _, p := range r.patterns {
		out = p.re.ReplaceAllString(out, "[REDACTED:"+p.name+"]")
	}

	normalized := normalizeForDetection(out)
	for _, p := range r.patterns {
		if p.re.MatchString(normalized) {
			return "[REDACTED:" + p.name + "]"
		}
	}
	return out
}

// RedactDetail returns a copy of detail with every value scrubbed.
func (r *Redactor) RedactDetail(detail map[string]string) map[string]string {
	if detail == nil {
		return nil
	}
	out := make(map[string]string, len(detail))
	for k, v := range detail {
		out[k] = r.Redact(v)
	}
	return out
}

// normalizeForDetection folds Unicode to a plain ASCII-ish form so that
// lookalike substitution cannot hide identifiers from the patterns.
func normalizeForDetection(s string) string {
	t := transform.Chain(norm.NFKD)
	normalized, _, err := transform.String(t, s)
	if err != nil {
		normalized = s
	}

	var result strings.Builder
	result.Grow(len(normalized))
	for _, r := range normalized {
		// Drop combining marks left by the decomposition
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}
