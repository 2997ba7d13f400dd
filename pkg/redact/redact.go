// Package redact scrubs secrets from trace content at export time.
package redact

import (
	"log/slog"
	"regexp"
)

// Placeholder is substituted for every redacted match.
const Placeholder = "[REDACTED]"

// Pattern pairs a compiled regex with a human name, for logging.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultPatterns returns the built-in secret patterns, compiled eagerly.
// Invalid patterns (none, among the defaults) would be logged and skipped
// rather than panicking — see compile.
func DefaultPatterns() []Pattern {
	specs := []struct{ name, expr string }{
		{"openai_key", `sk-[A-Za-z0-9]{20,}`},
		{"anthropic_key", `anthropic-[A-Za-z0-9-]{20,}`},
		{"bearer_token", `Bearer\s+[A-Za-z0-9._-]{20,}`},
		{"kv_secret", `(?i)(api[_-]?key|secret|token|password)\s*[=:]\s*\S+`},
		{"aws_access_key", `AKIA[0-9A-Z]{16}`},
		{"basic_auth", `Basic\s+[A-Za-z0-9+/]{20,}={0,2}`},
		{"private_key_header", `-----BEGIN\s+\w+\s+PRIVATE\s+KEY-----`},
	}
	return compile(specs)
}

func compile(specs []struct{ name, expr string }) []Pattern {
	patterns := make([]Pattern, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			slog.Warn("redact: skipping invalid pattern", "name", s.name, "error", err)
			continue
		}
		patterns = append(patterns, Pattern{Name: s.name, Regex: re})
	}
	return patterns
}

// Redactor applies a compiled pattern set to text, replacing every match
// with Placeholder. A regex that errors during matching (Go's regexp never
// does, but a future pluggable pattern source might) falls through to
// treating the whole input as matched, per the redaction failure
// mode.
type Redactor struct {
	patterns []Pattern
}

// New builds a Redactor from patterns. Pass DefaultPatterns() for the
// documented defaults.
func New(patterns []Pattern) *Redactor {
	return &Redactor{patterns: patterns}
}

// Redact scans text against every configured pattern and returns the
// scrubbed result. Idempotent: Redact(Redact(s)) == Redact(s), since every
// match is fully replaced by a placeholder that itself matches none of the
// secret patterns.
func (r *Redactor) Redact(text string) string {
	out := text
	for _, p := range r.patterns {
		out = safeReplace(p, out)
	}
	return out
}

func safeReplace(p Pattern, text string) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("redact: pattern panicked, redacting entire content (fail-through)",
				"pattern", p.Name, "recover", rec)
			result = Placeholder
		}
	}()
	return p.Regex.ReplaceAllString(text, Placeholder)
}
