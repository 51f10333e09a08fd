// Package service provides outbox support services: dead-letter publishing,
// idempotency keys for consumers, and sanitizing consumer errors before they are
// persisted.
package service

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxErrorLength bounds the stored last_error text.
const MaxErrorLength = 512

const errorTruncatedSuffix = "... (truncated)"

const redactedValue = "[REDACTED]"

type sensitivePattern struct {
	pattern     *regexp.Regexp
	replacement string
}

var sensitivePatterns = []sensitivePattern{
	{
		// credentials embedded in DSNs and URLs
		pattern:     regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`),
		replacement: `$1:` + redactedValue + `@`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`),
		replacement: "Bearer " + redactedValue,
	},
	{
		pattern:     regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\b`),
		replacement: redactedValue,
	},
	{
		pattern: regexp.MustCompile(
			`(?i)\b(api[-_ ]?key|access[-_ ]?token|refresh[-_ ]?token|password|secret)\s*[:=]\s*([^\s,;]+)`,
		),
		replacement: `$1=` + redactedValue,
	},
	{
		pattern: regexp.MustCompile(
			`(?i)([?&](?:password|pass|pwd|token|api[_-]?key|access[_-]?token)=)([^&\s]+)`,
		),
		replacement: `$1` + redactedValue,
	},
}

// SanitizeError redacts credentials from a consumer error and bounds its length
// before it is stored or published.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeErrorMessage(err.Error())
}

// SanitizeErrorMessage is SanitizeError for a plain message.
func SanitizeErrorMessage(msg string) string {
	redacted := strings.TrimSpace(msg)
	for _, p := range sensitivePatterns {
		redacted = p.pattern.ReplaceAllString(redacted, p.replacement)
	}
	return truncate(redacted, MaxErrorLength)
}

func truncate(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit - len(errorTruncatedSuffix)
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + errorTruncatedSuffix
}
