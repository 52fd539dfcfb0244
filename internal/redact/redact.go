// Package redact scrubs credentials, tokens, filesystem paths and other
// internals from strings before they are logged or returned to clients.
package redact

import "regexp"

// Redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules may consume text later rules would match.
var rules = []rule{
	// panic stacks from recovered executor goroutines
	{regexp.MustCompile(`(?s)\s*goroutine \d+ \[.*`), " [STACK_TRACE_REDACTED]"},

	// user:password@ in database and cache DSNs
	{regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|rediss?)://[^\s@/]+@`), RedactedCredentialPlaceholder},

	// session tokens
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[REDACTED_JWT]"},

	// Google API keys
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`), RedactedKeyPlaceholder},

	// opaque bearer tokens
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/]{8,}=*`), "Bearer [REDACTED_TOKEN]"},

	// credentials in query strings
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|token|access_token)=)[^&\s"]+`), "${1}" + RedactionPlaceholder},

	// key=value and key: value assignments
	{regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)(\s*[=:]\s*)['"]?[^\s'"&,]{4,}`), "${1}${2}" + RedactionPlaceholder},

	// absolute filesystem paths, not URL paths
	{regexp.MustCompile(`(^|[\s"'(=])(?:/[\w.-]+){2,}`), "${1}" + RedactedPathPlaceholder},

	// SQL statements echoed by the driver
	{regexp.MustCompile(`\b(?:SELECT|INSERT|UPDATE|DELETE)\b[^;]*?\b(?:FROM|INTO|SET)\b[^;\n]*`), "[REDACTED_SQL]"},
}

// String redacts sensitive information from input.
func String(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, r := range rules {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}
	return out
}

// Error redacts sensitive information from err.Error(). A nil error
// yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
