// Package redact strips credentials from text before it leaves the process:
// tool results, error messages, replies and audit records.
package redact

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxResultLength is the rune limit SanitizeResult applies when given a
// non-positive length.
const DefaultMaxResultLength = 50000

type rule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// rules are applied first to last. Earlier rules may consume text a later
// rule would also match, so the order is part of the output format.
var rules = []rule{
	{"private-key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?)(?:-----END [A-Z ]*PRIVATE KEY-----|\z)`), "[REDACTED_PRIVATE_KEY]"},
	{"bearer", regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9_\-\.=+/]{20,}`), "Bearer [REDACTED]"},
	{"subscription-token", regexp.MustCompile(`X-Subscription-Token[=:\s]+['"]?[A-Za-z0-9_\-]{10,}['"]?`), "X-Subscription-Token: [REDACTED]"},
	{"basic-auth-url", regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.\-]*://)[^\s:/@]+:[^\s@/]+@`), "${1}[REDACTED]@"},
	{"stripe", regexp.MustCompile(`\b[sr]k_live_[0-9a-zA-Z]{24,}`), "[REDACTED_API_KEY]"},
	{"sk-key", regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`), "[REDACTED_API_KEY]"},
	{"key-key", regexp.MustCompile(`key-[a-zA-Z0-9]{20,}`), "[REDACTED_API_KEY]"},
	{"github", regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,})`), "[REDACTED_TOKEN]"},
	{"slack", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z\-]{10,}`), "[REDACTED_TOKEN]"},
	{"token", regexp.MustCompile(`(?i)token[=:\s]+['"]?[a-zA-Z0-9_\-]{20,}['"]?`), "[REDACTED_TOKEN]"},
	{"aws-access-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED_AWS_KEY]"},
	{"aws-secret", regexp.MustCompile(`(?i)aws_secret_access_key\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`), "[REDACTED_AWS_KEY]"},
	{"api-key", regexp.MustCompile(`(?i)api[_\-]?key[=:\s]+['"]?[a-zA-Z0-9_\-]{10,}['"]?`), "[REDACTED_API_KEY]"},
	{"api-secret", regexp.MustCompile(`(?i)api_secret[=:\s]+['"]?[a-zA-Z0-9_\-]{10,}['"]?`), "[REDACTED_SECRET]"},
	{"password", regexp.MustCompile(`(?i)pass(?:word|wd)[=:\s]+['"]?[^\s'"]{6,}['"]?`), "[REDACTED_PASSWORD]"},
	{"secret", regexp.MustCompile(`(?i)\b(?:client_|secret_)?secret(?:_key)?\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`), "[REDACTED_SECRET]"},
}

// RuleNames lists the rules in application order.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// Sanitize replaces every credential-shaped substring of text. It never fails.
func Sanitize(text string) string {
	for _, r := range rules {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

// SanitizeAny sanitizes the default string form of v.
func SanitizeAny(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return Sanitize(x)
	case error:
		return SanitizeError(x)
	default:
		return Sanitize(fmt.Sprint(v))
	}
}

// SanitizeError sanitizes err's message. A nil error yields "".
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// SanitizeResult sanitizes text and truncates it to maxLength runes,
// reporting how many were dropped.
func SanitizeResult(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxResultLength
	}
	text = Sanitize(text)
	total := utf8.RuneCountInString(text)
	if total <= maxLength {
		return text
	}
	cut := len(text)
	n := 0
	for i := range text {
		if n == maxLength {
			cut = i
			break
		}
		n++
	}
	return fmt.Sprintf("%s\n... (truncated, %d more chars)", text[:cut], total-maxLength)
}

// Error wraps err so that its message is sanitized wherever it is printed.
// errors.Is and errors.As still reach the original.
func Error(err error) error {
	if err == nil {
		return nil
	}
	return &sanitizedError{err: err}
}

type sanitizedError struct{ err error }

func (e *sanitizedError) Error() string { return SanitizeError(e.err) }
func (e *sanitizedError) Unwrap() error { return e.err }

const redactedPlaceholder = "[REDACTED]"

var sensitiveEnvNames = []string{
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITHUB_PAT",
	"API_KEY",
	"SECRET",
	"TOKEN",
	"PASSWORD",
	"PASSWD",
	"DATABASE_URL",
	"REDIS_URL",
	"MONGO_URL",
}

// RedactEnvVars replaces the values of NAME=value entries whose name looks
// sensitive.
func RedactEnvVars(envVars []string) []string {
	result := make([]string, 0, len(envVars))
	for _, env := range envVars {
		name, _, ok := strings.Cut(env, "=")
		if ok && isSensitiveEnvName(name) {
			result = append(result, name+"="+redactedPlaceholder)
			continue
		}
		result = append(result, env)
	}
	return result
}

func isSensitiveEnvName(name string) bool {
	upper := strings.ToUpper(name)
	for _, s := range sensitiveEnvNames {
		if strings.Contains(upper, s) {
			return true
		}
	}
	return false
}

// RedactArgs sanitizes each element of args.
func RedactArgs(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = Sanitize(arg)
	}
	return result
}
