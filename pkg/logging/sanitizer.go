package logging

import (
	"regexp"
)

const (
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match potential passwords in connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match bearer tokens, including the Tempo-style API tokens
	// sources are configured with
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9-_.]+`)

	// Pattern to match potential API tokens in query strings or config dumps
	apiTokenPattern = regexp.MustCompile(`(?i)(api[_-]?token|api[_-]?key|token)=[A-Za-z0-9-_]{8,}`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeURL removes embedded credentials from a source URL before logging.
func SanitizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	sanitized := connStringPattern.ReplaceAllString(rawURL, "://"+RedactedText+"@"+RedactedText)
	sanitized = apiTokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return sanitized
}

// SanitizeError sanitizes error messages that might contain source credentials.
// Use this before logging any error from a source client or the database.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	sanitized := passwordPattern.ReplaceAllString(errStr, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiTokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}
