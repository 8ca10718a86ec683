package observability

import "regexp"

// secretTextPattern matches common credential-shaped substrings (API
// keys, bearer tokens, passwords) in free text, so tool secrets never
// reach logged request previews.
var secretTextPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*\S+`)

// RedactSecretsText replaces credential-shaped substrings in free text
// with a fixed placeholder, for use in debug-level request/response
// logging.
func RedactSecretsText(s string) string {
	return secretTextPattern.ReplaceAllString(s, "$1=***REDACTED***")
}
