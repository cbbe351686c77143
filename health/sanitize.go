package health

import (
	"regexp"
	"strings"
)

// Replacement order matters: URLs contain paths and ports.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?:https?|wss?|ssl|tls|tcp|mqtts?|nats)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

var credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)

// sanitizeErrorMessage strips URLs, paths, addresses and credential values
// so error text can be served on /health.
func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	if strings.ContainsAny(msg, ":=") {
		msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}
