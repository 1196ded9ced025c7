package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"api_token":     {},
	"bearer":        {},
	"token":         {},
	"secret":        {},
	"private_key":   {},
	"passphrase":    {},
}

// IsSensitive reports whether a log attribute key must be masked before emission.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// Redact replaces the value of sensitive attributes with RedactedValue.
func Redact(attr slog.Attr) slog.Attr {
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}
