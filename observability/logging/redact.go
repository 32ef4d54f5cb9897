package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of credential-bearing attributes.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag a key as carrying a credential when they appear
// anywhere in its lower-cased form.
var sensitiveMarkers = []string{
	"secret",
	"password",
	"accesstoken",
	"bearer",
	"authorization",
	"redisurl",
	"otlpheaders",
}

// IsSensitive reports whether values logged under key must be redacted.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// redact masks attr when its key is sensitive. Empty values are kept so an
// unset credential stays visible as unset.
func redact(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && attr.Value.String() == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
