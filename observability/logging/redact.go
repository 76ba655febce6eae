package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"kind":      {},
	"op":        {},
	"method":    {},
	"route":     {},
	"status":    {},
	"requestid": {},
	"signer":    {},
	"nonce":     {},
	"component": {},
}

// Keys containing any of these fragments are masked by every handler built
// here, whatever the call site passes.
var sensitiveFragments = []string{"secret", "token", "authorization", "privatekey", "signature", "password"}

// IsAllowlisted reports whether the provided key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[normalizeKey(key)]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

func isSensitive(key string) bool {
	normalized := normalizeKey(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !isSensitive(attr.Key) {
		return attr
	}
	if strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}
