package dlq

import "strings"

// Redacted replaces the value of every sensitive kwarg.
const Redacted = "[REDACTED]"

// sensitiveKeys are normalized key names whose values are never stored.
var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"authtoken",
	"sessionkey",
	"csrftoken",
}

// Sanitize returns a copy of kwargs with sensitive values replaced by
// [Redacted]. Nested maps and slices are sanitized recursively; kwargs
// itself is not modified. A key is sensitive when, lower-cased with '_',
// '-' and spaces removed, it equals or ends with one of the sensitive
// names ("password", "db_password", "X-Api-Key" all match; "max_tokens"
// does not).
func Sanitize(kwargs map[string]any) map[string]any {
	if kwargs == nil {
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Sanitize(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

// IsSensitiveKey reports whether values under key are redacted.
func IsSensitiveKey(key string) bool {
	norm := normalizeKey(key)
	for _, s := range sensitiveKeys {
		if strings.HasSuffix(norm, s) {
			return true
		}
	}
	return false
}

func normalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(key) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
