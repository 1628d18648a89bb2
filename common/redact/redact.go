// Package redact strips sensitive values from text and structured data
// before they reach a log line or the call log.
//
// Redaction works on string representations and on key names. It does not
// replace keeping credentials out of log call sites.
package redact

import (
	"fmt"
	"strings"
)

const placeholder = "[REDACTED]"

// MaxLoggedString is the length after which Params truncates string values.
const MaxLoggedString = 256

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// redacting common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Params returns a deep copy of a decoded JSON object that is safe to log:
// values under secret-looking keys become [REDACTED], long strings are cut to
// MaxLoggedString bytes, and nested objects and arrays are walked.
func Params(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if s, ok := v.(string); ok && s != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Params(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = value(e)
		}
		return out
	case string:
		return Truncate(t, MaxLoggedString)
	default:
		return v
	}
}

// Truncate shortens s to at most n bytes on a rune boundary and notes the
// original size.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:cut], len(s))
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// isSensitiveKey returns true when the key name suggests it holds a secret.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "apikey", "api_key", "credential", "authorization"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
