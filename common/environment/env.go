// Package environment reads process configuration from environment variables.
//
// Optional values go through the *Or helpers, which fall back to a default
// when a variable is unset, empty, or unparsable. Required values go through
// a Required collector so a misconfigured process can report every missing
// variable at once instead of failing on the first.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the first non-empty variable among names, or fallback.
// Later names act as legacy aliases of the first.
func StringOr(fallback string, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return fallback
}

// BoolOr parses name with strconv.ParseBool.
func BoolOr(name string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return b
}

// IntOr parses name as a decimal integer.
func IntOr(name string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return fallback
	}
	return n
}

// DurationOr parses name with time.ParseDuration ("30s", "5m").
func DurationOr(name string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return fallback
	}
	return d
}

// Required collects variables that must be present.
//
//	var req environment.Required
//	url := req.String("BACKEND_URL", "SUPABASE_URL")
//	key := req.String("BACKEND_KEY", "SUPABASE_KEY")
//	if err := req.Err(); err != nil { ... }
type Required struct {
	missing []string
}

// String returns the first non-empty variable among names. When none is set
// the primary name (names[0]) is recorded as missing and "" is returned.
func (r *Required) String(names ...string) string {
	if len(names) == 0 {
		return ""
	}
	if v := StringOr("", names...); v != "" {
		return v
	}
	r.missing = append(r.missing, names[0])
	return ""
}

// Missing returns the primary names of all absent variables in lookup order.
func (r *Required) Missing() []string {
	return append([]string(nil), r.missing...)
}

// Err returns an error naming every missing variable, or nil.
func (r *Required) Err() error {
	switch len(r.missing) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("required environment variable %q is not set", r.missing[0])
	default:
		return fmt.Errorf("required environment variables are not set: %s", strings.Join(r.missing, ", "))
	}
}
