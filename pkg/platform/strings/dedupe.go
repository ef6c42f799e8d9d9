// Package strings holds list helpers for configuration and directory input.
package strings

import (
	"strings"
)

// DedupeFold trims each value, drops blanks and removes case-insensitive
// duplicates. The first spelling seen wins and order is preserved.
func DedupeFold(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// SplitList splits a comma separated list such as KAFKA_BROKERS and
// returns its distinct, non-empty entries.
func SplitList(s string) []string {
	return DedupeFold(strings.Split(s, ","))
}
