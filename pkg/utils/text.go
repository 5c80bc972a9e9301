// Package utils provides shared logging and text helpers.
package utils

import "unicode/utf8"

const ellipsis = "..."

// Truncate returns s cut to at most maxLen runes, with "..." appended if it
// was cut. Multi-byte characters are never split. If maxLen is 0 or negative,
// s is returned unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}
