// Package utils holds small parsing helpers for HTTP query parameters.
package utils

import (
	"strconv"
	"strings"
)

// BoundedInt parses raw as a base-10 int and clamps it into [lo, hi].
// Blank or malformed input yields def, which is clamped too.
func BoundedInt(raw string, def, lo, hi int) int {
	n := def
	if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		n = v
	}
	return min(max(n, lo), hi)
}

// PageCount is the number of pages of size per needed for total rows.
func PageCount(total int64, per int) int {
	if per <= 0 || total <= 0 {
		return 0
	}
	return int((total-1)/int64(per)) + 1
}
