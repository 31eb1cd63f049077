// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// SinceDefault turns a look-back window such as "36h" or "7d" into the
// instant that far before now. Empty or unparsable input falls back to def;
// a non-positive window yields the zero time (no lower bound).
func SinceDefault(s string, def time.Duration, now time.Time) time.Time {
	d := def
	if v := strings.TrimSpace(s); v != "" {
		if parsed, err := str2duration.ParseDuration(v); err == nil {
			d = parsed
		}
	}
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(-d)
}
