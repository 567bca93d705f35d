// Package vin validates Vehicle Identification Numbers.
package vin

import (
	"regexp"
	"strings"
)

// ISO 3779: 17 characters, letters I, O and Q excluded.
var pattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// Normalize trims surrounding whitespace and upper-cases a raw VIN.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Valid reports whether v is a well-formed VIN. It does not check the
// check digit; sources in the wild disagree on it for non-US vehicles.
func Valid(v string) bool {
	if len(v) != 17 {
		return false
	}
	return pattern.MatchString(v)
}
