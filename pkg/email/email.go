// Package email holds the address rules shared by nomination intake, the
// roster and the ballot ledger.
package email

import (
	"regexp"
	"strings"
	"unicode"
)

var shape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Normalize is the uniqueness key for an address: trimmed and lowercased.
// Callers store the address as entered and compare on the normalized form.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Valid reports whether addr looks like local@domain.tld.
func Valid(addr string) bool {
	return shape.MatchString(strings.TrimSpace(addr))
}

// DeriveNameFromEmail guesses a display name from the local part, for roster
// entries uploaded without one.
func DeriveNameFromEmail(addr string) string {
	localPart := addr
	if at := strings.IndexByte(addr, '@'); at > 0 {
		localPart = addr[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Voter"
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
