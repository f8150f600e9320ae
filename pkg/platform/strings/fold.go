// Package strings holds the string comparisons shared across modules.
package strings

import "strings"

// FoldEqual reports whether a and b are equal after trimming and case folding.
// Roster statuses and organizations are matched this way.
func FoldEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
