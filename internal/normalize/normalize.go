package normalize

import "strings"

// UserID returns the form of a user id used for storage and comparisons.
// Ids are opaque and case-sensitive, so normalization only trims
// surrounding whitespace.
func UserID(id string) string {
	return strings.TrimSpace(id)
}

// Pair returns both user ids normalized and in canonical (byte-wise
// ascending) order, so that (a, b) and (b, a) name the same conversation.
func Pair(a, b string) (string, string) {
	a, b = UserID(a), UserID(b)
	if b < a {
		return b, a
	}
	return a, b
}
