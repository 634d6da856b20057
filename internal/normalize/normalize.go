// Package normalize holds the canonical forms used for storage and comparison.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Body returns a message body with surrounding whitespace removed and
// Windows line endings folded to "\n". Inner whitespace is kept as typed.
func Body(b string) string {
	b = strings.ReplaceAll(b, "\r\n", "\n")
	return strings.TrimSpace(b)
}

// Name trims a display name and collapses runs of inner whitespace.
func Name(n string) string {
	return strings.Join(strings.Fields(n), " ")
}

// ID trims an opaque identifier received from a client.
func ID(id string) string {
	return strings.TrimSpace(id)
}
