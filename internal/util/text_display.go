package util

import "strings"

const ellipsis = "..."

// Preview returns at most maxRunes runes of s, followed by "..." when s was
// cut.
func Preview(s string, maxRunes int) string {
	r := []rune(s)
	if maxRunes <= 0 || len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + ellipsis
}

// CleanTitle collapses whitespace and strips wrapping quotes a model may add.
func CleanTitle(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)
	r := []rune(s)
	if maxRunes > 0 && len(r) > maxRunes {
		s = strings.TrimSpace(string(r[:maxRunes]))
	}
	return s
}

// MaskSecret keeps a short prefix and the last four characters of a key.
func MaskSecret(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	prefix := key[:3]
	return prefix + ellipsis + key[len(key)-4:]
}
