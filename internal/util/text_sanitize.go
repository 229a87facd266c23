package util

import "strings"

// SanitizeText removes bytes and control characters that Postgres text columns reject
// (NUL from some PDF extractors in particular) and normalizes line endings.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch == '\r' {
			r = append(r, '\n')
			continue
		}
		if ch < 0x20 || ch == 0x7f {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}
