package mirror

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxNameBytes keeps names, plus an id suffix and extension, below the
// 255 byte limit of common filesystems.
const maxNameBytes = 200

// SanitizeName turns a remote display name into a single path element. It
// keeps letters, digits, spaces, '-', '_' and '.', replaces anything else
// with '_', collapses whitespace and trims spaces and dots, so the result is
// never empty, "." or "..". Blank results become fallback.
func SanitizeName(name, fallback string) string {
	name = norm.NFC.String(name)

	var b strings.Builder

	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune('_')
		}
	}

	clean := strings.Trim(strings.Join(strings.Fields(b.String()), " "), " .")
	clean = truncate(clean, maxNameBytes)

	if clean == "" {
		return fallback
	}

	return clean
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}

	return strings.TrimRight(s, " .")
}
