package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeToken converts a string to a lowercase filesystem-safe token.
// Letters and digits are kept (lower-cased), hyphens and underscores are
// kept, and everything else becomes an underscore. Runs of underscores are
// collapsed. Returns "unknown" for empty input.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	lastUnderscore := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

// StemToken returns SanitizeToken of the file name in path without its
// extension, e.g. "/stories/Camping Trip.yaml" becomes "camping_trip".
func StemToken(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	return SanitizeToken(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Ellipsize shortens s to at most width runes, replacing the tail with "…".
// Newlines are flattened to spaces first.
func Ellipsize(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:width-1]), " ") + "…"
}
