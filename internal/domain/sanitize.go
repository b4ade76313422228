package domain

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// CleanText strips NUL bytes, surrogate code points and invalid UTF-8 from a
// header value. Subjects and message-ids arrive from arbitrary posters and
// occasionally carry the leftovers of a botched charset conversion; those
// inputs are sanitized rather than rejected.
func CleanText(s string) string {
	if isClean(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r == 0 || utf16.IsSurrogate(r) {
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

func isClean(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == 0 || (r == utf8.RuneError && size == 1) || utf16.IsSurrogate(r) {
			return false
		}
		i += size
	}
	return true
}

// CleanMessageID sanitizes a message-id and strips the angle brackets the
// wire format carries.
func CleanMessageID(s string) string {
	s = CleanText(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}
