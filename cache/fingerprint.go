package cache

import (
	"strings"
	"unicode"

	"github.com/zeebo/xxh3"
)

// Canonicalize normalizes request text so trivially different phrasings of
// the same request share a fingerprint: lowercased, trimmed, inner
// whitespace runs collapsed to a single space.
func Canonicalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inSpace := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte(' ')
			inSpace = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Fingerprint derives the exact/negative cache key from request text.
func Fingerprint(text string) uint64 {
	return xxh3.HashString(Canonicalize(text))
}
