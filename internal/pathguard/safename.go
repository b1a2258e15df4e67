package pathguard

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxNameLength applies when SafeName is given a non-positive limit.
const DefaultMaxNameLength = 200

const unsafeNameChars = "<>:\"/\\|?*\x00"

// SafeName converts an arbitrary string into a single safe path component.
// The result is never empty and never longer than maxLength runes.
func SafeName(name string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxNameLength
	}
	if name == "" {
		return truncateRunes("_empty", maxLength)
	}

	name = norm.NFC.String(name)

	var b strings.Builder
	b.Grow(len(name))
	inSpace := false
	for _, r := range name {
		// Category C: controls, format, private use, surrogates, unassigned.
		if !unicode.In(r, unicode.L, unicode.M, unicode.N, unicode.P, unicode.S, unicode.Z) {
			continue
		}
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
				inSpace = true
			}
			continue
		}
		inSpace = false
		if strings.ContainsRune(unsafeNameChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), ". ")
	if out == "" || out == "." || out == ".." {
		out = "_safe"
	}
	return truncateRunes(out, maxLength)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
