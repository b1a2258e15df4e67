package cmdguard

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Threat is a hidden or deceptive character found in a command.
type Threat struct {
	Category  string // "zero-width", "bidi-override", "tag-char", "control-char", "invalid-utf8", "homoglyph-*"
	Codepoint string // e.g. "U+200B"
	Position  int    // byte offset
	Block     bool   // false for audit-only findings
}

func (t Threat) String() string {
	return fmt.Sprintf("%s %s at byte %d", t.Category, t.Codepoint, t.Position)
}

// ScanUnicode reports every hidden, control or confusable character in s.
// Tab, newline and carriage return are left to the injection screen.
func ScanUnicode(s string) []Threat {
	var threats []Threat
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			threats = append(threats, Threat{
				Category:  "invalid-utf8",
				Codepoint: fmt.Sprintf("0x%02X", s[i]),
				Position:  i,
				Block:     true,
			})
			i++
			continue
		}
		if cat := classifyRune(r); cat != "" {
			threats = append(threats, Threat{
				Category:  cat,
				Codepoint: fmt.Sprintf("U+%04X", r),
				Position:  i,
				Block:     !isHomoglyphCategory(cat),
			})
		}
		i += size
	}
	return threats
}

func classifyRune(r rune) string {
	switch {
	case isZeroWidth(r):
		return "zero-width"
	case isBidiOverride(r):
		return "bidi-override"
	case isTagCharacter(r):
		return "tag-char"
	case isUnsafeControl(r):
		return "control-char"
	}
	if unicode.Is(unicode.Cyrillic, r) {
		if _, ok := cyrillicHomoglyphs[r]; ok {
			return "homoglyph-cyrillic"
		}
	}
	if unicode.Is(unicode.Greek, r) {
		if _, ok := greekHomoglyphs[r]; ok {
			return "homoglyph-greek"
		}
	}
	return ""
}

func isHomoglyphCategory(cat string) bool {
	return cat == "homoglyph-cyrillic" || cat == "homoglyph-greek"
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
		'\u2060', // WORD JOINER
		'\u180E', // MONGOLIAN VOWEL SEPARATOR
		'\u200E', // LEFT-TO-RIGHT MARK
		'\u200F': // RIGHT-TO-LEFT MARK
		return true
	}
	return false
}

func isBidiOverride(r rune) bool {
	switch r {
	case '\u202A', '\u202B', '\u202C', '\u202D', '\u202E',
		'\u2066', '\u2067', '\u2068', '\u2069':
		return true
	}
	return false
}

func isTagCharacter(r rune) bool {
	return r >= 0xE0001 && r <= 0xE007F
}

func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

var cyrillicHomoglyphs = map[rune]rune{
	'а': 'a', 'А': 'A', 'В': 'B', 'с': 'c', 'С': 'C', 'е': 'e', 'Е': 'E',
	'Н': 'H', 'і': 'i', 'І': 'I', 'К': 'K', 'М': 'M', 'о': 'o', 'О': 'O',
	'р': 'p', 'Р': 'P', 'Т': 'T', 'х': 'x', 'Х': 'X', 'у': 'y', 'У': 'Y',
}

var greekHomoglyphs = map[rune]rune{
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'ο': 'o', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y', 'Ζ': 'Z',
}
