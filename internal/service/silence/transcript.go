package silence

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// accumulator holds the utterance in progress. Final fragments are
// committed; an interim fragment replaces the uncommitted tail.
type accumulator struct {
	committed  string
	current    string
	lastUpdate time.Time
}

func (a *accumulator) update(text string, final bool, now time.Time) {
	if final {
		a.committed = joinTranscript(a.committed, text)
		a.current = ""
	} else {
		a.current = text
	}
	a.lastUpdate = now
}

func (a *accumulator) text() string {
	return joinTranscript(a.committed, a.current)
}

func (a *accumulator) reset() {
	*a = accumulator{}
}

// joinTranscript concatenates fragments. CJK text is joined without a
// separator, other scripts with a single space.
func joinTranscript(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	last, _ := utf8.DecodeLastRuneInString(a)
	first, _ := utf8.DecodeRuneInString(b)
	if isCJK(last) || isCJK(first) {
		return a + b
	}
	return a + " " + b
}

func isCJK(r rune) bool {
	switch {
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK symbols and punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // full-width forms
		return true
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
