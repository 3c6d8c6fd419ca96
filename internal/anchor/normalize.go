package anchor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeText collapses every whitespace run to a single space and trims
// both ends.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CoreText lowercases s after removing every character that is not a letter,
// a digit or an underscore.
func CoreText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// NormalizedIndex is the normalized form of a raw string together with the
// raw byte span every normalized byte came from.
type NormalizedIndex struct {
	Text   string
	starts []int
	ends   []int
}

// NewNormalizedIndex normalizes raw exactly like NormalizeText while keeping
// the offset maps.
func NewNormalizedIndex(raw string) NormalizedIndex {
	var b strings.Builder
	var starts, ends []int
	pendingSpace := -1
	pendingEnd := -1
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRuneInString(raw[i:])
		if unicode.IsSpace(r) {
			if pendingSpace < 0 {
				pendingSpace = i
			}
			pendingEnd = i + size
			i += size
			continue
		}
		if pendingSpace >= 0 && b.Len() > 0 {
			b.WriteByte(' ')
			starts = append(starts, pendingSpace)
			ends = append(ends, pendingEnd)
		}
		pendingSpace = -1
		// Invalid bytes are copied as they are, matching NormalizeText.
		b.WriteString(raw[i : i+size])
		for k := 0; k < size; k++ {
			starts = append(starts, i)
			ends = append(ends, i+size)
		}
		i += size
	}
	return NormalizedIndex{Text: b.String(), starts: starts, ends: ends}
}

// RawSpan maps the normalized byte span [start, end) back to the raw string.
// ok is false for an empty or out-of-bounds span.
func (ix NormalizedIndex) RawSpan(start, end int) (int, int, bool) {
	if start < 0 || end > len(ix.starts) || start >= end {
		return 0, 0, false
	}
	return ix.starts[start], ix.ends[end-1], true
}

// Find returns the raw span of the first occurrence of the normalized form of
// text.
func (ix NormalizedIndex) Find(text string) (int, int, bool) {
	needle := NormalizeText(text)
	if needle == "" {
		return 0, 0, false
	}
	at := strings.Index(ix.Text, needle)
	if at < 0 {
		return 0, 0, false
	}
	return ix.RawSpan(at, at+len(needle))
}
