package domain

import (
	"strings"
	"unicode/utf8"
)

// Document is immutable source text indexed by Unicode code point.
type Document struct {
	text  string
	runes []rune
}

func NewDocument(text string) *Document {
	return &Document{text: text, runes: []rune(text)}
}

func (d *Document) Text() string {
	return d.text
}

// Len returns the length in code points.
func (d *Document) Len() int {
	return len(d.runes)
}

// Runes exposes the code points. Callers must not modify the slice.
func (d *Document) Runes() []rune {
	return d.runes
}

// InBounds reports whether 0 <= start < end <= Len().
func (d *Document) InBounds(start, end int) bool {
	return start >= 0 && start < end && end <= len(d.runes)
}

// Slice returns the text in [start, end). Out-of-range bounds are clamped.
func (d *Document) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(d.runes) {
		end = len(d.runes)
	}
	if start >= end {
		return ""
	}
	return string(d.runes[start:end])
}

// Matches reports whether the entity's offsets index exactly its claimed text.
func (d *Document) Matches(e Entity) bool {
	return d.InBounds(e.StartChar, e.EndChar) && d.Slice(e.StartChar, e.EndChar) == e.Text
}

// IndexAll returns the code-point offset of every occurrence of needle,
// overlapping occurrences included.
func (d *Document) IndexAll(needle string) []int {
	if needle == "" {
		return nil
	}
	var positions []int
	bytePos, runePos := 0, 0
	for bytePos <= len(d.text) {
		i := indexFrom(d.text, needle, bytePos)
		if i < 0 {
			break
		}
		runePos += utf8.RuneCountInString(d.text[bytePos:i])
		positions = append(positions, runePos)

		// step one code point past the match start
		_, size := utf8.DecodeRuneInString(d.text[i:])
		bytePos = i + size
		runePos++
	}
	return positions
}

func indexFrom(s, substr string, from int) int {
	if from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], substr)
	if i < 0 {
		return -1
	}
	return from + i
}
