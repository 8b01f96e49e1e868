package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMinTokenLength drops single-character tokens.
const DefaultMinTokenLength = 2

// Tokenize splits text into lowercase word tokens: runs of letters, digits,
// marks and underscores. Tokens shorter than minLen runes are skipped.
func Tokenize(text string, minLen int) []string {
	f := func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsNumber(c) && !unicode.IsMark(c) && c != '_'
	}
	fields := strings.FieldsFunc(text, f)
	tokens := fields[:0]
	for _, field := range fields {
		if utf8.RuneCountInString(field) >= minLen {
			tokens = append(tokens, strings.ToLower(field))
		}
	}
	return tokens
}
