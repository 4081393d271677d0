// Package extract turns free-form message text into normalized ticker-symbol
// mentions. Extraction is a pure function with no dependencies on storage or
// transport.
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mention is one recognized occurrence of a ticker symbol within a text.
type Mention struct {
	Symbol string // normalized uppercase symbol, 2-6 letters
	Offset int    // byte offset of the candidate within the text
}

// candidatePattern matches a possibly $/# prefixed run of 2-6 Latin letters.
// Word-boundary rules are enforced separately so that a candidate embedded in
// a longer word or glued to a digit never matches.
var candidatePattern = regexp.MustCompile(`[$#]?[A-Za-z]{2,6}`)

// stopwords are common words that fit the ticker pattern. They are filtered
// out for bare candidates only; a $ or # prefix signals explicit intent and
// bypasses the filter.
var stopwords = map[string]struct{}{
	"THE": {}, "AND": {}, "FOR": {}, "WITH": {}, "THIS": {}, "THAT": {},
	"FROM": {}, "YOUR": {}, "ABOUT": {}, "WHAT": {}, "WHEN": {}, "WHERE": {},
	"HOW": {}, "WILL": {}, "HAVE": {}, "JUST": {}, "LIKE": {}, "ALL": {},
	"YOU": {}, "BUY": {}, "SELL": {}, "HOLD": {}, "NOW": {}, "TOO": {},
	"COIN": {}, "TOKEN": {}, "GROUP": {}, "CHANNEL": {},
}

// Extract scans text for ticker-symbol mentions and returns them in text
// order, one entry per occurrence. It never fails: malformed or empty input
// yields an empty result.
func Extract(text string) []Mention {
	if text == "" {
		return nil
	}

	var mentions []Mention
	for _, loc := range candidatePattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if isWordChar(runeBefore(text, start)) || isWordChar(runeAt(text, end)) {
			continue
		}

		token := text[start:end]
		prefixed := token[0] == '$' || token[0] == '#'
		body := token
		if prefixed {
			body = token[1:]
		}

		symbol := strings.ToUpper(body)
		if !prefixed {
			if _, ok := stopwords[symbol]; ok {
				continue
			}
		}

		mentions = append(mentions, Mention{Symbol: symbol, Offset: start})
	}

	return mentions
}

// isWordChar reports whether r would glue a candidate into a larger word.
func isWordChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func runeBefore(s string, i int) rune {
	if i <= 0 {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return r
}

func runeAt(s string, i int) rune {
	if i >= len(s) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r
}
