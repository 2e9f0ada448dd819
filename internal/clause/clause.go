package clause

import (
	"strings"
	"unicode/utf8"
)

// shortUtteranceChars is the length at or below which a trailing ? or ! is
// enough to close a short question or answer.
const shortUtteranceChars = 20

var (
	terminalPunctuation = ".?!;"
	continuationWords   = []string{"and", "but"}
)

// IsValidClause reports whether text reads as a finished clause.
// minTokens is the whitespace-delimited token count at which any text is accepted.
func IsValidClause(text string, minTokens int) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	last, _ := utf8.DecodeLastRuneInString(trimmed)

	if strings.ContainsRune(terminalPunctuation, last) {
		return true
	}

	if utf8.RuneCountInString(trimmed) <= shortUtteranceChars && (last == '?' || last == '!') {
		return true
	}

	tokens := strings.Fields(trimmed)
	if minTokens > 0 && len(tokens) >= minTokens {
		return true
	}

	return hasContinuationMarker(trimmed, tokens)
}

// TokenCount returns the number of whitespace-delimited tokens in text
func TokenCount(text string) int {
	return len(strings.Fields(text))
}

// hasContinuationMarker detects disfluency markers Whisper tends to leave at a
// pause: a trailing comma or dash, a trailing conjunction, or an inner "because".
func hasContinuationMarker(trimmed string, tokens []string) bool {
	if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, "-") {
		return true
	}

	if len(tokens) > 0 {
		lastWord := strings.ToLower(tokens[len(tokens)-1])
		for _, w := range continuationWords {
			if lastWord == w {
				return true
			}
		}
	}

	return strings.Contains(strings.ToLower(trimmed), " because ")
}
