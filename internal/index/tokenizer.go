package index

import (
	"strings"
)

// Stop words fixed at implementation time; this list is part of the index
// format version if the index is ever serialized.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "such": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "will": {}, "with": {},
}

// Tokenize lowercases the input, splits on any run of characters outside
// [a-z0-9], drops tokens shorter than two characters and stop words. The
// same tokenizer serves ingest and query parsing.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var tokens []string
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		tok := lower[start:end]
		start = -1
		if len(tok) < 2 {
			return
		}
		if _, stop := stopWords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}

	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(lower))
	return tokens
}

// TokenCounts returns the multiset of tokens in text.
func TokenCounts(text string) map[string]int {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	return counts
}
