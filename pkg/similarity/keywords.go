package similarity

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxKeywords is how many ranked keywords ExtractKeywords returns by default.
const DefaultMaxKeywords = 10

// FallbackClusterName is used when no keywords survive filtering.
const FallbackClusterName = "Miscellaneous"

// minKeywordLen is the shortest token kept as a keyword.
const minKeywordLen = 3

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "been": true, "will": true, "this": true,
	"that": true, "with": true, "from": true,
}

// IsStopWord reports whether word is dropped during keyword extraction.
func IsStopWord(word string) bool {
	return stopWords[strings.ToLower(word)]
}

// ExtractKeywords tokenizes the given texts and returns up to max terms
// ranked by frequency. Ties keep first-occurrence order.
func ExtractKeywords(texts []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxKeywords
	}

	joined := strings.ToLower(strings.Join(texts, " "))
	words := tokenize(joined)

	counts := make(map[string]int)
	order := make([]string, 0, len(words))
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > max {
		order = order[:max]
	}
	return order
}

// tokenize splits text into runs of Unicode word characters (letters, numbers
// or underscore) and keeps the runs made only of a-z with at
// least minKeywordLen letters. "café" and "abc123" are words but not keywords.
func tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})
	out := words[:0]
	for _, w := range words {
		if len(w) >= minKeywordLen && isLowerASCII(w) {
			out = append(out, w)
		}
	}
	return out
}

func isLowerASCII(w string) bool {
	for i := 0; i < len(w); i++ {
		if w[i] < 'a' || w[i] > 'z' {
			return false
		}
	}
	return true
}

// ClusterName builds a human-readable name from the top three keywords,
// e.g. "Python & Programming & Data".
func ClusterName(keywords []string) string {
	if len(keywords) == 0 {
		return FallbackClusterName
	}

	top := keywords
	if len(top) > 3 {
		top = top[:3]
	}

	parts := make([]string, 0, len(top))
	for _, w := range top {
		parts = append(parts, capitalize(w))
	}
	return strings.Join(parts, " & ")
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
