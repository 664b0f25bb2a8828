package detect

import (
	"regexp"
	"strings"
)

var (
	whitespaceRE  = regexp.MustCompile(`\s+`)
	punctuationRE = regexp.MustCompile(`[^\w\s]`)
)

// normalizeText lowercases, strips punctuation and collapses whitespace so
// cosmetic differences do not register as changes.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = punctuationRE.ReplaceAllString(s, "")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// jaccard computes intersection-over-union of the word sets of two
// normalized strings. Empty input scores zero against anything.
func jaccard(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
