package dedup

import (
	"strings"
	"unicode"
)

// fillerTokens are dropped from names before comparison. Listing covers the
// English and Portuguese noise words that show up in scraped listings.
var fillerTokens = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "for": {}, "with": {}, "and": {}, "or": {},
	"de": {}, "da": {}, "do": {}, "e": {}, "em": {}, "com": {}, "para": {},
	"new": {}, "novo": {}, "nova": {}, "original": {}, "oficial": {},
	"promocao": {}, "oferta": {}, "sale": {},
}

// normalizeName lowercases, strips punctuation, drops filler tokens, and
// collapses whitespace. The result is the comparison form of a product name.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	kept := fields[:0]
	for _, f := range fields {
		if _, filler := fillerTokens[f]; !filler {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// tokenSet splits a normalized name into its unique tokens.
func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(normalized) {
		set[f] = struct{}{}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b| over two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// levenshtein computes edit distance over runes using the two-row method.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// levenshteinRatio maps edit distance into a [0,1] similarity.
func levenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
