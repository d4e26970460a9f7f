package constraint

import (
	"strings"
)

// stopwords filters structural words out of topic extraction. The drift
// checks are keyword heuristics, not NLP; this list is tunable without
// changing any check's contract.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "but": true, "by": true, "can": true,
	"could": true, "do": true, "for": true, "from": true, "has": true,
	"have": true, "if": true, "in": true, "into": true, "is": true,
	"it": true, "its": true, "may": true, "must": true, "no": true,
	"not": true, "of": true, "on": true, "or": true, "our": true,
	"should": true, "so": true, "than": true, "that": true, "the": true,
	"their": true, "then": true, "this": true, "to": true, "use": true,
	"we": true, "were": true, "which": true, "will": true, "with": true,
	"would": true,
}

// Keywords extracts the lowercase keyword set of a text, dropping stopwords
// and tokens of three characters or fewer.
func Keywords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokenize(text) {
		if len(tok) <= 3 || stopwords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	})
}

// OverlapRatio returns the fraction of target keywords found in source.
// An empty target yields 0 so that vacuous constraints never pass as
// grounded.
func OverlapRatio(target, source map[string]bool) float64 {
	if len(target) == 0 {
		return 0
	}
	found := 0
	for k := range target {
		if source[k] {
			found++
		}
	}
	return float64(found) / float64(len(target))
}

// Jaccard returns |a ∩ b| / |a ∪ b| over two keyword sets.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SharedKeywords counts keywords longer than three characters common to
// both texts. Used by invariant pinning to drop LLM-produced duplicates.
func SharedKeywords(a, b string) int {
	ka := Keywords(a)
	kb := Keywords(b)
	n := 0
	for k := range ka {
		if kb[k] {
			n++
		}
	}
	return n
}

// ContainsTerm reports whether text contains term as a case-insensitive
// substring match on word boundaries approximated by tokenization.
func ContainsTerm(text, term string) bool {
	toks := Keywords(text)
	termToks := tokenize(term)
	if len(termToks) == 0 {
		return false
	}
	if len(termToks) == 1 {
		if len(termToks[0]) <= 3 {
			return strings.Contains(strings.ToLower(text), strings.ToLower(term))
		}
		return toks[termToks[0]]
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(term))
}
