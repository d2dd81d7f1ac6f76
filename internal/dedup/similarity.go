package dedup

import "strings"

const shingleSize = 3

// Fingerprint is the precomputed token view of one item used for
// near-duplicate comparison. It is immutable once built.
type Fingerprint struct {
	Link     string
	title    map[string]bool
	tokens   map[string]bool
	shingles map[string]bool
}

// NewFingerprint builds the comparison sets for a title and body.
func NewFingerprint(link, title, body string) *Fingerprint {
	bodyTokens := tokenize(body)
	return &Fingerprint{
		Link:     link,
		title:    toSet(contentTokens(tokenize(title))),
		tokens:   toSet(contentTokens(bodyTokens)),
		shingles: shingles(bodyTokens, shingleSize),
	}
}

// Similarity returns the larger of word-shingle and token-set Jaccard similarity of the bodies.
func Similarity(a, b *Fingerprint) float64 {
	s := jaccard(a.shingles, b.shingles)
	if t := jaccard(a.tokens, b.tokens); t > s {
		s = t
	}
	return s
}

// TitleSimilarity is the token-set Jaccard similarity of the titles.
func TitleSimilarity(a, b *Fingerprint) float64 {
	return jaccard(a.title, b.title)
}

func shingles(tokens []string, k int) map[string]bool {
	set := make(map[string]bool)
	if len(tokens) == 0 {
		return set
	}
	if len(tokens) < k {
		set[strings.Join(tokens, " ")] = true
		return set
	}
	for i := 0; i+k <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+k], " ")] = true
	}
	return set
}

// jaccard computes |a∩b| / |a∪b|. Empty input never counts as similar.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
