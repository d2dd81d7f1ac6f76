package analysis

import (
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// document is the pre-split view of a title and body shared by all sub-metrics.
type document struct {
	title     string
	body      string
	lowerBody string
	words     []string
	sentences []int // word count per sentence
	joined    string
}

func newDocument(title, body string) *document {
	tokens := words(body)
	return &document{
		title:     strings.TrimSpace(title),
		body:      strings.TrimSpace(body),
		lowerBody: strings.ToLower(body),
		words:     tokens,
		sentences: sentenceLengths(body),
		joined:    " " + strings.Join(tokens, " ") + " ",
	}
}

// words splits text into lowercased letter/digit runs.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func sentenceLengths(s string) []int {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '…'
	})
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n := len(words(p)); n > 0 {
			out = append(out, n)
		}
	}
	return out
}

// lengthScore is 100 inside [MinWords, MaxWords], linear below and decaying
// above with a floor of 40.
func (a *Analyzer) lengthScore(d *document) (float64, error) {
	n := float64(len(d.words))
	lo, hi := float64(a.cfg.MinWords), float64(a.cfg.MaxWords)
	switch {
	case n < lo:
		return 100 * n / lo, nil
	case n > hi:
		return math.Max(40, 100*hi/n), nil
	default:
		return 100, nil
	}
}

// readabilityScore blends average sentence length (best at 15-20 words),
// sentence length spread and average word length.
func readabilityScore(d *document) (float64, error) {
	if len(d.words) == 0 || len(d.sentences) == 0 {
		return 0, nil
	}

	total := 0
	for _, n := range d.sentences {
		total += n
	}
	avg := float64(total) / float64(len(d.sentences))

	var sentenceScore float64
	switch {
	case avg >= 15 && avg <= 20:
		sentenceScore = 100
	case avg < 15:
		sentenceScore = 80 + avg/15*20
	default:
		sentenceScore = math.Max(20, 100-(avg-20)*3)
	}

	variance := 0.0
	for _, n := range d.sentences {
		diff := float64(n) - avg
		variance += diff * diff
	}
	cv := math.Sqrt(variance/float64(len(d.sentences))) / avg
	spreadScore := clamp(100-math.Max(0, cv-0.6)*80, 40, 100)

	runes := 0
	for _, w := range d.words {
		runes += utf8.RuneCountInString(w)
	}
	avgWord := float64(runes) / float64(len(d.words))
	var wordScore float64
	switch {
	case avgWord < 4:
		wordScore = 100 - (4-avgWord)*20
	case avgWord > 8:
		wordScore = 100 - (avgWord-8)*15
	default:
		wordScore = 100
	}

	return 0.6*sentenceScore + 0.2*spreadScore + 0.2*clamp(wordScore, 0, 100), nil
}

// boilerplateMarkers are leftovers of model output that should never reach a reader.
var boilerplateMarkers = []string{"```", "**", "###", "<p>", "</p>", "as an ai language", "as an ai,"}

// structureScore checks for a title, a body, paragraphs and leftover markup.
func structureScore(d *document) (float64, error) {
	score := 0.0
	if d.title != "" {
		score += 25
	}
	if d.body == "" {
		return score, nil
	}
	score += 25

	if strings.Contains(d.body, "\n\n") || len(d.words) < 80 {
		score += 20
	}

	clean := true
	lowerTitle := strings.ToLower(d.title)
	for _, m := range boilerplateMarkers {
		if strings.Contains(d.lowerBody, m) || strings.Contains(lowerTitle, m) {
			clean = false
			break
		}
	}
	if clean {
		score += 30
	}
	return score, nil
}

// targetKeywordDensity is the share of domain keywords that earns a full score.
const targetKeywordDensity = 0.02

var errNoDomainKeywords = errors.New("no domain keywords configured")

// keywordDensityScore measures how often domain keywords occur in the body.
// Keywords match at the start of a word so inflected forms count.
func (a *Analyzer) keywordDensityScore(d *document) (float64, error) {
	if len(a.keywords) == 0 {
		return 0, errNoDomainKeywords
	}
	if len(d.words) == 0 {
		return 0, nil
	}

	hits := 0
	for _, k := range a.keywords {
		hits += strings.Count(d.joined, " "+k)
	}
	density := float64(hits) / float64(len(d.words))
	return 100 * density / targetKeywordDensity, nil
}

// failureIndicators are phrases a failed or refused rewrite leaves behind.
var failureIndicators = []string{
	"i'm sorry",
	"i am sorry",
	"as an ai language model",
	"cannot assist",
	"i can't help",
	"error:",
	"как языковая модель",
	"не могу помочь",
}

// errorFreeScore loses 50 points per failure indicator found.
func errorFreeScore(d *document) (float64, error) {
	text := strings.ToLower(d.title) + "\n" + d.lowerBody
	score := 100.0
	for _, p := range failureIndicators {
		if strings.Contains(text, p) {
			score -= 50
		}
	}
	return math.Max(0, score), nil
}
