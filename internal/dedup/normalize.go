package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CanonicalLink normalises a link into the uniqueness key used for items:
// scheme and host are lowercased, default ports, query, fragment and the
// trailing slash are dropped. Unparseable input is returned trimmed.
func CanonicalLink(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	return scheme + "://" + host + path
}

// NormalizeText applies NFKC, Unicode case folding and whitespace collapsing.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// ContentHash is the SHA-256 fingerprint of a normalised title and body.
func ContentHash(title, body string) string {
	sum := sha256.Sum256([]byte(NormalizeText(title) + "\n" + NormalizeText(body)))
	return hex.EncodeToString(sum[:])
}

// tokenize splits normalised text into letter/digit runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(NormalizeText(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// contentTokens drops stop words and tokens of two runes or fewer.
func contentTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if utf8.RuneCountInString(t) <= 2 || stopWords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

var stopWords = toSet([]string{
	// ru
	"для", "что", "как", "где", "когда", "почему", "который", "которая", "которое",
	"которые", "это", "его", "она", "они", "так", "уже", "или", "при", "также",
	"было", "был", "была", "были", "будет", "после", "более", "этом", "этого",
	// en
	"the", "and", "for", "but", "with", "that", "this", "from", "was", "were",
	"are", "has", "have", "had", "not", "its", "into", "will", "been", "their",
})

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
