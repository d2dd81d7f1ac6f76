package rewrite

import (
	"strings"
	"unicode/utf8"
)

// DefaultTitlePrompt is used when no title template is configured.
const DefaultTitlePrompt = `You are a professional news editor. Rewrite the headline below so that it is unique and engaging while keeping its exact meaning.
Keep the language of the original. Keep names, places and numbers unchanged. Aim for 8-12 words.
Reply with the new headline only, without quotes or comments.`

// DefaultBodyPrompt is used when no body template is configured.
const DefaultBodyPrompt = `You are an experienced news analyst and journalist. Rewrite the article below, preserving every fact.
Change the structure and wording, use synonyms and alternative phrasing, and keep all figures, dates, names and places.
Keep the language of the original. Split the text into paragraphs with blank lines.
Reply with the rewritten article only, without headings, markdown or comments.`

var labelPrefixes = []string{
	"title:", "headline:", "new title:", "article:", "text:",
	"заголовок:", "новый заголовок:", "статья:", "текст:",
}

var refusalPrefixes = []string{
	"i'm sorry", "i am sorry", "i cannot", "i can't", "as an ai",
	"извините", "к сожалению, я не могу", "как языковая модель",
}

var quotePairs = [][2]string{
	{`"`, `"`}, {"'", "'"}, {"«", "»"}, {"“", "”"}, {"„", "“"},
}

// CleanResponse strips residual markup that models wrap around the answer:
// code fences, bold markers, heading marks, "Title:" style labels and
// surrounding quotes.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = stripFences(s)

	for {
		before := s
		s = strings.TrimSpace(s)
		s = strings.TrimLeft(s, "#")
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "**") && strings.HasSuffix(s, "**") && len(s) >= 4 {
			s = strings.TrimSpace(s[2 : len(s)-2])
		}
		s = stripLabel(s)
		s = stripQuotes(s)
		if s == before {
			return s
		}
	}
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func stripLabel(s string) string {
	lower := strings.ToLower(s)
	for _, p := range labelPrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(s[len(p):])
		}
		// "**Title:** text"
		if strings.HasPrefix(lower, "**"+p+"**") {
			return strings.TrimSpace(s[len(p)+4:])
		}
	}
	return s
}

func stripQuotes(s string) string {
	for _, q := range quotePairs {
		if strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) &&
			utf8.RuneCountInString(s) >= 2 && len(s) >= len(q[0])+len(q[1]) {
			inner := s[len(q[0]) : len(s)-len(q[1])]
			if !strings.Contains(inner, q[0]) || q[0] != q[1] {
				return strings.TrimSpace(inner)
			}
		}
	}
	return s
}

func isRefusal(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range refusalPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
