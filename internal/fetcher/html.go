package fetcher

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlToText flattens an HTML fragment to plain text, one paragraph per
// block element. Plain text input passes through unchanged.
func htmlToText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseBlankLines(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseBlankLines(fragment)
	}
	doc.Find("script, style, noscript, iframe").Remove()

	var paragraphs []string
	blocks := doc.Find("p, h1, h2, h3, h4, li, blockquote")
	if blocks.Length() == 0 {
		return collapseBlankLines(doc.Text())
	}
	blocks.Each(func(_ int, s *goquery.Selection) {
		// nested blocks are picked up by their parent
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n")
}

// collapseBlankLines trims each line and keeps at most one blank line between paragraphs.
func collapseBlankLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// pageImage returns the og:image or twitter:image of an HTML page.
func pageImage(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return ""
	}
	for _, sel := range []string{`meta[property="og:image"]`, `meta[name="twitter:image"]`} {
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}
