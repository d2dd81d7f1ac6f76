package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/warsite/contentpipe/internal/dedup"
	"github.com/warsite/contentpipe/internal/models"
)

const defaultMinBodyRunes = 500

// FeedConfig tunes the text feed fetcher.
type FeedConfig struct {
	// MinBodyRunes is the body length below which the article page is
	// downloaded and its readable text extracted.
	MinBodyRunes int
	// MaxItems caps candidates when the context carries no limit.
	MaxItems   int
	HTTPClient *http.Client
	// Known, when set, skips page enrichment for items already stored.
	Known LinkLookup
}

// FeedFetcher reads RSS, Atom and JSON feeds.
type FeedFetcher struct {
	cfg    FeedConfig
	client *http.Client
	parser *gofeed.Parser
	logger *slog.Logger
	now    func() time.Time
}

// NewFeedFetcher creates a text feed fetcher.
func NewFeedFetcher(cfg FeedConfig, logger *slog.Logger) *FeedFetcher {
	if cfg.MinBodyRunes <= 0 {
		cfg.MinBodyRunes = defaultMinBodyRunes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	return &FeedFetcher{
		cfg:    cfg,
		client: client,
		parser: gofeed.NewParser(),
		logger: logger,
		now:    time.Now,
	}
}

// Fetch downloads and parses the source's feed. Items without a link are
// skipped. A failed page download only loses the enrichment, not the item.
func (f *FeedFetcher) Fetch(ctx context.Context, source models.Source) ([]models.Candidate, error) {
	body, err := httpGet(ctx, f.client, source.URL)
	if err != nil {
		return nil, newFetchError(source, err)
	}

	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, newFetchError(source, fmt.Errorf("failed to parse feed: %w", err))
	}

	isReddit := strings.Contains(source.URL, "reddit.com")
	candidates := make([]models.Candidate, 0, len(feed.Items))
	limit := Limit(ctx, f.cfg.MaxItems)

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if limit > 0 && len(candidates) >= limit {
			break
		}
		if ctx.Err() != nil {
			return candidates, nil
		}

		c := f.candidateFromItem(source, item, isReddit)
		if c.Link == "" {
			f.logger.Debug("skipping feed item without link", "source_id", source.ID, "title", item.Title)
			continue
		}
		if utf8.RuneCountInString(c.Body) < f.cfg.MinBodyRunes && !f.stored(ctx, c) {
			f.enrichFromPage(ctx, &c)
		}
		candidates = append(candidates, c)
	}

	f.logger.Debug("fetched feed", "source_id", source.ID, "items", len(feed.Items), "candidates", len(candidates))
	return candidates, nil
}

func (f *FeedFetcher) candidateFromItem(source models.Source, item *gofeed.Item, isReddit bool) models.Candidate {
	content := item.Content
	if strings.TrimSpace(content) == "" {
		content = item.Description
	}

	link := strings.TrimSpace(item.Link)
	if isReddit {
		// Reddit entries link to the discussion; the article is the first external link.
		if article, err := externalLink(content); err == nil {
			link = article
		}
	}

	c := models.Candidate{
		Title:        strings.TrimSpace(htmlToText(item.Title)),
		Body:         htmlToText(content),
		Link:         link,
		SourceID:     source.ID,
		DiscoveredAt: f.now(),
	}
	if item.PublishedParsed != nil {
		t := *item.PublishedParsed
		c.PublishedAt = &t
	}

	if item.Image != nil && item.Image.URL != "" {
		c.MediaRef = item.Image.URL
	} else {
		for _, enc := range item.Enclosures {
			if enc != nil && strings.HasPrefix(enc.Type, "image/") {
				c.MediaRef = enc.URL
				break
			}
		}
	}
	return c
}

// stored reports whether the candidate's link is already in the store. Lookup
// errors count as not stored.
func (f *FeedFetcher) stored(ctx context.Context, c models.Candidate) bool {
	if f.cfg.Known == nil {
		return false
	}
	link := dedup.CanonicalLink(c.Link)
	exists, err := f.cfg.Known.ExistsByLink(ctx, link)
	if err != nil {
		f.logger.Debug("stored link lookup failed", "source_id", c.SourceID, "link", link, "error", err)
		return false
	}
	return exists
}

// enrichFromPage downloads the article page, replaces a short body with the
// page's readable text and picks up its og:image.
func (f *FeedFetcher) enrichFromPage(ctx context.Context, c *models.Candidate) {
	pageURL, err := url.Parse(c.Link)
	if err != nil || pageURL.Host == "" {
		return
	}

	page, err := httpGet(ctx, f.client, c.Link)
	if err != nil {
		f.logger.Debug("article page download failed", "source_id", c.SourceID, "link", c.Link, "error", err)
		return
	}

	if c.MediaRef == "" {
		c.MediaRef = pageImage(page)
	}

	article, err := readability.FromReader(bytes.NewReader(page), pageURL)
	if err != nil {
		f.logger.Debug("readable text extraction failed", "source_id", c.SourceID, "link", c.Link, "error", err)
		return
	}
	text := htmlToText(article.Content)
	if utf8.RuneCountInString(text) > utf8.RuneCountInString(c.Body) {
		c.Body = text
	}
	if c.Title == "" {
		c.Title = strings.TrimSpace(article.Title)
	}
}

// externalLink returns the first anchor in an HTML fragment that does not
// point back to reddit.
func externalLink(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		if strings.HasPrefix(href, "http") && !strings.Contains(href, "reddit.com") && !strings.Contains(href, "redd.it") {
			found = href
			return false
		}
		return true
	})
	if found == "" {
		return "", errors.New("no external article URL found")
	}
	return found, nil
}
