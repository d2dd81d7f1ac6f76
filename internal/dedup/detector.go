package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warsite/contentpipe/internal/models"
)

// ItemLookup answers exact-match questions against persisted items.
type ItemLookup interface {
	ExistsByLink(ctx context.Context, link string) (bool, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
}

// RecentLoader loads stored items used to warm the window.
type RecentLoader interface {
	RecentBySource(ctx context.Context, sourceID string, limit int) ([]models.ProcessedItem, error)
}

// Config holds duplicate detection thresholds.
type Config struct {
	Threshold          float64 // body similarity at or above which a candidate is a near duplicate
	TitleThreshold     float64 // title similarity that enables the relaxed body threshold
	TitleBodyThreshold float64
	WindowSize         int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:          0.85,
		TitleThreshold:     0.7,
		TitleBodyThreshold: 0.6,
		WindowSize:         DefaultWindowSize,
	}
}

// Detector decides whether a candidate was already ingested.
type Detector struct {
	store  ItemLookup
	window *Window
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a detector. store may be nil, in which case only the
// near-duplicate window is consulted.
func NewDetector(store ItemLookup, cfg Config, logger *slog.Logger) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.TitleThreshold <= 0 {
		cfg.TitleThreshold = DefaultConfig().TitleThreshold
	}
	if cfg.TitleBodyThreshold <= 0 {
		cfg.TitleBodyThreshold = DefaultConfig().TitleBodyThreshold
	}
	return &Detector{
		store:  store,
		window: NewWindow(cfg.WindowSize),
		cfg:    cfg,
		logger: logger,
	}
}

// Check runs exact link, content hash and near-text checks in order and stops
// at the first match. Store errors are logged and the step is skipped.
func (d *Detector) Check(ctx context.Context, c models.Candidate) models.DuplicateVerdict {
	link := c.CanonicalLink
	if link == "" {
		link = CanonicalLink(c.Link)
	}
	verdict := models.DuplicateVerdict{
		Reason:      models.DuplicateNone,
		ContentHash: ContentHash(c.Title, c.Body),
	}

	if d.store != nil {
		exists, err := d.store.ExistsByLink(ctx, link)
		if err != nil {
			d.logger.Warn("duplicate link check failed, treating as new", "source_id", c.SourceID, "link", link, "error", err)
		} else if exists {
			verdict.IsDuplicate = true
			verdict.Reason = models.DuplicateExactLink
			verdict.MaxSimilarity = 1
			verdict.MatchedLink = link
			return verdict
		}

		exists, err = d.store.ExistsByHash(ctx, verdict.ContentHash)
		if err != nil {
			d.logger.Warn("duplicate hash check failed, treating as new", "source_id", c.SourceID, "link", link, "error", err)
		} else if exists {
			verdict.IsDuplicate = true
			verdict.Reason = models.DuplicateContentHash
			verdict.MaxSimilarity = 1
			return verdict
		}
	}

	fp := NewFingerprint(link, c.Title, c.Body)
	for _, other := range d.window.Snapshot(c.SourceID) {
		sim := Similarity(fp, other)
		if sim > verdict.MaxSimilarity {
			verdict.MaxSimilarity = sim
		}

		near := sim >= d.cfg.Threshold ||
			(sim >= d.cfg.TitleBodyThreshold && TitleSimilarity(fp, other) >= d.cfg.TitleThreshold)
		if near {
			verdict.IsDuplicate = true
			verdict.Reason = models.DuplicateNearText
			verdict.MatchedLink = other.Link
			return verdict
		}
	}

	return verdict
}

// Remember appends an accepted item's original text to the source's window.
func (d *Detector) Remember(sourceID, link, title, body string) {
	d.window.Add(sourceID, NewFingerprint(link, title, body))
}

// Warm fills the window for each source from stored items, oldest first.
func (d *Detector) Warm(ctx context.Context, loader RecentLoader, sourceIDs []string) error {
	for _, id := range sourceIDs {
		items, err := loader.RecentBySource(ctx, id, d.window.Size())
		if err != nil {
			return fmt.Errorf("failed to warm duplicate window for %s: %w", id, err)
		}
		for i := len(items) - 1; i >= 0; i-- {
			item := items[i]
			title, body := item.OriginalTitle, item.OriginalBody
			if title == "" && body == "" {
				title, body = item.Title, item.Body
			}
			d.Remember(id, item.CanonicalLink, title, body)
		}
		d.logger.Debug("duplicate window warmed", "source_id", id, "items", len(items))
	}
	return nil
}

// WindowLen reports how many recent items are held for a source.
func (d *Detector) WindowLen(sourceID string) int {
	return d.window.Len(sourceID)
}
