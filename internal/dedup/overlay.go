package dedup

import (
	"context"
	"sync"

	"github.com/warsite/contentpipe/internal/models"
)

// Overlay is a run-scoped view over a Detector. Items remembered through it
// are checked against later candidates of the same run but never reach the
// shared window or the store.
type Overlay struct {
	base  *Detector
	local *Detector

	mu     sync.Mutex
	links  map[string]bool
	hashes map[string]bool
}

// Overlay returns an empty run-scoped view over d.
func (d *Detector) Overlay() *Overlay {
	return &Overlay{
		base:   d,
		local:  NewDetector(nil, d.cfg, d.logger),
		links:  make(map[string]bool),
		hashes: make(map[string]bool),
	}
}

// Check consults the shared detector first, then the items remembered in this run.
func (o *Overlay) Check(ctx context.Context, c models.Candidate) models.DuplicateVerdict {
	verdict := o.base.Check(ctx, c)
	if verdict.IsDuplicate {
		return verdict
	}

	link := c.CanonicalLink
	if link == "" {
		link = CanonicalLink(c.Link)
	}

	o.mu.Lock()
	seenLink, seenHash := o.links[link], o.hashes[verdict.ContentHash]
	o.mu.Unlock()

	switch {
	case seenLink:
		verdict.IsDuplicate = true
		verdict.Reason = models.DuplicateExactLink
		verdict.MaxSimilarity = 1
		verdict.MatchedLink = link
		return verdict
	case seenHash:
		verdict.IsDuplicate = true
		verdict.Reason = models.DuplicateContentHash
		verdict.MaxSimilarity = 1
		return verdict
	}

	local := o.local.Check(ctx, c)
	if local.MaxSimilarity > verdict.MaxSimilarity {
		verdict.MaxSimilarity = local.MaxSimilarity
	}
	if local.IsDuplicate {
		verdict.IsDuplicate = true
		verdict.Reason = local.Reason
		verdict.MatchedLink = local.MatchedLink
	}
	return verdict
}

// Remember records an item as if it had been stored.
func (o *Overlay) Remember(sourceID, link, title, body string) {
	o.mu.Lock()
	o.links[link] = true
	o.hashes[ContentHash(title, body)] = true
	o.mu.Unlock()

	o.local.Remember(sourceID, link, title, body)
}
