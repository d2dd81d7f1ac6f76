package models

import (
	"sort"
	"time"
)

// Candidate is one scraped item in flight through a pipeline pass. It is never persisted.
type Candidate struct {
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Link          string     `json:"link"`
	CanonicalLink string     `json:"canonical_link"`
	MediaRef      string     `json:"media_ref,omitempty"`
	SourceID      string     `json:"source_id"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
}

// ItemStatus is the acceptance state of a stored item.
type ItemStatus string

const (
	ItemStatusAccepted ItemStatus = "accepted"
)

// ProcessedItem is the durable record created when a candidate is accepted.
// CanonicalLink is globally unique; the pipeline never mutates an item after creation.
type ProcessedItem struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	OriginalTitle   string     `json:"original_title"`
	OriginalBody    string     `json:"original_body"`
	CanonicalLink   string     `json:"canonical_link"`
	SourceID        string     `json:"source_id"`
	MediaRef        string     `json:"media_ref,omitempty"`
	QualityScore    float64    `json:"quality_score"`
	UniquenessScore float64    `json:"uniqueness_score"`
	Categories      []string   `json:"categories"`
	ContentHash     string     `json:"content_hash"`
	UsedFallback    bool       `json:"used_fallback"`
	Status          ItemStatus `json:"status"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NormalizeCategories deduplicates and sorts categories; the set is order-irrelevant.
func NormalizeCategories(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// DuplicateReason names the signal that flagged a candidate as already ingested.
type DuplicateReason string

const (
	DuplicateNone        DuplicateReason = "none"
	DuplicateExactLink   DuplicateReason = "exact_link"
	DuplicateContentHash DuplicateReason = "content_hash"
	DuplicateNearText    DuplicateReason = "near_text_similarity"
)

// DuplicateVerdict is the Duplicate Detector's answer for one candidate.
type DuplicateVerdict struct {
	IsDuplicate   bool            `json:"is_duplicate"`
	Reason        DuplicateReason `json:"reason"`
	MaxSimilarity float64         `json:"max_similarity"` // highest near-text similarity seen, 0..1
	MatchedLink   string          `json:"matched_link,omitempty"`
	ContentHash   string          `json:"content_hash"`
}

// Analysis is the Quality & Category Analyzer's output.
type Analysis struct {
	QualityScore    float64            `json:"quality_score"`
	UniquenessScore float64            `json:"uniqueness_score"`
	Categories      []string           `json:"categories"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Degraded        []string           `json:"degraded,omitempty"` // sub-metrics that fell back to neutral
}

// DecisionReason explains an accept/reject decision.
type DecisionReason string

const (
	ReasonAccepted      DecisionReason = "accepted"
	ReasonDuplicate     DecisionReason = "duplicate"
	ReasonLowQuality    DecisionReason = "low_quality"
	ReasonLowUniqueness DecisionReason = "low_uniqueness"
)

// Decision is the Decision Gate's verdict.
type Decision struct {
	Accept bool           `json:"accept"`
	Reason DecisionReason `json:"reason"`
}

// Thresholds are run-scoped acceptance limits on a 0..100 scale.
type Thresholds struct {
	MinQuality    float64 `json:"min_quality"`
	MinUniqueness float64 `json:"min_uniqueness"`
}

const (
	DefaultMinQuality    = 60.0
	DefaultMinUniqueness = 70.0
)

// DefaultThresholds returns the stock acceptance limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinQuality:    DefaultMinQuality,
		MinUniqueness: DefaultMinUniqueness,
	}
}
