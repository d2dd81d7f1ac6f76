package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warsite/contentpipe/internal/decision"
	"github.com/warsite/contentpipe/internal/dedup"
	"github.com/warsite/contentpipe/internal/fetcher"
	"github.com/warsite/contentpipe/internal/models"
	"github.com/warsite/contentpipe/internal/rewrite"
)

const (
	DefaultMaxCandidates = 20
	DefaultRunTimeout    = 10 * time.Minute
)

// Candidate outcome labels used for metrics.
const (
	OutcomeAccepted     = "accepted"
	OutcomeDuplicate    = "duplicate"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
	OutcomePersistError = "persist_error"
)

// Run status labels used for metrics.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// Fetcher yields raw candidates for a source.
type Fetcher interface {
	Fetch(ctx context.Context, source models.Source) ([]models.Candidate, error)
}

// Detector flags candidates that were already ingested and remembers accepted ones.
type Detector interface {
	Check(ctx context.Context, c models.Candidate) models.DuplicateVerdict
	Remember(sourceID, link, title, body string)
}

// overlayer is implemented by detectors that can hand out a run-scoped view,
// used by dry runs to remember would-be accepted items.
type overlayer interface {
	Overlay() *dedup.Overlay
}

// Rewriter produces new wording for a candidate.
type Rewriter interface {
	Rewrite(ctx context.Context, title, body string) rewrite.Result
}

// Analyzer scores rewritten content.
type Analyzer interface {
	Analyze(title, body string, maxSimilarity float64) models.Analysis
}

// ItemStore persists accepted items.
type ItemStore interface {
	Upsert(ctx context.Context, item *models.ProcessedItem) (bool, error)
}

// Recorder receives per-candidate and per-run observations.
type Recorder interface {
	RecordCandidate(source, outcome string)
	RecordRun(source, status string, elapsed time.Duration)
}

// Options are the run-scoped knobs.
type Options struct {
	Thresholds    models.Thresholds
	DryRun        bool
	MaxCandidates int
	Timeout       time.Duration
}

// DefaultOptions returns the stock run options.
func DefaultOptions() Options {
	return Options{
		Thresholds:    models.DefaultThresholds(),
		MaxCandidates: DefaultMaxCandidates,
		Timeout:       DefaultRunTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultRunTimeout
	}
	return o
}

// Dependencies wires the components a run passes candidates through.
type Dependencies struct {
	Fetcher    Fetcher
	Detector   Detector
	Rewriter   Rewriter
	Analyzer   Analyzer
	Store      ItemStore
	Metrics    Recorder // optional
	FetchRetry RetryPolicy
}

// Orchestrator runs the per-source pipeline: fetch, then for each candidate
// in order dedup, rewrite, analyze, decide and persist.
type Orchestrator struct {
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(deps Dependencies, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{deps: deps, logger: logger, now: time.Now}
}

// RunSource executes one run for a source. It never returns an error: fetch
// failures, timeouts and per-candidate problems are recorded in the result.
func (o *Orchestrator) RunSource(ctx context.Context, source models.Source, opts Options) (result models.RunResult) {
	opts = opts.withDefaults()
	result = models.RunResult{
		RunID:     uuid.New().String(),
		SourceID:  source.ID,
		StartedAt: o.now(),
		DryRun:    opts.DryRun,
	}
	logger := o.logger.With("source_id", source.ID, "run_id", result.RunID)

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	defer func() {
		result.Elapsed = o.now().Sub(result.StartedAt)
		status := runStatus(ctx, &result)
		if !opts.DryRun && o.deps.Metrics != nil {
			o.deps.Metrics.RecordRun(source.ID, status, result.Elapsed)
		}
		logger.Info("run completed",
			"status", status,
			"dry_run", opts.DryRun,
			"seen", result.Seen,
			"duplicate", result.Duplicate,
			"ai_failed", result.AIFailed,
			"rejected", result.Rejected,
			"accepted", result.Accepted,
			"elapsed_ms", result.Elapsed.Milliseconds())
	}()

	logger.Debug("run started", "source", source.GetDisplayName(), "kind", source.Kind)

	var candidates []models.Candidate
	err := Retry(runCtx, o.deps.FetchRetry, func(ctx context.Context) error {
		c, err := o.deps.Fetcher.Fetch(fetcher.WithLimit(ctx, opts.MaxCandidates), source)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Debug("fetch attempt failed", "error", err)
			return NewRetryableError(err)
		}
		candidates = c
		return nil
	})
	if err != nil {
		if o.checkDeadline(ctx, runCtx, &result, logger) {
			return result
		}
		if ctx.Err() != nil {
			return result
		}
		result.AddError(models.ErrorKindFetch, source.URL, err)
		logger.Warn("source fetch failed", "url", source.URL, "error", err)
		return result
	}

	if len(candidates) > opts.MaxCandidates {
		logger.Debug("capping candidates", "fetched", len(candidates), "max", opts.MaxCandidates)
		candidates = candidates[:opts.MaxCandidates]
	}

	detector := o.deps.Detector
	if opts.DryRun {
		if ov, ok := detector.(overlayer); ok {
			detector = ov.Overlay()
		}
	}

	for _, c := range candidates {
		if runCtx.Err() != nil {
			break
		}
		o.processCandidate(runCtx, source, c, opts, detector, &result, logger)
	}
	o.checkDeadline(ctx, runCtx, &result, logger)

	return result
}

// checkDeadline marks the run as timed out when the run deadline, and not the
// caller, ended it.
func (o *Orchestrator) checkDeadline(parent, runCtx context.Context, result *models.RunResult, logger *slog.Logger) bool {
	if parent.Err() != nil || !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return false
	}
	result.TimedOut = true
	result.AddError(models.ErrorKindRunTimeout, "", runCtx.Err())
	logger.Warn("run timed out, abandoning remaining candidates",
		"seen", result.Seen,
		"accepted", result.Accepted)
	return true
}

func runStatus(parent context.Context, r *models.RunResult) string {
	switch {
	case r.TimedOut:
		return StatusTimeout
	case parent.Err() != nil:
		return StatusCancelled
	case r.Failed():
		return StatusFailed
	default:
		return StatusSuccess
	}
}

// processCandidate moves one candidate through the chain. A panic anywhere in
// the chain is confined to this candidate.
func (o *Orchestrator) processCandidate(ctx context.Context, source models.Source, c models.Candidate, opts Options, detector Detector, result *models.RunResult, logger *slog.Logger) {
	c.SourceID = source.ID
	if c.CanonicalLink == "" {
		c.CanonicalLink = dedup.CanonicalLink(c.Link)
	}
	link := c.CanonicalLink
	result.Seen++

	defer func() {
		if r := recover(); r != nil {
			result.AddError(models.ErrorKindCandidateFailed, link, fmt.Errorf("panic: %v", r))
			o.recordCandidate(source.ID, OutcomeFailed, opts)
			logger.Error("candidate processing panicked", "link", link, "panic", r)
		}
	}()

	if link == "" {
		result.AddError(models.ErrorKindCandidateFailed, c.Link, errors.New("candidate has no link"))
		o.recordCandidate(source.ID, OutcomeFailed, opts)
		return
	}

	outcome := models.CandidateOutcome{Link: link, Title: c.Title}
	verdict := detector.Check(ctx, c)

	var analysis models.Analysis
	title, body := c.Title, c.Body
	usedFallback := false

	if verdict.IsDuplicate {
		result.AddError(models.ErrorKindDuplicateDetected, link, fmt.Errorf("duplicate by %s", verdict.Reason))
	} else {
		rw := o.deps.Rewriter.Rewrite(ctx, c.Title, c.Body)
		if ctx.Err() != nil {
			logger.Debug("abandoning candidate after run deadline", "link", link)
			return
		}
		if rw.UsedFallback {
			usedFallback = true
			result.AIFailed++
			result.AddError(models.ErrorKindRewriteDegraded, link, errors.Join(rw.Degraded...))
		}
		title, body = rw.Title, rw.Body

		analysis = o.deps.Analyzer.Analyze(title, body, verdict.MaxSimilarity)
		if len(analysis.Degraded) > 0 {
			result.AddError(models.ErrorKindAnalysisDegraded, link,
				fmt.Errorf("neutral score used for %s", strings.Join(analysis.Degraded, ", ")))
		}
	}

	d := decision.Decide(analysis, verdict, opts.Thresholds)
	outcome.Title = title
	outcome.Reason = d.Reason
	outcome.QualityScore = analysis.QualityScore
	outcome.UniquenessScore = analysis.UniquenessScore
	outcome.Categories = analysis.Categories
	outcome.UsedFallback = usedFallback

	switch {
	case d.Reason == models.ReasonDuplicate:
		result.Duplicate++
		o.recordCandidate(source.ID, OutcomeDuplicate, opts)
	case !d.Accept:
		result.Rejected++
		o.recordCandidate(source.ID, OutcomeRejected, opts)
	case opts.DryRun:
		result.Accepted++
		detector.Remember(source.ID, link, c.Title, c.Body)
	default:
		item := &models.ProcessedItem{
			Title:           title,
			Body:            body,
			OriginalTitle:   c.Title,
			OriginalBody:    c.Body,
			CanonicalLink:   link,
			SourceID:        source.ID,
			MediaRef:        c.MediaRef,
			QualityScore:    analysis.QualityScore,
			UniquenessScore: analysis.UniquenessScore,
			Categories:      models.NormalizeCategories(analysis.Categories),
			ContentHash:     verdict.ContentHash,
			UsedFallback:    usedFallback,
			PublishedAt:     c.PublishedAt,
		}
		o.persist(ctx, item, c, &outcome, result, logger)
	}

	logger.Debug("candidate decided",
		"link", link,
		"reason", outcome.Reason,
		"quality", outcome.QualityScore,
		"uniqueness", outcome.UniquenessScore)
	result.Outcomes = append(result.Outcomes, outcome)
}

func (o *Orchestrator) persist(ctx context.Context, item *models.ProcessedItem, c models.Candidate, outcome *models.CandidateOutcome, result *models.RunResult, logger *slog.Logger) {
	created, err := o.deps.Store.Upsert(ctx, item)
	switch {
	case err != nil:
		result.AddError(models.ErrorKindPersistence, item.CanonicalLink, err)
		o.recordCandidate(item.SourceID, OutcomePersistError, Options{})
		logger.Error("failed to persist item", "link", item.CanonicalLink, "error", err)
	case !created:
		// another writer stored the same link first
		result.Duplicate++
		outcome.Reason = models.ReasonDuplicate
		result.AddError(models.ErrorKindPersistenceConflict, item.CanonicalLink, errors.New("item already stored"))
		o.recordCandidate(item.SourceID, OutcomeDuplicate, Options{})
	default:
		result.Accepted++
		outcome.Persisted = true
		o.deps.Detector.Remember(item.SourceID, item.CanonicalLink, c.Title, c.Body)
		o.recordCandidate(item.SourceID, OutcomeAccepted, Options{})
	}
}

func (o *Orchestrator) recordCandidate(source, outcome string, opts Options) {
	if opts.DryRun || o.deps.Metrics == nil {
		return
	}
	o.deps.Metrics.RecordCandidate(source, outcome)
}
