package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/warsite/contentpipe/internal/analysis"
	"github.com/warsite/contentpipe/internal/database"
	"github.com/warsite/contentpipe/internal/dedup"
	"github.com/warsite/contentpipe/internal/fetcher"
	"github.com/warsite/contentpipe/internal/models"
	"github.com/warsite/contentpipe/internal/rewrite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticFetcher struct {
	mu         sync.Mutex
	candidates []models.Candidate
	err        error
	calls      int

	// defaultLimit mimics a fetcher's own cap, overridden by the run's limit
	defaultLimit int
}

func (f *staticFetcher) Fetch(ctx context.Context, source models.Source) ([]models.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.candidates)
	if f.defaultLimit > 0 {
		n = min(n, fetcher.Limit(ctx, f.defaultLimit))
	}
	out := make([]models.Candidate, n)
	copy(out, f.candidates)
	return out, nil
}

type prefixRewriter struct{}

func (prefixRewriter) Rewrite(ctx context.Context, title, body string) rewrite.Result {
	return rewrite.Result{Title: "New " + title, Body: body}
}

// blockingRewriter hangs until the run deadline for every candidate after the first.
type blockingRewriter struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingRewriter) Rewrite(ctx context.Context, title, body string) rewrite.Result {
	b.mu.Lock()
	b.calls++
	n := b.calls
	b.mu.Unlock()
	if n > 1 {
		<-ctx.Done()
		return rewrite.Result{Title: title, Body: body, UsedFallback: true}
	}
	return rewrite.Result{Title: title, Body: body}
}

// scoreAnalyzer returns fixed quality per title and panics on demand.
type scoreAnalyzer struct {
	quality map[string]float64
	panicOn string
}

func (a scoreAnalyzer) Analyze(title, body string, maxSimilarity float64) models.Analysis {
	if a.panicOn != "" && title == a.panicOn {
		panic("analyzer exploded")
	}
	q, ok := a.quality[title]
	if !ok {
		q = 80
	}
	return models.Analysis{
		QualityScore:    q,
		UniquenessScore: analysis.Uniqueness(maxSimilarity),
		Categories:      []string{"news"},
	}
}

type fatalService struct{}

func (fatalService) Complete(ctx context.Context, req rewrite.Request) (string, error) {
	return "", rewrite.NewServiceError(rewrite.KindFatal, errors.New("model not found"))
}

type conflictStore struct{}

func (conflictStore) Upsert(ctx context.Context, item *models.ProcessedItem) (bool, error) {
	return false, nil
}

func (conflictStore) ExistsByLink(ctx context.Context, link string) (bool, error) { return false, nil }
func (conflictStore) ExistsByHash(ctx context.Context, hash string) (bool, error) { return false, nil }

type countingMetrics struct {
	mu         sync.Mutex
	candidates map[string]int
	runs       map[string]int
}

func (m *countingMetrics) RecordCandidate(source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candidates == nil {
		m.candidates = map[string]int{}
	}
	m.candidates[outcome]++
}

func (m *countingMetrics) RecordRun(source, status string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]int{}
	}
	m.runs[status]++
}

func sampleCandidates() []models.Candidate {
	return []models.Candidate{
		{Title: "Bridge", Body: "Engineers restored the railway bridge over the river after weeks of repair work.", Link: "https://news.example.com/a/1"},
		{Title: "Budget", Body: "Parliament approved the annual budget following lengthy debates about taxation.", Link: "https://news.example.com/a/2?utm_source=rss"},
		{Title: "Harvest", Body: "Farmers across the southern provinces reported a record wheat harvest this autumn.", Link: "https://news.example.com/a/3"},
	}
}

type fixture struct {
	fetcher  *staticFetcher
	store    *database.MemoryItemRepository
	detector *dedup.Detector
	metrics  *countingMetrics
	orch     *Orchestrator
}

func newFixture(rw Rewriter, an Analyzer) *fixture {
	f := &fixture{
		fetcher: &staticFetcher{candidates: sampleCandidates()},
		store:   database.NewMemoryItemRepository(),
		metrics: &countingMetrics{},
	}
	f.detector = dedup.NewDetector(f.store, dedup.DefaultConfig(), testLogger())
	if rw == nil {
		rw = prefixRewriter{}
	}
	if an == nil {
		an = scoreAnalyzer{}
	}
	f.orch = New(Dependencies{
		Fetcher:  f.fetcher,
		Detector: f.detector,
		Rewriter: rw,
		Analyzer: an,
		Store:    f.store,
		Metrics:  f.metrics,
	}, testLogger())
	return f
}

var testSource = models.Source{ID: "news", Name: "News", URL: "https://news.example.com/rss", Kind: models.SourceKindTextFeed}

func count(t *testing.T, store *database.MemoryItemRepository) int {
	t.Helper()
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestRunSourceAcceptsAndPersists(t *testing.T) {
	f := newFixture(nil, nil)
	res := f.orch.RunSource(context.Background(), testSource, DefaultOptions())

	if res.Seen != 3 || res.Accepted != 3 || res.Duplicate != 0 || res.Rejected != 0 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.RunID == "" || res.SourceID != "news" {
		t.Errorf("run identity missing: %+v", res)
	}
	if count(t, f.store) != 3 {
		t.Fatalf("stored %d items, want 3", count(t, f.store))
	}

	item, err := f.store.GetByLink(context.Background(), "https://news.example.com/a/2")
	if err != nil {
		t.Fatalf("tracking parameters should be stripped from stored link: %v", err)
	}
	if item.Title != "New Budget" || item.OriginalTitle != "Budget" {
		t.Errorf("stored titles = %q / %q", item.Title, item.OriginalTitle)
	}
	if item.ContentHash != dedup.ContentHash("Budget", sampleCandidates()[1].Body) {
		t.Error("content hash should be computed over the original text")
	}
	if f.detector.WindowLen("news") != 3 {
		t.Errorf("window len = %d, want 3", f.detector.WindowLen("news"))
	}
	if f.metrics.candidates[OutcomeAccepted] != 3 || f.metrics.runs[StatusSuccess] != 1 {
		t.Errorf("metrics = %+v %+v", f.metrics.candidates, f.metrics.runs)
	}
	if res.Failed() || res.NewCandidates() != 3 {
		t.Errorf("Failed=%v NewCandidates=%d", res.Failed(), res.NewCandidates())
	}
}

func TestRunSourceIsIdempotent(t *testing.T) {
	f := newFixture(nil, nil)
	f.orch.RunSource(context.Background(), testSource, DefaultOptions())

	second := f.orch.RunSource(context.Background(), testSource, DefaultOptions())
	if second.Accepted != 0 || second.Duplicate != 3 {
		t.Fatalf("second run should see only duplicates, got %+v", second)
	}
	if count(t, f.store) != 3 {
		t.Errorf("stored %d items after rerun, want 3", count(t, f.store))
	}
	if second.NewCandidates() != 0 || second.Failed() {
		t.Errorf("rerun NewCandidates=%d Failed=%v", second.NewCandidates(), second.Failed())
	}
	for _, o := range second.Outcomes {
		if o.Reason != models.ReasonDuplicate {
			t.Errorf("outcome %s reason = %s", o.Link, o.Reason)
		}
	}
}

func TestRunSourceTrackingParameterDuplicate(t *testing.T) {
	f := newFixture(nil, nil)
	f.fetcher.candidates = sampleCandidates()[:1]
	f.orch.RunSource(context.Background(), testSource, DefaultOptions())

	f.fetcher.candidates = []models.Candidate{{
		Title: "Different title",
		Body:  "Completely different wording of an unrelated story about football.",
		Link:  "https://NEWS.example.com/a/1/?utm_medium=social#comments",
	}}
	res := f.orch.RunSource(context.Background(), testSource, DefaultOptions())
	if res.Duplicate != 1 || res.Accepted != 0 {
		t.Fatalf("link with tracking parameters should be a duplicate, got %+v", res)
	}
	if !res.HasErrorKind(models.ErrorKindDuplicateDetected) {
		t.Error("duplicate should be recorded")
	}
}

func TestRunSourceDryRun(t *testing.T) {
	f := newFixture(nil, scoreAnalyzer{quality: map[string]float64{"New Harvest": 30}})
	res := f.orch.RunSource(context.Background(), testSource, Options{Thresholds: models.DefaultThresholds(), DryRun: true})

	if !res.DryRun || res.Accepted != 2 || res.Rejected != 1 {
		t.Fatalf("unexpected dry-run counts %+v", res)
	}
	if count(t, f.store) != 0 {
		t.Error("dry run must not persist")
	}
	if f.detector.WindowLen("news") != 0 {
		t.Error("dry run must not append to the recent window")
	}
	if len(f.metrics.candidates) != 0 || len(f.metrics.runs) != 0 {
		t.Errorf("dry run must not record metrics: %+v %+v", f.metrics.candidates, f.metrics.runs)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(res.Outcomes))
	}
	for _, o := range res.Outcomes {
		if o.Persisted {
			t.Errorf("outcome %s marked persisted in dry run", o.Link)
		}
	}
	if res.Outcomes[2].Reason != models.ReasonLowQuality {
		t.Errorf("third outcome reason = %s, want low_quality", res.Outcomes[2].Reason)
	}
}

func TestRunSourceDryRunMatchesRealRunOnRepeatedItems(t *testing.T) {
	repeated := func() []models.Candidate {
		first := sampleCandidates()[0]
		second := first
		second.Link = "https://news.example.com/a/1?utm_source=tg"
		third := first
		third.Link = "https://mirror.example.org/bridge"
		return []models.Candidate{first, second, third}
	}

	dry := newFixture(nil, nil)
	dry.fetcher.candidates = repeated()
	dryRes := dry.orch.RunSource(context.Background(), testSource, Options{Thresholds: models.DefaultThresholds(), DryRun: true})

	live := newFixture(nil, nil)
	live.fetcher.candidates = repeated()
	realRes := live.orch.RunSource(context.Background(), testSource, DefaultOptions())

	if realRes.Accepted != 1 || realRes.Duplicate != 2 {
		t.Fatalf("real run counts %+v", realRes)
	}
	if dryRes.Accepted != realRes.Accepted || dryRes.Duplicate != realRes.Duplicate {
		t.Errorf("dry run accepted=%d duplicate=%d, real run accepted=%d duplicate=%d",
			dryRes.Accepted, dryRes.Duplicate, realRes.Accepted, realRes.Duplicate)
	}
	if count(t, dry.store) != 0 || dry.detector.WindowLen("news") != 0 {
		t.Error("dry run must leave the store and shared window untouched")
	}

	// a later dry run starts from a clean slate
	again := dry.orch.RunSource(context.Background(), testSource, Options{Thresholds: models.DefaultThresholds(), DryRun: true})
	if again.Accepted != 1 {
		t.Errorf("second dry run accepted %d, want 1", again.Accepted)
	}
}

func TestRunSourceLowQualityRejected(t *testing.T) {
	f := newFixture(nil, scoreAnalyzer{quality: map[string]float64{"New Bridge": 59.99}})
	res := f.orch.RunSource(context.Background(), testSource, DefaultOptions())

	if res.Rejected != 1 || res.Accepted != 2 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if _, err := f.store.GetByLink(context.Background(), "https://news.example.com/a/1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("low quality item should not be stored, err = %v", err)
	}
}

func TestRunSourceFatalRewriteUsesOriginalText(t *testing.T) {
	client := rewrite.NewClient(fatalService{}, rewrite.Config{Backoff: time.Millisecond}, testLogger(), nil)
	f := newFixture(client, nil)
	f.fetcher.candidates = sampleCandidates()[:1]

	res := f.orch.RunSource(context.Background(), testSource, DefaultOptions())
	if res.AIFailed != 1 || res.Accepted != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if !res.HasErrorKind(models.ErrorKindRewriteDegraded) {
		t.Error("rewrite degradation should be recorded")
	}

	item, err := f.store.GetByLink(context.Background(), "https://news.example.com/a/1")
	if err != nil {
		t.Fatalf("GetByLink: %v", err)
	}
	orig := sampleCandidates()[0]
	if item.Title != orig.Title || item.Body != orig.Body || !item.UsedFallback {
		t.Errorf("fallback item = %+v", item)
	}
}

func TestRunSourceFetchFailure(t *testing.T) {
	f := newFixture(nil, nil)
	f.fetcher.err = errors.New("connection refused")
	f.orch.deps.FetchRetry = RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, BackoffFactor: 1}

	res := f.orch.RunSource(context.Background(), testSource, DefaultOptions())
	if !res.Failed() || !res.HasErrorKind(models.ErrorKindFetch) {
		t.Fatalf("fetch failure should fail the run, got %+v", res)
	}
	if f.fetcher.calls != 3 {
		t.Errorf("fetch attempts = %d, want 3", f.fetcher.calls)
	}
	if f.metrics.runs[StatusFailed] != 1 {
		t.Errorf("runs = %v", f.metrics.runs)
	}
}

func TestRunSourceCandidatePanicDoesNotStopRun(t *testing.T) {
	f := newFixture(nil, scoreAnalyzer{panicOn: "New Budget"})
	res := f.orch.RunSource(context.Background(), testSource, DefaultOptions())

	if res.Seen != 3 || res.Accepted != 2 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if !res.HasErrorKind(models.ErrorKindCandidateFailed) {
		t.Error("panicking candidate should be recorded")
	}
	if res.Failed() {
		t.Error("a single candidate failure must not fail the run")
	}
	if count(t, f.store) != 2 {
		t.Errorf("stored %d, want 2", count(t, f.store))
	}
}

func TestRunSourceTimeoutKeepsPersistedItems(t *testing.T) {
	f := newFixture(&blockingRewriter{}, nil)
	res := f.orch.RunSource(context.Background(), testSource, Options{
		Thresholds: models.DefaultThresholds(),
		Timeout:    50 * time.Millisecond,
	})

	if !res.TimedOut || !res.HasErrorKind(models.ErrorKindRunTimeout) {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if !res.Failed() {
		t.Error("timed out run should count as failed")
	}
	if res.Accepted != 1 || count(t, f.store) != 1 {
		t.Errorf("accepted = %d stored = %d, want the first item kept", res.Accepted, count(t, f.store))
	}
	if f.metrics.runs[StatusTimeout] != 1 {
		t.Errorf("runs = %v", f.metrics.runs)
	}
}

func TestRunSourceCapsCandidates(t *testing.T) {
	f := newFixture(nil, nil)
	res := f.orch.RunSource(context.Background(), testSource, Options{Thresholds: models.DefaultThresholds(), MaxCandidates: 2})
	if res.Seen != 2 {
		t.Fatalf("seen = %d, want 2", res.Seen)
	}
}

func TestRunSourceRaisedCapReachesFetcher(t *testing.T) {
	var many []models.Candidate
	for i := 0; i < 30; i++ {
		many = append(many, models.Candidate{
			Title: fmt.Sprintf("Story %d", i),
			Body:  fmt.Sprintf("Body of story number %d with its own distinct wording %d.", i, i*7),
			Link:  fmt.Sprintf("https://news.example.com/s/%d", i),
		})
	}

	tests := []struct {
		name string
		max  int
		want int
	}{
		{"default cap", 0, DefaultMaxCandidates},
		{"raised above the fetcher default", 25, 25},
		{"lowered", 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil, nil)
			f.fetcher.candidates = many
			f.fetcher.defaultLimit = 20

			res := f.orch.RunSource(context.Background(), testSource, Options{Thresholds: models.DefaultThresholds(), DryRun: true, MaxCandidates: tt.max})
			if res.Seen != tt.want {
				t.Errorf("seen = %d, want %d", res.Seen, tt.want)
			}
		})
	}
}

func TestRunSourcePersistenceConflictIsDuplicate(t *testing.T) {
	f := newFixture(nil, nil)
	f.orch.deps.Store = conflictStore{}
	f.fetcher.candidates = sampleCandidates()[:1]

	res := f.orch.RunSource(context.Background(), testSource, DefaultOptions())
	if res.Duplicate != 1 || res.Accepted != 0 {
		t.Fatalf("conflict should count as duplicate, got %+v", res)
	}
	if !res.HasErrorKind(models.ErrorKindPersistenceConflict) || res.Failed() {
		t.Errorf("errors = %+v", res.Errors)
	}
	if res.Outcomes[0].Reason != models.ReasonDuplicate {
		t.Errorf("outcome reason = %s", res.Outcomes[0].Reason)
	}
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}

	attempts := 0
	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return NewRetryableError(errors.New("temporary"))
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("err = %v attempts = %d", err, attempts)
	}

	attempts = 0
	permanent := errors.New("permanent")
	err = Retry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Errorf("non-retryable: err = %v attempts = %d", err, attempts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Retry(ctx, RetryPolicy{MaxRetries: 3, InitialBackoff: time.Second}, func(ctx context.Context) error {
		return NewRetryableError(errors.New("temporary"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled retry err = %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, BackoffFactor: 2}
	if got := backoff(p, 0); got != time.Second {
		t.Errorf("attempt 0 backoff = %v", got)
	}
	if got := backoff(p, 5); got != 3*time.Second {
		t.Errorf("attempt 5 backoff = %v, want cap", got)
	}
}
