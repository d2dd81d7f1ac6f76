package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warsite/contentpipe/internal/models"
	"github.com/warsite/contentpipe/internal/pipeline"
)

const (
	DefaultMaxConcurrentSources = 3
	DefaultQueueSize            = 64
	DefaultFailureThreshold     = 5
	DefaultCheckInterval        = time.Minute
)

// Runner executes one pipeline run for a source.
type Runner interface {
	RunSource(ctx context.Context, source models.Source, opts pipeline.Options) models.RunResult
}

// SourceStore is the source registry the scheduler reads and writes back to.
type SourceStore interface {
	List(ctx context.Context) ([]models.Source, error)
	SaveSchedule(ctx context.Context, src models.Source) error
}

// Recorder receives scheduler gauges.
type Recorder interface {
	SetSourceInterval(source string, interval time.Duration)
	RunStarted()
	RunFinished()
}

// Config bounds the scheduler.
type Config struct {
	MaxConcurrentSources int
	QueueSize            int
	FailureThreshold     int
	CheckInterval        time.Duration
	RunOptions           pipeline.Options
}

// Phase is where a source is in its run cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseQueued   Phase = "queued"
	PhaseRunning  Phase = "running"
	PhaseDisabled Phase = "disabled"
)

// SourceState is a snapshot of one source's scheduling state.
type SourceState struct {
	Source      models.Source
	Phase       Phase
	LastOutcome string
}

type sourceState struct {
	source      models.Source
	queued      bool
	running     bool
	lastOutcome string
}

func (st *sourceState) phase() Phase {
	switch {
	case st.running:
		return PhaseRunning
	case st.queued:
		return PhaseQueued
	case !st.source.Enabled:
		return PhaseDisabled
	default:
		return PhaseIdle
	}
}

// Scheduler decides when each source runs and adapts its interval to how
// productive the source has been.
type Scheduler struct {
	runner  Runner
	store   SourceStore
	metrics Recorder
	logger  *slog.Logger
	cfg     Config

	mu     sync.Mutex
	states map[string]*sourceState

	sem   chan struct{}
	queue chan string
	now   func() time.Time
}

// New creates a scheduler. metrics may be nil.
func New(runner Runner, store SourceStore, metrics Recorder, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.MaxConcurrentSources <= 0 {
		cfg.MaxConcurrentSources = DefaultMaxConcurrentSources
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &Scheduler{
		runner:  runner,
		store:   store,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		states:  make(map[string]*sourceState),
		sem:     make(chan struct{}, cfg.MaxConcurrentSources),
		queue:   make(chan string, cfg.QueueSize),
		now:     time.Now,
	}
}

// Start runs the scheduling loop until ctx is cancelled: due sources are
// dispatched immediately and then on every check interval. It returns once
// in-flight runs have finished.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting source scheduler",
		"check_interval", s.cfg.CheckInterval,
		"max_concurrent_sources", s.cfg.MaxConcurrentSources,
		"queue_size", s.cfg.QueueSize)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxConcurrentSources; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range s.queue {
				s.execute(ctx, id, s.cfg.RunOptions)
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ticker.C:
			s.dispatch(ctx)
		case <-ctx.Done():
			s.logger.Info("source scheduler stopping, waiting for running sources")
			close(s.queue)
			wg.Wait()
			s.logger.Info("source scheduler stopped")
			return
		}
	}
}

// dispatch enqueues every due source that is neither queued nor running,
// highest priority first. When the queue is full the rest wait for the next tick.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.refresh(ctx)
	now := s.now()

	s.mu.Lock()
	var due []models.Source
	for _, st := range s.states {
		if st.queued || st.running || !st.source.IsDue(now) {
			continue
		}
		due = append(due, st.source)
	}
	sortByPriority(due)

	skipped := 0
	for _, src := range due {
		select {
		case s.queue <- src.ID:
			s.states[src.ID].queued = true
		default:
			skipped++
		}
	}
	s.mu.Unlock()

	if skipped > 0 {
		s.logger.Warn("run queue full, skipping sources until next tick", "skipped", skipped, "queue_size", s.cfg.QueueSize)
	}
	if len(due) > 0 {
		s.logger.Debug("dispatched due sources", "due", len(due), "queued", len(due)-skipped)
	}
}

// Filter selects sources for RunAll.
type Filter struct {
	Source  string // ID or case-insensitive name; empty means all
	OnlyDue bool
}

func (f Filter) matches(src models.Source, now time.Time) bool {
	if f.Source != "" && src.ID != f.Source && !strings.EqualFold(src.Name, f.Source) {
		return false
	}
	if !src.Enabled {
		return false
	}
	return !f.OnlyDue || src.IsDue(now)
}

// ErrNoSources is returned by RunAll when the filter names no runnable source.
var ErrNoSources = errors.New("no matching enabled sources")

// RunAll runs the selected enabled sources once, honouring the concurrency
// bound, and waits for them. Results are in dispatch order. A source that is
// already running is skipped. Dry runs leave scheduling state untouched.
func (s *Scheduler) RunAll(ctx context.Context, filter Filter, opts pipeline.Options) ([]models.RunResult, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.Lock()
	var selected []models.Source
	for _, st := range s.states {
		if filter.matches(st.source, now) {
			selected = append(selected, st.source)
		}
	}
	s.mu.Unlock()

	if len(selected) == 0 {
		if filter.Source != "" {
			return nil, fmt.Errorf("%w: %q", ErrNoSources, filter.Source)
		}
		return nil, nil
	}
	sortByPriority(selected)

	work := make(chan int, len(selected))
	for i := range selected {
		work <- i
	}
	close(work)

	results := make([]*models.RunResult, len(selected))
	workers := min(s.cfg.MaxConcurrentSources, len(selected))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if r, ok := s.execute(ctx, selected[i].ID, opts); ok {
					results[i] = &r
				}
			}
		}()
	}
	wg.Wait()

	out := make([]models.RunResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// execute runs one source under the concurrency bound and applies the
// outcome to its schedule. It reports false when the source was skipped.
func (s *Scheduler) execute(ctx context.Context, id string, opts pipeline.Options) (models.RunResult, bool) {
	if ctx.Err() != nil {
		s.mu.Lock()
		if st, ok := s.states[id]; ok && !st.running {
			st.queued = false
		}
		s.mu.Unlock()
		return models.RunResult{}, false
	}

	s.mu.Lock()
	st, ok := s.states[id]
	if !ok || st.running {
		if ok {
			st.queued = false
		}
		s.mu.Unlock()
		s.logger.Debug("source already running or unknown, skipping", "source_id", id)
		return models.RunResult{}, false
	}
	st.running = true
	src := st.source
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		st.running = false
		st.queued = false
		s.mu.Unlock()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return models.RunResult{}, false
	}
	defer func() { <-s.sem }()

	if s.metrics != nil {
		s.metrics.RunStarted()
		defer s.metrics.RunFinished()
	}

	result := s.runner.RunSource(ctx, src, opts)

	// dry runs and runs cut short by shutdown say nothing about the source
	if opts.DryRun || ctx.Err() != nil {
		return result, true
	}

	updated := s.apply(src, result)

	s.mu.Lock()
	st.source = updated
	st.lastOutcome = outcomeOf(result).String()
	s.mu.Unlock()

	if err := s.store.SaveSchedule(ctx, updated); err != nil {
		s.logger.Error("failed to save source schedule", "source_id", id, "error", err)
	}
	if s.metrics != nil {
		s.metrics.SetSourceInterval(id, updated.Interval)
	}
	return result, true
}

// apply moves a source through Succeeded/Failed back to Idle, or to Disabled
// once it has failed FailureThreshold times in a row.
func (s *Scheduler) apply(src models.Source, result models.RunResult) models.Source {
	now := s.now()
	src.LastRunAt = &now
	outcome := outcomeOf(result)

	if outcome == OutcomeFailed {
		src.ConsecutiveFailures++
		if src.ConsecutiveFailures >= s.cfg.FailureThreshold {
			src.Enabled = false
			src.DisabledReason = fmt.Sprintf("disabled after %d consecutive failures: %s",
				src.ConsecutiveFailures, lastFailure(result))
			src.NextRunAt = nil
			s.logger.Warn("source disabled after repeated failures",
				"source_id", src.ID,
				"failures", src.ConsecutiveFailures,
				"reason", src.DisabledReason)
			return src
		}
	} else {
		src.ConsecutiveFailures = 0
	}

	prev := src.Interval
	src.Interval = AdjustInterval(src, outcome)
	next := now.Add(src.Interval)
	src.NextRunAt = &next

	s.logger.Info("source rescheduled",
		"source_id", src.ID,
		"outcome", outcome.String(),
		"previous_interval", prev,
		"interval", src.Interval,
		"next_run_at", next.Format(time.RFC3339))
	return src
}

func lastFailure(r models.RunResult) string {
	for i := len(r.Errors) - 1; i >= 0; i-- {
		if r.Errors[i].Kind.OperatorVisible() {
			return r.Errors[i].Message
		}
	}
	return "unknown error"
}

// refresh reloads sources from the store. Sources that are queued or running
// keep their in-memory copy.
func (s *Scheduler) refresh(ctx context.Context) error {
	sources, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("failed to load sources", "error", err)
		return fmt.Errorf("failed to load sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		src.ApplyDefaults()
		seen[src.ID] = true
		st, ok := s.states[src.ID]
		if !ok {
			s.states[src.ID] = &sourceState{source: src}
			continue
		}
		if !st.running && !st.queued {
			st.source = src
		}
	}
	for id, st := range s.states {
		if !seen[id] && !st.running && !st.queued {
			delete(s.states, id)
		}
	}
	return nil
}

// States returns a snapshot of every known source, ordered by ID.
func (s *Scheduler) States() []SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, SourceState{Source: st.source, Phase: st.phase(), LastOutcome: st.lastOutcome})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source.ID < out[j].Source.ID })
	return out
}

// sortByPriority orders sources by priority, then by how long they have been due.
func sortByPriority(sources []models.Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		switch {
		case a.NextRunAt == nil && b.NextRunAt == nil:
			return a.ID < b.ID
		case a.NextRunAt == nil:
			return true
		case b.NextRunAt == nil:
			return false
		case !a.NextRunAt.Equal(*b.NextRunAt):
			return a.NextRunAt.Before(*b.NextRunAt)
		default:
			return a.ID < b.ID
		}
	})
}
