package models

import "time"

// ErrorKind classifies a problem recorded during a run.
type ErrorKind string

const (
	ErrorKindFetch               ErrorKind = "fetch_error"
	ErrorKindRewriteDegraded     ErrorKind = "rewrite_degraded"
	ErrorKindAnalysisDegraded    ErrorKind = "analysis_degraded"
	ErrorKindDuplicateDetected   ErrorKind = "duplicate_detected"
	ErrorKindPersistenceConflict ErrorKind = "persistence_conflict"
	ErrorKindPersistence         ErrorKind = "persistence_error"
	ErrorKindRunTimeout          ErrorKind = "run_timeout"
	ErrorKindCandidateFailed     ErrorKind = "candidate_failed"
)

// OperatorVisible reports whether the kind is logged at warn level; the rest only land in the run summary.
func (k ErrorKind) OperatorVisible() bool {
	return k == ErrorKindFetch || k == ErrorKindRunTimeout
}

// RunError is one entry in a run's error list.
type RunError struct {
	Kind    ErrorKind `json:"kind"`
	Link    string    `json:"link,omitempty"`
	Message string    `json:"message"`
}

// CandidateOutcome records what happened to one candidate, used for dry-run reporting.
type CandidateOutcome struct {
	Link            string         `json:"link"`
	Title           string         `json:"title"`
	Reason          DecisionReason `json:"reason"`
	QualityScore    float64        `json:"quality_score"`
	UniquenessScore float64        `json:"uniqueness_score"`
	Categories      []string       `json:"categories,omitempty"`
	UsedFallback    bool           `json:"used_fallback"`
	Persisted       bool           `json:"persisted"`
}

// RunResult summarises one pipeline run for one source.
type RunResult struct {
	RunID     string        `json:"run_id"`
	SourceID  string        `json:"source_id"`
	Seen      int           `json:"seen"`
	Duplicate int           `json:"duplicate"`
	AIFailed  int           `json:"ai_failed"`
	Rejected  int           `json:"rejected"`
	Accepted  int           `json:"accepted"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	TimedOut  bool          `json:"timed_out"`
	DryRun    bool          `json:"dry_run"`

	Errors   []RunError         `json:"errors,omitempty"`
	Outcomes []CandidateOutcome `json:"outcomes,omitempty"`
}

// AddError appends an error entry to the result.
func (r *RunResult) AddError(kind ErrorKind, link string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.Errors = append(r.Errors, RunError{Kind: kind, Link: link, Message: msg})
}

// HasErrorKind reports whether any recorded error has the given kind.
func (r *RunResult) HasErrorKind(kind ErrorKind) bool {
	for _, e := range r.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Failed reports whether the run should count as a failure for scheduling.
func (r *RunResult) Failed() bool {
	return r.TimedOut || r.HasErrorKind(ErrorKindFetch)
}

// NewCandidates is the number of fetched candidates that were not already known.
func (r *RunResult) NewCandidates() int {
	n := r.Seen - r.Duplicate
	if n < 0 {
		return 0
	}
	return n
}
