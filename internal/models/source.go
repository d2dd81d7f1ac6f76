package models

import (
	"fmt"
	"time"
)

// Source is an operator-configured origin of content (a news feed or a video channel).
// Identity fields come from configuration; scheduling fields are owned by the scheduler.
type Source struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	Kind        SourceKind     `json:"kind"`
	Priority    SourcePriority `json:"priority"`
	Language    string         `json:"language,omitempty"` // preferred caption language for video feeds
	Interval    time.Duration  `json:"interval"`           // current polling period
	MinInterval time.Duration  `json:"min_interval"`
	MaxInterval time.Duration  `json:"max_interval"`
	Enabled     bool           `json:"enabled"`

	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	DisabledReason      string     `json:"disabled_reason,omitempty"`
}

// SourceKind is the content type a source yields.
type SourceKind string

const (
	SourceKindTextFeed  SourceKind = "text_feed"
	SourceKindVideoFeed SourceKind = "video_feed"
)

// SourcePriority orders due sources when more are ready than can run.
type SourcePriority string

const (
	PriorityLow      SourcePriority = "low"
	PriorityNormal   SourcePriority = "normal"
	PriorityHigh     SourcePriority = "high"
	PriorityCritical SourcePriority = "critical"
)

// Rank returns a sortable weight for the priority; unknown values rank as normal.
func (p SourcePriority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 2
	}
}

const (
	DefaultMinInterval = 1 * time.Hour
	DefaultMaxInterval = 24 * time.Hour
)

// ApplyDefaults fills unset interval bounds and clamps the current interval into them.
func (s *Source) ApplyDefaults() {
	if s.MinInterval <= 0 {
		s.MinInterval = DefaultMinInterval
	}
	if s.MaxInterval <= 0 {
		s.MaxInterval = DefaultMaxInterval
	}
	if s.MaxInterval < s.MinInterval {
		s.MaxInterval = s.MinInterval
	}
	if s.Interval <= 0 {
		s.Interval = s.MinInterval
	}
	s.Interval = s.ClampInterval(s.Interval)
	if s.Kind == "" {
		s.Kind = SourceKindTextFeed
	}
	if s.Priority == "" {
		s.Priority = PriorityNormal
	}
}

// ClampInterval bounds d to [MinInterval, MaxInterval].
func (s *Source) ClampInterval(d time.Duration) time.Duration {
	if d < s.MinInterval {
		return s.MinInterval
	}
	if d > s.MaxInterval {
		return s.MaxInterval
	}
	return d
}

// Validate checks the operator-supplied identity fields.
func (s *Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if s.URL == "" {
		return fmt.Errorf("source %s: url is required", s.ID)
	}
	switch s.Kind {
	case SourceKindTextFeed, SourceKindVideoFeed:
	default:
		return fmt.Errorf("source %s: unsupported kind %q", s.ID, s.Kind)
	}
	if s.MinInterval > 0 && s.MaxInterval > 0 && s.MinInterval > s.MaxInterval {
		return fmt.Errorf("source %s: min_interval %v exceeds max_interval %v", s.ID, s.MinInterval, s.MaxInterval)
	}
	return nil
}

// GetDisplayName returns a human-readable identifier for the source.
func (s *Source) GetDisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return string(s.Kind) + " source"
}

// IsDue reports whether the source is enabled and its next run time has passed.
// A source that never ran is always due.
func (s *Source) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextRunAt == nil {
		return true
	}
	return !now.Before(*s.NextRunAt)
}
