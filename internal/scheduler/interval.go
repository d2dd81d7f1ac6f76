package scheduler

import (
	"time"

	"github.com/warsite/contentpipe/internal/models"
)

// Outcome is what a finished run means for a source's cadence.
type Outcome int

const (
	OutcomeNewContent Outcome = iota
	OutcomeNoNewContent
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNewContent:
		return "new_content"
	case OutcomeNoNewContent:
		return "no_new_content"
	default:
		return "failed"
	}
}

// outcomeOf classifies a run result.
func outcomeOf(r models.RunResult) Outcome {
	switch {
	case r.Failed():
		return OutcomeFailed
	case r.NewCandidates() > 0:
		return OutcomeNewContent
	default:
		return OutcomeNoNewContent
	}
}

// AdjustInterval returns the next polling interval for a source. New content
// moves the interval halfway towards the minimum, an empty run halfway
// towards the maximum, and a failure doubles it. The result always lies in
// [MinInterval, MaxInterval].
func AdjustInterval(src models.Source, outcome Outcome) time.Duration {
	cur := src.ClampInterval(src.Interval)

	var next time.Duration
	switch outcome {
	case OutcomeNewContent:
		next = cur - (cur-src.MinInterval)/2
	case OutcomeNoNewContent:
		next = cur + (src.MaxInterval-cur)/2
	default:
		next = cur * 2
	}
	return src.ClampInterval(next)
}
