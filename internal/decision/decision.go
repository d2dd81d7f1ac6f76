package decision

import (
	"fmt"

	"github.com/warsite/contentpipe/internal/models"
)

// Decide applies the acceptance policy. Checks run in a fixed order and the
// first failing one names the reason: duplicate, then quality, then uniqueness.
func Decide(a models.Analysis, v models.DuplicateVerdict, t models.Thresholds) models.Decision {
	switch {
	case v.IsDuplicate:
		return models.Decision{Accept: false, Reason: models.ReasonDuplicate}
	case a.QualityScore < t.MinQuality:
		return models.Decision{Accept: false, Reason: models.ReasonLowQuality}
	case a.UniquenessScore < t.MinUniqueness:
		return models.Decision{Accept: false, Reason: models.ReasonLowUniqueness}
	default:
		return models.Decision{Accept: true, Reason: models.ReasonAccepted}
	}
}

// ValidateThresholds checks that both limits lie on the 0..100 score scale.
func ValidateThresholds(t models.Thresholds) error {
	if t.MinQuality < 0 || t.MinQuality > 100 {
		return fmt.Errorf("invalid min quality %v: must be between 0 and 100", t.MinQuality)
	}
	if t.MinUniqueness < 0 || t.MinUniqueness > 100 {
		return fmt.Errorf("invalid min uniqueness %v: must be between 0 and 100", t.MinUniqueness)
	}
	return nil
}
