// Package validate scores a CandidateSet: name similarity of reverse-geocoded
// addresses, agreement between sources, outlier and country-bounds checks,
// and the status that follows from the resulting confidence.
package validate

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-locator/internal/geo"
	"github.com/sells-group/facility-locator/internal/model"
)

// Thresholds is the validator's fixed policy. It is passed by value and never
// changed after the Validator is built.
type Thresholds struct {
	NeedsReview float64      `json:"needs_review"`
	Pending     float64      `json:"pending"`
	BelowPolicy model.Status `json:"below_policy"`

	SimilarityWeight float64 `json:"similarity_weight"`
	ProximityWeight  float64 `json:"proximity_weight"`

	BoundsPenalty  float64 `json:"bounds_penalty"`
	OutlierPenalty float64 `json:"outlier_penalty"`

	// MinUsefulSimilarity is the address similarity at which the reverse
	// chain stops trying further providers.
	MinUsefulSimilarity float64 `json:"min_useful_similarity"`

	Cluster geo.ClusterOptions `json:"cluster"`
}

// DefaultThresholds returns the standard policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NeedsReview:         0.60,
		Pending:             0.40,
		BelowPolicy:         model.StatusRejected,
		SimilarityWeight:    0.70,
		ProximityWeight:     0.30,
		BoundsPenalty:       0.8,
		OutlierPenalty:      0.9,
		MinUsefulSimilarity: 0.30,
		Cluster:             geo.DefaultClusterOptions(),
	}
}

// Validate checks that the thresholds are consistently ordered.
func (t Thresholds) Validate() error {
	if t.Pending < 0 || t.Pending > t.NeedsReview || t.NeedsReview > 1 {
		return eris.Errorf("validate: thresholds must satisfy 0 <= pending (%.2f) <= needs_review (%.2f) <= 1", t.Pending, t.NeedsReview)
	}
	if t.BelowPolicy != model.StatusPending && t.BelowPolicy != model.StatusRejected {
		return eris.Errorf("validate: below_policy must be pending or rejected, got %q", t.BelowPolicy)
	}
	if t.SimilarityWeight < 0 || t.ProximityWeight < 0 || math.Abs(t.SimilarityWeight+t.ProximityWeight-1) > 1e-9 {
		return eris.Errorf("validate: weights must be non-negative and sum to 1, got %.2f + %.2f", t.SimilarityWeight, t.ProximityWeight)
	}
	for name, p := range map[string]float64{"bounds_penalty": t.BoundsPenalty, "outlier_penalty": t.OutlierPenalty} {
		if p <= 0 || p > 1 {
			return eris.Errorf("validate: %s must be in (0,1], got %.2f", name, p)
		}
	}
	if t.MinUsefulSimilarity < 0 || t.MinUsefulSimilarity > 1 {
		return eris.Errorf("validate: min_useful_similarity must be in [0,1], got %.2f", t.MinUsefulSimilarity)
	}
	return nil
}

// Classify maps a confidence to a status. It never returns validated.
func (t Thresholds) Classify(confidence float64) model.Status {
	switch {
	case confidence >= t.NeedsReview:
		return model.StatusNeedsReview
	case confidence >= t.Pending:
		return model.StatusPending
	default:
		return t.BelowPolicy
	}
}

// Classify applies the default thresholds.
func Classify(confidence float64) model.Status {
	return DefaultThresholds().Classify(confidence)
}
