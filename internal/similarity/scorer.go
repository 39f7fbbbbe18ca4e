package similarity

import (
	"strings"

	"github.com/sells-group/facility-locator/internal/model"
)

// Blend weights for the three best strategy scores, highest first.
var blendWeights = [3]float64{0.50, 0.30, 0.20}

const (
	// substringBonus is added when the query appears verbatim in the address.
	substringBonus = 0.05

	// Fallback heuristic scores.
	containmentScore = 0.95
	overlapScore     = 0.65
	overlapMin       = 0.70
	fallbackRatioCap = 0.60
)

// Scorer computes query-vs-address similarity. The zero value is not usable;
// construct with NewScorer.
type Scorer struct {
	fuzzy bool
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithFuzzy toggles the multi-strategy fuzzy path. When disabled the scorer
// uses the coarser containment/overlap heuristic.
func WithFuzzy(enabled bool) Option {
	return func(s *Scorer) {
		s.fuzzy = enabled
	}
}

// NewScorer returns a Scorer with fuzzy matching enabled by default.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{fuzzy: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fuzzy reports whether the primary fuzzy path is active.
func (s *Scorer) Fuzzy() bool { return s.fuzzy }

// Similarity scores query against address in [0,1].
//
// The strategies are symmetric, but the substring bonus is not: it applies
// only when the query is contained in the address.
func (s *Scorer) Similarity(query, address string) float64 {
	nq, na := Normalize(query), Normalize(address)
	if nq == "" || na == "" {
		return 0
	}
	if s.fuzzy {
		return primary(nq, na)
	}
	return fallback(nq, na)
}

// Compare wraps Similarity in a model.SimilarityScore.
func (s *Scorer) Compare(query, address string) model.SimilarityScore {
	return model.SimilarityScore{Score: s.Similarity(query, address), A: query, B: address}
}

func primary(nq, na string) float64 {
	scores := strategyScores(nq, na)
	score := 0.0
	for i, w := range blendWeights {
		score += w * scores[i]
	}
	if strings.Contains(na, nq) {
		score += substringBonus
		// Never below what the fallback heuristic gives full containment.
		score = max(score, containmentScore)
	}
	return min(score, 1.0)
}

func fallback(nq, na string) float64 {
	if strings.Contains(na, nq) {
		return containmentScore
	}
	qWords := strings.Fields(nq)
	aWords := tokenSet(na)
	shared := 0
	for _, w := range qWords {
		if aWords[w] {
			shared++
		}
	}
	if len(qWords) > 0 && float64(shared)/float64(len(qWords)) >= overlapMin {
		return overlapScore
	}
	return min(Ratio(nq, na), fallbackRatioCap)
}
