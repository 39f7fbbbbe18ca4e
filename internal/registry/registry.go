// Package registry looks facilities up by name in a curated facility list and
// runs the exact → contains → fuzzy → token-containment match cascade.
package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/similarity"
)

// Cascade acceptance constants. Scores are on the 0-1 scale.
const (
	ContainsConfidence = 0.85
	FuzzyMinScore      = 0.65
	TokenMinRatio      = 0.70
	TokenMinConfidence = 0.60
	TokenMaxConfidence = 0.90
)

// Facility is one registry row.
type Facility struct {
	ID          string  `csv:"id" json:"id"`
	Name        string  `csv:"name" json:"name"`
	CountryCode string  `csv:"country_code" json:"country_code,omitempty"`
	AdminArea   string  `csv:"admin_area,omitempty" json:"admin_area,omitempty"`
	Type        string  `csv:"type,omitempty" json:"type,omitempty"`
	Lat         float64 `csv:"lat" json:"lat"`
	Lon         float64 `csv:"lon" json:"lon"`
}

// Coord returns the facility's coordinate.
func (f Facility) Coord() model.Coordinate {
	return model.Coordinate{Lat: f.Lat, Lon: f.Lon}
}

// Match is a facility accepted by one cascade stage.
type Match struct {
	Facility   Facility        `json:"facility"`
	Type       model.MatchType `json:"type"`
	Confidence float64         `json:"confidence"`
	Score      float64         `json:"score,omitempty"`
}

// FacilityRegistry is a searchable facility list. LookupExact returns nil, nil
// on a miss. LookupFuzzy returns the candidates worth scoring for name; the
// cascade does the ranking.
type FacilityRegistry interface {
	LookupExact(ctx context.Context, name, countryCode string) (*Facility, error)
	LookupFuzzy(ctx context.Context, name, countryCode string) ([]Match, error)
}

// Cascade runs the match stages in order and returns the first hit, or nil
// when no stage accepts a facility.
func Cascade(ctx context.Context, reg FacilityRegistry, name, countryCode string) (*Match, error) {
	key := similarity.Normalize(name)
	if key == "" {
		return nil, nil
	}

	f, err := reg.LookupExact(ctx, name, countryCode)
	if err != nil {
		return nil, eris.Wrap(err, "registry: exact lookup")
	}
	if f != nil {
		return &Match{Facility: *f, Type: model.MatchExact, Confidence: 1.0, Score: 1.0}, nil
	}

	cands, err := reg.LookupFuzzy(ctx, name, countryCode)
	if err != nil {
		return nil, eris.Wrap(err, "registry: fuzzy lookup")
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Facility.Name != cands[j].Facility.Name {
			return cands[i].Facility.Name < cands[j].Facility.Name
		}
		return cands[i].Facility.ID < cands[j].Facility.ID
	})

	if m := containsStage(key, cands); m != nil {
		return m, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "registry: cascade")
	}
	if m := fuzzyStage(key, cands); m != nil {
		return m, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "registry: cascade")
	}
	return tokenStage(key, cands), nil
}

func containsStage(key string, cands []Match) *Match {
	for _, c := range cands {
		ck := similarity.Normalize(c.Facility.Name)
		if ck == "" {
			continue
		}
		if containsPhrase(ck, key) || containsPhrase(key, ck) {
			return &Match{Facility: c.Facility, Type: model.MatchContains, Confidence: ContainsConfidence, Score: ContainsConfidence}
		}
	}
	return nil
}

func fuzzyStage(key string, cands []Match) *Match {
	var best *Match
	for _, c := range cands {
		score := similarity.Best(key, c.Facility.Name)
		if score < FuzzyMinScore {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{Facility: c.Facility, Type: model.MatchFuzzy, Confidence: score, Score: score}
		}
	}
	return best
}

func tokenStage(key string, cands []Match) *Match {
	query := strings.Fields(key)
	var best *Match
	for _, c := range cands {
		ratio := tokenContainment(query, similarity.Tokens(c.Facility.Name))
		if ratio < TokenMinRatio {
			continue
		}
		if best == nil || ratio > best.Score {
			best = &Match{Facility: c.Facility, Type: model.MatchToken, Confidence: tokenConfidence(ratio), Score: ratio}
		}
	}
	return best
}

// containsPhrase reports whether needle appears in hay on word boundaries.
func containsPhrase(hay, needle string) bool {
	return strings.Contains(" "+hay+" ", " "+needle+" ")
}

// tokenContainment is the share of query tokens present in name.
func tokenContainment(query, name []string) float64 {
	if len(query) == 0 {
		return 0
	}
	have := make(map[string]bool, len(name))
	for _, w := range name {
		have[w] = true
	}
	hits := 0
	for _, w := range query {
		if have[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// tokenConfidence maps a containment ratio in [0.7,1] onto [0.6,0.9].
func tokenConfidence(ratio float64) float64 {
	span := (ratio - TokenMinRatio) / (1 - TokenMinRatio)
	span = min(max(span, 0), 1)
	return TokenMinConfidence + span*(TokenMaxConfidence-TokenMinConfidence)
}

func sameCountry(facility, filter string) bool {
	return filter == "" || facility == "" || strings.EqualFold(facility, filter)
}
