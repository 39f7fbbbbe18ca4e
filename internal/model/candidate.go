package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// SourceID identifies one independent source of coordinates.
type SourceID string

const (
	SourceCache    SourceID = "cache"
	SourceRegistry SourceID = "registry"
)

// ProviderSource returns the SourceID for a named geocoding provider.
func ProviderSource(name string) SourceID {
	return SourceID(name)
}

// rank orders sources deterministically: cache, registry, then providers by name.
func (s SourceID) rank() int {
	switch s {
	case SourceCache:
		return 0
	case SourceRegistry:
		return 1
	default:
		return 2
	}
}

// SourceLess is the canonical ordering used wherever sources are listed.
func SourceLess(a, b SourceID) bool {
	if a.rank() != b.rank() {
		return a.rank() < b.rank()
	}
	return a < b
}

// MatchType describes how a name-based source matched the query.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchFuzzy    MatchType = "fuzzy"
	MatchToken    MatchType = "token"
)

// SourceCandidate is one source's attempt for one query. Coord is only
// meaningful when OK is true; ErrorKind is only set when it is false.
type SourceCandidate struct {
	Source          SourceID        `json:"source"`
	OK              bool            `json:"ok"`
	Coord           Coordinate      `json:"coord"`
	ErrorKind       ErrorKind       `json:"error_kind,omitempty"`
	Error           string          `json:"error,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	MatchType       MatchType       `json:"match_type,omitempty"`
	MatchConfidence float64         `json:"match_confidence,omitempty"`
	MatchedName     string          `json:"matched_name,omitempty"`
	ServedBy        string          `json:"served_by,omitempty"`
	Elapsed         time.Duration   `json:"elapsed"`
}

// Failed builds a failed candidate for the given source.
func Failed(source SourceID, kind ErrorKind, err error) SourceCandidate {
	c := SourceCandidate{Source: source, ErrorKind: kind}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// CandidateSet holds every source's outcome for one query.
type CandidateSet struct {
	Query      LocationQuery                `json:"query"`
	Parsed     ParsedLocation               `json:"parsed"`
	Candidates map[SourceID]SourceCandidate `json:"candidates"`
}

// NewCandidateSet returns an empty set for the query.
func NewCandidateSet(q LocationQuery, parsed ParsedLocation) *CandidateSet {
	return &CandidateSet{
		Query:      q,
		Parsed:     parsed,
		Candidates: make(map[SourceID]SourceCandidate),
	}
}

// Add records a candidate. A source may appear at most once.
func (cs *CandidateSet) Add(c SourceCandidate) error {
	if c.Source == "" {
		return eris.New("model: candidate without source")
	}
	if _, dup := cs.Candidates[c.Source]; dup {
		return eris.Errorf("model: duplicate candidate for source %q", c.Source)
	}
	if c.OK && c.Coord.Valid() {
		c.Coord = c.Coord.Canonical()
	}
	cs.Candidates[c.Source] = c
	return nil
}

// Sources returns the set's source IDs in canonical order.
func (cs *CandidateSet) Sources() []SourceID {
	ids := make([]SourceID, 0, len(cs.Candidates))
	for id := range cs.Candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return SourceLess(ids[i], ids[j]) })
	return ids
}

// Successful returns the successful candidates in canonical source order.
func (cs *CandidateSet) Successful() []SourceCandidate {
	var out []SourceCandidate
	for _, id := range cs.Sources() {
		if c := cs.Candidates[id]; c.OK {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the candidate for a source.
func (cs *CandidateSet) Get(id SourceID) (SourceCandidate, bool) {
	c, ok := cs.Candidates[id]
	return c, ok
}
