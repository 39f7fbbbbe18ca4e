package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/facility-locator/internal/geo"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/similarity"
	"github.com/sells-group/facility-locator/pkg/geocode"
)

// ErrInvalidCoordinate means a successful candidate carried a coordinate
// outside the WGS84 ranges. Sources validate coordinates before reporting
// success, so this is a programming error.
var ErrInvalidCoordinate = eris.New("validate: successful candidate has invalid coordinate")

// Defaults for Validator options.
const (
	DefaultReverseTimeout = 10 * time.Second
	DefaultWorkers        = 8
)

// Reverser turns a coordinate into an address.
type Reverser interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64) (*geocode.Address, error)
}

// BoundsLookup returns a country's bounding box.
type BoundsLookup interface {
	BoundingBox(ctx context.Context, code string) (geo.BBox, error)
}

// Validator scores CandidateSets under a fixed Thresholds policy.
type Validator struct {
	th        Thresholds
	scorer    *similarity.Scorer
	reversers []Reverser
	bounds    BoundsLookup
	timeout   time.Duration
	workers   int
	now       func() time.Time
	log       *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithReversers sets the ordered reverse-geocoding chain. The last entry
// should be the most available one.
func WithReversers(rs ...Reverser) Option {
	return func(v *Validator) { v.reversers = append(v.reversers, rs...) }
}

// WithBounds enables the country bounding-box check.
func WithBounds(b BoundsLookup) Option {
	return func(v *Validator) { v.bounds = b }
}

// WithScorer replaces the default similarity scorer.
func WithScorer(s *similarity.Scorer) Option {
	return func(v *Validator) { v.scorer = s }
}

// WithReverseTimeout bounds each reverse call that has no timeout of its own.
func WithReverseTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithWorkers bounds the concurrent reverse-geocoding chains.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithClock overrides the time source for DecidedAt.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New returns a Validator, rejecting inconsistent thresholds.
func New(th Thresholds, opts ...Option) (*Validator, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	v := &Validator{
		th:      th,
		scorer:  similarity.NewScorer(),
		timeout: DefaultReverseTimeout,
		workers: DefaultWorkers,
		now:     func() time.Time { return time.Now().UTC() },
		log:     zap.L().With(zap.String("component", "validate")),
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Thresholds returns the validator's policy.
func (v *Validator) Thresholds() Thresholds {
	return v.th
}

// reverseResult is the address chosen for one candidate.
type reverseResult struct {
	address    string
	provider   string
	similarity float64
}

// Validate scores cs against the query. Only an empty query, an invalid
// successful coordinate or cancellation produce an error; a set with no
// successful sources yields a rejected outcome.
func (v *Validator) Validate(ctx context.Context, cs *model.CandidateSet, q model.LocationQuery) (model.ValidationOutcome, error) {
	if q.Empty() {
		return model.ValidationOutcome{}, model.ErrEmptyQuery
	}

	var succ []model.SourceCandidate
	if cs != nil {
		succ = cs.Successful()
	}
	for _, c := range succ {
		if !c.Coord.Valid() {
			return model.ValidationOutcome{}, eris.Wrapf(ErrInvalidCoordinate, "source %s %s", c.Source, c.Coord)
		}
	}
	if len(succ) == 0 {
		return v.rejectEmpty(cs), nil
	}

	reverse, err := v.reverseAll(ctx, q.Name, succ)
	if err != nil {
		return model.ValidationOutcome{}, err
	}

	points := make([]geo.Point, len(succ))
	coords := make([]model.Coordinate, len(succ))
	for i, c := range succ {
		points[i] = geo.Point{Source: c.Source, Coord: c.Coord}
		coords[i] = c.Coord
	}
	cluster := geo.ComputeClusterStats(points, v.th.Cluster)

	var countryCode string
	if cs != nil {
		countryCode = cs.Parsed.CountryCode
	}
	bounds, bbox := v.checkBounds(ctx, countryCode)
	if err := ctx.Err(); err != nil {
		return model.ValidationOutcome{}, err
	}

	sources := make(map[model.SourceID]model.SourceScore, len(succ))
	for i, c := range succ {
		score := model.SourceScore{
			Source:          c.Source,
			Coord:           c.Coord,
			NameSimilarity:  reverse[i].similarity,
			ReverseAddress:  reverse[i].address,
			ReverseProvider: reverse[i].provider,
			Outlier:         cluster.Outliers[c.Source],
		}
		if len(succ) == 1 {
			score.Proximity = geo.LoneSourceProximity
		} else {
			peers := make([]model.Coordinate, 0, len(coords)-1)
			for j, pc := range coords {
				if j != i {
					peers = append(peers, pc)
				}
			}
			score.MeanPeerDistance = geo.MeanDistanceTo(c.Coord, peers)
			score.Proximity = geo.ProximityScore(score.MeanPeerDistance)
		}
		score.Confidence = v.th.SimilarityWeight*score.NameSimilarity + v.th.ProximityWeight*score.Proximity
		if bounds.Checked && !bbox.Contains(c.Coord) {
			score.OutsideBounds = true
			bounds.Outside = append(bounds.Outside, c.Source)
		}
		sources[c.Source] = score
	}

	// The overall confidence is the recommended source's own, so an outlier
	// cannot lend its score to a coordinate it did not produce.
	rec := recommend(succ, sources)
	overall := sources[rec.Source].Confidence
	if len(bounds.Outside) > 0 {
		overall *= v.th.BoundsPenalty
	}
	if cluster.AnyOutlier() {
		overall *= v.th.OutlierPenalty
	}

	out := model.ValidationOutcome{
		Confidence: overall,
		Status:     v.th.Classify(overall),
		Sources:    sources,
		Cluster:    cluster,
		Bounds:     bounds,
		DecidedAt:  v.now(),
	}
	out.RecommendedSource = rec.Source
	coord := rec.Coord
	out.RecommendedCoord = &coord
	out.Reason = reason(out)

	v.log.Debug("validate: outcome",
		zap.String("query", q.Name),
		zap.Float64("confidence", out.Confidence),
		zap.String("status", string(out.Status)),
		zap.String("recommended", string(out.RecommendedSource)),
	)
	return out, nil
}

func (v *Validator) rejectEmpty(cs *model.CandidateSet) model.ValidationOutcome {
	var failures []string
	if cs != nil {
		for _, id := range cs.Sources() {
			c := cs.Candidates[id]
			failures = append(failures, fmt.Sprintf("%s: %s", id, c.ErrorKind))
		}
	}
	reason := "no source returned a coordinate"
	if len(failures) > 0 {
		reason += " (" + strings.Join(failures, ", ") + ")"
	}
	return model.ValidationOutcome{
		Confidence: 0,
		Status:     model.StatusRejected,
		Sources:    map[model.SourceID]model.SourceScore{},
		Cluster: model.ClusterStats{
			DistanceToCentroid: map[model.SourceID]float64{},
			Outliers:           map[model.SourceID]bool{},
		},
		Reason:    reason,
		DecidedAt: v.now(),
	}
}

// reverseAll runs the reverse chain for every candidate concurrently.
func (v *Validator) reverseAll(ctx context.Context, query string, succ []model.SourceCandidate) ([]reverseResult, error) {
	results := make([]reverseResult, len(succ))
	if len(v.reversers) == 0 {
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(v.workers)
	for i, c := range succ {
		g.Go(func() error {
			results[i] = v.reverseOne(ctx, query, c.Coord)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// reverseOne walks the chain and keeps the first address similar enough to
// the query, else the first non-empty one.
func (v *Validator) reverseOne(ctx context.Context, query string, c model.Coordinate) reverseResult {
	var first *reverseResult
	for _, r := range v.reversers {
		if ctx.Err() != nil {
			break
		}
		addr, err := v.reverse(ctx, r, c)
		if err != nil {
			v.log.Debug("validate: reverse failed", zap.String("provider", r.Name()), zap.Error(err))
			continue
		}
		if addr == nil || strings.TrimSpace(addr.Formatted) == "" {
			continue
		}
		res := reverseResult{
			address:    addr.Formatted,
			provider:   r.Name(),
			similarity: v.scorer.Similarity(query, addr.Formatted),
		}
		if res.similarity >= v.th.MinUsefulSimilarity {
			return res
		}
		if first == nil {
			first = &res
		}
	}
	if first != nil {
		return *first
	}
	return reverseResult{}
}

func (v *Validator) reverse(ctx context.Context, r Reverser, c model.Coordinate) (*geocode.Address, error) {
	timeout := v.timeout
	if p, ok := r.(geocode.Provider); ok {
		timeout = geocode.TimeoutOf(p, v.timeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Reverse(ctx, c.Lat, c.Lon)
}

func (v *Validator) checkBounds(ctx context.Context, code string) (model.BoundsCheck, geo.BBox) {
	check := model.BoundsCheck{CountryCode: code}
	switch {
	case code == "":
		check.Note = "no country"
		return check, geo.BBox{}
	case v.bounds == nil:
		check.Note = "bounds check disabled"
		return check, geo.BBox{}
	}
	box, err := v.bounds.BoundingBox(ctx, code)
	if err != nil {
		v.log.Warn("validate: bounding box unavailable", zap.String("country", code), zap.Error(err))
		check.Note = "bounding box unavailable: " + err.Error()
		return check, geo.BBox{}
	}
	check.Checked = true
	check.MinLat, check.MaxLat = box.MinLat, box.MaxLat
	check.MinLon, check.MaxLon = box.MinLon, box.MaxLon
	return check, box
}

// recommend prefers sources that are neither outliers nor out of bounds,
// then the highest confidence, then canonical source order.
func recommend(succ []model.SourceCandidate, scores map[model.SourceID]model.SourceScore) model.SourceCandidate {
	ranked := append([]model.SourceCandidate(nil), succ...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := scores[ranked[i].Source], scores[ranked[j].Source]
		ca, cb := clean(a), clean(b)
		if ca != cb {
			return ca
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return model.SourceLess(a.Source, b.Source)
	})
	return ranked[0]
}

func clean(s model.SourceScore) bool {
	return !s.Outlier && !s.OutsideBounds
}

func reason(o model.ValidationOutcome) string {
	parts := []string{fmt.Sprintf("best source %s at %.2f", o.RecommendedSource, o.Sources[o.RecommendedSource].Confidence)}
	if n := len(o.Bounds.Outside); n > 0 {
		parts = append(parts, fmt.Sprintf("%d source(s) outside %s bounds", n, o.Bounds.CountryCode))
	}
	var outliers []string
	for id, out := range o.Cluster.Outliers {
		if out {
			outliers = append(outliers, string(id))
		}
	}
	if len(outliers) > 0 {
		sort.Strings(outliers)
		parts = append(parts, "outliers: "+strings.Join(outliers, ", "))
	}
	return strings.Join(parts, "; ")
}
