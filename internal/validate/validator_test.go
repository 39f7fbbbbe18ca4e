package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-locator/internal/geo"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/pkg/geocode"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type stubReverser struct {
	name    string
	address string
	err     error
}

func (s stubReverser) Name() string { return s.name }

func (s stubReverser) Reverse(context.Context, float64, float64) (*geocode.Address, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &geocode.Address{Formatted: s.address}, nil
}

type funcReverser func(lat, lon float64) string

func (funcReverser) Name() string { return "func" }

func (f funcReverser) Reverse(_ context.Context, lat, lon float64) (*geocode.Address, error) {
	return &geocode.Address{Formatted: f(lat, lon)}, nil
}

type stubBounds struct {
	box geo.BBox
	err error
}

func (s stubBounds) BoundingBox(context.Context, string) (geo.BBox, error) {
	return s.box, s.err
}

var zimbabwe = geo.BBox{MinLat: -22.42, MaxLat: -15.61, MinLon: 25.24, MaxLon: 33.06}

func newValidator(t *testing.T, opts ...Option) *Validator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	v, err := New(DefaultThresholds(), opts...)
	require.NoError(t, err)
	return v
}

func candidateSet(t *testing.T, q model.LocationQuery, country string, cands ...model.SourceCandidate) *model.CandidateSet {
	t.Helper()
	cs := model.NewCandidateSet(q, model.ParsedLocation{CountryCode: country, Residual: q.Name})
	for _, c := range cands {
		require.NoError(t, cs.Add(c))
	}
	return cs
}

func ok(src model.SourceID, lat, lon float64) model.SourceCandidate {
	return model.SourceCandidate{Source: src, OK: true, Coord: model.Coordinate{Lat: lat, Lon: lon}}
}

var hararequery = model.LocationQuery{Name: "Harare Central Hospital"}

func echoReverser() Reverser {
	return stubReverser{name: "echo", address: "Harare Central Hospital, Harare, Zimbabwe"}
}

func TestValidate_EmptyQuery(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(context.Background(), nil, model.LocationQuery{Name: " "})
	assert.ErrorIs(t, err, model.ErrEmptyQuery)
}

func TestValidate_NoSuccessfulSources(t *testing.T) {
	v := newValidator(t)
	cs := candidateSet(t, hararequery, "ZW",
		model.Failed("google", model.ErrorProviderTimeout, errors.New("deadline")),
		model.Failed(model.SourceRegistry, model.ErrorNotFound, nil),
	)

	out, err := v.Validate(context.Background(), cs, hararequery)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Equal(t, 0.0, out.Confidence)
	assert.Nil(t, out.RecommendedCoord)
	assert.Contains(t, out.Reason, "no source returned a coordinate")
	assert.Contains(t, out.Reason, "google: provider_timeout")
	assert.Equal(t, fixedNow, out.DecidedAt)

	out, err = v.Validate(context.Background(), nil, hararequery)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, out.Status)
}

func TestValidate_InvalidCoordinate(t *testing.T) {
	v := newValidator(t)
	cs := candidateSet(t, hararequery, "", ok("google", 95, 0))
	_, err := v.Validate(context.Background(), cs, hararequery)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestValidate_LoneSourceProximity(t *testing.T) {
	v := newValidator(t, WithReversers(echoReverser()))
	for _, c := range []model.SourceCandidate{ok("google", -17.82, 31.03), ok("google", 64.13, -21.9), ok("google", 0, 0)} {
		out, err := v.Validate(context.Background(), candidateSet(t, hararequery, "", c), hararequery)
		require.NoError(t, err)
		assert.Equal(t, 0.8, out.Sources["google"].Proximity)
	}
}

func TestValidate_OutlierPenalized(t *testing.T) {
	v := newValidator(t, WithReversers(echoReverser()))
	a, b := ok("google", -17.82, 31.03), ok("nominatim", -17.821, 31.031)
	far := ok("photon", -40.0, -70.0)

	two, err := v.Validate(context.Background(), candidateSet(t, hararequery, "", a, b), hararequery)
	require.NoError(t, err)
	three, err := v.Validate(context.Background(), candidateSet(t, hararequery, "", a, b, far), hararequery)
	require.NoError(t, err)

	assert.True(t, three.Cluster.Outliers["photon"])
	assert.False(t, three.Cluster.Outliers["google"])
	assert.False(t, three.Cluster.Outliers["nominatim"])
	assert.Less(t, three.Confidence, two.Confidence)
	assert.Contains(t, three.Reason, "outliers: photon")
	assert.NotEqual(t, model.SourceID("photon"), three.RecommendedSource)

	assert.False(t, two.Cluster.AnyOutlier())
	assert.Equal(t, 1.0, two.Sources["google"].Proximity)
	assert.Equal(t, model.StatusNeedsReview, two.Status)
	assert.Equal(t, model.SourceID("google"), two.RecommendedSource)
}

func TestValidate_PerSourceConfidenceWeights(t *testing.T) {
	v := newValidator(t)
	out, err := v.Validate(context.Background(), candidateSet(t, hararequery, "", ok("google", -17.82, 31.03)), hararequery)
	require.NoError(t, err)

	s := out.Sources["google"]
	assert.Equal(t, 0.0, s.NameSimilarity)
	assert.InDelta(t, 0.3*0.8, s.Confidence, 1e-9)
	assert.InDelta(t, 0.24, out.Confidence, 1e-9)
	assert.Equal(t, model.StatusRejected, out.Status)
}

func TestValidate_BoundsPenalty(t *testing.T) {
	v := newValidator(t, WithReversers(echoReverser()), WithBounds(stubBounds{box: zimbabwe}))
	in := ok("google", -15.70, 31.03)
	out := ok("nominatim", -15.55, 31.03)

	res, err := v.Validate(context.Background(), candidateSet(t, hararequery, "ZW", in, out), hararequery)
	require.NoError(t, err)
	assert.True(t, res.Bounds.Checked)
	assert.Equal(t, []model.SourceID{"nominatim"}, res.Bounds.Outside)
	assert.True(t, res.Sources["nominatim"].OutsideBounds)
	assert.False(t, res.Cluster.AnyOutlier())
	assert.Equal(t, model.SourceID("google"), res.RecommendedSource)

	assert.InDelta(t, res.Sources["google"].Confidence*0.8, res.Confidence, 1e-9)
}

func TestValidate_BoundsUnavailableSkipsCheck(t *testing.T) {
	v := newValidator(t, WithReversers(echoReverser()), WithBounds(stubBounds{err: errors.New("nominatim down")}))
	res, err := v.Validate(context.Background(), candidateSet(t, hararequery, "ZW", ok("google", 10, 10)), hararequery)
	require.NoError(t, err)
	assert.False(t, res.Bounds.Checked)
	assert.Contains(t, res.Bounds.Note, "nominatim down")
	assert.Empty(t, res.Bounds.Outside)
}

func TestValidate_PenaltiesCompound(t *testing.T) {
	v := newValidator(t, WithReversers(echoReverser()), WithBounds(stubBounds{box: zimbabwe}))
	cs := candidateSet(t, hararequery, "ZW",
		ok("google", -17.82, 31.03), ok("nominatim", -17.821, 31.031), ok("photon", -40.0, -70.0))

	res, err := v.Validate(context.Background(), cs, hararequery)
	require.NoError(t, err)
	rec := res.Sources[res.RecommendedSource]
	assert.False(t, rec.Outlier)
	assert.InDelta(t, rec.Confidence*0.8*0.9, res.Confidence, 1e-9)
}

func TestValidate_ConfidenceBelongsToRecommendedSource(t *testing.T) {
	// Only the far-away coordinate reverse-geocodes to the facility name.
	v := newValidator(t, WithReversers(funcReverser(func(lat, _ float64) string {
		if lat < -30 {
			return "Harare Central Hospital"
		}
		return "Industrial Road, Southerton"
	})))
	cs := candidateSet(t, hararequery, "",
		ok(model.SourceRegistry, -17.82, 31.03), ok("google", -17.821, 31.031), ok("nominatim", -40.0, -70.0))

	res, err := v.Validate(context.Background(), cs, hararequery)
	require.NoError(t, err)
	require.True(t, res.Cluster.Outliers["nominatim"])
	assert.Greater(t, res.Sources["nominatim"].Confidence, res.Sources[res.RecommendedSource].Confidence)

	rec := res.Sources[res.RecommendedSource]
	assert.NotEqual(t, model.SourceID("nominatim"), res.RecommendedSource)
	require.NotNil(t, res.RecommendedCoord)
	assert.Equal(t, rec.Coord, *res.RecommendedCoord)
	assert.InDelta(t, rec.Confidence*0.9, res.Confidence, 1e-9)
	assert.Equal(t, model.StatusRejected, res.Status)

	_, err = Approve(res, "reviewer", fixedNow, false)
	assert.ErrorIs(t, err, ErrNotApprovable)
}

func TestValidate_ReverseChain(t *testing.T) {
	t.Run("skips useless address for a later useful one", func(t *testing.T) {
		v := newValidator(t, WithReversers(
			stubReverser{name: "a", address: "XYZ"},
			stubReverser{name: "b", address: "Harare Central Hospital"},
		))
		res, err := v.Validate(context.Background(), candidateSet(t, hararequery, "", ok("google", -17.82, 31.03)), hararequery)
		require.NoError(t, err)
		assert.Equal(t, "b", res.Sources["google"].ReverseProvider)
		assert.InDelta(t, 1.0, res.Sources["google"].NameSimilarity, 1e-9)
	})

	t.Run("keeps first non-empty when nothing is useful", func(t *testing.T) {
		v := newValidator(t, WithReversers(
			stubReverser{name: "a", err: geocode.ErrUnavailable},
			stubReverser{name: "b", address: ""},
			stubReverser{name: "c", address: "XYZ"},
		))
		res, err := v.Validate(context.Background(), candidateSet(t, hararequery, "", ok("google", -17.82, 31.03)), hararequery)
		require.NoError(t, err)
		assert.Equal(t, "c", res.Sources["google"].ReverseProvider)
		assert.Equal(t, "XYZ", res.Sources["google"].ReverseAddress)
	})
}

func TestValidate_DoesNotMutateCandidateSet(t *testing.T) {
	v := newValidator(t, WithReversers(echoReverser()))
	cs := candidateSet(t, hararequery, "", ok("google", -17.82, 31.03))
	before := cs.Candidates["google"]
	_, err := v.Validate(context.Background(), cs, hararequery)
	require.NoError(t, err)
	assert.Equal(t, before, cs.Candidates["google"])
}

func TestValidate_NeverSelfValidates(t *testing.T) {
	v := newValidator(t, WithReversers(echoReverser()))
	cs := candidateSet(t, hararequery, "",
		ok(model.SourceCache, -17.82, 31.03), ok("google", -17.82, 31.03), ok("nominatim", -17.82, 31.03))
	res, err := v.Validate(context.Background(), cs, hararequery)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Confidence, 0.95)
	assert.Equal(t, model.StatusNeedsReview, res.Status)
	assert.Equal(t, model.SourceCache, res.RecommendedSource)
}
