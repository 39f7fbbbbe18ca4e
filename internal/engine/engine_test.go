package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-locator/internal/config"
	"github.com/sells-group/facility-locator/internal/gazetteer"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/normalize"
	"github.com/sells-group/facility-locator/internal/promote"
	"github.com/sells-group/facility-locator/internal/resilience"
	"github.com/sells-group/facility-locator/internal/resolve"
	"github.com/sells-group/facility-locator/internal/store"
	"github.com/sells-group/facility-locator/internal/validate"
	"github.com/sells-group/facility-locator/pkg/geocode"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type echoProvider struct {
	name     string
	lat, lon float64
}

func (p echoProvider) Name() string { return p.name }

func (p echoProvider) Search(_ context.Context, query string, _ geocode.RegionHint) (*geocode.Place, error) {
	return &geocode.Place{Lat: p.lat, Lon: p.lon, DisplayName: query}, nil
}

func (p echoProvider) Reverse(context.Context, float64, float64) (*geocode.Address, error) {
	return &geocode.Address{Formatted: "Harare Central Hospital"}, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	gaz, err := gazetteer.New()
	require.NoError(t, err)

	cache, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, cache.Migrate(context.Background()))

	providers := []geocode.Provider{
		echoProvider{name: "nominatim", lat: -17.8536, lon: 31.0337},
		echoProvider{name: "photon", lat: -17.8540, lon: 31.0341},
	}
	r := resolve.New(normalize.New(gaz),
		resolve.WithCache(cache),
		resolve.WithProviders(providers...),
	)
	v, err := validate.New(validate.DefaultThresholds(),
		validate.WithReversers(providers[0], providers[1]),
		validate.WithBounds(gaz),
		validate.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)

	breakers := resilience.NewRegistry(resilience.DefaultConfig())
	breakers.Get("nominatim")

	e := New(r, v, cache, WithBreakers(breakers), WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(func() { e.Close() }) //nolint:errcheck
	return e
}

func TestEngine_PromoteThenResolveHitsCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	q := model.LocationQuery{Name: "Harare Central Hospital"}

	res, err := e.Locate(ctx, q)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)
	require.Equal(t, model.StatusNeedsReview, res.Outcome.Status)

	cache, ok := res.Candidates.Get(model.SourceCache)
	require.True(t, ok)
	assert.False(t, cache.OK)
	assert.Equal(t, model.ErrorNotFound, cache.ErrorKind)

	approved, err := e.Approve(res.Outcome, "reviewer@example.org", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, approved.Status)
	assert.Equal(t, fixedNow, approved.DecidedAt)

	wr, err := e.Promote(ctx, q, approved)
	require.NoError(t, err)
	assert.True(t, wr.Created)

	cs, err := e.Resolve(ctx, q)
	require.NoError(t, err)
	hit, ok := cs.Get(model.SourceCache)
	require.True(t, ok)
	assert.True(t, hit.OK)
	assert.Equal(t, model.MatchExact, hit.MatchType)
	assert.InDelta(t, 1.0, hit.MatchConfidence, 1e-9)
	assert.Equal(t, *approved.RecommendedCoord, hit.Coord)
}

func TestEngine_LocateNeverPromotes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Locate(ctx, model.LocationQuery{Name: "Harare Central Hospital"})
	require.NoError(t, err)

	entries, err := e.ListCache(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_PromoteRequiresApproval(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	q := model.LocationQuery{Name: "Harare Central Hospital"}

	res, err := e.Locate(ctx, q)
	require.NoError(t, err)

	_, err = e.Promote(ctx, q, res.Outcome)
	assert.True(t, errors.Is(err, promote.ErrNotValidated))
}

func TestEngine_ApproveRejectsEditedCoordinate(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Locate(context.Background(), model.LocationQuery{Name: "Harare Central Hospital"})
	require.NoError(t, err)
	require.Equal(t, model.StatusNeedsReview, res.Outcome.Status)

	edited := res.Outcome
	moved := model.Coordinate{Lat: -20.1394, Lon: 28.5726}
	edited.RecommendedCoord = &moved
	_, err = e.Approve(edited, "reviewer@example.org", false)
	assert.True(t, errors.Is(err, validate.ErrNotApprovable))
}

func TestEngine_LocateEmptyQuery(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Locate(context.Background(), model.LocationQuery{Name: "  "})
	assert.True(t, errors.Is(err, model.ErrEmptyQuery))
}

func TestEngine_InvalidateAndList(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	q := model.LocationQuery{Name: "Harare Central Hospital"}

	res, err := e.Locate(ctx, q)
	require.NoError(t, err)
	approved, err := e.Approve(res.Outcome, "reviewer@example.org", false)
	require.NoError(t, err)
	_, err = e.Promote(ctx, q, approved)
	require.NoError(t, err)

	entries, err := e.ListCache(ctx, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "harare central hospital", entries[0].Key)

	removed, err := e.Invalidate(ctx, "Harare Central Hospital")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = e.Invalidate(ctx, "Harare Central Hospital")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestEngine_Health(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, map[string]string{"nominatim": "closed"}, e.Health())
}

func TestThresholds(t *testing.T) {
	th, err := Thresholds(config.ValidatorConfig{
		NeedsReview: 0.6, Pending: 0.4, BelowPolicy: "pending",
		SimilarityWeight: 0.7, ProximityWeight: 0.3,
		BoundsPenalty: 0.8, OutlierPenalty: 0.9, MinUsefulSimilarity: 0.3,
		OutlierKM: 25, OutlierSigma: 2, H3Resolution: 6,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, th.BelowPolicy)
	assert.InDelta(t, 25.0, th.Cluster.OutlierKM, 1e-9)
	assert.Equal(t, 6, th.Cluster.H3Resolution)

	_, err = Thresholds(config.ValidatorConfig{NeedsReview: 0.3, Pending: 0.5, BelowPolicy: "rejected"})
	assert.Error(t, err)
}

func TestBuildProviders(t *testing.T) {
	breakers := resilience.NewRegistry(resilience.DefaultConfig())
	ps := BuildProviders(config.ProvidersConfig{
		Google:    config.ProviderConfig{Enabled: false},
		Nominatim: config.ProviderConfig{Enabled: true, LocalURL: "http://nominatim.internal", TimeoutSecs: 7, RateLimit: 1},
		Photon:    config.ProviderConfig{Enabled: true},
	}, breakers)

	require.Len(t, ps, 2)
	assert.Equal(t, "nominatim", ps[0].Name())
	assert.Equal(t, "photon", ps[1].Name())
	assert.Equal(t, 7*time.Second, geocode.TimeoutOf(ps[0], time.Second))
	assert.Equal(t, time.Second, geocode.TimeoutOf(ps[1], time.Second))
	assert.Len(t, breakers.States(), 2)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "facilities.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,name,country_code,lat,lon\nzw-002,Harare Central Hospital,ZW,-17.8536,31.0337\n"), 0o644))

	cfg := &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "locate.db")},
		Registry:  config.RegistryConfig{File: csvPath},
		Providers: config.ProvidersConfig{Photon: config.ProviderConfig{Enabled: true, TimeoutSecs: 5}},
		Resolver:  config.ResolverConfig{Workers: 4, CacheFuzzyThreshold: 0.8},
		Validator: config.ValidatorConfig{
			NeedsReview: 0.6, Pending: 0.4, BelowPolicy: "rejected",
			SimilarityWeight: 0.7, ProximityWeight: 0.3,
			BoundsPenalty: 0.8, OutlierPenalty: 0.9, MinUsefulSimilarity: 0.3,
			OutlierKM: 50, OutlierSigma: 3,
		},
		Similarity: config.SimilarityConfig{Fuzzy: true},
	}

	e, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"photon": "closed"}, e.Health())
	require.NoError(t, e.Close())
}

func TestBuild_BadThresholds(t *testing.T) {
	cfg := &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "locate.db")},
		Validator: config.ValidatorConfig{NeedsReview: 0.2, Pending: 0.5},
	}
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}
