package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/config"
	"github.com/sells-group/facility-locator/internal/db"
	"github.com/sells-group/facility-locator/internal/gazetteer"
	"github.com/sells-group/facility-locator/internal/geo"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/normalize"
	"github.com/sells-group/facility-locator/internal/registry"
	"github.com/sells-group/facility-locator/internal/resilience"
	"github.com/sells-group/facility-locator/internal/resolve"
	"github.com/sells-group/facility-locator/internal/similarity"
	"github.com/sells-group/facility-locator/internal/store"
	"github.com/sells-group/facility-locator/internal/validate"
	"github.com/sells-group/facility-locator/pkg/geocode"
)

// Build wires an Engine from configuration: gazetteer, cache, registry,
// providers with breakers and local fallbacks, resolver and validator.
func Build(ctx context.Context, cfg *config.Config) (*Engine, error) {
	log := zap.L().With(zap.String("component", "engine"))

	gaz, err := BuildGazetteer(cfg.Gazetteer, cfg.Providers.UserAgent)
	if err != nil {
		return nil, err
	}

	th, err := Thresholds(cfg.Validator)
	if err != nil {
		return nil, err
	}

	cache, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "engine: open cache")
	}
	if err := cache.Migrate(ctx); err != nil {
		_ = cache.Close()
		return nil, eris.Wrap(err, "engine: migrate cache")
	}

	var opts []Option
	reg, closeReg, err := BuildRegistry(ctx, cfg.Registry, cfg.Store)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	if closeReg != nil {
		opts = append(opts, WithCloser(closeReg))
	}

	breakers := resilience.NewRegistry(resilience.FromSettings(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeoutSecs))
	providers := BuildProviders(cfg.Providers, breakers)

	resolverOpts := []resolve.Option{
		resolve.WithCache(cache),
		resolve.WithProviders(providers...),
		resolve.WithWorkers(cfg.Resolver.Workers),
		resolve.WithCacheFuzzyThreshold(cfg.Resolver.CacheFuzzyThreshold),
		resolve.WithProviderTimeout(seconds(cfg.Resolver.ProviderTimeoutSecs)),
		resolve.WithStoreTimeout(seconds(cfg.Resolver.StoreTimeoutSecs)),
	}
	if reg != nil {
		resolverOpts = append(resolverOpts, resolve.WithRegistry(reg))
	}
	resolver := resolve.New(normalize.New(gaz), resolverOpts...)

	reversers := make([]validate.Reverser, 0, len(providers))
	for _, p := range providers {
		reversers = append(reversers, p)
	}
	validator, err := validate.New(th,
		validate.WithReversers(reversers...),
		validate.WithBounds(gaz),
		validate.WithScorer(similarity.NewScorer(similarity.WithFuzzy(cfg.Similarity.Fuzzy))),
		validate.WithReverseTimeout(seconds(cfg.Validator.ReverseTimeoutSecs)),
		validate.WithWorkers(cfg.Validator.Workers),
	)
	if err != nil {
		_ = cache.Close()
		if closeReg != nil {
			_ = closeReg()
		}
		return nil, eris.Wrap(err, "engine: build validator")
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	log.Info("engine ready",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("registry", reg != nil),
		zap.Strings("providers", names),
	)

	opts = append(opts, WithBreakers(breakers))
	return New(resolver, validator, cache, opts...), nil
}

// Thresholds converts validator configuration into a checked policy.
func Thresholds(c config.ValidatorConfig) (validate.Thresholds, error) {
	th := validate.Thresholds{
		NeedsReview:         c.NeedsReview,
		Pending:             c.Pending,
		BelowPolicy:         model.Status(c.BelowPolicy),
		SimilarityWeight:    c.SimilarityWeight,
		ProximityWeight:     c.ProximityWeight,
		BoundsPenalty:       c.BoundsPenalty,
		OutlierPenalty:      c.OutlierPenalty,
		MinUsefulSimilarity: c.MinUsefulSimilarity,
		Cluster: geo.ClusterOptions{
			OutlierKM:    c.OutlierKM,
			OutlierSigma: c.OutlierSigma,
			H3Resolution: c.H3Resolution,
		},
	}
	if err := th.Validate(); err != nil {
		return validate.Thresholds{}, eris.Wrap(err, "engine: thresholds")
	}
	return th, nil
}

// BuildGazetteer loads the country table plus optional admin-1 data and
// bounding-box sources. The shapefile is consulted before Nominatim.
func BuildGazetteer(c config.GazetteerConfig, userAgent string) (*gazetteer.Gazetteer, error) {
	var chain gazetteer.ChainBounds
	if c.ShapefilePath != "" {
		chain = append(chain, gazetteer.NewShapefileBounds(c.ShapefilePath))
	}
	if c.NominatimBounds {
		nopts := []gazetteer.NominatimOption{gazetteer.WithUserAgent(userAgent)}
		if c.NominatimURL != "" {
			nopts = append(nopts, gazetteer.WithNominatimURL(c.NominatimURL))
		}
		chain = append(chain, gazetteer.NewNominatimBounds(nopts...))
	}

	var opts []gazetteer.Option
	if len(chain) > 0 {
		opts = append(opts, gazetteer.WithBoundsSource(chain))
	}
	gaz, err := gazetteer.New(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load gazetteer")
	}

	if c.Admin1File != "" {
		n, err := gaz.LoadAdmin1File(c.Admin1File)
		if err != nil {
			return nil, eris.Wrap(err, "engine: load admin1")
		}
		zap.L().Info("loaded admin1 subdivisions", zap.Int("count", n), zap.String("file", c.Admin1File))
	}
	return gaz, nil
}

// BuildRegistry returns the configured facility registry, or nil when none
// is configured. The returned closer, when non-nil, releases its pool.
func BuildRegistry(ctx context.Context, c config.RegistryConfig, sc config.StoreConfig) (registry.FacilityRegistry, func() error, error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := db.NewPool(ctx, c.DatabaseURL, &db.PoolConfig{MaxConns: sc.MaxConns, MinConns: sc.MinConns})
		if err != nil {
			return nil, nil, eris.Wrap(err, "engine: connect registry")
		}
		return registry.NewPostgres(pool), func() error { pool.Close(); return nil }, nil
	case c.File != "":
		facilities, err := registry.LoadFile(c.File)
		if err != nil {
			return nil, nil, eris.Wrap(err, "engine: load registry")
		}
		mem := registry.NewMemory(facilities)
		zap.L().Info("loaded facility registry", zap.Int("facilities", mem.Len()), zap.String("file", c.File))
		return mem, nil, nil
	default:
		return nil, nil, nil
	}
}

// BuildProviders returns the enabled providers in a fixed order (google,
// nominatim, photon), each behind its own breaker and timeout.
func BuildProviders(c config.ProvidersConfig, breakers *resilience.Registry) []geocode.Provider {
	type ctor func(opts ...geocode.Option) geocode.Provider
	google := func(opts ...geocode.Option) geocode.Provider { return geocode.NewGoogle(opts...) }
	nominatim := func(opts ...geocode.Option) geocode.Provider { return geocode.NewNominatim(opts...) }
	photon := func(opts ...geocode.Option) geocode.Provider { return geocode.NewPhoton(opts...) }

	specs := []struct {
		name string
		cfg  config.ProviderConfig
		new  ctor
	}{
		{"google", c.Google, google},
		{"nominatim", c.Nominatim, nominatim},
		{"photon", c.Photon, photon},
	}

	var out []geocode.Provider
	for _, s := range specs {
		if !s.cfg.Enabled {
			continue
		}
		public := providerOptions(s.cfg, c.UserAgent)
		if s.cfg.BaseURL != "" {
			public = append(public, geocode.WithBaseURL(s.cfg.BaseURL))
		}
		p := s.new(public...)
		if s.cfg.LocalURL != "" {
			local := append(providerOptions(s.cfg, c.UserAgent),
				geocode.WithBaseURL(s.cfg.LocalURL),
				geocode.WithName(s.name+"-local"),
			)
			p = geocode.WithLocalFallback(s.new(local...), p,
				geocode.WithLocalTimeout(seconds(s.cfg.LocalTimeoutSecs)),
				geocode.WithFallbackName(s.name),
			)
		}
		p = geocode.WithBreaker(p, breakers.Get(s.name))
		if t := seconds(s.cfg.TimeoutSecs); t > 0 {
			p = geocode.WithTimeout(p, t)
		}
		out = append(out, p)
	}
	return out
}

func providerOptions(c config.ProviderConfig, userAgent string) []geocode.Option {
	var opts []geocode.Option
	if c.APIKey != "" {
		opts = append(opts, geocode.WithAPIKey(c.APIKey))
	}
	if userAgent != "" {
		opts = append(opts, geocode.WithUserAgent(userAgent))
	}
	if c.RateLimit > 0 {
		opts = append(opts, geocode.WithRateLimit(c.RateLimit))
	}
	return opts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
