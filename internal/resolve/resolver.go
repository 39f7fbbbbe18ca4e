// Package resolve fans a location query out to the validated cache, the
// facility registry and every geocoding provider, and collects one candidate
// per source.
package resolve

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/registry"
	"github.com/sells-group/facility-locator/internal/store"
	"github.com/sells-group/facility-locator/pkg/geocode"
)

// Defaults for Resolver options.
const (
	DefaultWorkers             = 8
	DefaultCacheFuzzyThreshold = 0.80
	DefaultProviderTimeout     = 10 * time.Second
	DefaultStoreTimeout        = 3 * time.Second
)

// Normalizer parses a query into country, admin area and residual text.
type Normalizer interface {
	NormalizeQuery(q model.LocationQuery) model.ParsedLocation
}

// Resolver collects candidates for a query. It makes exactly one attempt per
// source; retries belong to the caller.
type Resolver struct {
	normalizer     Normalizer
	cache          store.ValidatedCache
	registry       registry.FacilityRegistry
	providers      []geocode.Provider
	workers        int
	fuzzyThreshold float64
	timeout        time.Duration
	storeTimeout   time.Duration
	log            *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables the validated-cache stage.
func WithCache(c store.ValidatedCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithRegistry enables the facility-registry stage.
func WithRegistry(reg registry.FacilityRegistry) Option {
	return func(r *Resolver) { r.registry = reg }
}

// WithProviders sets the geocoding providers. Each provider's name must be
// unique; it becomes the candidate's source ID.
func WithProviders(ps ...geocode.Provider) Option {
	return func(r *Resolver) { r.providers = append(r.providers, ps...) }
}

// WithWorkers bounds the concurrent registry and provider tasks.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithCacheFuzzyThreshold sets the minimum similarity for a fuzzy cache hit.
func WithCacheFuzzyThreshold(t float64) Option {
	return func(r *Resolver) { r.fuzzyThreshold = t }
}

// WithProviderTimeout sets the timeout for providers that carry none of their own.
func WithProviderTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithStoreTimeout bounds each cache and registry stage.
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// New returns a Resolver. Stages without a backing store are skipped.
func New(n Normalizer, opts ...Option) *Resolver {
	r := &Resolver{
		normalizer:     n,
		workers:        DefaultWorkers,
		fuzzyThreshold: DefaultCacheFuzzyThreshold,
		timeout:        DefaultProviderTimeout,
		storeTimeout:   DefaultStoreTimeout,
		log:            zap.L().With(zap.String("component", "resolve")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Providers returns the configured providers.
func (r *Resolver) Providers() []geocode.Provider {
	return r.providers
}

// Resolve runs every configured stage and returns one candidate per source.
// The cache stage runs first; registry and providers then run concurrently,
// each under its own timeout. A cancelled ctx yields ctx.Err() and no set.
func (r *Resolver) Resolve(ctx context.Context, q model.LocationQuery) (*model.CandidateSet, error) {
	if q.Empty() {
		return nil, model.ErrEmptyQuery
	}

	parsed := r.normalizer.NormalizeQuery(q)
	cs := model.NewCandidateSet(q, parsed)

	var mu sync.Mutex
	record := func(c model.SourceCandidate) {
		mu.Lock()
		defer mu.Unlock()
		if err := cs.Add(c); err != nil {
			r.log.Warn("resolve: dropping candidate", zap.String("source", string(c.Source)), zap.Error(err))
			return
		}
		r.log.Debug("resolve: stage done",
			zap.String("source", string(c.Source)),
			zap.Bool("ok", c.OK),
			zap.String("kind", string(c.ErrorKind)),
			zap.Duration("elapsed", c.Elapsed),
		)
	}

	if r.cache != nil {
		record(r.lookupCache(ctx, q, parsed))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(r.workers)

	if r.registry != nil {
		g.Go(func() error {
			record(r.lookupRegistry(ctx, q, parsed))
			return nil
		})
	}
	for _, p := range r.providers {
		g.Go(func() error {
			record(r.search(ctx, p, parsed))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (r *Resolver) lookupCache(ctx context.Context, q model.LocationQuery, parsed model.ParsedLocation) model.SourceCandidate {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	names := distinct(q.Name, parsed.Residual)
	for _, name := range names {
		e, err := r.cache.GetExact(ctx, name)
		if err != nil {
			return elapsed(model.Failed(model.SourceCache, model.ErrorCacheUnavailable, err), start)
		}
		if e != nil {
			return elapsed(cacheCandidate(*e, model.MatchExact), start)
		}
	}
	for _, name := range names {
		hit, err := r.cache.GetFuzzy(ctx, name, r.fuzzyThreshold, parsed.CountryCode)
		if err != nil {
			return elapsed(model.Failed(model.SourceCache, model.ErrorCacheUnavailable, err), start)
		}
		if hit != nil {
			return elapsed(cacheCandidate(hit.Entry, model.MatchFuzzy), start)
		}
	}
	return elapsed(model.Failed(model.SourceCache, model.ErrorNotFound, eris.New("resolve: no cache entry")), start)
}

func cacheCandidate(e model.ValidatedCacheEntry, mt model.MatchType) model.SourceCandidate {
	raw, _ := json.Marshal(e)
	return model.SourceCandidate{
		Source:          model.SourceCache,
		OK:              true,
		Coord:           e.Coord,
		Raw:             raw,
		MatchType:       mt,
		MatchConfidence: 1.0,
		MatchedName:     e.Name,
	}
}

func (r *Resolver) lookupRegistry(ctx context.Context, q model.LocationQuery, parsed model.ParsedLocation) model.SourceCandidate {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	for _, name := range distinct(parsed.Residual, q.Name) {
		m, err := registry.Cascade(ctx, r.registry, name, parsed.CountryCode)
		if err != nil {
			return elapsed(model.Failed(model.SourceRegistry, model.ErrorRegistryUnavailable, err), start)
		}
		if m == nil {
			continue
		}
		coord := m.Facility.Coord()
		if !coord.Valid() {
			return elapsed(model.Failed(model.SourceRegistry, model.ErrorRegistryUnavailable,
				eris.Errorf("resolve: registry facility %q has invalid coordinate %s", m.Facility.Name, coord)), start)
		}
		raw, _ := json.Marshal(m.Facility)
		return elapsed(model.SourceCandidate{
			Source:          model.SourceRegistry,
			OK:              true,
			Coord:           coord,
			Raw:             raw,
			MatchType:       m.Type,
			MatchConfidence: m.Confidence,
			MatchedName:     m.Facility.Name,
		}, start)
	}
	return elapsed(model.Failed(model.SourceRegistry, model.ErrorNotFound, eris.New("resolve: no registry match")), start)
}

func (r *Resolver) search(ctx context.Context, p geocode.Provider, parsed model.ParsedLocation) model.SourceCandidate {
	start := time.Now()
	src := model.ProviderSource(p.Name())
	ctx, cancel := context.WithTimeout(ctx, geocode.TimeoutOf(p, r.timeout))
	defer cancel()

	place, err := p.Search(ctx, parsed.Residual, geocode.RegionHint{
		CountryCode: parsed.CountryCode,
		AdminArea:   parsed.AdminArea,
	})
	if err != nil {
		return elapsed(model.Failed(src, ProviderErrorKind(err), err), start)
	}
	coord := model.Coordinate{Lat: place.Lat, Lon: place.Lon}
	if !coord.Valid() {
		return elapsed(model.Failed(src, model.ErrorProviderParse,
			eris.Errorf("resolve: %s returned invalid coordinate %s", p.Name(), coord)), start)
	}
	return elapsed(model.SourceCandidate{
		Source:      src,
		OK:          true,
		Coord:       coord,
		Raw:         place.Raw,
		MatchedName: place.DisplayName,
		ServedBy:    place.ServedBy,
	}, start)
}

func elapsed(c model.SourceCandidate, start time.Time) model.SourceCandidate {
	c.Elapsed = time.Since(start)
	return c
}

// distinct returns the non-empty names in order without repeats.
func distinct(names ...string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
